// Command conduit is the conduit CLI client.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/GoCodeAlone/conduit/auth"
	"github.com/GoCodeAlone/conduit/client"
	"github.com/GoCodeAlone/conduit/dashboard"
	"github.com/GoCodeAlone/conduit/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "conduit",
		Usage:     "Manage scheduled tasks on a conduit dashboard",
		Version:   version.Version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "dashboard server URL",
				Value:   defaultServer,
				EnvVars: []string{"CONDUIT_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "auth token, overrides the stored session",
				EnvVars: []string{"CONDUIT_TOKEN"},
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "file holding the login session",
				Value: defaultSessionPath(),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "request timeout",
				Value: 15 * time.Second,
			},
		},
		Commands: []*cli.Command{
			versionCmd,
			statusCmd,
			loginCmd,
			logoutCmd,
			tasksCmd,
			taskCmd,
		},
	}
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conduit-session"
	}
	return filepath.Join(home, ".conduit", "session")
}

// remote returns an unauthenticated client for the configured server.
func remote(c *cli.Context) *client.Client {
	return client.New(c.String("server"), client.WithTimeout(c.Duration("timeout")))
}

// gate restores the CLI session from the session file.
func gate(c *cli.Context) *auth.Gate {
	return auth.NewGate(remote(c), auth.FileSession{Path: c.String("session")})
}

// store returns a client authenticated with --token or the stored session.
func store(c *cli.Context) *client.Client {
	token := c.String("token")
	if token == "" {
		token = gate(c).Token()
	}
	return client.New(c.String("server"),
		client.WithTimeout(c.Duration("timeout")),
		client.WithToken(token),
	)
}

// listing opens the canonical listing over the authenticated client.
func listing(c *cli.Context) *dashboard.Listing {
	return dashboard.NewListing(store(c), dashboard.Options{})
}

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "Print the client version",
	Action: func(c *cli.Context) error {
		fmt.Fprintf(c.App.Writer, "conduit %s\n", version.String())
		return nil
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "Show server status",
	Action: func(c *cli.Context) error {
		st, err := remote(c).Status(c.Context)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "status:  %s\n", st.Status)
		fmt.Fprintf(c.App.Writer, "version: %s\n", st.Version)
		fmt.Fprintf(c.App.Writer, "backend: %s\n", st.Backend)
		fmt.Fprintf(c.App.Writer, "session: %s\n", gate(c).State())
		return nil
	},
}

var loginCmd = &cli.Command{
	Name:  "login",
	Usage: "Log in and store the session",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
		&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true, EnvVars: []string{"CONDUIT_PASSWORD"}},
	},
	Action: func(c *cli.Context) error {
		creds := auth.Credentials{Username: c.String("username"), Password: c.String("password")}
		if _, err := gate(c).Login(c.Context, creds); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "logged in as %s\n", creds.Username)
		return nil
	},
}

var logoutCmd = &cli.Command{
	Name:  "logout",
	Usage: "End the stored session",
	Action: func(c *cli.Context) error {
		g := gate(c)
		if !g.Authenticated() {
			fmt.Fprintln(c.App.Writer, "not logged in")
			return nil
		}
		if err := g.Logout(c.Context); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "logged out")
		return nil
	},
}
