package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/GoCodeAlone/conduit/dashboard"
	"github.com/GoCodeAlone/conduit/task"
)

var tasksCmd = &cli.Command{
	Name:  "tasks",
	Usage: "List tasks",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "filter", Aliases: []string{"f"}, Usage: "only show tasks whose name contains this text"},
	},
	Action: runTasks,
}

func runTasks(c *cli.Context) error {
	l := listing(c)
	if err := l.Load(c.Context); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "warning: %v\n", err)
	}
	view := l.View(c.String("filter"))
	if view.Warning != "" {
		fmt.Fprintln(c.App.ErrWriter, view.Warning)
	}
	if view.Empty() {
		fmt.Fprintln(c.App.Writer, view.EmptyMessage())
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tEXECUTION\tSTATUS\tNEXT RUN")
	for _, t := range view.Tasks {
		next := t.NextRun
		if next == "" {
			next = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Name, task.Describe(t.Schedule), t.Execution, t.EffectiveStatus().Label(), next)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\n%d of %d task(s)\n", len(view.Tasks), view.Total)
	return nil
}

var definitionFlags = []cli.Flag{
	&cli.StringFlag{Name: "name", Usage: "task name"},
	&cli.StringFlag{Name: "schedule", Usage: "5-field cron expression"},
	&cli.StringFlag{Name: "exec", Usage: "command or script to execute"},
}

var taskCmd = &cli.Command{
	Name:  "task",
	Usage: "Create, edit, delete, run or pause a task",
	Subcommands: []*cli.Command{
		{
			Name:  "create",
			Usage: "Create one task from flags, or a batch from a JSON file",
			Flags: append([]cli.Flag{
				&cli.StringSliceFlag{Name: "file", Usage: "executable to upload with the task; repeat once per task in a batch"},
				&cli.StringFlag{Name: "from", Usage: "JSON file holding an array of {taskName, cronExpression, taskExecution}"},
			}, definitionFlags...),
			Action: runCreate,
		},
		{
			Name:      "edit",
			Usage:     "Edit a task; omitted flags keep their current value",
			ArgsUsage: "<id>",
			Flags:     definitionFlags,
			Action:    runEdit,
		},
		{
			Name:      "delete",
			Usage:     "Delete a task",
			ArgsUsage: "<id>",
			Action:    runDelete,
		},
		{
			Name:      "run",
			Usage:     "Trigger a task now",
			ArgsUsage: "<id>",
			Action:    runAction(dashboard.ActionRun),
		},
		{
			Name:      "pause",
			Usage:     "Pause a task",
			ArgsUsage: "<id>",
			Action:    runAction(dashboard.ActionPause),
		},
	},
}

func runCreate(c *cli.Context) error {
	var defs []task.Definition
	if from := c.String("from"); from != "" {
		data, err := os.ReadFile(from)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &defs); err != nil {
			return errors.Wrapf(err, "parse %s", from)
		}
	} else {
		defs = []task.Definition{{
			TaskName:       c.String("name"),
			CronExpression: c.String("schedule"),
			TaskExecution:  c.String("exec"),
		}}
	}

	files := make(map[int]task.Attachment)
	for i, path := range c.StringSlice("file") {
		att, err := readAttachment(path)
		if err != nil {
			return err
		}
		files[i] = att
	}

	res, err := listing(c).NewCreateSurface().SubmitCreate(c.Context, defs, files)
	if err != nil {
		return userError(err)
	}
	fmt.Fprintln(c.App.Writer, res.Message)
	for _, t := range res.Tasks {
		fmt.Fprintf(c.App.Writer, "  %s\t%s\n", t.ID, t.Name)
	}
	return nil
}

func readAttachment(path string) (task.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return task.Attachment{}, err
	}
	return task.Attachment{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

// openSurface loads the listing and opens the surface for action on the task
// named by the first argument.
func openSurface(c *cli.Context, action dashboard.Action) (*dashboard.Surface, error) {
	id, err := task.ParseID(c.Args().First())
	if err != nil {
		return nil, err
	}
	l := listing(c)
	if err := l.Load(c.Context); err != nil {
		return nil, err
	}
	return l.Dispatch(action, id)
}

// userError reduces err to the message shown on the dashboard.
func userError(err error) error {
	return errors.New(task.Message(err))
}

func runEdit(c *cli.Context) error {
	s, err := openSurface(c, dashboard.ActionEdit)
	if err != nil {
		return userError(err)
	}
	def := s.Form()
	if c.IsSet("name") {
		def.TaskName = c.String("name")
	}
	if c.IsSet("schedule") {
		def.CronExpression = c.String("schedule")
	}
	if c.IsSet("exec") {
		def.TaskExecution = c.String("exec")
	}
	updated, err := s.SubmitEdit(c.Context, def)
	if err != nil {
		return userError(err)
	}
	fmt.Fprintf(c.App.Writer, "task %s updated: %s (%s) %s\n",
		updated.ID, updated.Name, task.Describe(updated.Schedule), updated.Execution)
	return nil
}

func runDelete(c *cli.Context) error {
	s, err := openSurface(c, dashboard.ActionDelete)
	if err != nil {
		return userError(err)
	}
	del, err := s.ConfirmDelete(c.Context)
	if err != nil {
		return userError(err)
	}
	fmt.Fprintln(c.App.Writer, del.Message)
	return nil
}

func runAction(action dashboard.Action) cli.ActionFunc {
	return func(c *cli.Context) error {
		_, err := openSurface(c, action)
		if errors.Is(err, task.ErrNotImplemented) {
			return errors.Errorf("%s is not implemented yet", action)
		}
		if err != nil {
			return userError(err)
		}
		return nil
	}
}
