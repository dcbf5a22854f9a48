package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GoCodeAlone/conduit/auth"
)

const sessionCookie = "conduit_session"

// cookieSession persists a gate token in the session cookie of a single
// request/response pair.
type cookieSession struct {
	w http.ResponseWriter
	r *http.Request
}

func (c cookieSession) Load() (string, error) {
	ck, err := c.r.Cookie(sessionCookie)
	if err != nil {
		return "", err
	}
	return ck.Value, nil
}

func (c cookieSession) Save(token string) error {
	http.SetCookie(c.w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c cookieSession) Clear() error {
	http.SetCookie(c.w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// gate returns the session gate for this request, restored from its cookie.
func (s *Server) gate(w http.ResponseWriter, r *http.Request) *auth.Gate {
	return auth.NewGate(s.auth, cookieSession{w: w, r: r})
}

// authenticate resolves the caller from a Bearer token or the session
// cookie and returns the verified subject.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if g := s.gate(w, r); g.Authenticated() {
		token = g.Token()
	}
	if token == "" {
		return "", false
	}
	subject, err := s.auth.Verify(token)
	if err != nil {
		s.logger.Debug("rejected token", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
		return "", false
	}
	return subject, true
}

// handleLogin validates credentials and issues a token. The token is returned
// in the body and stored in the session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		writeJSONError(w, http.StatusTooManyRequests, "Too many login attempts, try again later")
		return
	}
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.gate(w, r).Login(r.Context(), creds)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.logger.Info("login rejected", zap.String("username", creds.Username), zap.String("remote", clientIP(r)))
		writeJSONError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err != nil {
		s.logger.Error("login", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleLogout clears the session. It succeeds whether or not a session
// existed.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.gate(w, r).Logout(r.Context()); err != nil {
		s.logger.Warn("logout", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the currently authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": subjectFrom(r.Context())})
}

// authMiddleware enforces authentication on wrapped API handlers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := s.authenticate(w, r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithSubject(r.Context(), subject)))
	})
}

// limiterIdle is how long a client address may stay silent before its
// limiter is dropped.
const limiterIdle = 10 * time.Minute

// loginLimiter rate limits login attempts per client address.
type loginLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// newLoginLimiter allows perSecond attempts with the given burst. A
// non-positive rate disables limiting.
func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	l := &loginLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     limiterIdle,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
	if perSecond <= 0 {
		l.limit = rate.Inf
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	// An entry is only dropped once its bucket has had time to refill.
	if l.limit != rate.Inf {
		if refill := time.Duration(float64(l.burst) / perSecond * float64(time.Second)); refill > l.idle {
			l.idle = refill
		}
	}
	return l
}

func (l *loginLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// sweep drops limiters idle for longer than l.idle. Callers hold l.mu.
func (l *loginLimiter) sweep(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.seen) > l.idle {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// size reports the number of tracked client addresses.
func (l *loginLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
