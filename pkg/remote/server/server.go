package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
)

const tokenParam = "private_token"

// DefaultGracefulPeriod bounds how long shutdown waits for in-flight requests.
const DefaultGracefulPeriod = 30 * time.Second

// Server exposes a remote.App under the command catalog.
type Server struct {
	app            *remote.App
	echo           *echo.Echo
	http           *http.Server
	token          string
	gracefulPeriod time.Duration
	logger         *slog.Logger
}

// Option configures a Server.
type Option func(*Server) *Server

// WithPrivateToken requires every request to carry token as the
// private_token query parameter.
func WithPrivateToken(token string) Option {
	return func(s *Server) *Server {
		s.token = token
		return s
	}
}

// WithGracefulPeriod sets how long Start waits for in-flight requests on
// shutdown. The default is 30 seconds.
func WithGracefulPeriod(d time.Duration) Option {
	return func(s *Server) *Server {
		s.gracefulPeriod = d
		return s
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) *Server {
		if l != nil {
			s.logger = l
		}
		return s
	}
}

// New builds a server for app. Every catalog command is routed at /<path> for
// the default manager and at /managers/:manager/<path> for named managers.
func New(app *remote.App, opts ...Option) *Server {
	s := &Server{
		app:            app,
		gracefulPeriod: DefaultGracefulPeriod,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		s = opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.logRequests)
	e.Use(s.checkToken)

	for _, cmd := range remote.Commands() {
		path := echoPath(cmd.Path)
		h := s.handle(cmd)
		e.Add(cmd.Method, "/"+path, h)
		e.Add(cmd.Method, "/managers/:manager/"+path, h)
	}
	s.echo = e
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// echoPath converts {name} placeholders to :name.
func echoPath(tmpl string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(tmpl, '{')
		end := strings.IndexByte(tmpl, '}')
		if start < 0 || end < start {
			b.WriteString(tmpl)
			return b.String()
		}
		b.WriteString(tmpl[:start])
		b.WriteByte(':')
		b.WriteString(tmpl[start+1 : end])
		tmpl = tmpl[end+1:]
	}
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Handler returns the server as an http.Handler that also accepts cleartext
// HTTP/2.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.echo, &http2.Server{})
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Debug("remote request",
			"method", c.Request().Method,
			"path", c.Path(),
			"manager", c.Param("manager"),
			"status", c.Response().Status,
			"duration", time.Since(start),
			"error", err,
		)
		return err
	}
}

func (s *Server) checkToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.token == "" {
			return next(c)
		}
		got := c.QueryParam(tokenParam)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.logger.Warn("rejected remote request", "path", c.Path(), "remote_addr", c.RealIP())
			return httpError(core.ErrInvalidToken)
		}
		return next(c)
	}
}

func (s *Server) handle(cmd remote.Command) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := remote.Request{
			Manager: c.Param("manager"),
			Args:    requestArgs(c),
			Body:    c.Request().Body,
		}
		resp, err := s.app.Handle(c.Request().Context(), cmd.Name, req)
		if err != nil {
			return httpError(err)
		}
		if resp.File != "" {
			return serveFile(c, resp.File)
		}
		return c.JSONBlob(http.StatusOK, resp.JSON)
	}
}

// requestArgs merges query parameters and path parameters. Clients send every
// argument in the query, so path parameters only fill gaps.
func requestArgs(c echo.Context) remote.Args {
	args := remote.Args{}
	for k, v := range c.QueryParams() {
		if k == tokenParam || len(v) == 0 {
			continue
		}
		args[k] = v[0]
	}
	names := c.ParamNames()
	values := c.ParamValues()
	for i, name := range names {
		if name == "manager" || i >= len(values) {
			continue
		}
		if _, ok := args[name]; !ok {
			args[name] = values[i]
		}
	}
	return args
}

func serveFile(c echo.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return httpError(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	http.ServeContent(c.Response(), c.Request(), filepath.Base(path), info.ModTime(), f)
	return nil
}

// httpError renders err with the status and code clients map back to the
// same sentinel.
func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(remote.HTTPStatus(err), remote.NewErrorBody(err)).SetInternal(err)
}

// Starter begins serving.
type Starter func(*Server) error

// OnAddress listens on addr, for example ":8913".
func OnAddress(addr string) Starter {
	return func(s *Server) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		return s.Serve(ln)
	}
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start runs the server until ctx is cancelled, then shuts it down, waiting
// up to the graceful period for in-flight requests.
func (s *Server) Start(ctx context.Context, starter Starter) error {
	stop := func() {
		if s.gracefulPeriod > 0 {
			sctx, cancel := context.WithTimeout(context.Background(), s.gracefulPeriod)
			defer cancel()
			if err := s.http.Shutdown(sctx); err != nil {
				s.logger.Warn("graceful shutdown failed", "error", err)
			}
		}
		_ = s.http.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- starter(s)
	}()

	select {
	case <-ctx.Done():
		stop()
		if err := <-errCh; err != nil {
			return fmt.Errorf("jobs: remote server: %w", err)
		}
		return nil
	case err := <-errCh:
		stop()
		if err != nil {
			return fmt.Errorf("jobs: remote server: %w", err)
		}
		return nil
	}
}
