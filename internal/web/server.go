// Package web serves the generator-control status page, its JSON form and a
// healthcheck for the process supervisor.
package web

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/status"
)

// DefaultStallLimit is how long without a completed tick before the
// healthcheck fails.
const DefaultStallLimit = 10 * time.Second

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	stallLimit time.Duration
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, httpLog bool) *Server {
	s := &Server{tracker: tracker, stallLimit: DefaultStallLimit}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(httpLog),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes(httpLog bool) http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/", s.handleIndex)
	e.GET("/index.html", s.handleIndex)
	e.GET("/index.json", s.handleJSON)
	e.GET("/healthcheck", s.handleHealthCheck)
	return e
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(c echo.Context) error {
	var buf bytes.Buffer
	if err := renderHTML(&buf, s.tracker.Snapshot()); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (s *Server) handleJSON(c echo.Context) error {
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleHealthCheck(c echo.Context) error {
	if s.tracker.Snapshot().Stalled(s.stallLimit) {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	return c.String(http.StatusOK, "health_check: OK")
}
