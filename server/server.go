// Package server routes HTTP requests into the upload pipeline.
//
// POST / allocates a workspace, parses the body into it, publishes the
// directory and renders the outcome. Every other method and path renders
// the upload form. Archiving, notification and retention run after the
// response has been written and are tracked so Close can wait for them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/ipfs-publish/adapter"
	"github.com/pithecene-io/ipfs-publish/intake"
	"github.com/pithecene-io/ipfs-publish/log"
	"github.com/pithecene-io/ipfs-publish/metrics"
	"github.com/pithecene-io/ipfs-publish/render"
	"github.com/pithecene-io/ipfs-publish/types"
	"github.com/pithecene-io/ipfs-publish/workspace"
)

// DefaultShutdownTimeout bounds graceful shutdown in Serve.
const DefaultShutdownTimeout = 10 * time.Second

// Publisher publishes a workspace directory.
type Publisher interface {
	Publish(ctx context.Context, dir string) (*types.PublishResult, error)
}

// Archiver copies published files to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, token string, files []types.UploadFile) ([]string, error)
}

// Config configures a Server.
type Config struct {
	// GatewayHost builds gateway links in notification events.
	GatewayHost string
	// ShutdownTimeout bounds in-flight requests during Serve shutdown.
	ShutdownTimeout time.Duration
}

// Deps are the collaborators a Server drives. Workspaces, Intake,
// Publisher and Renderer are required; the rest are optional.
type Deps struct {
	Workspaces *workspace.Manager
	Intake     *intake.Intake
	Publisher  Publisher
	Renderer   *render.Renderer
	Archiver   Archiver
	Notifier   adapter.Adapter
	Logger     *log.Logger
	Collector  *metrics.Collector
}

// Server is an http.Handler for the upload service.
type Server struct {
	config     Config
	workspaces *workspace.Manager
	intake     *intake.Intake
	publisher  Publisher
	renderer   *render.Renderer
	archiver   Archiver
	notifier   adapter.Adapter
	logger     *log.Logger
	collector  *metrics.Collector

	tasks     sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	now       func() time.Time
}

// New creates a Server.
func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Workspaces == nil:
		return nil, errors.New("server requires a workspace manager")
	case deps.Intake == nil:
		return nil, errors.New("server requires an intake")
	case deps.Publisher == nil:
		return nil, errors.New("server requires a publisher")
	case deps.Renderer == nil:
		return nil, errors.New("server requires a renderer")
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	if cfg.GatewayHost == "" {
		cfg.GatewayHost = render.DefaultGatewayHost
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Server{
		config:     cfg,
		workspaces: deps.Workspaces,
		intake:     deps.Intake,
		publisher:  deps.Publisher,
		renderer:   deps.Renderer,
		archiver:   deps.Archiver,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		collector:  deps.Collector,
		now:        time.Now,
	}, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := s.logger.With(map[string]any{
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
	})
	logger.Info("request received", nil)

	wantsJSON := render.AcceptsJSON(r)

	if r.Method == http.MethodPost && r.URL.Path == "/" {
		s.handleUpload(w, r, requestID, logger, wantsJSON)
		return
	}

	s.collector.IncFormServed()
	s.respond(w, logger, types.FormPrompt{RequestURI: r.RequestURI}, wantsJSON)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, requestID string, logger *log.Logger, wantsJSON bool) {
	startedAt := s.now()
	s.collector.IncUploadStarted()

	ws, err := s.workspaces.Allocate()
	if err != nil {
		s.fail(w, logger, err, nil, wantsJSON)
		return
	}
	logger = logger.With(map[string]any{"token": ws.Token})

	upload, err := s.intake.Receive(r.Context(), r, ws.Path)
	if err != nil {
		s.workspaces.Release(ws)
		s.fail(w, logger, err, upload, wantsJSON)
		return
	}
	s.collector.AddIntake(len(upload.Fields), len(upload.Files), types.TotalSize(upload.Files))
	logger.Debug("upload received", map[string]any{
		"fields": len(upload.Fields),
		"files":  len(upload.Files),
	})

	result, err := s.publisher.Publish(r.Context(), ws.Path)
	if err != nil {
		s.workspaces.Release(ws)
		s.fail(w, logger, err, upload, wantsJSON)
		return
	}

	s.collector.IncUploadSucceeded()
	s.respond(w, logger, types.UploadSuccess{
		Fields: upload.Fields,
		Files:  upload.Files,
		Result: result,
	}, wantsJSON)

	s.afterPublish(r.Context(), logger, adapter.EventInput{
		RequestID:   requestID,
		Token:       ws.Token,
		Fields:      upload.Fields,
		Files:       upload.Files,
		Result:      result,
		GatewayHost: s.config.GatewayHost,
		StartedAt:   startedAt,
		FinishedAt:  s.now(),
	}, ws)
}

// fail renders err as an UploadError, echoing whatever was received.
func (s *Server) fail(w http.ResponseWriter, logger *log.Logger, err error, upload *intake.Upload, wantsJSON bool) {
	s.collector.IncUploadFailed()
	switch {
	case errors.Is(err, types.ErrFilesystem):
		s.collector.IncFilesystemError()
	case errors.Is(err, types.ErrUploadParse):
		s.collector.IncParseError()
	case errors.Is(err, types.ErrPublish):
		s.collector.IncPublishError()
	}

	logger.Warn("upload failed", map[string]any{"error": err.Error()})

	outcome := types.UploadError{Reason: types.UserMessage(err)}
	if upload != nil {
		outcome.Fields = upload.Fields
		outcome.Files = upload.Files
	}
	s.respond(w, logger, outcome, wantsJSON)
}

func (s *Server) respond(w http.ResponseWriter, logger *log.Logger, outcome types.Outcome, wantsJSON bool) {
	resp, err := s.renderer.Render(outcome, wantsJSON)
	if err != nil {
		logger.Error("render failed", map[string]any{"error": err.Error()})
		http.Error(w, types.UnknownErrorMessage, http.StatusInternalServerError)
		return
	}
	if err := resp.Write(w); err != nil {
		logger.Debug("response write failed", map[string]any{"error": err.Error()})
		return
	}
	logger.Info("response sent", map[string]any{"status": resp.Status})
}

// afterPublish archives, notifies and disposes of ws off the request path.
func (s *Server) afterPublish(ctx context.Context, logger *log.Logger, in adapter.EventInput, ws *workspace.Workspace) {
	ctx = context.WithoutCancel(ctx)

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer s.workspaces.Dispose(ws)

		var keys []string
		if s.archiver != nil {
			// Failures are logged and counted by the archiver.
			keys, _ = s.archiver.Archive(ctx, ws.Token, in.Files)
		}

		if s.notifier == nil {
			return
		}
		event := adapter.NewUploadPublishedEvent(in)
		event.ArchiveKeys = keys
		if err := s.notifier.Publish(ctx, event); err != nil {
			s.collector.IncNotifyFailure()
			logger.Warn("notification failed", map[string]any{"error": err.Error()})
			return
		}
		s.collector.IncNotifySuccess()
		logger.Debug("notification sent", nil)
	}()
}

// Serve accepts connections on listener until ctx is canceled, then shuts
// down gracefully, waiting up to ShutdownTimeout for in-flight requests.
// Call Close afterwards to drain background work.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server listening", map[string]any{"address": listener.Addr().String()})

	serveDone := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down", nil)
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	s.logger.Info("http server stopped", nil)
	return nil
}

// Close waits for background tasks, flushes delayed workspace removals and
// closes the notifier. It must not be called while requests are in flight.
// Safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.tasks.Wait()
		s.workspaces.Close()
		if s.notifier != nil {
			s.closeErr = s.notifier.Close()
		}
	})
	return s.closeErr
}
