// Package session runs the long-lived lampdesk process that owns the request
// store and serves the CLI over a Unix socket.
package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/magiclamp/lampdesk/internal/api"
	"github.com/magiclamp/lampdesk/internal/events"
	"github.com/magiclamp/lampdesk/internal/lock"
	"github.com/magiclamp/lampdesk/internal/model"
	"github.com/magiclamp/lampdesk/internal/notify"
	"github.com/magiclamp/lampdesk/internal/store"
	"github.com/magiclamp/lampdesk/internal/uds"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Session wires the store to its backend, observers and the socket server.
type Session struct {
	dir      string
	config   model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	tokens   *api.FileToken
	client   *api.Client
	store    *store.Store
	bus      *events.Bus
	audit    *events.AuditLogger
	nats     *notify.NATSPublisher
	desktop  notify.Notifier
	unsubs   []func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New opens logs/session.log under dir and prepares a session for cfg.
func New(dir string, cfg model.Config) (*Session, error) {
	logPath := filepath.Join(dir, "logs", "session.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	s, err := newSession(dir, cfg, logFile, logFile)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	return s, nil
}

// newSession is the internal constructor for testing.
func newSession(dir string, cfg model.Config, w io.Writer, closer io.Closer) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tokens, err := api.NewFileToken(resolvePath(dir, cfg.API.TokenFile))
	if err != nil {
		return nil, err
	}
	client, err := api.NewClientFromConfig(cfg.API, tokens)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(w, "", 0)

	server := uds.NewServer(filepath.Join(dir, uds.DefaultSocketName))
	server.SetLogger(logger)
	server.SetConnTimeout(cfg.API.CommandTimeout())

	bus := events.NewBus(100)
	s := &Session{
		dir:      dir,
		config:   cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(dir, "locks", "session.lock")),
		server:   server,
		tokens:   tokens,
		client:   client,
		bus:      bus,
		desktop:  notify.Nop{},
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.Notify.Desktop {
		s.desktop = notify.NewDesktop()
	}
	s.store = store.New(client,
		store.WithAggregatePolicy(cfg.Session.AggregatePolicy),
		store.WithPublisher(bus),
	)
	return s, nil
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Run starts the session and blocks until a signal or a shutdown command.
func (s *Session) Run() error {
	if err := s.Start(); err != nil {
		return err
	}
	s.waitSignals()
	return nil
}

// Start brings the session up without waiting for signals.
func (s *Session) Start() error {
	// Step 1: single instance per .lampdesk directory
	if err := os.MkdirAll(filepath.Join(s.dir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := s.fileLock.TryLock(); err != nil {
		return fmt.Errorf("session lock: %w", err)
	}
	s.log(LogLevelInfo, "session starting pid=%d backend=%s", os.Getpid(), s.config.API.BaseURL)

	// Step 2: observers
	if err := s.startObservers(); err != nil {
		s.cleanup()
		return err
	}

	// Step 3: token file watcher
	if err := s.startTokenWatcher(); err != nil {
		s.cleanup()
		return err
	}

	// Step 4: UDS server
	s.registerHandlers()
	if err := s.server.Start(); err != nil {
		s.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	s.log(LogLevelInfo, "UDS server listening on %s", s.server.SocketPath())

	// Step 5: first page. A failure leaves the store empty; the operator reloads.
	if err := s.store.LoadPage(s.ctx, ""); err != nil {
		s.log(LogLevelWarn, "initial load failed: %v", err)
	}
	s.log(LogLevelInfo, "session ready")
	return nil
}

// startObservers subscribes the audit log and notifiers to store events.
func (s *Session) startObservers() error {
	audit, err := events.NewAuditLogger(resolvePath(s.dir, s.config.Audit.Path), s.config.Audit.MaxBytes)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	s.audit = audit
	s.unsubs = append(s.unsubs, s.bus.Subscribe(func(e events.Event) {
		if err := s.audit.Record(e); err != nil {
			s.log(LogLevelError, "audit write failed: %v", err)
		}
	}, events.EventStatusChanged, events.EventTransitionFailed, events.EventFetchFailed))

	s.unsubs = append(s.unsubs, s.bus.Subscribe(func(e events.Event) {
		n, ok := notify.FromEvent(e)
		if !ok {
			return
		}
		if err := s.desktop.Notify(s.ctx, n); err != nil {
			s.log(LogLevelDebug, "desktop notification failed: %v", err)
		}
	}, events.EventTransitionFailed, events.EventFetchFailed))

	if s.config.Notify.NATSURL != "" {
		pub, err := notify.DialNATS(s.config.Notify.NATSURL, s.config.Notify.NATSSubject)
		if err != nil {
			// Status changes still work without fan-out.
			s.log(LogLevelWarn, "nats unavailable, status changes will not be published: %v", err)
		} else {
			s.nats = pub
			s.unsubs = append(s.unsubs, s.bus.Subscribe(func(e events.Event) {
				n, ok := notify.FromEvent(e)
				if !ok {
					return
				}
				if err := s.nats.Notify(s.ctx, n); err != nil {
					s.log(LogLevelWarn, "nats publish failed: %v", err)
				}
			}, events.EventStatusChanged))
			s.log(LogLevelInfo, "publishing status changes to %s", pub.Subject())
		}
	}

	s.unsubs = append(s.unsubs, s.bus.Subscribe(func(e events.Event) {
		switch e.Type {
		case events.EventPageLoaded:
			s.log(LogLevelDebug, "page loaded page=%d cursor=%q", e.Page, e.Cursor)
		case events.EventStatusChanged:
			s.log(LogLevelInfo, "request %d (%s) %s -> %s", e.RequestID, e.RequestCode, e.From, e.To)
		case events.EventTransitionFailed:
			s.log(LogLevelWarn, "request %d (%s) %s -> %s failed: %s", e.RequestID, e.RequestCode, e.From, e.To, e.Message)
		case events.EventFetchFailed:
			s.log(LogLevelWarn, "fetch failed cursor=%q: %s", e.Cursor, e.Message)
		}
	}, events.EventPageLoaded, events.EventStatusChanged, events.EventTransitionFailed, events.EventFetchFailed))
	return nil
}

// waitSignals blocks until a shutdown signal or a shutdown command.
func (s *Session) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
		go func() {
			<-sigCh
			s.log(LogLevelWarn, "received second signal, forcing exit")
			os.Exit(1)
		}()
		s.Shutdown()
	case <-s.ctx.Done():
		// Shutdown was requested over the socket; wait for it to finish.
		s.Shutdown()
	}
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (s *Session) Shutdown() {
	s.shutdown.Do(func() {
		s.log(LogLevelInfo, "shutdown started")

		s.cancel()

		if s.watcher != nil {
			s.watcher.Close()
		}
		s.server.Stop()

		timeout := time.Duration(s.config.Session.ShutdownTimeoutSec) * time.Second
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(timeout):
			s.log(LogLevelWarn, "shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		s.cleanup()
		s.log(LogLevelInfo, "session stopped")
		if s.logFile != nil {
			s.logFile.Close()
		}
	})
}

// Done is closed once shutdown has begun.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// cleanup releases resources acquired by Start.
func (s *Session) cleanup() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	// Observers finish queued events before the audit log and NATS close.
	s.bus.Close()
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			s.log(LogLevelWarn, "nats drain: %v", err)
		}
	}
	if s.audit != nil {
		s.audit.Close()
	}
	os.Remove(filepath.Join(s.dir, uds.DefaultSocketName))
	s.fileLock.Unlock()
}

func (s *Session) log(level LogLevel, format string, args ...any) {
	if level < s.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s session: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
