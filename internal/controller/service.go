package controller

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

var errServerStopped = errors.New("server stopped")

// Service is the listening side of the controller. Stopping it cancels
// the base context of every request, which ends hijacked stream
// connections along with the listener.
type Service struct {
	logger      *slog.Logger
	coordinator *Coordinator
	handler     http.Handler

	mu     sync.Mutex
	addr   string
	server *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires a liveness timeout on c to a restart of the service.
func NewService(addr string, handler http.Handler, c *Coordinator, logger *slog.Logger) *Service {
	s := &Service{
		logger:      logger,
		coordinator: c,
		handler:     handler,
		addr:        addr,
	}

	c.OnTimeout(func() {
		// runs on the monitor goroutine, which Stop waits on
		go func() {
			if err := s.Restart(); err != nil {
				s.logger.Error("failed to restart", slog.Any("error", err))
				c.journal.Add("Failed to restart server: %v", err)
			}
		}()
	})

	return s
}

// Addr is the bound address once started. After the first start it is
// the resolved address, so restarts rebind the same port.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.coordinator.RunMonitor(ctx)
		}()

		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to serve", slog.Any("error", err))
			s.coordinator.journal.Add("Server failed: %v", err)
		}

		cancel()
		wg.Wait()
	}()

	s.server = server
	s.cancel = cancel
	s.done = done

	s.logger.Debug("starting...", slog.String("address", s.addr))
	s.coordinator.journal.Add("Starting server. Listening...")
	return nil
}

func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	s.coordinator.journal.Add("Stopping server")
	s.coordinator.TeardownCurrent(errServerStopped)

	s.cancel()
	err := s.server.Close()
	<-s.done

	s.server = nil
	s.cancel = nil
	s.done = nil

	return err
}

func (s *Service) Restart() error {
	if err := s.Stop(); err != nil {
		s.logger.Warn("failed to stop cleanly", slog.Any("error", err))
	}

	s.coordinator.metrics.Restart()
	return s.Start()
}
