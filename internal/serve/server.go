package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server runs the service until its context is cancelled.
type Server struct {
	c               *Components
	maintenance     *Maintenance
	shutdownTimeout time.Duration

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// NewServer creates a server over built components.
func NewServer(c *Components) *Server {
	return &Server{
		c:               c,
		maintenance:     c.Maintenance(),
		shutdownTimeout: 10 * time.Second,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the HTTP listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound HTTP address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start launches every loop and blocks until ctx is cancelled. Shutdown is
// ordered: the scheduler stops first so no new work starts, then the
// maintenance loop, then the bus consumer, then running executions are
// awaited and finally the HTTP server closes.
func (s *Server) Start(ctx context.Context) error {
	log := s.c.Log.Named("serve")

	ln, err := net.Listen("tcp", s.c.Config.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.c.Config.Metrics.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	handler := NewHandler(s.c.Store, s.c.Registry, s.c.Catalog, s.c.Publisher, s.c.Log)
	httpServer := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
		}
	}()
	close(s.ready)

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	maintenanceCtx, cancelMaintenance := context.WithCancel(context.Background())
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelScheduler()
	defer cancelMaintenance()
	defer cancelConsumer()

	var schedulerWg, maintenanceWg, consumerWg sync.WaitGroup

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		s.c.Scheduler.Run(schedulerCtx)
	}()

	maintenanceWg.Add(1)
	go func() {
		defer maintenanceWg.Done()
		s.maintenance.Run(maintenanceCtx)
	}()

	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		if err := s.c.Consumer.Consume(consumerCtx, s.c.Worker.Handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("bus consumer stopped", zap.Error(err))
		}
	}()

	log.Info("started",
		zap.String("configurations", s.c.Config.ConfigurationsDir),
		zap.String("store", s.c.Store.Driver()),
		zap.String("bus", s.c.Config.Bus.Kind),
		zap.Int("capacity", s.c.Gate.Capacity()),
		zap.Duration("tick", s.c.Config.Scheduler.TickInterval.Duration))

	<-ctx.Done()
	log.Info("shutting down")

	cancelScheduler()
	schedulerWg.Wait()
	log.Info("scheduler stopped")

	cancelMaintenance()
	maintenanceWg.Wait()

	cancelConsumer()
	consumerWg.Wait()
	log.Info("bus consumer stopped")

	s.c.Worker.Wait()
	log.Info("executions drained")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	log.Info("stopped")
	return nil
}
