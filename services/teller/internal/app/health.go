package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/v1"
)

// ServiceName is the gRPC health service name reported next to the overall status.
const ServiceName = "bankqueue.teller"

// DefaultHealthInterval is how often store checks re-run while the service is up.
const DefaultHealthInterval = 15 * time.Second

// StoreCheck reports whether a backing store is reachable.
type StoreCheck func(ctx context.Context) error

// Health exposes the standard gRPC health protocol backed by store checks.
type Health struct {
	mu       sync.Mutex
	server   *health.Server
	names    []string
	checks   []StoreCheck
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	logger   aqm.Logger
}

func NewHealth(logger aqm.Logger) *Health {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	h := &Health{
		server:   health.NewServer(),
		interval: DefaultHealthInterval,
		logger:   logger,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) AddCheck(name string, check StoreCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, name)
	h.checks = append(h.checks, check)
}

// RegisterGRPCService registers the health service with the gRPC server.
func (h *Health) RegisterGRPCService(server *grpc.Server) {
	healthpb.RegisterHealthServer(server, h.server)
}

// Check runs every store check and returns the first failure.
func (h *Health) Check(ctx context.Context) error {
	h.mu.Lock()
	names := append([]string(nil), h.names...)
	checks := append([]StoreCheck(nil), h.checks...)
	h.mu.Unlock()

	for i, check := range checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s: %w", names[i], err)
		}
	}
	return nil
}

// Refresh re-runs the store checks and publishes the resulting serving status.
func (h *Health) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.Check(ctx); err != nil {
		h.logger.Error("health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.set(status)
	return status
}

// SetInterval changes how often store checks run after Start. Non-positive values
// keep the current interval.
func (h *Health) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interval = d
}

// Start publishes the first status and keeps refreshing it until Stop.
func (h *Health) Start(ctx context.Context) error {
	status := h.Refresh(ctx)
	h.logger.Info("gRPC health initialized", "status", status.String())

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(loopCtx, h.interval, status, h.done)
	return nil
}

func (h *Health) loop(ctx context.Context, interval time.Duration, last healthpb.HealthCheckResponse_ServingStatus, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			status := h.Refresh(checkCtx)
			cancel()
			if status != last {
				h.logger.Info("health status changed", "status", status.String())
				last = status
			}
		}
	}
}

func (h *Health) Stop(ctx context.Context) error {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	h.server.Shutdown()
	return nil
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}
