package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"scriptgate/internal/entitlement"
	"scriptgate/pkg/contracts"
)

// ClientCounter reports connected event subscribers.
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version     string
	storeDriver string
	store       entitlement.Store
	clients     ClientCounter
	pingTimeout time.Duration
	startTime   time.Time
	logger      *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// NewHealthService creates a health service. clients may be nil.
func NewHealthService(version, storeDriver string, store entitlement.Store, clients ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("store_driver", storeDriver))

	return &HealthService{
		version:     version,
		storeDriver: storeDriver,
		store:       store,
		clients:     clients,
		pingTimeout: 2 * time.Second,
		startTime:   time.Now(),
		logger:      logger.With(slog.String("component", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck pings the entitlement store. ready is false when any
// dependency is not ready.
func (hs *HealthService) ReadinessCheck(ctx context.Context) (status HealthStatus, ready bool) {
	status = HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]interface{}),
	}

	store := hs.checkStoreHealth(ctx)
	status.Services["store"] = store
	status.Services["websocket"] = hs.checkWebSocketHealth()

	ready = store.Status == "ready"
	if !ready {
		status.Status = "not_ready"
		hs.logger.WarnContext(ctx, "readiness check failed",
			slog.String("store_driver", hs.storeDriver),
			slog.String("message", store.Message))
	}

	return status, ready
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	info := contracts.GetVersionInfo()
	return map[string]interface{}{
		"version":      hs.version,
		"api_version":  info.APIVersion,
		"build_time":   info.BuildTime,
		"git_commit":   info.GitCommit,
		"go_version":   info.GoVersion,
		"os":           info.OS,
		"arch":         info.Architecture,
		"store_driver": hs.storeDriver,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
	}
}

// checkStoreHealth pings stores backed by a remote service. In-process
// stores are always ready.
func (hs *HealthService) checkStoreHealth(ctx context.Context) ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{Status: "not_ready", Message: "entitlement store not initialized"}
	}

	pinger, ok := hs.store.(entitlement.Pinger)
	if !ok {
		return ServiceHealth{Status: "ready", Message: hs.storeDriver + " store is healthy"}
	}

	ctx, cancel := context.WithTimeout(ctx, hs.pingTimeout)
	defer cancel()

	if err := pinger.Ping(ctx); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("%s store unreachable: %v", hs.storeDriver, err),
		}
	}

	return ServiceHealth{Status: "ready", Message: hs.storeDriver + " store is healthy"}
}

// checkWebSocketHealth checks WebSocket service health
func (hs *HealthService) checkWebSocketHealth() ServiceHealth {
	if hs.clients == nil {
		return ServiceHealth{Status: "ready", Message: "event stream disabled"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d event subscribers", hs.clients.ClientCount()),
		Uptime:  time.Since(hs.startTime).String(),
	}
}
