package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"specter/pkg/agent"
	"specter/pkg/bus"
	"specter/pkg/channel"
	"specter/pkg/config"
	"specter/pkg/metrics"
	"specter/pkg/module"
	"specter/pkg/provider"
)

const (
	defaultHealthHost   = "127.0.0.1"
	defaultHealthPort   = 18790
	providerCheckPeriod = 30 * time.Second
)

// HTTPChannel is an adapter served on the gateway's HTTP server, such as
// the WebSocket channel.
type HTTPChannel interface {
	channel.Adapter
	http.Handler
	Path() string
}

// Options carries the shared pieces every gateway session runs on.
type Options struct {
	Registry *module.Registry
	Fallback module.Fallback
	// Provider is the fallback's model client; nil when running offline.
	Provider provider.Client
	// Recorder enables the metrics endpoint when non-nil.
	Recorder *metrics.Recorder
}

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	provider provider.Client
	registry *module.Registry
	recorder *metrics.Recorder
	manager  *runtimeManager
	channels []channel.Adapter

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	channelStates    map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	Sessions         int                     `json:"sessions"`
	Provider         string                  `json:"provider"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Channels         map[string]channelState `json:"channels"`
}

func NewService(ctx context.Context, cfg *config.Config, adapters []channel.Adapter, opts Options, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	manager, err := newRuntimeManager(ctx, agent.SettingsFromConfig(cfg.Orchestrator), opts.Registry, opts.Fallback, opts.Recorder, log)
	if err != nil {
		return nil, err
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		if _, dup := channelStates[adapter.Name()]; dup {
			return nil, fmt.Errorf("channel %s registered twice", adapter.Name())
		}
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		provider:      opts.Provider,
		registry:      opts.Registry,
		recorder:      opts.Recorder,
		manager:       manager,
		channels:      adapters,
		channelStates: channelStates,
	}, nil
}

// Run serves every channel and the status server until ctx is done or one
// of them fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	// An unhealthy provider only degrades the fallback; modules still answer.
	if err := s.checkProviderHealth(ctx); err != nil {
		s.log.Warn("Provider unhealthy at startup", "error", err)
	}

	listener, err := net.Listen("tcp", s.address())
	if err != nil {
		return fmt.Errorf("start status server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serveHTTP(gctx, listener)
	})

	if s.provider != nil {
		g.Go(func() error {
			ticker := time.NewTicker(providerCheckPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					_ = s.checkProviderHealth(gctx)
				}
			}
		})
	}

	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		g.Go(func() error {
			err := adapter.Run(gctx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	err = g.Wait()
	s.manager.Close()

	return err
}

func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	return s.manager.Prompt(ctx, inbound)
}

func (s *Service) address() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /modules", s.handleModules)

	if s.recorder != nil && s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle("GET "+path, s.recorder.Handler())
	}

	for _, adapter := range s.channels {
		if h, ok := adapter.(HTTPChannel); ok {
			mux.Handle(h.Path(), h)
		}
	}

	return mux
}

func (s *Service) serveHTTP(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status server: %w", err)
	}

	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) handleModules(w http.ResponseWriter, _ *http.Request) {
	var descriptors []module.Descriptor
	if s.registry != nil {
		descriptors = s.registry.Descriptors()
	}

	writeJSON(w, http.StatusOK, map[string]any{"modules": descriptors}, s.log)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	writeJSON(w, statusCode, s.currentStatus(status), s.log)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	providerName := config.DefaultProvider
	if s.cfg != nil && s.provider != nil {
		providerName = s.cfg.Agent.Provider
	}

	sessions := 0
	if s.manager != nil {
		sessions = s.manager.Len()
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		Sessions:         sessions,
		Provider:         providerName,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Channels:         channels,
	}
}

// isReady needs one running channel and, when a provider is configured, a
// healthy last check.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.provider == nil {
		return true
	}

	return !s.providerLastOKAt.IsZero() && s.providerLastErr == ""
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}

	if err := s.provider.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
