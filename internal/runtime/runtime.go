package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ambiware-labs/voxa/internal/audit"
	"github.com/ambiware-labs/voxa/internal/bus"
	"github.com/ambiware-labs/voxa/internal/capability"
	"github.com/ambiware-labs/voxa/internal/config"
	"github.com/ambiware-labs/voxa/internal/natsserver"
	"github.com/ambiware-labs/voxa/internal/speak"
	"github.com/ambiware-labs/voxa/internal/tts"
)

// Runtime owns the relay's component lifecycle: telemetry, the message
// bus, the synthesis engine with its policy, and the ops HTTP surface.
// Start blocks until the context is canceled, then shuts everything
// down in reverse order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	promServer  *http.Server
	tracerClose func(context.Context) error
	checks      func() bool
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "bus-server")))
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer busClient.Close()

	auditStore, err := audit.Open(ctx, r.cfg.Audit, r.logger.With(slog.String("component", "audit")))
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	engine, err := tts.New(engineConfig(r.cfg.Engine), tts.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("create engine client: %w", err)
	}
	defer engine.Close()

	fallback, err := buildFallback(r.cfg)
	if err != nil {
		return fmt.Errorf("create fallback synthesizer: %w", err)
	}

	policy, err := speak.NewPolicy(engine, r.cfg.Fallback, fallback, r.logger)
	if err != nil {
		return fmt.Errorf("create speak policy: %w", err)
	}

	var speakSvc *speak.Service
	if r.cfg.Speak.Enabled {
		speakSvc, err = speak.NewService(ctx, r.cfg.Speak, busClient, policy, auditStore, r.logger)
		if err != nil {
			return fmt.Errorf("create speak service: %w", err)
		}
		if err := speakSvc.Start(); err != nil {
			return fmt.Errorf("start speak service: %w", err)
		}
		defer speakSvc.Close()
	}

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	defer registry.Close()

	r.checks = func() bool {
		if !busClient.Healthy() {
			return false
		}
		if speakSvc != nil && !speakSvc.Healthy() {
			return false
		}
		return true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, _ *http.Request) {
		r.writeJSON(w, registry.Query(nil))
	})
	mux.HandleFunc("/speakers", func(w http.ResponseWriter, _ *http.Request) {
		r.writeJSON(w, registry.Speakers())
	})
	mux.HandleFunc("/requests", func(w http.ResponseWriter, req *http.Request) {
		records, err := auditStore.ListRecent(req.Context(), 100)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		r.writeJSON(w, records)
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", metricsHandler)
		r.promServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           promMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", r.cfg.Engine.BaseURL),
		slog.Bool("speak", r.cfg.Speak.Enabled),
		slog.String("fallback", r.cfg.Fallback.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.promServer != nil {
		if err := r.promServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// engineConfig maps the runtime config section onto the engine client.
func engineConfig(cfg config.EngineConfig) tts.VoiceConfig {
	return tts.VoiceConfig{
		BaseURL:          cfg.BaseURL,
		APIKey:           cfg.APIKey,
		Model:            cfg.Model,
		Voice:            cfg.Voice,
		Speed:            cfg.Speed,
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		Encoding:         tts.Encoding(cfg.Encoding),
		FrameDuration:    time.Duration(cfg.FrameDurationMS) * time.Millisecond,
		FirstByteTimeout: time.Duration(cfg.TTFBTimeoutMS) * time.Millisecond,
		ChunkTimeout:     time.Duration(cfg.ChunkTimeoutMS) * time.Millisecond,
		SinkTimeout:      time.Duration(cfg.SinkTimeoutMS) * time.Millisecond,
	}
}

func buildFallback(cfg config.Config) (tts.Synthesizer, error) {
	switch cfg.Fallback.Mode {
	case "exec":
		return tts.NewExecSynthesizer(cfg.Fallback.Command, cfg.Engine.SampleRate, cfg.Engine.Channels)
	case "mock":
		return tts.NewMockSynthesizer(cfg.Engine.SampleRate, cfg.Engine.Channels), nil
	default:
		return nil, nil
	}
}

func (r *Runtime) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Warn("response encode failed", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.checks == nil || r.checks()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
