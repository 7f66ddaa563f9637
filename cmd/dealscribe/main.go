// Command dealscribe corrects sales-call transcripts: a deterministic
// gazetteer pass followed by an LLM refinement pass, with triage and an
// append-only audit trail.
//
// It reads one correction request (JSON) from -in, writes the corrected
// result to -out, and optionally serves /metrics, /healthz, and /readyz
// while running.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/dealscribe/dealscribe/internal/audit"
	"github.com/dealscribe/dealscribe/internal/config"
	"github.com/dealscribe/dealscribe/internal/health"
	"github.com/dealscribe/dealscribe/internal/observe"
	"github.com/dealscribe/dealscribe/internal/pipeline"
	"github.com/dealscribe/dealscribe/internal/pipeline/fuzzy"
	"github.com/dealscribe/dealscribe/internal/pipeline/refine"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage1"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage2"
	"github.com/dealscribe/dealscribe/internal/resilience"
	"github.com/dealscribe/dealscribe/internal/triage"
	"github.com/dealscribe/dealscribe/pkg/provider/llm"
	"github.com/dealscribe/dealscribe/pkg/provider/llm/anyllm"
	oaillm "github.com/dealscribe/dealscribe/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := flag.String("in", "-", "correction request JSON file (\"-\" for stdin)")
	outPath := flag.String("out", "-", "corrected result JSON file (\"-\" for stdout)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dealscribe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dealscribe: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dealscribe starting",
		"config", *configPath,
		"provider", cfg.LLM.Name,
		"model", cfg.LLM.Model,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Pipeline wiring ───────────────────────────────────────────────────────
	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		slog.Error("failed to build completion provider", "err", err)
		return 1
	}

	breaker := resilience.NewCircuitBreaker(resilience.Config{Name: "refine"})
	refiner := resilience.NewGuardedRefiner(refine.NewClient(provider, refine.WithMetrics(metrics)), breaker)

	s2opts := []stage2.Option{stage2.WithMetrics(metrics)}
	if cfg.Pipeline.Parallelism > 0 {
		s2opts = append(s2opts, stage2.WithParallelism(cfg.Pipeline.Parallelism))
	}
	if cfg.Pipeline.RefineTimeout > 0 {
		s2opts = append(s2opts, stage2.WithCallTimeout(cfg.Pipeline.RefineTimeout.Std()))
	}
	orchestrator := stage2.New(refiner, s2opts...)

	var s1opts []stage1.Option
	if cfg.Pipeline.FuzzyThreshold > 0 {
		s1opts = append(s1opts, stage1.WithMatcher(fuzzy.New(fuzzy.WithThreshold(cfg.Pipeline.FuzzyThreshold))))
	}
	if cfg.Pipeline.TerminalPeriod != nil {
		s1opts = append(s1opts, stage1.WithTerminalPeriod(*cfg.Pipeline.TerminalPeriod))
	}
	corrector := stage1.New(s1opts...)

	sink := audit.NewSink(cfg.Audit.ReviewCSV, cfg.Audit.AcceptedCSV)
	runner := pipeline.NewRunner(
		corrector,
		orchestrator,
		triage.New(cfg.Pipeline.ReviewEditsThreshold),
		sink,
		metrics,
	)

	// ── Metrics / health listener (optional) ──────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		srv := newServer(cfg.Server.ListenAddr, provider, breaker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener error", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("metrics listener shutdown error", "err", err)
			}
		}()
		slog.Info("metrics listener started", "addr", cfg.Server.ListenAddr)
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	req, err := readRequest(*inPath)
	if err != nil {
		slog.Error("failed to read request", "err", err)
		return 1
	}

	resp, err := runner.Run(ctx, *req)
	if err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	if err := writeResponse(*outPath, resp); err != nil {
		slog.Error("failed to write result", "err", err)
		return 1
	}

	slog.Info("done", "segments", len(resp.Transcript), "warnings", len(resp.Warnings))
	return 0
}

// buildProvider constructs the completion backend for the refinement stage.
// OpenAI goes through its native SDK; the remaining backends share the
// any-llm completion API, where ollama is a local server addressed via
// BaseURL rather than an API key.
func buildProvider(entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "openai" {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.Name != "ollama" && entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// newServer builds the /metrics + health listener. Readiness reflects the
// provider's reachability only indirectly: an open circuit breaker means the
// backend has been failing and the service should not receive traffic.
func newServer(addr string, provider llm.Provider, breaker *resilience.CircuitBreaker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	h := health.New(
		health.Probe{
			Name: "provider",
			Run: func(context.Context) error {
				if provider == nil {
					return errors.New("no completion provider configured")
				}
				return nil
			},
		},
		health.Probe{
			Name: "refine-circuit",
			Run: func(context.Context) error {
				if breaker.State() == resilience.StateOpen {
					return errors.New("circuit breaker open")
				}
				return nil
			},
		},
	)
	h.Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func readRequest(path string) (*pipeline.Request, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	req := &pipeline.Request{}
	dec := json.NewDecoder(r)
	if err := dec.Decode(req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func writeResponse(path string, resp *pipeline.Response) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// newLogger builds the process-wide logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
