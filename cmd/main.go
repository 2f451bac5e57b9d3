package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/config"
	"github.com/MimeLyc/findoc-analyzer/internal/httpapi"
	"github.com/MimeLyc/findoc-analyzer/internal/intake"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/MimeLyc/findoc-analyzer/internal/llm"
	"github.com/MimeLyc/findoc-analyzer/internal/persistence"
	"github.com/MimeLyc/findoc-analyzer/internal/tools"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const shutdownTimeout = 30 * time.Second

type cronRunner interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// components is everything runWithComponents drives. http is nil when the
// mode does not serve HTTP and stopWorkers is nil when it runs no workers.
type components struct {
	cron        cronRunner
	http        httpServer
	stopWorkers func()
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal("Analyzer stopped: %v", err)
	}
	log.Info("Analyzer stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := persistence.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close store: %v", err)
		}
	}()

	var pipeline analysis.Pipeline
	if cfg.Mode.RunsWorker() {
		pipeline, err = buildPipeline(cfg)
		if err != nil {
			return err
		}
	}

	c, err := assemble(ctx, cfg, store, pipeline)
	if err != nil {
		return err
	}
	return runWithComponents(ctx, cfg, c)
}

func buildPipeline(cfg *config.Config) (analysis.Pipeline, error) {
	extractor := analysis.NewTextExtractor(cfg.Analysis.PdfToTextBin, analysis.ExecRunner{})

	switch cfg.Analysis.Pipeline {
	case config.PipelineMetrics:
		return analysis.NewMetricsPipeline(extractor), nil
	case config.PipelineCrew:
		client, err := llm.NewClient(&llm.Config{
			APIKey:      cfg.LLM.APIKey,
			APIURL:      cfg.LLM.APIURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
			SiteURL:     cfg.LLM.SiteURL,
			AppName:     cfg.LLM.AppName,
		})
		if err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}

		opts := []analysis.CrewOption{analysis.WithMaxIterations(cfg.Agent.MaxIterations)}
		if cfg.Search.APIKey != "" {
			opts = append(opts, analysis.WithSearch(tools.NewWebSearchTool(cfg.Search.APIKey, cfg.Search.APIURL)))
		} else {
			log.Info("SEARCH_API_KEY not set, agents run without web search")
		}

		crew, err := analysis.NewCrew(client, extractor, nil, opts...)
		if err != nil {
			return nil, fmt.Errorf("create analysis crew: %w", err)
		}
		return crew, nil
	default:
		return nil, fmt.Errorf("unsupported pipeline %q", cfg.Analysis.Pipeline)
	}
}

// assemble wires the worker side and the HTTP side for cfg.Mode. Worker
// goroutines and the poller start here and live until ctx is done or
// stopWorkers is called.
func assemble(ctx context.Context, cfg *config.Config, store jobs.Store, pipeline analysis.Pipeline) (components, error) {
	engine := cron.New()
	c := components{cron: engine}
	var dispatcher jobs.Dispatcher = jobs.NopDispatcher{}

	if cfg.Mode.RunsWorker() {
		if pipeline == nil {
			return components{}, errors.New("worker mode needs an analysis pipeline")
		}
		runner := jobs.NewRunner(store, pipeline, cfg.Worker.AnalysisTimeout, jobs.WithLease(cfg.Worker.LeaseTTL))
		if cfg.Worker.RecoverInterrupted {
			if _, err := runner.FailInterrupted(ctx); err != nil {
				return components{}, fmt.Errorf("recover interrupted jobs: %w", err)
			}
			go runner.RecoverLoop(ctx, cfg.Worker.LeaseTTL)
		}

		queue := jobs.NewQueue(cfg.Worker.Count, cfg.Worker.QueueSize)
		queue.Start(runner.Run)
		c.stopWorkers = queue.Stop
		dispatcher = queue

		go jobs.NewPoller(store, queue, cfg.Worker.PollInterval).Run(ctx)

		if cfg.Retention.Enabled() {
			retention := jobs.NewRetention(store, cfg.Storage.ScratchDir, cfg.Retention.CronExpr, cfg.Retention.MaxAge)
			if err := retention.Schedule(ctx, engine); err != nil {
				queue.Stop()
				return components{}, fmt.Errorf("schedule retention: %w", err)
			}
		}
	}

	if cfg.Mode.ServesHTTP() {
		in, err := intake.New(*cfg, store, dispatcher)
		if err != nil {
			if c.stopWorkers != nil {
				c.stopWorkers()
			}
			return components{}, fmt.Errorf("create intake: %w", err)
		}

		opts := []httpapi.Option{httpapi.WithCORS(cfg.HTTP.CORS)}
		if cfg.Mode.RunsWorker() && cfg.Retention.Enabled() {
			opts = append(opts, httpapi.WithRetentionSchedule(cfg.Retention.CronExpr))
		}
		c.http = httpapi.NewServer(in, store, opts...)
	}

	return c, nil
}

func runWithComponents(ctx context.Context, cfg *config.Config, c components) error {
	c.cron.Start()
	defer func() {
		<-c.cron.Stop().Done()
		if c.stopWorkers != nil {
			log.Info("Waiting for running analyses to finish")
			c.stopWorkers()
		}
	}()

	if c.http == nil {
		log.Info("Worker running (mode=%s)", cfg.Mode)
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s (mode=%s)", cfg.HTTP.Addr, cfg.Mode)
		errCh <- c.http.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
