// Command imagepipe runs the image pipeline demo: fetch (ordered) →
// process (unordered, retried) → seal (serial, optional) → save (serial)
// over synthetic image URLs, optionally serving the run monitor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/kbukum/stagekit/bootstrap"
	"github.com/kbukum/stagekit/config"
	"github.com/kbukum/stagekit/encryption"
	"github.com/kbukum/stagekit/logger"
	"github.com/kbukum/stagekit/monitor"
	"github.com/kbukum/stagekit/observability"
	"github.com/kbukum/stagekit/pipeline"
	"github.com/kbukum/stagekit/sse"
)

const serviceName = "imagepipe"

func main() {
	configFile := flag.String("config", "", "path to config.yml (default: conventional search paths)")
	urls := flag.Int("urls", 0, "number of images to process (overrides config)")
	serve := flag.Bool("serve", false, "keep serving the monitor after the run until interrupted")
	flag.Parse()

	if err := run(context.Background(), *configFile, *urls, *serve); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string, urls int, serve bool) error {
	var cfg Config
	opts := []config.LoaderOption{config.WithEnvPrefix("IMAGEPIPE")}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = serviceName
	}
	if urls > 0 {
		cfg.Pipeline.URLs = urls
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}
	return runApp(ctx, app, serve)
}

// runApp wires the components and runs the pipeline as the app's task.
func runApp(ctx context.Context, app *bootstrap.App[*Config], serve bool) error {
	cfg := app.Cfg
	log := app.Logger.WithComponent(serviceName)

	sealer, err := newSealer(cfg.Encryption)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		if err := initTelemetry(ctx, app); err != nil {
			return err
		}
	}
	metrics, err := observability.NewStageMetrics(observability.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("stage metrics: %w", err)
	}

	runs := monitor.NewRuns(monitor.WithRetain(cfg.Monitor.Retain))
	if cfg.Monitor.Enabled {
		runs, err = registerMonitor(app)
		if err != nil {
			return err
		}
	}

	imgs := newImages(cfg.Pipeline, sealer, log)
	app.Summary.TrackPipeline("images", imgs.stages()...)

	return app.RunTask(ctx, func(ctx context.Context) error {
		out, h, err := pipeline.Build(ctx, imgs.builder(),
			pipeline.WithRunName("images"),
			pipeline.WithLogger(app.Logger),
			pipeline.WithMetrics(metrics),
			pipeline.WithObserver(runs.Observer()),
		)
		if err != nil {
			return err
		}
		runs.Track(h)

		done := 0
		runErr := pipeline.ForEach(ctx, out, func(url string) error {
			done++
			log.Info("done", logger.Fields("url", url))
			return nil
		})
		report(log, h.Result(), done)

		if serve && cfg.Monitor.Enabled {
			log.Info("run finished, monitor still serving", logger.Fields("run_id", h.ID()))
			<-ctx.Done()
		}
		return runErr
	})
}

func newSealer(cfg EncryptionConfig) (encryption.Sealer, error) {
	if cfg.Key == "" {
		return nil, nil
	}
	alg, err := encryption.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return encryption.New(cfg.Key, encryption.WithAlgorithm(alg))
}

// registerMonitor registers the SSE hub and the monitor server, and returns
// a run registry that broadcasts to the hub.
func registerMonitor(app *bootstrap.App[*Config]) (*monitor.Runs, error) {
	cfg := app.Cfg.Monitor
	events := sse.NewComponent("/runs/:id/events", sse.WithKeepAlive(cfg.KeepAlive))
	runs := monitor.NewRuns(monitor.WithBroadcaster(events.Hub()), monitor.WithRetain(cfg.Retain))
	srv := monitor.New(cfg, runs, events.Hub(),
		monitor.WithServiceName(app.Name),
		monitor.WithLogger(app.Logger.WithComponent("monitor")),
		monitor.WithHealthChecker(app.Components.HealthAll),
	)
	if err := app.RegisterComponent(monitor.NewComponent(srv)); err != nil {
		return nil, err
	}
	// The hub stops before the server so open event streams end first.
	if err := app.RegisterComponent(events); err != nil {
		return nil, err
	}
	srv.TrackRoutes(app.Summary)
	return runs, nil
}

func initTelemetry(ctx context.Context, app *bootstrap.App[*Config]) error {
	tp, err := observability.InitTracer(ctx, app.Cfg.Telemetry.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	mp, err := observability.InitMeter(ctx, app.Cfg.Telemetry.Meter)
	if err != nil {
		return errors.Join(fmt.Errorf("init meter: %w", err), tp.Shutdown(ctx))
	}
	app.OnStop(func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	})
	return nil
}

func report(log *logger.Logger, res pipeline.Result, done int) {
	for _, o := range res.Outcomes {
		fields := logger.MergeWithDuration(logger.Fields(
			"stage", o.Stage,
			"policy", o.Policy.String(),
			"status", o.Status.String(),
			"received", o.Received,
			"emitted", o.Emitted,
		), o.Duration)
		if o.Err != nil {
			log.Warn("stage outcome", logger.MergeWithError(fields, o.Err))
			continue
		}
		log.Info("stage outcome", fields)
	}
	fields := logger.Fields("run_id", res.RunID, "images", done)
	if res.Err != nil {
		log.Error("run failed", logger.MergeWithError(fields, res.Err))
		return
	}
	log.Info("run completed", fields)
}
