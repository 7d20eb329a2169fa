package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/gorods/internal/cli/output"
	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/internal/telemetry"
	"github.com/marmos91/gorods/pkg/config"
	"github.com/marmos91/gorods/pkg/metrics"
	"github.com/marmos91/gorods/pkg/session"
	"github.com/marmos91/gorods/pkg/transfer"
	"github.com/marmos91/gorods/pkg/transport/factory"
)

// InitLogger initializes the structured logger from configuration. Logs
// configured for stderr go to stderr, the command's error stream, so they
// interleave with progress output.
func InitLogger(cfg *config.Config, stderr io.Writer) error {
	if cfg.Logging.Output == "stderr" && stderr != nil {
		logger.InitWithWriter(stderr, cfg.Logging.Level, cfg.Logging.Format, isTerminal(stderr))
		return nil
	}

	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// clientRuntime holds everything a transfer command needs. close releases
// it in reverse order of creation.
type clientRuntime struct {
	cfg      *config.Config
	supplier *factory.Supplier
	manager  *session.Manager
	engine   *transfer.Engine
	closers  []func(context.Context) error
}

// setup loads configuration and starts logging, telemetry, profiling, the
// metrics server and the transport.
func setup(ctx context.Context, cmd *cobra.Command) (_ *clientRuntime, err error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}

	rt := &clientRuntime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.close(context.Background())
		}
	}()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "gorods",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	rt.closers = append(rt.closers, telemetryShutdown)

	profilingStop, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "gorods",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return profilingStop() })

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		server := metrics.NewServer(cfg.Metrics.Port, metrics.Gatherer())
		serverCtx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := server.Start(serverCtx); err != nil {
				logger.Warn("metrics server stopped", logger.KeyError, err)
			}
		}()
		rt.closers = append(rt.closers, func(ctx context.Context) error {
			cancel()
			return server.Stop(ctx)
		})
	}
	reg := metrics.GetRegistry()

	rt.supplier, err = factory.NewSupplier(ctx, cfg.Transport, reg)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.supplier.Close() })

	opts := []session.Option{session.WithProperties(cfg.Transfer)}
	var engineOpts []transfer.EngineOption
	if reg != nil {
		opts = append(opts,
			session.WithSessionMetrics(metrics.NewSessionMetrics(reg)),
			session.WithPoolMetrics(metrics.NewPoolMetrics(reg)))
		engineOpts = append(engineOpts, transfer.WithMetrics(metrics.NewTransferMetrics(reg)))
	}
	rt.manager = session.NewManager(rt.supplier, opts...)
	rt.closers = append(rt.closers, rt.manager.Close)
	rt.engine = transfer.NewEngine(rt.manager, engineOpts...)

	logger.Debug("client runtime ready",
		"transport", rt.supplier.Type,
		"parallel", cfg.Transfer.UseParallelTransfer,
		"pool", cfg.Transfer.UseTransferThreadsPool)
	return rt, nil
}

// close shuts the runtime down within the configured shutdown timeout.
func (rt *clientRuntime) close(ctx context.Context) error {
	timeout := rt.cfg.ShutdownTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// printer builds the result printer from the global output flags.
func printer(cmd *cobra.Command) (*output.Printer, error) {
	format, _ := cmd.Flags().GetString("output")
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	noColor, _ := cmd.Flags().GetBool("no-color")
	return output.NewPrinter(cmd.OutOrStdout(), f, !noColor && isTerminal(cmd.OutOrStdout())), nil
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
