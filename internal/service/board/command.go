package board

import (
	"context"
	"fmt"

	"github.com/workbell/alarm-board/internal/api/ops"
	"github.com/workbell/alarm-board/internal/clock"
	"github.com/workbell/alarm-board/internal/config"
	"github.com/workbell/alarm-board/internal/gateway"
	"github.com/workbell/alarm-board/internal/gateway/memory"
	"github.com/workbell/alarm-board/internal/gateway/rest"
	"github.com/workbell/alarm-board/internal/logger"
	"github.com/workbell/alarm-board/internal/repository/store"
	"github.com/workbell/alarm-board/internal/service/engine"
)

// Options controls the alarm-board process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// DataFile overrides the snapshot path from the settings.
	DataFile string
	// LogLevel overrides the log level from the settings.
	LogLevel string
	// DryRun forces the in-memory gateway so nothing reaches the
	// messaging platform.
	DryRun bool
}

// Run wires the engine to its gateway and snapshot file and blocks until ctx
// is cancelled. The introspection server runs alongside when configured.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-board")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Command line options win over the settings file.
	if opts.DataFile != "" {
		settings.DataFile = opts.DataFile
	}

	levelName := settings.LogLevel
	if opts.LogLevel != "" {
		levelName = opts.LogLevel
	}

	if level, ok := logger.ParseLogLevel(levelName); ok {
		logger.SetLevel(level)
	} else {
		logger.WarnKV(ctx, "Unknown log level, keeping default", "log_level", levelName)
	}

	gw, mode, err := buildGateway(settings, opts.DryRun)
	if err != nil {
		return fmt.Errorf("initialise gateway: %w", err)
	}

	repo := store.NewFileRepository(settings.DataFile)

	eng, err := engine.New(ctx, repo, gw,
		engine.WithLeadTimes(settings.LeadTimes),
		engine.WithBoardInterval(settings.BoardInterval))
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	logger.InfoKV(ctx, "Alarm board starting",
		"data_file", settings.DataFile,
		"gateway_mode", mode,
		"ops_address", settings.OpsAddress)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// An ops failure cancels the run context, so the engine shuts down
	// cleanly before the error is reported.
	opsErr := make(chan error, 1)

	if settings.OpsAddress != "" {
		opsServer := ops.New(settings.OpsAddress, eng, clock.System{})

		go func() {
			if err := opsServer.Run(runCtx); err != nil {
				opsErr <- err

				cancel()
			}
		}()
	}

	if err = eng.Run(runCtx); err != nil {
		return fmt.Errorf("run engine: %w", err)
	}

	select {
	case err = <-opsErr:
		return err
	default:
	}

	logger.Info(ctx, "Alarm board stopped")

	return nil
}

// buildGateway selects the messaging backend. Dry runs always get the
// in-memory one.
func buildGateway(settings *config.Config, dryRun bool) (gateway.Gateway, string, error) {
	if dryRun || settings.Gateway.Mode == config.GatewayModeMemory {
		gw, err := memory.New()
		if err != nil {
			return nil, "", err
		}

		return gw, config.GatewayModeMemory, nil
	}

	gw, err := rest.New(settings.Gateway.BaseURL, settings.Gateway.Token,
		rest.WithTimeout(settings.Gateway.Timeout))
	if err != nil {
		return nil, "", err
	}

	return gw, config.GatewayModeREST, nil
}
