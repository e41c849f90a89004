package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/robocell/cellgym/internal/blob"
	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/devices"
	"github.com/robocell/cellgym/internal/gymenv"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/logging"
	"github.com/robocell/cellgym/internal/server"
)

func brokerConfig(cfg *config.EnvConfig) host.MQTTConfig {
	return host.MQTTConfig{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		TLS:      cfg.Broker.TLS,
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	registry, err := devices.Build(devices.Entries(cfg), cfg.TaskParams)
	if err != nil {
		return err
	}

	h, err := host.Dial(cfg.CellID, brokerConfig(cfg))
	if err != nil {
		return fmt.Errorf("connect to cell: %w", err)
	}
	defer h.Close()

	if err := devices.Validate(h, registry); err != nil {
		return err
	}
	fmt.Printf("ok: %d devices on cell %s\n", len(registry), cfg.CellID)
	return nil
}

func runObserve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	h, err := host.Dial(cfg.CellID, brokerConfig(cfg))
	if err != nil {
		return fmt.Errorf("connect to cell: %w", err)
	}

	env, err := gymenv.New(cfg, h)
	if err != nil {
		h.Close()
		return err
	}
	ctx := cmd.Context()
	observations, err := env.Observe(ctx)
	if err != nil {
		env.Close(ctx)
		return err
	}

	out, err := json.MarshalIndent(observations, "", "  ")
	if err != nil {
		env.Close(ctx)
		return err
	}
	fmt.Println(string(out))
	return env.Close(ctx)
}

func runEpisodes(cmd *cobra.Command, args []string) error {
	episodes, _ := cmd.Flags().GetInt("episodes")
	steps, _ := cmd.Flags().GetInt("steps")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	h, err := host.Dial(cfg.CellID, brokerConfig(cfg))
	if err != nil {
		return fmt.Errorf("connect to cell: %w", err)
	}

	var opts []gymenv.Option
	if cfg.Archive != nil {
		store, err := blob.NewS3Store(cfg.Archive)
		if err != nil {
			h.Close()
			return err
		}
		opts = append(opts, gymenv.WithArchive(store))
	}

	env, err := gymenv.New(cfg, h, opts...)
	if err != nil {
		h.Close()
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		registry, err := server.NewRegistry(env.Collectors()...)
		if err != nil {
			env.Close(ctx)
			return err
		}
		srv := server.NewHTTPServer(cfg.MetricsAddr, server.NewMux(registry))
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logging.Warn("metrics server stopped", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	for episode := 0; episode < episodes; episode++ {
		result, err := env.Reset(ctx)
		if err != nil {
			env.Close(ctx)
			return err
		}
		logging.Info("episode started", "episode", episode, "devices", len(result.Observation))

		for step := 0; step < steps; step++ {
			result, err = env.Step(ctx, core.ActionSet{})
			if err != nil {
				env.Close(ctx)
				return err
			}
			fmt.Printf("episode %d step %d reward %.3f done %v\n", episode, step, result.Reward, result.Done)
			if result.Done {
				break
			}
		}
	}
	return env.Close(ctx)
}
