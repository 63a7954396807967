package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/agent"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/storage"
)

var exploreFlags agent.JobConfig

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Run one exploration in-process and print its result",
	Long: `Runs a single exploration without the database or the HTTP API. Without
--device a pool for the platform is created for the run and torn down
afterwards.`,
	RunE: runExplore,
}

func init() {
	f := exploreCmd.Flags()
	f.StringVar(&exploreFlags.AppID, "app-id", "", "bundle id or package name (required)")
	f.StringVar((*string)(&exploreFlags.Platform), "platform", "", "ios or android (required)")
	f.StringVar(&exploreFlags.DeviceID, "device", "", "explore on this booted device instead of a pooled one")
	f.IntVar(&exploreFlags.MaxSteps, "max-steps", 0, "step budget (default from config)")
	f.IntVar(&exploreFlags.TargetScreenshots, "target", 0, "screenshots to collect (default from config)")
	f.IntVar(&exploreFlags.MinScreenshots, "min", 0, "fallback top-up floor (default per platform)")
	f.StringVar(&exploreFlags.OutputPrefix, "output", "", "storage prefix for the screenshots (default: run id)")
	f.StringVar(&exploreFlags.PrimaryModel, "primary-model", "", "override the primary model id")
	f.StringVar(&exploreFlags.FallbackModel, "fallback-model", "", "override the fallback model id")
	f.BoolVar(&exploreFlags.Debug, "debug", false, "store raw and annotated images for every step")
	f.BoolVar(&exploreFlags.ClearState, "clear-state", false, "clear app data on launch")
	exploreCmd.MarkFlagRequired("app-id")
	exploreCmd.MarkFlagRequired("platform")
	rootCmd.AddCommand(exploreCmd)
}

func runExplore(cmd *cobra.Command, args []string) error {
	jc := exploreFlags
	if err := jc.Validate(); err != nil {
		return err
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := cfg.newLogger()

	blob, err := storage.NewBlobStorage(cfg.storageConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ac := cfg.agentConfig()
	if ac.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ac.TimeLimit)
		defer cancel()
	}

	var pools map[hierarchy.Platform]*device.Pool
	if jc.DeviceID == "" {
		// A one-shot run always gets a pool for the requested platform.
		if jc.Platform == hierarchy.PlatformIOS {
			cfg.IOS.Enabled = true
		} else {
			cfg.Android.Enabled = true
		}
		pools, err = cfg.newPools(jc.Platform, log)
		if err != nil {
			return err
		}
		defer shutdownPools(context.WithoutCancel(ctx), pools, log)
	}

	runID := uuid.NewString()
	out, err := agent.NewPipeline(ac, nil, pools, blob, log).Execute(ctx, runID, jc)
	if err != nil {
		return fmt.Errorf("exploration failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !out.Result.Success {
		return errors.New("exploration captured no screenshots")
	}
	return nil
}
