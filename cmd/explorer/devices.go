package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Inspect and clean up pooled simulators and emulators on this host",
}

var devicesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete devices left behind by a previous process",
	Long: `Deletes every device carrying the pool name prefix. Do not run it while
a server on this host is using the pools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log := cfg.newLogger()

		pools, err := cfg.newPools("", log)
		if err != nil {
			return err
		}
		if len(pools) == 0 {
			return errors.New("no device pools enabled")
		}

		ctx := context.Background()
		var errs []error
		for platform, pool := range pools {
			removed, err := pool.CleanupOrphanedDevices(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d device(s)\n", platform, removed)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", platform, err))
			}
		}
		return errors.Join(errs...)
	},
}

var devicesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List pool devices present on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		provs := cfg.provisioners("")
		if len(provs) == 0 {
			return errors.New("no device pools enabled")
		}

		platforms := make([]hierarchy.Platform, 0, len(provs))
		for p := range provs {
			platforms = append(platforms, p)
		}
		sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

		ctx := context.Background()
		w := cmd.OutOrStdout()
		for _, platform := range platforms {
			insts, err := provs[platform].List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list %s devices: %w", platform, err)
			}
			prefix := cfg.poolConfig(platform).NamePrefix
			fmt.Fprintf(w, "%s (%s):\n", platform, provs[platform].DeviceType())
			n := 0
			for _, inst := range insts {
				if !strings.HasPrefix(inst.Name, prefix) {
					continue
				}
				fmt.Fprintf(w, "  %s\t%s\n", inst.Name, inst.ID)
				n++
			}
			if n == 0 {
				fmt.Fprintln(w, "  (none)")
			}
		}
		return nil
	},
}

func init() {
	devicesCmd.AddCommand(devicesCleanupCmd)
	devicesCmd.AddCommand(devicesStatusCmd)
	rootCmd.AddCommand(devicesCmd)
}
