package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Show the server's device pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getClient().Get("/api/v1/devices", nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRawJSON(body)
				return nil
			}

			var pools []PoolStatus
			if err := json.Unmarshal(body, &pools); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(pools) == 0 {
				printMessage("No device pools configured")
				return nil
			}

			for _, p := range pools {
				s := p.Stats
				printMessage(fmt.Sprintf("%s: %d/%d devices, %d idle, %d in use, %d cleaning, %d corrupted, %d creating, %d queued",
					p.Platform, s.Total, s.MaxSize, s.Idle, s.InUse, s.Cleaning, s.Corrupted, s.Creating, s.QueueLength))
				if len(p.Devices) == 0 {
					continue
				}
				var rows [][]string
				for _, d := range p.Devices {
					holder := d.LeaseHolder
					if holder == "" {
						holder = "-"
					}
					rows = append(rows, []string{d.Name, d.ID, string(d.State), holder, formatTime(&d.LastUsedAt)})
				}
				printTable([]string{"NAME", "ID", "STATE", "JOB", "LAST USED"}, rows)
				printMessage("")
			}
			return nil
		},
	}
}
