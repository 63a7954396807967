package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/agent"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
)

func newExplorationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "explorations",
		Aliases: []string{"exp"},
		Short:   "Queue and follow explorations",
	}

	cmd.AddCommand(newExplorationsListCmd())
	cmd.AddCommand(newExplorationsCreateCmd())
	cmd.AddCommand(newExplorationsGetCmd())
	cmd.AddCommand(newExplorationsWaitCmd())
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func newExplorationsListCmd() *cobra.Command {
	var status, appID string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List explorations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			if appID != "" {
				query.Set("app_id", appID)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}

			body, err := getClient().Get("/api/v1/explorations", query)
			if err != nil {
				return err
			}

			if flagJSON {
				printRawJSON(body)
				return nil
			}

			var resp PaginatedResponse[job.Job]
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			headers := []string{"ID", "APP", "PLATFORM", "STATUS", "REQUESTED BY", "STARTED AT", "ENDED AT"}
			var rows [][]string
			for _, j := range resp.Items {
				rows = append(rows, []string{
					j.ID.String(),
					j.AppID,
					j.Platform,
					string(j.Status),
					j.RequestedBy,
					formatTime(j.StartTime),
					formatTime(j.EndTime),
				})
			}
			printTable(headers, rows)
			printMessage(fmt.Sprintf("\nShowing %d of %d explorations", len(resp.Items), resp.Total))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (created, running, success, failed, stopped)")
	cmd.Flags().StringVar(&appID, "app-id", "", "Filter by app id")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset for pagination")
	return cmd
}

func newExplorationsCreateCmd() *cobra.Command {
	var req CreateExplorationRequest
	var platform string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue a new exploration",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Platform = hierarchyPlatform(platform)
			if req.RequestedBy == "" {
				req.RequestedBy = getRequestedBy()
			}
			if err := req.JobConfig.Validate(); err != nil {
				return err
			}

			body, err := getClient().Post("/api/v1/explorations", req)
			if err != nil {
				return err
			}

			if flagJSON {
				printRawJSON(body)
				return nil
			}

			var j job.Job
			if err := json.Unmarshal(body, &j); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printMessage(fmt.Sprintf("Exploration queued: %s (status: %s)", j.ID, j.Status))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.AppID, "app-id", "", "Bundle id or package name (required)")
	f.StringVar(&platform, "platform", "", "ios or android (required)")
	f.StringVar(&req.DeviceID, "device", "", "Run on this device instead of a pooled one")
	f.IntVar(&req.MaxSteps, "max-steps", 0, "Step budget")
	f.IntVar(&req.TargetScreenshots, "target", 0, "Screenshots to collect")
	f.IntVar(&req.MinScreenshots, "min", 0, "Fallback top-up floor")
	f.StringVar(&req.OutputPrefix, "output", "", "Storage prefix for the screenshots")
	f.StringVar(&req.PrimaryModel, "primary-model", "", "Primary model id")
	f.StringVar(&req.FallbackModel, "fallback-model", "", "Fallback model id")
	f.Float64Var(&req.LowConfidenceThreshold, "low-confidence", 0, "Escalate decisions below this confidence")
	f.IntVar(&req.FailureEscalationThreshold, "failure-escalation", 0, "Escalate after this many consecutive failures")
	f.BoolVar(&req.Debug, "debug-images", false, "Store raw and annotated images for every step")
	f.BoolVar(&req.ClearState, "clear-state", false, "Clear app data on launch")
	f.StringVar(&req.RequestedBy, "requested-by", "", "Who is asking (default from config or $USER)")
	cmd.MarkFlagRequired("app-id")
	cmd.MarkFlagRequired("platform")
	return cmd
}

func fetchExploration(id string) ([]byte, *job.Job, error) {
	body, err := getClient().Get("/api/v1/explorations/"+id, nil)
	if err != nil {
		return nil, nil, err
	}
	var j job.Job
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return body, &j, nil
}

func printExploration(j *job.Job) {
	printMessage(fmt.Sprintf("ID:           %s", j.ID))
	printMessage(fmt.Sprintf("App:          %s (%s)", j.AppID, j.Platform))
	printMessage(fmt.Sprintf("Status:       %s", j.Status))
	printMessage(fmt.Sprintf("Requested by: %s", j.RequestedBy))
	printMessage(fmt.Sprintf("Started:      %s", formatTime(j.StartTime)))
	printMessage(fmt.Sprintf("Ended:        %s", formatTime(j.EndTime)))

	if reason, ok := j.Result["error"].(string); ok {
		printMessage(fmt.Sprintf("Error:        %s", reason))
		return
	}
	if len(j.Result) == 0 {
		return
	}

	var out agent.Outcome
	raw, _ := json.Marshal(j.Result)
	if err := json.Unmarshal(raw, &out); err != nil || out.Result == nil {
		return
	}
	res := out.Result
	printMessage(fmt.Sprintf("Device:       %s", out.DeviceID))
	printMessage(fmt.Sprintf("Output:       %s", out.OutputPrefix))
	printMessage(fmt.Sprintf("Ended by:     %s after %d steps", res.EndReason, res.Steps))
	printMessage(fmt.Sprintf("Screenshots:  %d (%d direct, %d fallback)", len(res.Screenshots), res.DirectCount, res.FallbackCount))
	printMessage(fmt.Sprintf("Decisions:    %d primary, %d escalated", out.Decisions.PrimaryCalls, out.Decisions.Escalations))
	for _, n := range res.Notes {
		printMessage("Note:         " + n)
	}
	if len(res.Errors) > 0 {
		printMessage(fmt.Sprintf("Errors (%d):", len(res.Errors)))
		for _, e := range res.Errors {
			printMessage("  " + e)
		}
	}
}

func newExplorationsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one exploration and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, j, err := fetchExploration(args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				printRawJSON(body)
				return nil
			}
			printExploration(j)
			return nil
		},
	}
}

func newExplorationsWaitCmd() *cobra.Command {
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <id>",
		Short: "Poll until an exploration finishes; exits non-zero unless it succeeded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deadline := time.Now().Add(timeout)
			for {
				body, j, err := fetchExploration(args[0])
				if err != nil {
					return err
				}
				if j.Status.IsTerminal() {
					if flagJSON {
						printRawJSON(body)
					} else {
						printExploration(j)
					}
					if j.Status != job.StatusSuccess {
						return fmt.Errorf("exploration %s", j.Status)
					}
					return nil
				}
				if timeout > 0 && time.Now().After(deadline) {
					return errors.New("timed out waiting for exploration (status: " + string(j.Status) + ")")
				}
				time.Sleep(interval)
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "Give up after this long (0 waits forever)")
	return cmd
}

func hierarchyPlatform(s string) hierarchy.Platform {
	return hierarchy.Platform(strings.ToLower(strings.TrimSpace(s)))
}
