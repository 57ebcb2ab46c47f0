package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/IshaVishwakarma/llm-observability/models"
	"github.com/IshaVishwakarma/llm-observability/repositories"
	"github.com/IshaVishwakarma/llm-observability/services/alerts"
	"github.com/IshaVishwakarma/llm-observability/services/analytics"
)

// tablePromptWidth is how much of a prompt the logs table shows
const tablePromptWidth = 40

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the llm_requests table and its indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.factory.InitSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s).\n", s.factory.GetDB().Dialect())
			return nil
		},
	}
}

func newSummaryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print whole-store statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := analytics.NewService(s.records, nil, s.logger).Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newAlertsCmd(opts *rootOptions) *cobra.Command {
	thresholds := alerts.DefaultThresholds()

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show live alerts",
		Long: `Evaluate the alert rules against the record store and print any that fire.

Alerts are informational: the command exits 0 whether or not any fire.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			fired, err := alerts.NewEvaluator(s.records, thresholds, nil, s.logger).Evaluate(cmd.Context())
			if err != nil {
				return fmt.Errorf("evaluating alerts: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(fired) == 0 {
				fmt.Fprintln(out, "No active alerts.")
				return nil
			}

			fmt.Fprintf(out, "%d active alert(s):\n\n", len(fired))
			for _, alert := range fired {
				fmt.Fprintf(out, "  [%s] %s\n", strings.ToUpper(string(alert.Type)), alert.Message)
				if alert.RecordID != nil && alert.Timestamp != nil {
					fmt.Fprintf(out, "         record #%d at %s\n", *alert.RecordID, alert.Timestamp.UTC().Format(time.RFC3339))
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&thresholds.LatencyMs, "latency-ms", thresholds.LatencyMs, "latency threshold in milliseconds")
	cmd.Flags().Float64Var(&thresholds.ErrorRatePct, "error-rate-pct", thresholds.ErrorRatePct, "error rate threshold in percent")
	cmd.Flags().IntVar(&thresholds.TokensIn, "tokens-in", thresholds.TokensIn, "input token spike threshold")
	cmd.Flags().IntVar(&thresholds.TokensOut, "tokens-out", thresholds.TokensOut, "output token spike threshold")

	return cmd
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List the most recent calls, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be a positive integer, got %d", limit)
			}

			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			logs, err := analytics.NewService(s.records, nil, s.logger).RecentLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(logs) == 0 {
				fmt.Fprintln(out, "No calls recorded.")
				return nil
			}
			return printLogs(out, logs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", analytics.DefaultLimit, "number of calls to show")
	return cmd
}

func newTrendCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		height int
	)

	cmd := &cobra.Command{
		Use:       "trend latency|tokens",
		Short:     "Plot the latency or token trend, oldest to newest",
		ValidArgs: []string{"latency", "tokens"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be a positive integer, got %d", limit)
			}

			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			svc := analytics.NewService(s.records, nil, s.logger)

			var (
				series  []float64
				caption string
			)
			switch args[0] {
			case "latency":
				points, err := svc.LatencyTrend(cmd.Context(), limit)
				if err != nil {
					return err
				}
				series = latencySeries(points)
				caption = "latency (ms)"
			case "tokens":
				points, err := svc.TokenTrend(cmd.Context(), limit)
				if err != nil {
					return err
				}
				series = tokenSeries(points)
				caption = "tokens (in + out)"
			}

			out := cmd.OutOrStdout()
			if len(series) == 0 {
				fmt.Fprintln(out, "No data available.")
				return nil
			}

			fmt.Fprintln(out, asciigraph.Plot(series,
				asciigraph.Height(height),
				asciigraph.Caption(caption),
			))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", analytics.DefaultLimit, "number of recent calls to plot")
	cmd.Flags().IntVar(&height, "height", 10, "chart height in rows")
	return cmd
}

func newSessionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session <id>",
		Short: "Print analytics for one session id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := analytics.NewService(s.records, nil, s.logger).SessionAnalytics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one full call record, including the response, as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("record id must be a positive integer, got %q", args[0])
			}

			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			record, err := s.records.GetByID(cmd.Context(), id)
			if errors.Is(err, repositories.ErrNotFound) {
				return fmt.Errorf("record #%d not found", id)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), record)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLogs(w io.Writer, logs []models.LogEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMODEL\tSTATUS\tIN\tOUT\tLATENCY_MS\tPROMPT")
	for _, entry := range logs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			entry.ID,
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.Model,
			entry.Status,
			entry.TokensIn,
			entry.TokensOut,
			formatLatency(entry.Latency),
			shorten(entry.Prompt, tablePromptWidth),
		)
	}
	return tw.Flush()
}

// latencySeries returns recorded latencies oldest first, skipping calls
// without one
func latencySeries(points []models.LatencyTrendPoint) []float64 {
	series := make([]float64, 0, len(points))
	for _, p := range points {
		if p.LatencyMs != nil {
			series = append(series, *p.LatencyMs)
		}
	}
	slices.Reverse(series)
	return series
}

// tokenSeries returns total tokens per call, oldest first
func tokenSeries(points []models.TokenTrendPoint) []float64 {
	series := make([]float64, 0, len(points))
	for _, p := range points {
		series = append(series, float64(p.TokensIn+p.TokensOut))
	}
	slices.Reverse(series)
	return series
}

func formatLatency(latency *float64) string {
	if latency == nil {
		return "-"
	}
	return strconv.FormatFloat(*latency, 'f', 2, 64)
}

func shorten(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
