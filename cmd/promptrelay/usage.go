package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/promptrelay/internal/config"
	"github.com/goodtune/promptrelay/internal/storage"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect or reset persisted client usage",
	Long: `Inspect or reset the usage records held by the configured storage backend.

The file backend is owned by the running server, which rewrites it on every
request. Stop the server before resetting clients in a file store.`,
}

var usageShowCmd = &cobra.Command{
	Use:     "show CLIENT",
	Short:   "Show usage for one client",
	Example: `  promptrelay -c config.yaml usage show 203.0.113.7`,
	Args:    cobra.ExactArgs(1),
	RunE:    runUsageShow,
}

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List usage for every tracked client",
	Args:  cobra.NoArgs,
	RunE:  runUsageList,
}

var usageResetCmd = &cobra.Command{
	Use:     "reset CLIENT",
	Short:   "Forget a client's usage so its quota starts over",
	Example: `  promptrelay usage reset 203.0.113.7`,
	Args:    cobra.ExactArgs(1),
	RunE:    runUsageReset,
}

func init() {
	usageCmd.AddCommand(usageShowCmd, usageListCmd, usageResetCmd)
	rootCmd.AddCommand(usageCmd)
}

func withUsageStore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, us storage.UsageStore) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	return fn(ctx, cfg, store.Usage())
}

func runUsageShow(cmd *cobra.Command, args []string) error {
	clientID := args[0]
	return withUsageStore(cmd, func(ctx context.Context, cfg *config.Config, us storage.UsageStore) error {
		rec, err := us.Get(ctx, clientID)
		if errors.Is(err, storage.ErrNotFound) {
			printUsage(os.Stdout, clientID, nil, cfg.Quota.DailyLimit, time.Now())
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read usage for %s: %w", clientID, err)
		}
		printUsage(os.Stdout, clientID, rec, cfg.Quota.DailyLimit, time.Now())
		return nil
	})
}

func runUsageList(cmd *cobra.Command, args []string) error {
	return withUsageStore(cmd, func(ctx context.Context, cfg *config.Config, us storage.UsageStore) error {
		records, err := us.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load usage: %w", err)
		}
		printUsageTable(os.Stdout, records, cfg.Quota.DailyLimit, time.Now())
		return nil
	})
}

func runUsageReset(cmd *cobra.Command, args []string) error {
	clientID := args[0]
	return withUsageStore(cmd, func(ctx context.Context, cfg *config.Config, us storage.UsageStore) error {
		err := us.Delete(ctx, clientID)
		if errors.Is(err, storage.ErrNotFound) {
			_, _ = color.New(color.FgYellow).Fprintf(os.Stdout, "No usage recorded for %s\n", clientID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to reset %s: %w", clientID, err)
		}
		_, _ = color.New(color.FgGreen, color.Bold).Fprintf(os.Stdout, "Usage reset for %s\n", clientID)
		return nil
	})
}

// usageStatus labels a record the way the limiter would treat it at now.
func usageStatus(rec *storage.UsageRecord, limit int, now time.Time) (string, *color.Color) {
	switch {
	case rec == nil:
		return "NO RECORD", color.New(color.FgGreen, color.Bold)
	case rec.Expired(now):
		return "EXPIRED", color.New(color.FgGreen, color.Bold)
	case rec.Count >= limit:
		return "LIMITED", color.New(color.FgRed, color.Bold)
	default:
		return "ACTIVE", color.New(color.FgYellow, color.Bold)
	}
}

func printUsage(w io.Writer, clientID string, rec *storage.UsageRecord, limit int, now time.Time) {
	cyan := color.New(color.FgCyan, color.Bold)
	rule := strings.Repeat("━", 50)

	_, _ = fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, rule)
	_, _ = cyan.Fprintln(w, "CLIENT USAGE")
	_, _ = cyan.Fprintln(w, rule)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "Client:     %s\n", clientID)

	status, statusColor := usageStatus(rec, limit, now)
	if rec != nil && !rec.Expired(now) {
		_, _ = fmt.Fprintf(w, "Used:       %d / %d\n", rec.Count, limit)
		_, _ = fmt.Fprintf(w, "Resets at:  %s (in %s)\n",
			rec.ResetTime.Local().Format(time.RFC3339), rec.ResetTime.Sub(now).Round(time.Second))
	} else {
		_, _ = fmt.Fprintf(w, "Used:       0 / %d\n", limit)
	}
	_, _ = fmt.Fprintln(w)

	_, _ = cyan.Fprint(w, "Status:     ")
	_, _ = statusColor.Fprintln(w, status)

	_, _ = fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, rule)
	_, _ = fmt.Fprintln(w)
}

func printUsageTable(w io.Writer, records map[string]storage.UsageRecord, limit int, now time.Time) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "No usage recorded")
		return
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	_, _ = color.New(color.FgCyan, color.Bold).Fprintf(w, "%-40s %-8s %-10s %s\n", "CLIENT", "USED", "STATUS", "RESETS")
	for _, id := range ids {
		rec := records[id]
		status, statusColor := usageStatus(&rec, limit, now)
		_, _ = fmt.Fprintf(w, "%-40s %-8s ", id, fmt.Sprintf("%d/%d", rec.Count, limit))
		_, _ = statusColor.Fprintf(w, "%-10s", status)
		_, _ = fmt.Fprintf(w, " %s\n", rec.ResetTime.Local().Format(time.RFC3339))
	}
}
