package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"MarketCache/internal/model"
	"MarketCache/internal/notifier"
	"MarketCache/internal/orchestrator"
	"MarketCache/internal/scheduler"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaultCfg := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultCfg = v
	}

	var cfgPath string
	root := &cobra.Command{
		Use:          "marketcache",
		Short:        "Tiered daily price-series cache",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "path to the YAML config file")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newFetchCmd(&cfgPath),
		newSweepCmd(&cfgPath),
		newInvalidateCmd(&cfgPath),
	)
	return root
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled sweep and watch-list warm-up until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := openFull(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			a.logger.Info("MarketCache starting", "store", a.cfg.Store.Driver, "cache_dir", a.cfg.Cache.Dir)

			if err := a.remote.Health(ctx); err != nil {
				a.logger.Warn("tier2 health check failed, lookups will fall through to origin", "err", err)
			}

			sched := scheduler.NewScheduler(ctx, a.local, a.orch, a.rec, a.logger,
				a.cfg.Warm.Symbols, a.cfg.Warm.LookbackDays)
			if a.cfg.AlertsEnabled() {
				sched.Notifier = notifier.NewTelegramNotifier(a.cfg.Notify.TelegramBotToken,
					a.cfg.Notify.TelegramChatID, a.cfg.Proxy, a.logger)
				a.logger.Info("telegram alerts enabled")
			}
			if err := sched.RegisterAll(a.cfg.Schedule.SweepCron, a.cfg.Schedule.WarmCron); err != nil {
				return fmt.Errorf("register cron tasks: %w", err)
			}
			sched.Start()
			defer sched.Stop()

			waitWarm := func() {}
			if a.cfg.Schedule.RunOnStart || os.Getenv("RUN_ON_START") == "true" {
				a.logger.Info("RUN_ON_START enabled, warming watch list now")
				waitWarm = startWarmUp(a.logger, func() error {
					_, err := sched.RunWarmNow()
					return err
				})
			}

			a.logger.Info("MarketCache is running. Press Ctrl+C to stop.")
			<-ctx.Done()
			a.logger.Info("shutdown signal received, stopping...")
			waitWarm()
			return nil
		},
	}
}

func newFetchCmd(cfgPath *string) *cobra.Command {
	var (
		from, to string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "fetch SYMBOL...",
		Short: "Resolve daily bars for the given symbols through all tiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(from, to, time.Now())
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := openFull(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.orch.Resolve(ctx, args, start, end)
			if err != nil && rep == nil {
				return err
			}
			if err != nil {
				a.logger.Warn("fetch interrupted, reporting partial results", "err", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep.Series); err != nil {
					return fmt.Errorf("encode series: %w", err)
				}
			} else {
				printReport(out, args, rep)
			}

			if rep.Resolved() == 0 {
				return errors.New("no symbols resolved")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default: one year before --to)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolved series as JSON")
	return cmd
}

func newSweepCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale entries from the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openLocal(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.NewScheduler(cmd.Context(), a.local, nil, a.rec, a.logger, nil, a.cfg.Warm.LookbackDays)
			res := sched.RunSweepNow()
			st := a.local.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries (%d bytes), %d entries left, %d/%d bytes\n",
				res.Removed, res.FreedBytes, st.Entries, st.OccupancyBytes, st.BudgetBytes)
			return nil
		},
	}
}

func newInvalidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate SYMBOL|PREFIX*...",
		Short: "Drop local cache entries for symbols, or for every symbol sharing a prefix",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openLocal(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			total := 0
			for _, pattern := range args {
				total += a.local.Invalidate(pattern)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d entries\n", total)
			return nil
		},
	}
}

// startWarmUp runs warm in the background. The returned func blocks until
// it has finished, so tiers are not closed under a running warm-up.
func startWarmUp(logger *slog.Logger, warm func() error) func() {
	var g errgroup.Group
	g.Go(func() error {
		if err := warm(); err != nil {
			logger.Error("warm-up", "err", err)
		}
		return nil
	})
	return func() { _ = g.Wait() }
}

// parseRange applies the CLI defaults: --to is today, --from one year earlier.
func parseRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	end := model.Day(now)
	if to != "" {
		t, err := time.Parse(model.DateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		end = t
	}
	start := end.AddDate(-1, 0, 0)
	if from != "" {
		t, err := time.Parse(model.DateLayout, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		start = t
	}
	return start, end, nil
}

func printReport(w io.Writer, symbols []string, rep *orchestrator.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSOURCE\tBARS\tFIRST\tLAST\tLAST CLOSE")
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		s, ok := rep.Series[sym]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%.4f\n", sym, source(rep.Outcomes[sym]), len(s),
			s.First().Format(model.DateLayout), s.Last().Format(model.DateLayout), s[len(s)-1].Close)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nrun %s: %d resolved, %d batches, %s\n",
		rep.RunID, rep.Resolved(), rep.Batches, rep.Duration.Round(time.Millisecond))
	if len(rep.Unresolved) > 0 {
		fmt.Fprintf(w, "unresolved: %s\n", strings.Join(rep.Unresolved, ", "))
	}
}

func source(o model.Outcome) string {
	switch o {
	case model.OutcomeTier1Hit:
		return "local"
	case model.OutcomeTier2Hit:
		return "store"
	case model.OutcomeTier3Hit:
		return "origin"
	default:
		return "-"
	}
}
