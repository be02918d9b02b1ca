package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/telemost/switchboard/internal/alert"
	"github.com/telemost/switchboard/internal/broadcast"
	"github.com/telemost/switchboard/internal/config"
	"github.com/telemost/switchboard/internal/dashboard"
	"github.com/telemost/switchboard/internal/db"
	"github.com/telemost/switchboard/internal/flow"
	"github.com/telemost/switchboard/internal/gateway"
	"github.com/telemost/switchboard/internal/gateway/discord"
	"github.com/telemost/switchboard/internal/gateway/slack"
	"github.com/telemost/switchboard/internal/incident"
	"github.com/telemost/switchboard/internal/ratelimit"
	"github.com/telemost/switchboard/internal/scheduler"
	"github.com/telemost/switchboard/internal/session"
	"github.com/telemost/switchboard/internal/sheets"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot daemon",
		Long:  "Connects to the chat platform and serves events until interrupted. Also runs the scheduled jobs and, if enabled, the status dashboard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swb.yaml", "path to config file")
	return cmd
}

func runServe(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	gdb, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}

	adapter, err := newAdapter(cfg.Gateway)
	if err != nil {
		return err
	}

	sessions := session.NewStore(session.StoreOpts{
		SelectionTTL: cfg.Session.SelectionTTLDur(),
		CaptureTTL:   cfg.Session.CaptureTTLDur(),
	})
	limiter := ratelimit.NewLimiter(ratelimit.LimiterOpts{
		MessageLimit:  cfg.Limits.MessageLimit,
		MessageWindow: cfg.Limits.MessageWindowDur(),
		ActionLimit:   cfg.Limits.ActionLimit,
		ActionWindow:  cfg.Limits.ActionWindowDur(),
		BlockDuration: cfg.Limits.BlockDur(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sendDM := func(ctx context.Context, userID int64, text string) error {
		return adapter.Send(ctx, gateway.Outbound{UserID: userID, Text: text})
	}

	runner, err := broadcast.NewRunner(broadcast.RunnerOpts{DB: gdb, Send: sendDM})
	if err != nil {
		return err
	}
	persister, err := gateway.NewPersister(gdb, runner)
	if err != nil {
		return err
	}
	flows, err := flow.NewEngine(flow.EngineOpts{Persister: persister})
	if err != nil {
		return err
	}
	handlers, err := gateway.NewHandlers(gateway.HandlersOpts{
		DB:         gdb,
		Sessions:   sessions,
		Flows:      flows,
		Adapter:    adapter,
		AdminIDs:   cfg.Alerts.AdminIDs,
		DigitGuard: cfg.Session.DigitGuard,
		Out:        out,
	})
	if err != nil {
		return err
	}
	router, err := gateway.NewRouter(gateway.RouterOpts{
		Handlers: handlers,
		Sessions: sessions,
		Flows:    flows,
		Limiter:  limiter,
		Adapter:  adapter,
		Out:      out,
	})
	if err != nil {
		return err
	}

	notifier, err := alert.NewNotifier(alert.NotifierOpts{
		Send:     sendDM,
		AdminIDs: cfg.Alerts.AdminIDs,
		Cooldown: cfg.Alerts.CooldownDur(),
	})
	if err != nil {
		return err
	}

	sched, err := newScheduler(ctx, cfg, gdb, notifier)
	if err != nil {
		return err
	}

	if err := adapter.Connect(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	sched.Start(ctx)
	defer sched.Stop()

	// Periodic purge of stale rate-limit windows.
	go func() {
		ticker := time.NewTicker(cfg.Limits.SweepDur())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	}()

	if cfg.Dashboard.Enabled {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:       gdb,
				Sessions: sessions,
				Limiter:  limiter,
				Jobs:     sched.Records,
				Port:     cfg.Dashboard.Port,
				Out:      out,
			})
			if err != nil {
				log.Printf("serve: dashboard: %v", err)
			}
		}()
	}

	fmt.Fprintf(out, "Switchboard serving on %s\n", cfg.Gateway.Platform)
	if err := router.Pump(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	fmt.Fprintln(out, "Shutting down.")
	return nil
}

// newAdapter builds the platform adapter selected by the config.
func newAdapter(cfg config.GatewayConfig) (gateway.Adapter, error) {
	switch cfg.Platform {
	case "slack":
		return slack.New(slack.AdapterOpts{
			AppToken:  cfg.AppToken,
			BotToken:  cfg.BotToken,
			ChannelID: cfg.ChannelID,
		})
	case "discord":
		return discord.New(discord.AdapterOpts{
			BotToken:  cfg.BotToken,
			ChannelID: cfg.ChannelID,
		})
	default:
		return nil, fmt.Errorf("serve: unknown platform %q", cfg.Platform)
	}
}

// newScheduler registers the maintenance jobs that have cron specs
// configured.
func newScheduler(ctx context.Context, cfg *config.Config, gdb *gorm.DB, notifier *alert.Notifier) (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(scheduler.Opts{
		Escalator:    notifier,
		FailureLimit: cfg.Scheduler.FailureLimit,
	})
	if err != nil {
		return nil, err
	}

	if spec := cfg.Scheduler.SipReset; spec != "" {
		err := sched.Register("sip-reset", spec, func(ctx context.Context) error {
			n, err := incident.ResetSips(gdb)
			if err != nil {
				return err
			}
			log.Printf("serve: sip-reset cleared %d assignments", n)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Sheet jobs only run with credentials configured.
	if cfg.Sheets.SpreadsheetID != "" {
		client, err := sheets.NewClient(ctx, sheets.ClientOpts{Config: cfg.Sheets})
		if err != nil {
			return nil, err
		}
		if spec := cfg.Scheduler.ReportSync; spec != "" {
			err := sched.Register("report-sync", spec, func(ctx context.Context) error {
				return scheduler.Retry(ctx, 3, 2*time.Second, func(ctx context.Context) error {
					return syncReports(ctx, gdb, client)
				})
			})
			if err != nil {
				return nil, err
			}
		}
		if spec := cfg.Scheduler.SheetRollover; spec != "" {
			err := sched.Register("sheet-rollover", spec, func(ctx context.Context) error {
				return scheduler.Retry(ctx, 3, 2*time.Second, func(ctx context.Context) error {
					err := client.WriteRows(ctx, reportRange(time.Now())+"!A1:F1", [][]string{reportHeader()})
					return markTransient(err)
				})
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return sched, nil
}

// syncReports appends the currently open incidents to this week's
// sheet, skipping ids already present so reruns never duplicate rows.
func syncReports(ctx context.Context, gdb *gorm.DB, client *sheets.Client) error {
	rows, err := dashboard.OpenIncidents(gdb, 500)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	sheet := reportRange(time.Now())
	existing, err := client.FetchRows(ctx, sheet+"!A:F")
	if err != nil {
		return markTransient(err)
	}
	seen := make(map[string]bool, len(existing))
	for _, row := range existing {
		if len(row) > 1 {
			seen[row[1]] = true
		}
	}
	values := make([][]string, 0, len(rows))
	for _, r := range rows {
		id := strconv.FormatUint(uint64(r.ID), 10)
		if seen[id] {
			continue
		}
		values = append(values, []string{
			r.CreatedAt.Format(time.RFC3339),
			id,
			r.ProviderCode,
			r.Username,
			r.Text,
			r.Sip,
		})
	}
	if len(values) == 0 {
		return nil
	}
	return markTransient(client.AppendRows(ctx, sheet+"!A:F", values))
}

// reportRange names the weekly sheet tab, e.g. "Reports 2026-W09".
func reportRange(now time.Time) string {
	year, week := now.ISOWeek()
	return fmt.Sprintf("Reports %d-W%02d", year, week)
}

func reportHeader() []string {
	return []string{"Created", "ID", "Provider", "Operator", "Text", "SIP"}
}

// markTransient flags sheet API failures for retry; they are almost
// always quota or connectivity hiccups.
func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return scheduler.Transient(err)
}
