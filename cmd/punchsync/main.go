// Command punchsync syncs attendance punches from a ZKTeco BioTime
// server or device into the HR checkin ledger.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/deliverydevs/punchsync/internal/config"
	"github.com/deliverydevs/punchsync/internal/ledger"
	"github.com/deliverydevs/punchsync/internal/lease"
	"github.com/deliverydevs/punchsync/internal/orchestration"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "punchsync",
		Short:         "Sync ZKTeco attendance punches into the HR ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newConfigureCmd())
	root.AddCommand(newStatusCmd())
	return root
}

// runtime bundles everything a command needs after bootstrap.
type runtime struct {
	log    *logrus.Logger
	store  *ledger.PostgresStore
	leases lease.Store
	coord  *orchestration.Coordinator
}

func (r *runtime) close() {
	if err := r.leases.Close(); err != nil {
		r.log.WithError(err).Warn("closing lease store")
	}
	if err := r.store.Close(); err != nil {
		r.log.WithError(err).Warn("closing ledger store")
	}
}

func bootstrap() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := cfg.Logger()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("PUNCHSYNC_DATABASE_URL is not set")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store, err := ledger.NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger store: %w", err)
	}

	leases, err := lease.NewPostgresStore()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("lease store: %w", err)
	}

	return &runtime{
		log:    log,
		store:  store,
		leases: leases,
		coord:  orchestration.NewCoordinator(store, leases, log),
	}, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// The scheduler ticks every minute; the gate inside Tick
			// applies the configured cadence.
			sched := cron.New()
			if _, err := sched.AddFunc("@every 1m", func() { rt.coord.Tick(ctx) }); err != nil {
				return fmt.Errorf("schedule sync: %w", err)
			}
			sched.Start()
			rt.log.Info("punchsync scheduler started")

			<-ctx.Done()
			rt.log.Info("shutting down")
			<-sched.Stop().Done()
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Trigger one sync run now",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			summary, err := rt.coord.Run(cmd.Context())
			if err != nil {
				return err
			}
			if summary.Skipped {
				fmt.Printf("skipped: %s\n", summary.SkipReason)
				return nil
			}
			fmt.Printf("mode=%s fetched=%d inserted=%d duplicates=%d stale=%d rejected=%d\n",
				summary.Mode, summary.Fetched, summary.Inserted,
				summary.Duplicates, summary.Stale, summary.Rejected)
			return nil
		},
	}
}

func newConfigureCmd() *cobra.Command {
	var (
		serverIP string
		port     int
		token    string
		username string
		password string
		enable   bool
		interval int
	)
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Store the sync configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverIP == "" {
				return errors.New("--server-ip is required")
			}
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			cfg := &ledger.SyncConfig{
				ServerIP:        serverIP,
				ServerPort:      port,
				Token:           token,
				Username:        username,
				Password:        password,
				EnableSync:      enable,
				IntervalSeconds: interval,
			}
			if err := rt.store.Put(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Printf("configured %s:%d (sync enabled: %v)\n", serverIP, port, enable)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverIP, "server-ip", "", "BioTime server or device address")
	cmd.Flags().IntVar(&port, "server-port", 8081, "server port (4370 selects direct device mode)")
	cmd.Flags().StringVar(&token, "token", "", "BioTime API token")
	cmd.Flags().StringVar(&username, "username", "", "BioTime username")
	cmd.Flags().StringVar(&password, "password", "", "BioTime password")
	cmd.Flags().BoolVar(&enable, "enable", true, "enable scheduled sync")
	cmd.Flags().IntVar(&interval, "interval", ledger.DefaultIntervalSeconds, "sync interval in seconds")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored sync configuration and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			cfg, err := rt.store.Get(cmd.Context())
			if err != nil {
				return err
			}
			mode := "api"
			if cfg.DeviceMode() {
				mode = "device"
			}
			fmt.Printf("server:       %s:%d (%s mode)\n", cfg.ServerIP, cfg.ServerPort, mode)
			fmt.Printf("enabled:      %v\n", cfg.EnableSync)
			fmt.Printf("interval:     %s\n", cfg.Interval())
			if cfg.LastSync != nil {
				fmt.Printf("last sync:    %s\n", cfg.LastSync.Format("2006-01-02 15:04:05"))
			} else {
				fmt.Printf("last sync:    never\n")
			}
			fmt.Printf("total synced: %d\n", cfg.TotalSynced)
			return nil
		},
	}
}
