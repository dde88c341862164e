// cmd/vitalsd/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tamzrod/vitals-relay/internal/preference"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the delivery daemon for one user",
	Long: `Start vitals delivery for one user and print every update and state change.

Signals:
  SIGINT, SIGTERM  stop delivery and exit
  SIGUSR1          re-read the persisted polling preference and apply it
  SIGHUP           start again after a failure

Example:
  $ vitalsd run --config vitalsd.yaml --user u1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		return runDaemon(cmd.Context(), configPath, user)
	},
}

func init() {
	runCmd.Flags().StringP("user", "u", "", "User id to deliver vitals for")
	_ = runCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(parent context.Context, path, user string) error {
	if parent == nil {
		parent = context.Background()
	}
	log := slog.Default()

	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	rt, err := buildDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(ctx); err != nil {
			log.Warn("shutdown", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	control := make(chan os.Signal, 2)
	signal.Notify(control, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(control)

	_, updates := rt.orch.Subscribe()
	_, states := rt.orch.SubscribeState()

	go rt.watcher.Run(ctx)

	if err := rt.orch.Start(ctx, user); err != nil {
		if errors.Is(err, vitals.ErrNoPermission) {
			return fmt.Errorf("%w (run `vitalsd grant` first)", err)
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down", "user", user)
			return nil

		case u, ok := <-updates:
			if !ok {
				return nil
			}
			printUpdate(os.Stdout, u)

		case s, ok := <-states:
			if !ok {
				return nil
			}
			printState(os.Stdout, s)

		case sig := <-control:
			switch sig {
			case syscall.SIGUSR1:
				v, err := preference.BoolOr(ctx, rt.prefs, preference.PreferPollingKey, cfg.Vitals.PreferPollingDefault)
				if err != nil {
					log.Warn("preference read failed", "error", err)
					continue
				}
				if err := rt.orch.OnPreferenceChanged(ctx, v); err != nil {
					log.Warn("preference change not applied", "prefer_polling", v, "error", err)
				}
			case syscall.SIGHUP:
				if err := rt.orch.Start(ctx, user); err != nil {
					fmt.Fprintf(os.Stderr, "%s %v\n", color.YellowString("restart failed:"), err)
				}
			}
		}
	}
}
