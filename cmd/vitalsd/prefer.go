// cmd/vitalsd/prefer.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tamzrod/vitals-relay/internal/config"
	"github.com/tamzrod/vitals-relay/internal/preference"
)

var preferPollingCmd = &cobra.Command{
	Use:   "prefer-polling [on|off]",
	Short: "Show or persist the polling preference",
	Long: `Show or persist whether delivery should prefer polling over live.

A running daemon applies the new value after SIGUSR1.

Example:
  $ vitalsd prefer-polling on
  prefer polling: on
  $ kill -USR1 $(pidof vitalsd)`,
	Args: cobra.RangeArgs(0, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		return preferPolling(cmd.Context(), os.Stdout, cfg.Vitals, args)
	},
}

func init() {
	rootCmd.AddCommand(preferPollingCmd)
}

func preferPolling(ctx context.Context, w io.Writer, v config.VitalsConfig, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if v.Preferences.Path == "" {
		return fmt.Errorf("vitals.preferences.path is not set; nothing to persist")
	}

	db, err := preference.OpenSQLite(v.Preferences.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		value, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		if err := db.SetBool(ctx, preference.PreferPollingKey, value); err != nil {
			return err
		}
	}

	value, err := preference.BoolOr(ctx, db, preference.PreferPollingKey, v.PreferPollingDefault)
	if err != nil {
		return err
	}

	state := color.New(color.FgYellow).Sprint("off")
	if value {
		state = color.New(color.FgGreen).Sprint("on")
	}
	fmt.Fprintf(w, "prefer polling: %s\n", state)
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}
