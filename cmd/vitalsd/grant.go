// cmd/vitalsd/grant.go
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tamzrod/vitals-relay/internal/config"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Request every required permission",
	Long: `Prompt for every required type that is not granted yet, then print the
resulting grant state.

With permissions.auto_approve the prompt records the types as granted in the
grants file; otherwise the grants file must be edited by hand.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		return grant(cmd.Context(), os.Stdout, cfg.Vitals)
	},
}

func init() {
	rootCmd.AddCommand(grantCmd)
}

func grant(ctx context.Context, w io.Writer, v config.VitalsConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}

	store, deltas, err := buildPermissions(v, slog.Default())
	if err != nil {
		return err
	}
	defer deltas.Close()

	granted, err := store.RequestAll(ctx, v.Required())
	if err != nil {
		return err
	}

	missing := 0
	for _, t := range v.Required() {
		printGrant(w, t, granted[t])
		if !granted[t] {
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d required types not granted: %w", missing, len(v.Required()), vitals.ErrNoPermission)
	}
	return nil
}
