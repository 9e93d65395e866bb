// migrate applies the embedded SQL migrations.
//
//	go run ./cmd/migrate up [--steps N]
//	go run ./cmd/migrate down --steps 1
//	go run ./cmd/migrate version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ams-control-plane/backend/internal/config"
	"ams-control-plane/backend/internal/db/migrate"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(directionCmd("up", "Apply pending migrations"), directionCmd("down", "Roll back migrations"), versionCmd())
	return root
}

func directionCmd(direction, short string) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if direction == "down" && steps == 0 {
				all, _ := cmd.Flags().GetBool("all")
				if !all {
					return errors.New("down requires --steps N or --all")
				}
			}
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			err = migrate.Run(dsn, direction, steps)
			if errors.Is(err, migrate.ErrNoChange) {
				fmt.Fprintln(cmd.OutOrStdout(), "no change")
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all)")
	if direction == "down" {
		cmd.Flags().Bool("all", false, "roll back every migration")
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			v, dirty, err := migrate.Version(dsn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", migrate.ErrEmptyDSN
	}
	return cfg.DatabaseURL, nil
}
