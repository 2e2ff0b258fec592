// Command manage runs the operator tasks: lottery draws, permissions, mass
// mail, reminders, re-geocoding and the signup sheet.
package main

import (
	"fmt"
	"os"

	"github.com/sirdesai22/mutualaid/internal/app"
	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/db"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd(connect).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect loads the environment configuration and opens the migrated database.
func connect() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if _, err := db.SentinelVolunteer(gdb); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return app.New(cfg, gdb, nil)
}

// runner carries the lazily built app to every subcommand.
type runner struct {
	build func() (*app.App, error)
	app   *app.App
}

func rootCmd(build func() (*app.App, error)) *cobra.Command {
	r := &runner{build: build}
	cmd := &cobra.Command{
		Use:           "manage",
		Short:         "Operator commands for the mutual-aid coordination service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.build()
			if err != nil {
				return err
			}
			r.app = a
			return nil
		},
	}
	cmd.AddCommand(
		r.lotteryCmd("run_meal_request_lottery", "meal"),
		r.lotteryCmd("run_grocery_request_lottery", "grocery"),
		r.setGroupPermissionsCmd(),
		r.sendMassEmailCmd(),
		r.regeocodeCmd(),
		r.sendRemindersCmd(),
		r.buildSignupSheetCmd(),
		r.createVolunteerCmd(),
		r.issueTokenCmd(),
		r.deleteVolunteerCmd(),
	)
	return cmd
}
