package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/abdulachik/crosspost/internal/app"
	"github.com/abdulachik/crosspost/internal/config"
	"github.com/abdulachik/crosspost/internal/db"
)

var accountsUser string

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Show connected platform accounts",
	Long: `Show, per platform, whether the user holds a credential and when
it expires.`,
	RunE: runAccounts,
}

func init() {
	accountsCmd.Flags().StringVar(&accountsUser, "user", "", "User to inspect (required)")
	accountsCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(accountsCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer a.Close()

	platforms := make([]string, 0, len(a.Publishers))
	for name := range a.Publishers {
		platforms = append(platforms, name)
	}
	sort.Strings(platforms)

	for _, platform := range platforms {
		cred, err := a.Store.GetCredential(ctx, accountsUser, platform)
		if errors.Is(err, db.ErrNotFound) {
			fmt.Printf("%-10s not connected\n", platform)
			continue
		}
		if err != nil {
			return fmt.Errorf("load credential: %w", err)
		}

		if cred.ExpiresIn <= 0 {
			fmt.Printf("%-10s connected  (does not expire)\n", platform)
			continue
		}
		fmt.Printf("%-10s connected  expires %s\n", platform, cred.ExpiresAt().Format("2006-01-02 15:04 MST"))
	}

	return nil
}
