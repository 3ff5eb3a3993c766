package main

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/babylog/internal/auth"
	"github.com/dukerupert/babylog/internal/database"
	"github.com/dukerupert/babylog/internal/store"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var (
	userEmail string
	userName  string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, err := normalizeEmail(userEmail)
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		u, err := store.NewUserStore(db).Create(cmd.Context(), email, strings.TrimSpace(userName))
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("a user with email %s already exists", email)
		}
		if err != nil {
			return err
		}
		logger.Info("user created", "user_id", u.ID, "email", u.Email)
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", u.ID, u.Email)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for an existing user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireSecret(); err != nil {
			return err
		}
		email, err := normalizeEmail(userEmail)
		if err != nil {
			return err
		}
		tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		u, err := store.NewUserStore(db).GetByEmail(cmd.Context(), email)
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("no user with email %s", email)
		}
		token, err := tokens.Issue(u.ID, u.Email)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address (required)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	userCreateCmd.MarkFlagRequired("email")
	userCmd.AddCommand(userCreateCmd)

	tokenCmd.Flags().StringVar(&userEmail, "email", "", "email address of the user (required)")
	tokenCmd.MarkFlagRequired("email")
}

func normalizeEmail(s string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid email %q", s)
	}
	return strings.ToLower(addr.Address), nil
}
