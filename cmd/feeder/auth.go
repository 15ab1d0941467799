package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/config"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in as an account on this host",
	Long: `Stores a session for the account. A daemon whose config has no
account_id runs as the signed-in account and stops accepting commands
once the session expires. Set PETFEEDER_TOKEN to keep an access token
with the session.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	RunE:  runWhoami,
}

var (
	loginAccount string
	loginEmail   string
	loginTTL     time.Duration
)

func init() {
	loginCmd.Flags().StringVar(&loginAccount, "account", "", "Account id (required)")
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().DurationVar(&loginTTL, "ttl", 30*24*time.Hour, "Session lifetime")
	loginCmd.MarkFlagRequired("account")
}

func authManager() (*auth.Manager, error) {
	dir, err := auth.DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(dir)
}

// accountProvider returns the configured account, or the signed-in session
// when the config names none.
func accountProvider(ctx context.Context, cfg *config.Config) (auth.Provider, string, error) {
	if cfg.AccountID != "" {
		return auth.Static(cfg.AccountID), cfg.AccountID, nil
	}
	mgr, err := authManager()
	if err != nil {
		return nil, "", err
	}
	id, err := mgr.AccountID(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("no account_id in config and not signed in (run feeder login): %w", err)
	}
	return mgr, id, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	mgr, err := authManager()
	if err != nil {
		return err
	}
	token := os.Getenv("PETFEEDER_TOKEN")
	sess, err := mgr.Login(auth.Account{ID: loginAccount, Email: loginEmail}, token, loginTTL)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s until %s\n", sess.Account.ID, time.Unix(sess.ExpiresAt, 0).Local().Format(time.DateTime))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	mgr, err := authManager()
	if err != nil {
		return err
	}
	if err := mgr.Logout(); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	mgr, err := authManager()
	if err != nil {
		return err
	}
	if !mgr.IsAuthenticated() {
		fmt.Println("Not signed in")
		return nil
	}
	sess := mgr.Session()
	fmt.Printf("Account: %s\n", sess.Account.ID)
	if sess.Account.Email != "" {
		fmt.Printf("Email:   %s\n", sess.Account.Email)
	}
	fmt.Printf("Expires: %s\n", time.Unix(sess.ExpiresAt, 0).Local().Format(time.DateTime))
	return nil
}
