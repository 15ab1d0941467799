package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fentz26/petfeeder/internal/config"
	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets kept in the OS keyring",
	Long: fmt.Sprintf(`Secrets never live in the config file. They are read from the
environment first (for example %s) and then from the OS keyring.

Known secrets:
  %s    PostgreSQL password
  %s    Telegram bot token`,
		config.SecretEnv(config.SecretStorePassword), config.SecretStorePassword, config.SecretTelegramToken),
}

var secretSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Store a secret (value read from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretSet,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

func init() {
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
}

func checkSecretName(name string) error {
	switch name {
	case config.SecretStorePassword, config.SecretTelegramToken:
		return nil
	}
	return fmt.Errorf("unknown secret %q", name)
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	if err := checkSecretName(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Value for %s: ", args[0])
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read value: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return fmt.Errorf("empty value")
	}
	if err := config.SetSecret(args[0], value); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Saved")
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	if err := checkSecretName(args[0]); err != nil {
		return err
	}
	if err := config.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Println("Deleted")
	return nil
}
