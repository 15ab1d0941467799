package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fentz26/petfeeder/internal/store"
	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service secrets are stored under.
const KeyringService = "petfeeder"

// Secret names.
const (
	SecretStorePassword = "store.password"
	SecretTelegramToken = "notify.telegram.token"
)

var (
	// ErrSecretNotFound is returned when neither the environment nor the
	// keyring has the secret.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrKeyringUnavailable is returned when the OS keyring cannot be reached.
	ErrKeyringUnavailable = errors.New("OS keyring is not available")
)

// SecretEnv returns the environment variable checked for name, e.g.
// PETFEEDER_STORE_PASSWORD.
func SecretEnv(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return "PETFEEDER_" + strings.ToUpper(r.Replace(name))
}

// Secret looks name up in the environment, then in the OS keyring.
func Secret(name string) (string, error) {
	if v, ok := os.LookupEnv(SecretEnv(name)); ok && v != "" {
		return v, nil
	}
	v, err := keyring.Get(KeyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s (set %s or store it in the keyring)", ErrSecretNotFound, name, SecretEnv(name))
		}
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return v, nil
}

// SetSecret stores value in the OS keyring.
func SetSecret(name, value string) error {
	if value == "" {
		return errors.New("secret value cannot be empty")
	}
	if err := keyring.Set(KeyringService, name, value); err != nil {
		return fmt.Errorf("failed to store secret in keyring: %w", err)
	}
	return nil
}

// DeleteSecret removes name from the OS keyring.
func DeleteSecret(name string) error {
	if err := keyring.Delete(KeyringService, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return fmt.Errorf("failed to delete secret from keyring: %w", err)
	}
	return nil
}

// ResolveSecrets fills the secret fields the selected backends need.
// Backends that need none never touch the keyring.
func (c *Config) ResolveSecrets() error {
	if c.Store.Driver == store.DriverPostgres && c.Store.Password == "" {
		v, err := Secret(SecretStorePassword)
		switch {
		case err == nil:
			c.Store.Password = v
		case errors.Is(err, ErrSecretNotFound):
			// trust or peer auth
		default:
			return err
		}
	}
	if c.Notify.Backend == BackendTelegram && c.Notify.Telegram.Token == "" {
		v, err := Secret(SecretTelegramToken)
		if err != nil {
			return err
		}
		c.Notify.Telegram.Token = v
	}
	return nil
}
