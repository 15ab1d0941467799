// Package auth resolves the account a command is issued for.
//
// Interactive CLI use reads a session from the credentials file written by
// `feeder login`. Long-running daemons use a Static provider with the
// account from config.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/petfeeder/internal/errs"
)

// ExpiryBuffer is how long before expiry a session stops being accepted.
const ExpiryBuffer = 5 * time.Minute

// Account identifies the tenant whose schedules and devices are managed.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session represents an authentication session.
type Session struct {
	AccessToken string  `json:"access_token,omitempty"`
	ExpiresAt   int64   `json:"expires_at"`
	Account     Account `json:"account"`
}

// Credentials stores the complete auth credentials.
type Credentials struct {
	Session   Session `json:"session"`
	CreatedAt int64   `json:"created_at"`
}

// Provider yields the active account id or an Auth error.
type Provider interface {
	AccountID(ctx context.Context) (string, error)
}

// Static is a fixed account used by daemons.
type Static string

// AccountID returns the configured account.
func (s Static) AccountID(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", errs.E(errs.KindAuth, "auth.Static", "no account configured", nil)
	}
	return string(s), nil
}

// Manager handles the on-disk session.
type Manager struct {
	configDir   string
	credentials *Credentials
	now         func() time.Time
	mu          sync.RWMutex
}

// DefaultConfigDir returns ~/.config/petfeeder.
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "petfeeder"), nil
}

// NewManager creates an auth manager rooted at configDir.
func NewManager(configDir string) (*Manager, error) {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	m := &Manager{configDir: configDir, now: time.Now}

	// Try to load existing credentials
	if err := m.loadCredentials(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return m, nil
}

// IsAuthenticated checks if the session is present and not about to expire.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.credentials == nil {
		return false
	}
	expiresAt := time.Unix(m.credentials.Session.ExpiresAt, 0)
	return m.now().Before(expiresAt.Add(-ExpiryBuffer))
}

// Session returns the current session, or nil.
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.credentials == nil {
		return nil
	}
	s := m.credentials.Session
	return &s
}

// AccountID returns the signed-in account.
func (m *Manager) AccountID(context.Context) (string, error) {
	if !m.IsAuthenticated() {
		return "", errs.E(errs.KindAuth, "auth.Manager", "no active session", nil)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentials.Session.Account.ID, nil
}

// Login stores a session for account valid for ttl.
func (m *Manager) Login(account Account, token string, ttl time.Duration) (*Session, error) {
	if strings.TrimSpace(account.ID) == "" {
		return nil, errs.E(errs.KindValidation, "auth.Login", "account id is required", nil)
	}
	now := m.now()
	creds := &Credentials{
		Session: Session{
			AccessToken: token,
			ExpiresAt:   now.Add(ttl).Unix(),
			Account:     account,
		},
		CreatedAt: now.Unix(),
	}

	m.mu.Lock()
	m.credentials = creds
	m.mu.Unlock()

	if err := m.saveCredentials(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	s := creds.Session
	return &s, nil
}

// Logout clears the current session.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.credentials = nil
	m.mu.Unlock()

	if err := os.Remove(m.credentialsPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

func (m *Manager) credentialsPath() string {
	return filepath.Join(m.configDir, "credentials.json")
}

func (m *Manager) loadCredentials() error {
	data, err := os.ReadFile(m.credentialsPath())
	if err != nil {
		return err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}

	m.mu.Lock()
	m.credentials = &creds
	m.mu.Unlock()
	return nil
}

func (m *Manager) saveCredentials() error {
	m.mu.RLock()
	creds := m.credentials
	m.mu.RUnlock()

	if creds == nil {
		return nil
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.credentialsPath(), data, 0o600)
}
