package tui

import (
	"context"
	"time"

	"github.com/fentz26/petfeeder/internal/controlplane"
	"github.com/fentz26/petfeeder/internal/models"
)

// DefaultRefresh is how often the command list polls the daemon.
const DefaultRefresh = 2 * time.Second

// API is the part of the control plane the monitor uses.
type API interface {
	Health(ctx context.Context) (*controlplane.HealthResponse, error)
	ListCommands(ctx context.Context, deviceID string, status models.CommandStatus, limit int) ([]models.Command, error)
	GetCommand(ctx context.Context, id string, wait time.Duration) (*models.Command, error)
	Decisions(ctx context.Context, id string) ([]models.PDREntry, error)
	CancelCommand(ctx context.Context, id string) (*models.Command, error)
	Feed(ctx context.Context, deviceID string, grams int, petID string, wait time.Duration) (*models.Command, error)
	Pause(ctx context.Context, deviceID string) (*models.Command, error)
	Resume(ctx context.Context, deviceID string) (*models.Command, error)
	SchedulerStats(ctx context.Context) (map[string]any, error)
}

var _ API = (*controlplane.Client)(nil)
