package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Error != "" {
		return e.Body.Error
	}
	return fmt.Sprintf("API error (%d)", e.Status)
}

// Client calls a running control plane.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL, e.g. http://127.0.0.1:7466.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, &apiErr.Body) != nil {
			apiErr.Body.Error = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// waitClient returns a client whose timeout covers a server-side wait.
func (c *Client) waitClient(wait time.Duration) *Client {
	if wait <= 0 {
		return c
	}
	return &Client{baseURL: c.baseURL, httpClient: &http.Client{Timeout: wait + DefaultClientTimeout}}
}

// Health returns the daemon health. The payload is returned alongside the
// error when the daemon reports itself unhealthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("daemon unhealthy: %s", health.DB)
	}
	return &health, nil
}

// Feed queues a manual feed. A positive wait blocks until the command is
// terminal or the wait runs out.
func (c *Client) Feed(ctx context.Context, deviceID string, grams int, petID string, wait time.Duration) (*models.Command, error) {
	var cmd models.Command
	req := FeedRequest{DeviceID: deviceID, Grams: grams, PetID: petID, WaitSec: int(wait.Seconds())}
	err := c.waitClient(wait).do(ctx, http.MethodPost, "/feed", req, &cmd)
	return &cmd, err
}

// Pause holds feeds on deviceID.
func (c *Client) Pause(ctx context.Context, deviceID string) (*models.Command, error) {
	var cmd models.Command
	err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(deviceID)+"/pause", nil, &cmd)
	return &cmd, err
}

// Resume releases deviceID.
func (c *Client) Resume(ctx context.Context, deviceID string) (*models.Command, error) {
	var cmd models.Command
	err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(deviceID)+"/resume", nil, &cmd)
	return &cmd, err
}

// ListCommands lists recent commands. Empty arguments match everything.
func (c *Client) ListCommands(ctx context.Context, deviceID string, status models.CommandStatus, limit int) ([]models.Command, error) {
	q := url.Values{}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/commands"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var cmds []models.Command
	err := c.do(ctx, http.MethodGet, path, nil, &cmds)
	return cmds, err
}

// GetCommand fetches one command, waiting up to wait for it to finish.
func (c *Client) GetCommand(ctx context.Context, id string, wait time.Duration) (*models.Command, error) {
	path := "/commands/" + url.PathEscape(id)
	if wait > 0 {
		path += "?wait=" + wait.String()
	}
	var cmd models.Command
	err := c.waitClient(wait).do(ctx, http.MethodGet, path, nil, &cmd)
	return &cmd, err
}

// CancelCommand cancels a pending command.
func (c *Client) CancelCommand(ctx context.Context, id string) (*models.Command, error) {
	var cmd models.Command
	err := c.do(ctx, http.MethodPost, "/commands/"+url.PathEscape(id)+"/cancel", nil, &cmd)
	return &cmd, err
}

// UpdateCommandStatus stamps a new status, as a device bridge does.
func (c *Client) UpdateCommandStatus(ctx context.Context, id string, status models.CommandStatus, errMsg string) (*models.Command, error) {
	var cmd models.Command
	err := c.do(ctx, http.MethodPost, "/commands/"+url.PathEscape(id)+"/status", StatusRequest{Status: status, Error: errMsg}, &cmd)
	return &cmd, err
}

// Decisions returns the audit trail of a command.
func (c *Client) Decisions(ctx context.Context, id string) ([]models.PDREntry, error) {
	var entries []models.PDREntry
	err := c.do(ctx, http.MethodGet, "/commands/"+url.PathEscape(id)+"/decisions", nil, &entries)
	return entries, err
}

// CreateSchedule stores a new schedule.
func (c *Client) CreateSchedule(ctx context.Context, req ScheduleRequest) (*models.Schedule, error) {
	var sch models.Schedule
	err := c.do(ctx, http.MethodPost, "/schedules", req, &sch)
	return &sch, err
}

// ListSchedules lists the account's schedules.
func (c *Client) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	var list []models.Schedule
	err := c.do(ctx, http.MethodGet, "/schedules", nil, &list)
	return list, err
}

// ToggleSchedule sets the active flag of a schedule.
func (c *Client) ToggleSchedule(ctx context.Context, id string, active bool) (*models.Schedule, error) {
	var sch models.Schedule
	err := c.do(ctx, http.MethodPost, "/schedules/"+url.PathEscape(id)+"/toggle", ToggleRequest{Active: active}, &sch)
	return &sch, err
}

// DeleteSchedule removes a schedule.
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/schedules/"+url.PathEscape(id), nil, nil)
}

// Events lists feeding history.
func (c *Client) Events(ctx context.Context, deviceID string, limit int) ([]models.FeedingEvent, error) {
	q := url.Values{}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var events []models.FeedingEvent
	err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), nil, &events)
	return events, err
}

// SchedulerStats returns the daemon's scheduler loop counters.
func (c *Client) SchedulerStats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	err := c.do(ctx, http.MethodGet, "/scheduler", nil, &stats)
	return stats, err
}
