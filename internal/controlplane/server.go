package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/store"
)

// ServerOptions carries optional server settings.
type ServerOptions struct {
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	Version string
	Log     logx.Logger
}

// Server provides the HTTP API for the feeder.
type Server struct {
	service *Service
	addr    string
	opts    ServerOptions
	log     logx.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, opts ServerOptions) *Server {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		service: service,
		addr:    addr,
		opts:    opts,
		log:     log.With(logx.String("component", "api")),
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: MaxWait + 10*time.Second,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}

	mux.HandleFunc("/feed", s.handleFeed)
	mux.HandleFunc("/devices/", s.handleDevice)

	mux.HandleFunc("/commands", s.handleCommands)
	mux.HandleFunc("/commands/", s.handleCommandByID)

	mux.HandleFunc("/schedules", s.handleSchedules)
	mux.HandleFunc("/schedules/", s.handleScheduleByID)

	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/scheduler", s.handleScheduler)
	return mux
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("control plane listening", logx.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{OK: true, DB: "ok", Version: s.opts.Version, Time: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Commands ---

// FeedRequest is the body of POST /feed.
type FeedRequest struct {
	DeviceID string `json:"device_id"`
	Grams    int    `json:"grams"`
	PetID    string `json:"pet_id,omitempty"`
	// WaitSec blocks the response until the command is terminal, up to MaxWait.
	WaitSec int `json:"wait_sec,omitempty"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req FeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	cmd, err := s.service.FeedNow(r.Context(), req.DeviceID, req.Grams, req.PetID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.WaitSec > 0 {
		if cmd, err = s.service.WaitCommand(r.Context(), cmd.ID, time.Duration(req.WaitSec)*time.Second); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, cmd)
}

// handleDevice handles POST /devices/{id}/pause and /devices/{id}/resume.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, action := splitPath(r.URL.Path, "/devices/")
	if deviceID == "" {
		badRequest(w, "device id required")
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		cmd *models.Command
		err error
	)
	switch action {
	case "pause":
		cmd, err = s.service.Pause(r.Context(), deviceID)
	case "resume":
		cmd, err = s.service.Resume(r.Context(), deviceID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmd)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	cmds, err := s.service.ListCommands(r.Context(), store.CommandFilter{
		DeviceID: q.Get("device_id"),
		Status:   models.CommandStatus(strings.ToUpper(q.Get("status"))),
		Limit:    queryInt(q.Get("limit")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if cmds == nil {
		cmds = []models.Command{}
	}
	writeJSON(w, http.StatusOK, cmds)
}

// handleCommandByID handles /commands/{id}/*
func (s *Server) handleCommandByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/commands/")
	if id == "" {
		badRequest(w, "command id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getCommand(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		cmd, err := s.service.CancelCommand(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cmd)
	case action == "status" && r.Method == http.MethodPost:
		s.updateStatus(w, r, id)
	case action == "decisions" && r.Method == http.MethodGet:
		entries, err := s.service.ListDecisions(r.Context(), id, queryInt(r.URL.Query().Get("limit")))
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []models.PDREntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getCommand(w http.ResponseWriter, r *http.Request, id string) {
	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			badRequest(w, "invalid wait duration")
			return
		}
		wait = d
	}
	cmd, err := s.service.WaitCommand(r.Context(), id, wait)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// StatusRequest is the body of POST /commands/{id}/status.
type StatusRequest struct {
	Status models.CommandStatus `json:"status"`
	Error  string               `json:"error,omitempty"`
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	cmd, err := s.service.UpdateCommandStatus(r.Context(), id, req.Status, req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// --- Schedules ---

// ScheduleRequest is the body of POST /schedules.
type ScheduleRequest struct {
	DeviceID     string               `json:"device_id"`
	PetID        string               `json:"pet_id,omitempty"`
	Name         string               `json:"name,omitempty"`
	FeedingTimes []models.FeedingTime `json:"feeding_times"`
	DaysOfWeek   []int                `json:"days_of_week"`
	Active       *bool                `json:"is_active,omitempty"`
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.service.ListSchedules(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []models.Schedule{}
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
		sch := &models.Schedule{
			DeviceID:     req.DeviceID,
			PetID:        req.PetID,
			Name:         req.Name,
			FeedingTimes: req.FeedingTimes,
			DaysOfWeek:   req.DaysOfWeek,
			Active:       req.Active == nil || *req.Active,
		}
		created, err := s.service.CreateSchedule(r.Context(), sch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ToggleRequest is the body of POST /schedules/{id}/toggle.
type ToggleRequest struct {
	Active bool `json:"is_active"`
}

// handleScheduleByID handles /schedules/{id}/*
func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/schedules/")
	if id == "" {
		badRequest(w, "schedule id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		if err := s.service.DeleteSchedule(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "toggle" && r.Method == http.MethodPost:
		var req ToggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
		sch, err := s.service.SetScheduleActive(r.Context(), id, req.Active)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sch)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- History and status ---

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	events, err := s.service.ListEvents(r.Context(), q.Get("device_id"), queryInt(q.Get("limit")))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.FeedingEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.service.SchedulerStats()
	if stats == nil {
		http.Error(w, "scheduler not running in this process", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// splitPath returns the id and optional action of "<prefix><id>/<action>".
func splitPath(path, prefix string) (id, action string) {
	parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 3)
	id = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	return id, action
}

func queryInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
