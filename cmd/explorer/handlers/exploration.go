package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/agent"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
)

// Notifier wakes the job workers.
type Notifier interface {
	Notify()
}

// ExplorationHandler handles exploration job requests.
type ExplorationHandler struct {
	jobStore  job.Store
	notifier  Notifier
	platforms map[hierarchy.Platform]bool
	logger    logger.Logger
}

// NewExplorationHandler creates a new exploration handler. platforms lists
// the platforms with a device pool; jobs for other platforms must name a
// device.
func NewExplorationHandler(jobStore job.Store, notifier Notifier, platforms []hierarchy.Platform, log logger.Logger) *ExplorationHandler {
	set := make(map[hierarchy.Platform]bool, len(platforms))
	for _, p := range platforms {
		set[p] = true
	}
	return &ExplorationHandler{
		jobStore:  jobStore,
		notifier:  notifier,
		platforms: set,
		logger:    log,
	}
}

// CreateExplorationRequest is a job config plus who asked for it.
type CreateExplorationRequest struct {
	agent.JobConfig
	RequestedBy string `json:"requested_by"`
}

// Create queues a new exploration.
func (h *ExplorationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !RequireWriteScope(w, r) {
		return
	}

	var req CreateExplorationRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.RequestedBy) == "" {
		respondError(w, http.StatusBadRequest, job.ErrInvalidRequestedBy.Error())
		return
	}
	if err := req.JobConfig.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DeviceID == "" && !h.platforms[req.Platform] {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("no device pool for platform %s; set device_id", req.Platform))
		return
	}

	config, err := req.JobConfig.ToJSONMap()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid exploration config")
		return
	}

	j := &job.Job{
		Type:        job.JobTypeScreenshotExploration,
		Status:      job.StatusCreated,
		AppID:       req.AppID,
		Platform:    string(req.Platform),
		Config:      config,
		RequestedBy: req.RequestedBy,
	}

	if err := h.jobStore.Create(r.Context(), j); err != nil {
		h.logger.Error(r.Context(), "failed to create exploration job", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to create exploration")
		return
	}

	// A busy pool leaves the job queued until a worker frees up.
	if h.notifier != nil {
		h.notifier.Notify()
	}

	respondJSON(w, http.StatusCreated, j)
}

// List handles listing explorations, newest first.
func (h *ExplorationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	filter := job.Filter{
		Status: job.Status(r.URL.Query().Get("status")),
		AppID:  r.URL.Query().Get("app_id"),
		Type:   job.JobTypeScreenshotExploration,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	total, err := h.jobStore.Count(r.Context(), filter)
	if err != nil {
		h.logger.Error(r.Context(), "failed to count explorations", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to count explorations")
		return
	}

	jobs, err := h.jobStore.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.logger.Error(r.Context(), "failed to list explorations", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to list explorations")
		return
	}

	respondJSON(w, http.StatusOK, NewPaginatedResponse(jobs, total, limit, offset))
}

// GetByID handles getting a single exploration by ID.
func (h *ExplorationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "exploration")
	if !ok {
		return
	}

	j, err := h.jobStore.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "exploration not found")
			return
		}
		h.logger.Error(r.Context(), "failed to get exploration", map[string]interface{}{
			"error":  err.Error(),
			"job_id": id,
		})
		respondError(w, http.StatusInternalServerError, "failed to get exploration")
		return
	}

	respondJSON(w, http.StatusOK, j)
}
