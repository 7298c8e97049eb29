package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"fieldsync/internal/export"
	"fieldsync/internal/health"
	"fieldsync/internal/models"

	"github.com/google/uuid"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Export sets accepted by GET /api/v1/queue/export.
const (
	ExportFailed    = "failed"
	ExportCompleted = "completed"
	ExportActive    = "active"
)

type DeviceStatus struct {
	Online     bool `json:"online"`
	Foreground bool `json:"foreground"`
}

type QueueResponse struct {
	Active             []*models.QueueItem `json:"active"`
	Completed          []*models.QueueItem `json:"completed"`
	Failed             []*models.QueueItem `json:"failed"`
	NextBatchInSeconds int64               `json:"nextBatchInSeconds"`
	Health             health.Snapshot     `json:"health"`
	Device             DeviceStatus        `json:"device"`
}

type HealthResponse struct {
	health.Snapshot
	AllHealthy bool         `json:"allHealthy"`
	Device     DeviceStatus `json:"device"`
}

type RetryRequest struct {
	LocalIDs []string `json:"localIds"`
}

type RetryResponse struct {
	Trigger    string `json:"trigger"`
	Attempted  int    `json:"attempted"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DurationMs int64  `json:"durationMs"`
}

type ClearResponse struct {
	Removed int `json:"removed"`
}

type DeviceRequest struct {
	Online     *bool `json:"online,omitempty"`
	Foreground *bool `json:"foreground,omitempty"`
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var item models.QueueItem
	if err := decodeJSON(w, r, &item); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if item.LocalID == "" {
		item.LocalID = uuid.NewString()
	}
	if item.Date.IsZero() {
		item.Date = s.now().UTC()
	}
	if err := models.ValidateItem(&item, s.deps.Taxonomy); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Queue.Enqueue(r.Context(), &item); err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateLocalID):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, models.ErrInvalidItem):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error().Err(err).Str("local_id", item.LocalID).Msg("enqueue failed")
			writeError(w, http.StatusInternalServerError, "failed to enqueue item")
		}
		return
	}

	item.Reset()
	writeJSON(w, http.StatusAccepted, &item)
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Queue.Snapshot()
	resp := QueueResponse{
		Active:    snap.Active,
		Completed: snap.Completed,
		Failed:    snap.Failed,
		Health:    s.healthSnapshot(),
		Device:    s.deviceStatus(),
	}
	if s.deps.Countdown != nil {
		resp.NextBatchInSeconds = int64(s.deps.Countdown.Countdown().Round(time.Second) / time.Second)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Queue.Retry(r.Context(), req.LocalIDs)
	if err != nil {
		s.logger.Warn().Err(err).Int("requested", len(req.LocalIDs)).Msg("manual retry failed")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RetryResponse{
		Trigger:    string(res.Trigger),
		Attempted:  res.Attempted,
		Completed:  res.Completed,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
		DurationMs: res.Duration.Milliseconds(),
	})
}

func (s *HTTPServer) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed, err := s.deps.Queue.ClearCompleted(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("clear completed failed")
		writeError(w, http.StatusInternalServerError, "failed to clear completed items")
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{Removed: removed})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	set := r.URL.Query().Get("set")
	if set == "" {
		set = ExportFailed
	}

	snap := s.deps.Queue.Snapshot()
	var items []*models.QueueItem
	switch set {
	case ExportFailed:
		items = snap.Failed
	case ExportCompleted:
		items = snap.Completed
	case ExportActive:
		items = snap.Active
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export set %q", set))
		return
	}
	items = filterIDs(items, splitCSV(r.URL.Query().Get("ids")))

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, items); err != nil {
		s.logger.Error().Err(err).Str("set", set).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}

	filename := fmt.Sprintf("fieldsync_%s_%s.xlsx", set, s.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func filterIDs(items []*models.QueueItem, ids []string) []*models.QueueItem {
	if len(ids) == 0 {
		return items
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]*models.QueueItem, 0, len(ids))
	for _, it := range items {
		if want[it.LocalID] {
			out = append(out, it)
		}
	}
	return out
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.healthSnapshot()
	writeJSON(w, http.StatusOK, HealthResponse{
		Snapshot:   snap,
		AllHealthy: snap.AllHealthy(),
		Device:     s.deviceStatus(),
	})
}

func (s *HTTPServer) handleActions(w http.ResponseWriter, _ *http.Request) {
	actions := s.deps.Taxonomy.Actions()
	if actions == nil {
		actions = []models.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *HTTPServer) handleDevice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Device == nil {
		writeError(w, http.StatusServiceUnavailable, "device state is not available")
		return
	}
	var req DeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Online != nil {
		s.deps.Device.SetOnline(*req.Online)
	}
	if req.Foreground != nil {
		s.deps.Device.SetForeground(*req.Foreground)
	}
	status := s.deviceStatus()
	s.logger.Info().Bool("online", status.Online).Bool("foreground", status.Foreground).Msg("device state updated")
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) healthSnapshot() health.Snapshot {
	if s.deps.Health == nil {
		return health.Snapshot{}
	}
	return s.deps.Health.Snapshot()
}

func (s *HTTPServer) deviceStatus() DeviceStatus {
	if s.deps.Device == nil {
		return DeviceStatus{Online: true, Foreground: true}
	}
	return DeviceStatus{Online: s.deps.Device.Online(), Foreground: s.deps.Device.Foreground()}
}
