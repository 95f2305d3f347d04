package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatfeed/internal/adapter/exporter"
	"github.com/hive-corporation/threatfeed/internal/adapter/repository"
	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/feed"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// SnapshotHistory lists archived snapshot headers, newest first.
type SnapshotHistory interface {
	ListSnapshots(ctx context.Context, limit int) ([]repository.ArchivedSnapshot, error)
}

type RestHandler struct {
	store   *feed.Store
	history SnapshotHistory
	logger  *zap.Logger
}

func NewRestHandler(store *feed.Store, logger *zap.Logger) *RestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RestHandler{
		store:  store,
		logger: logger,
	}
}

// WithHistory enables the snapshot history endpoint.
func (h *RestHandler) WithHistory(history SnapshotHistory) *RestHandler {
	h.history = history
	return h
}

// Health reports the store state. Only a store with a snapshot is healthy.
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.store.Status()

	response := map[string]interface{}{
		"status":    "healthy",
		"state":     st.State.String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "threatfeed-api",
	}
	if st.SnapshotID != "" {
		response["snapshot_id"] = st.SnapshotID
		response["source"] = st.Source
		response["ingested_at"] = formatTime(st.IngestedAt)
		response["records"] = st.Records
	}
	if !st.LastAttempt.IsZero() {
		response["last_attempt"] = formatTime(st.LastAttempt)
	}
	if st.LastError != "" {
		response["last_error"] = st.LastError
	}

	status := http.StatusOK
	switch {
	case st.State != feed.StateReady:
		response["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	case st.LastError != "":
		response["status"] = "degraded"
	}
	writeJSON(w, status, response)
}

// Summary returns the summary panel of the served snapshot
func (h *RestHandler) Summary(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Current()
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	response := map[string]interface{}{
		"emails_scanned":    snap.Summary.EmailsScanned,
		"threats_detected":  snap.Summary.ThreatsDetected,
		"quarantined_items": snap.Summary.QuarantinedItems,
		"discrepancies":     nonNil(snap.Summary.Discrepancies),
		"by_risk":           countByRisk(snap),
		"snapshot_id":       snap.ID,
		"ingested_at":       formatTime(snap.IngestedAt),
	}
	writeJSON(w, http.StatusOK, response)
}

// Threats lists records for ?type=All|Phishing|Malware|Spam, risk-descending
func (h *RestHandler) Threats(w http.ResponseWriter, r *http.Request) {
	filter, err := domain.ParseFilter(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.store.Current()
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	records := snap.Query(filter)
	threats := make([]ThreatDTO, len(records))
	for i, rec := range records {
		threats[i] = toDTO(rec)
	}

	response := map[string]interface{}{
		"filter":      string(filter),
		"count":       len(threats),
		"snapshot_id": snap.ID,
		"threats":     threats,
	}
	writeJSON(w, http.StatusOK, response)
}

// Threat returns a single record by id
func (h *RestHandler) Threat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.store.Find(id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(rec))
}

// Export renders the served snapshot for SIEM ingestion
func (h *RestHandler) Export(w http.ResponseWriter, r *http.Request) {
	exp, err := exporter.ForFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := domain.ParseFilter(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.store.Current()
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	data, err := exp.Export(snap, filter)
	if err != nil {
		h.logger.Error("feed export failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export feed")
		return
	}

	w.Header().Set("Content-Type", exp.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("error writing export response", zap.Error(err))
	}
}

// Snapshots lists the archived snapshots, newest first, up to ?limit=N
func (h *RestHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "snapshot archive not configured")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = n
	}

	archived, err := h.history.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list archived snapshots", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}

	snapshots := make([]map[string]interface{}, len(archived))
	for i, a := range archived {
		snapshots[i] = map[string]interface{}{
			"id":                a.ID,
			"source":            a.Source,
			"ingested_at":       formatTime(a.IngestedAt),
			"emails_scanned":    a.EmailsScanned,
			"threats_detected":  a.ThreatsDetected,
			"quarantined_items": a.QuarantinedItems,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(snapshots),
		"snapshots": snapshots,
	})
}

func (h *RestHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feed.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, feed.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("unexpected store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ThreatDTO is the presentation form of a record, with its display hints.
type ThreatDTO struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	Type       string         `json:"type"`
	RawType    string         `json:"raw_type"`
	TypeAccent string         `json:"type_accent"`
	RiskScore  int            `json:"risk_score"`
	RiskLevel  string         `json:"risk_level"`
	RiskBand   string         `json:"risk_band"`
	Status     string         `json:"status,omitempty"`
	Details    domain.Details `json:"details"`
}

func toDTO(rec domain.ThreatRecord) ThreatDTO {
	return ThreatDTO{
		ID:         rec.ID,
		Timestamp:  formatTime(rec.Timestamp),
		Type:       string(rec.Type),
		RawType:    rec.RawType,
		TypeAccent: rec.Type.Accent(),
		RiskScore:  rec.RiskScore,
		RiskLevel:  rec.Risk.String(),
		RiskBand:   rec.Risk.Band(),
		Status:     rec.Status,
		Details:    rec.Details,
	}
}

func countByRisk(snap *domain.Snapshot) map[string]int {
	counts := make(map[string]int, 4)
	for level, n := range snap.CountByRisk() {
		counts[level.String()] = n
	}
	return counts
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
