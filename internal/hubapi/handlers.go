package hubapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/foresthq/guardian/internal/classifier"
	"github.com/foresthq/guardian/internal/geo"
	"github.com/foresthq/guardian/internal/store"
)

// nodeRecord is the API-facing shape of store.Node, adding a DMS
// rendering of its coordinates per SPEC_FULL.md §4.M.
type nodeRecord struct {
	NodeID         string `json:"node_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Position       string  `json:"position,omitempty"`
	BatteryPercent int       `json:"battery_percent"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	HubConnected   bool      `json:"hub_connected"`
}

func toNodeRecord(n store.Node) nodeRecord {
	rec := nodeRecord{
		NodeID:         n.NodeID,
		Latitude:       n.Latitude,
		Longitude:      n.Longitude,
		BatteryPercent: n.BatteryPercent,
		LastSeenAt:     n.LastSeenAt,
		HubConnected:   n.HubConnected,
	}
	if err := geo.ValidateLatLng(n.Latitude, n.Longitude); err == nil {
		rec.Position = geo.FormatLatLngDMS(n.Latitude, n.Longitude)
	}
	return rec
}

type alertRecord struct {
	ID             uint       `json:"id"`
	SpectrogramID  uint       `json:"spectrogram_id,omitempty"`
	NodeID         string     `json:"node_id"`
	ThreatLevel    string     `json:"threat_level"`
	Label          string     `json:"label"`
	Confidence     int        `json:"confidence"`
	Latitude       float64    `json:"latitude,omitempty"`
	Longitude      float64    `json:"longitude,omitempty"`
	ClassifierUsed string     `json:"classifier_used,omitempty"`
	Responded      bool       `json:"responded"`
	ResponseNote   string     `json:"response_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
}

func toAlertRecord(a store.Alert) alertRecord {
	return alertRecord{
		ID:             a.ID,
		SpectrogramID:  a.SpectrogramID,
		NodeID:         a.NodeID,
		ThreatLevel:    a.ThreatLevel,
		Label:          a.Label,
		Confidence:     a.Confidence,
		Latitude:       a.Latitude,
		Longitude:      a.Longitude,
		ClassifierUsed: a.ClassifierUsed,
		Responded:      a.Responded,
		ResponseNote:   a.ResponseNote,
		CreatedAt:      a.CreatedAt,
		RespondedAt:    a.RespondedAt,
	}
}

// handleStatus reports liveness per spec.md §6: {status, time}.
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
		"uptime": time.Since(s.start).Round(time.Second).String(),
	})
}

func (s *Server) handleListNodes(c echo.Context) error {
	nodes, err := s.cfg.Store.ListNodes(c.Request().Context())
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	records := make([]nodeRecord, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, toNodeRecord(n))
	}
	return c.JSON(http.StatusOK, records)
}

// handleListAlerts returns the most recent alerts, capped at 100 per
// spec.md §6.
func (s *Server) handleListAlerts(c echo.Context) error {
	const maxAlerts = 100
	limit := maxAlerts
	if q := c.QueryParam("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n < maxAlerts {
			limit = n
		}
	}
	alerts, err := s.cfg.Store.ListAlerts(c.Request().Context(), limit)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	records := make([]alertRecord, 0, len(alerts))
	for _, a := range alerts {
		records = append(records, toAlertRecord(a))
	}
	return c.JSON(http.StatusOK, records)
}

type respondRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleRespondAlert(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	var req respondRequest
	_ = c.Bind(&req) // a missing body is fine; note is optional

	if _, err := s.cfg.Store.RespondToAlert(c.Request().Context(), uint(id), req.Note, time.Now()); err != nil {
		return errorResponse(c, http.StatusNotFound, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// handleAIStatus reports classifier mode and deep-cloud quota per
// spec.md §6: {mode, services, quota_remaining, quota_reset_at}.
func (s *Server) handleAIStatus(c echo.Context) error {
	resp := map[string]any{
		"mode": s.cfg.Dispatcher.Mode(),
		"services": map[string]bool{
			"local":      true,
			"fast_cloud": s.cfg.FastCloud != nil,
			"deep_cloud": s.cfg.DeepCloud != nil,
		},
		"pending_sync": s.cfg.Dispatcher.PendingSync(),
	}
	if s.cfg.DeepCloud != nil {
		remaining, resetAt := s.cfg.DeepCloud.QuotaRemaining()
		resp["quota_remaining"] = remaining
		resp["quota_reset_at"] = resetAt
	}
	return c.JSON(http.StatusOK, resp)
}

type simulateAlertRequest struct {
	NodeID      string `json:"node_id"`
	Label       string `json:"label"`
	Confidence  int    `json:"confidence"`
	ThreatLevel string `json:"threat_level"`
}

// handleSimulateAlert injects a synthetic alert for demo/testing,
// publishing it through the same Store + Event Bus path a real
// classification would take.
func (s *Server) handleSimulateAlert(c echo.Context) error {
	var req simulateAlertRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if req.NodeID == "" {
		req.NodeID = "GUARDIAN_SIM"
	}
	if req.Label == "" {
		req.Label = string(classifier.LabelChainsaw)
	}
	if req.Confidence == 0 {
		req.Confidence = 90
	}
	if req.ThreatLevel == "" {
		req.ThreatLevel = string(classifier.ThreatLevelFor(classifier.Label(req.Label), req.Confidence))
	}

	ctx := c.Request().Context()
	spec, err := s.cfg.Store.InsertSpectrogram(ctx, &store.Spectrogram{
		NodeID:         req.NodeID,
		ClassifierUsed: "simulated",
		Label:          req.Label,
		Confidence:     req.Confidence,
		ThreatLevel:    req.ThreatLevel,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	if _, err := s.cfg.Store.InsertAlert(ctx, &store.Alert{
		SpectrogramID:  spec.ID,
		NodeID:         req.NodeID,
		ThreatLevel:    req.ThreatLevel,
		Label:          req.Label,
		Confidence:     req.Confidence,
		ClassifierUsed: "simulated",
		CreatedAt:      time.Now(),
	}); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type simulateHeartbeatRequest struct {
	NodeID         string  `json:"node_id"`
	BatteryPercent int     `json:"battery_percent"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

// handleSimulateHeartbeat injects a synthetic node heartbeat, upserting
// the node record exactly as a real HEARTBEAT packet would.
func (s *Server) handleSimulateHeartbeat(c echo.Context) error {
	var req simulateHeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if req.NodeID == "" {
		req.NodeID = "GUARDIAN_SIM"
	}
	if req.BatteryPercent == 0 {
		req.BatteryPercent = 100
	}

	if _, err := s.cfg.Store.UpsertNode(c.Request().Context(), &store.Node{
		NodeID:         req.NodeID,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		BatteryPercent: req.BatteryPercent,
		LastSeenAt:     time.Now(),
		HubConnected:   true,
	}); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
