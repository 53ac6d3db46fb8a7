package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mazoea/internal/catalog"
	"github.com/jkaninda/mazoea/internal/domain"
	"github.com/jkaninda/mazoea/internal/lifecycle"
	"github.com/jkaninda/mazoea/internal/pipeline"
	"github.com/jkaninda/okapi"
)

// **** Request/response types ****

// MessageRequest is the JSON body for POST /v1/messages.
type MessageRequest struct {
	RelationshipID string `json:"relationship_id"` // Opaque external ID of the relationship.
	Text           string `json:"text"`
	Initiator      string `json:"initiator"`    // "party_a" or "party_b".
	At             string `json:"at,omitempty"` // RFC 3339. Empty = now.
}

// MessageResponse acknowledges an accepted message.
type MessageResponse struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

// RelationshipResponse is one tracked relationship.
type RelationshipResponse struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Timezone   string    `json:"timezone,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TimezoneRequest is the JSON body for PUT /v1/relationships/{id}/timezone.
type TimezoneRequest struct {
	Timezone string `json:"timezone"` // IANA zone name, e.g. "Europe/Paris".
}

// RitualResponse is one ritual entry.
type RitualResponse struct {
	Signature        string    `json:"signature"`
	PatternType      string    `json:"pattern_type"`
	Description      string    `json:"description"`
	Status           string    `json:"status"`
	OccurrenceCount  int       `json:"occurrence_count"`
	FirstOccurrence  time.Time `json:"first_occurrence"`
	LastOccurrence   time.Time `json:"last_occurrence"`
	PrimaryInitiator string    `json:"primary_initiator"`
	SignificanceNote string    `json:"significance_note,omitempty"`
	WasJustResumed   bool      `json:"was_just_resumed,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// BreakResponse is one break record.
type BreakResponse struct {
	ID         string     `json:"id"`
	Signature  string     `json:"signature"`
	ExpectedBy time.Time  `json:"expected_by"`
	NoticedAt  time.Time  `json:"noticed_at"`
	Resolution string     `json:"resolution"`
	WasResumed bool       `json:"was_resumed"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// SnapshotResponse is the ready-to-render catalog view for one relationship.
type SnapshotResponse struct {
	TakenAt          time.Time        `json:"taken_at"`
	Established      []RitualResponse `json:"established"`
	Emerging         []RitualResponse `json:"emerging"`
	Fading           []RitualResponse `json:"fading"`
	UnresolvedBreaks []BreakResponse  `json:"unresolved_breaks"`
}

// DismissRequest is the JSON body for POST /v1/relationships/{id}/rituals/dismiss.
type DismissRequest struct {
	Signature string `json:"signature"`
}

// ResolutionRequest is the JSON body for POST .../breaks/{breakID}/resolution.
type ResolutionRequest struct {
	Resolution string `json:"resolution"` // "mentioned" or "ignored".
}

func toRitualResponse(e *domain.RitualEntry) RitualResponse {
	return RitualResponse{
		Signature:        e.Signature,
		PatternType:      string(e.PatternType),
		Description:      e.Description,
		Status:           string(e.Status),
		OccurrenceCount:  e.OccurrenceCount,
		FirstOccurrence:  e.FirstOccurrence,
		LastOccurrence:   e.LastOccurrence,
		PrimaryInitiator: string(e.PrimaryInitiator),
		SignificanceNote: e.SignificanceNote,
		WasJustResumed:   e.WasJustResumed,
		CreatedAt:        e.CreatedAt,
	}
}

func toRitualResponses(entries []domain.RitualEntry) []RitualResponse {
	resp := make([]RitualResponse, len(entries))
	for i := range entries {
		resp[i] = toRitualResponse(&entries[i])
	}
	return resp
}

func toBreakResponse(b *domain.BreakRecord) BreakResponse {
	return BreakResponse{
		ID:         b.ID.String(),
		Signature:  b.Signature,
		ExpectedBy: b.ExpectedBy,
		NoticedAt:  b.NoticedAt,
		Resolution: string(b.Resolution),
		WasResumed: b.WasResumed,
		ResolvedAt: b.ResolvedAt,
	}
}

func toBreakResponses(records []domain.BreakRecord) []BreakResponse {
	resp := make([]BreakResponse, len(records))
	for i := range records {
		resp[i] = toBreakResponse(&records[i])
	}
	return resp
}

func toRelationshipResponse(rel *domain.Relationship) RelationshipResponse {
	return RelationshipResponse{
		ID:         rel.ID.String(),
		ExternalID: rel.ExternalID,
		Timezone:   rel.Timezone,
		CreatedAt:  rel.CreatedAt,
	}
}

func toSnapshotResponse(s *catalog.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		TakenAt:          s.TakenAt,
		Established:      toRitualResponses(s.Established),
		Emerging:         toRitualResponses(s.Emerging),
		Fading:           toRitualResponses(s.Fading),
		UnresolvedBreaks: toBreakResponses(s.UnresolvedBreaks),
	}
}

// **** Handlers ****

func (g *Gateway) handleMessage(c *okapi.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.RelationshipID == "" {
		return c.AbortBadRequest("relationship_id is required")
	}
	if req.Text == "" {
		return c.AbortBadRequest("text is required")
	}
	if err := g.allow(c, req.RelationshipID); err != nil {
		return err
	}

	at := time.Now().UTC()
	if req.At != "" {
		parsed, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			return c.AbortBadRequest("at must be RFC 3339")
		}
		at = parsed.UTC()
	}

	correlationID := newCorrelationID()

	err := g.pipeline.OnMessage(pipeline.Message{
		RelationshipExternalID: req.RelationshipID,
		Text:                   req.Text,
		Initiator:              domain.Initiator(req.Initiator),
		At:                     at,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrClosed) {
			return c.AbortServiceUnavailable("ingestion is shut down")
		}
		return c.AbortBadRequest(err.Error())
	}

	g.logger.Info("http message accepted",
		slog.String("relationship_id", req.RelationshipID),
		slog.String("correlation_id", correlationID),
	)

	return c.JSON(http.StatusAccepted, MessageResponse{
		Status:        "accepted",
		CorrelationID: correlationID,
	})
}

func (g *Gateway) handleRelationshipList(c *okapi.Context) error {
	rels, err := g.store.Relationships().List(c.Context())
	if err != nil {
		g.logger.Error("listing relationships failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing relationships failed")
	}
	resp := make([]RelationshipResponse, len(rels))
	for i := range rels {
		resp[i] = toRelationshipResponse(&rels[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleSetTimezone(c *okapi.Context) error {
	externalID := c.Param("id")
	if err := g.allow(c, externalID); err != nil {
		return err
	}

	var req TimezoneRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Timezone == "" {
		return c.AbortBadRequest("timezone is required")
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return c.AbortBadRequest("unknown IANA timezone")
	}

	rel, err := g.store.Relationships().GetByExternalID(c.Context(), externalID)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "relationship not found"})
	}
	if err := g.store.Relationships().SetTimezone(c.Context(), rel.ID, req.Timezone); err != nil {
		g.logger.Error("setting timezone failed",
			slog.String("relationship_id", externalID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("setting timezone failed")
	}
	rel.Timezone = req.Timezone
	return c.OK(toRelationshipResponse(rel))
}

func (g *Gateway) handleSnapshot(c *okapi.Context) error {
	rel, err := g.store.Relationships().GetByExternalID(c.Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "relationship not found"})
	}

	snap, err := g.facade.Snapshot(c.Context(), rel.ID, time.Now().UTC())
	if err != nil {
		g.logger.Error("snapshot failed",
			slog.String("relationship_id", rel.ExternalID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("snapshot failed")
	}
	return c.OK(toSnapshotResponse(snap))
}

func (g *Gateway) handleRitualList(c *okapi.Context) error {
	rel, err := g.store.Relationships().GetByExternalID(c.Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "relationship not found"})
	}

	var entries []domain.RitualEntry
	if status := c.Request().URL.Query().Get("status"); status != "" {
		entries, err = g.store.Rituals().ListByStatus(c.Context(), rel.ID, domain.RitualStatus(status))
	} else {
		entries, err = g.store.Rituals().List(c.Context(), rel.ID)
	}
	if err != nil {
		g.logger.Error("listing rituals failed",
			slog.String("relationship_id", rel.ExternalID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("listing rituals failed")
	}
	return c.OK(toRitualResponses(entries))
}

func (g *Gateway) handleRitualDismiss(c *okapi.Context) error {
	externalID := c.Param("id")
	if err := g.allow(c, externalID); err != nil {
		return err
	}

	var req DismissRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Signature == "" {
		return c.AbortBadRequest("signature is required")
	}

	rel, err := g.store.Relationships().GetByExternalID(c.Context(), externalID)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "relationship not found"})
	}

	entry, err := g.engine.Dismiss(c.Context(), rel.ID, req.Signature)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotDismissable) {
			return c.JSON(http.StatusConflict, okapi.M{"error": "only dormant rituals can be dismissed"})
		}
		return c.JSON(http.StatusNotFound, okapi.M{"error": "ritual not found"})
	}

	g.logger.Info("ritual dismissed",
		slog.String("relationship_id", externalID),
		slog.String("signature", req.Signature),
	)
	return c.OK(toRitualResponse(entry))
}

func (g *Gateway) handleBreakList(c *okapi.Context) error {
	rel, err := g.store.Relationships().GetByExternalID(c.Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "relationship not found"})
	}

	records, err := g.store.Breaks().ListUnresolved(c.Context(), rel.ID)
	if err != nil {
		g.logger.Error("listing breaks failed",
			slog.String("relationship_id", rel.ExternalID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("listing breaks failed")
	}
	return c.OK(toBreakResponses(records))
}

func (g *Gateway) handleBreakResolve(c *okapi.Context) error {
	externalID := c.Param("id")
	if err := g.allow(c, externalID); err != nil {
		return err
	}

	breakID, err := uuid.Parse(c.Param("breakID"))
	if err != nil {
		return c.AbortBadRequest("invalid break ID")
	}

	var req ResolutionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	resolution := domain.Resolution(req.Resolution)
	if resolution != domain.ResolutionMentioned && resolution != domain.ResolutionIgnored {
		return c.AbortBadRequest("resolution must be \"mentioned\" or \"ignored\"")
	}

	rel, err := g.store.Relationships().GetByExternalID(c.Context(), externalID)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "relationship not found"})
	}

	if err := g.detector.SetResolution(c.Context(), rel.ID, breakID, resolution, time.Now().UTC()); err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "break not found"})
	}

	g.logger.Info("break resolved",
		slog.String("relationship_id", externalID),
		slog.String("break_id", breakID.String()),
		slog.String("resolution", req.Resolution),
	)
	return c.OK(okapi.M{"status": "resolved"})
}

// HealthResponse is the JSON response for the health probes.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
