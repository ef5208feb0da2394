// Package httpapi exposes the engine over a JSON/HTTP surface. Handlers are
// thin: they bind requests, call into app.Service, and translate AppError
// codes to HTTP statuses.
package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/storyweave/lorekeeper/internal/app"
	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/engine/scan"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// Handler carries the shared service instance behind every route.
type Handler struct {
	svc    *app.Service
	logger logging.Logger
}

// NewHandler builds the route handler set over the given service.
func NewHandler(svc *app.Service, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Handler{svc: svc, logger: logger.Named("http")}
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an AppError code to its HTTP status. Unknown errors
// surface as 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	c.JSON(code.HTTPStatus(), ErrorResponse{
		Code:    string(code),
		Message: err.Error(),
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

// ScanRequest carries one document to scan. Either Text or Blocks must be
// set; Blocks wins when both are present.
type ScanRequest struct {
	DocumentID string       `json:"documentId" binding:"required"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Blocks     []scan.Block `json:"blocks,omitempty"`
}

// ScanResponse is the JSON shape of a scan result.
type ScanResponse struct {
	DocumentID  string             `json:"documentId"`
	Explicit    []*registry.Entity `json:"explicit,omitempty"`
	Matches     []MatchPayload     `json:"matches"`
	Promoted    []string           `json:"promoted,omitempty"`
	EntityCount int                `json:"entityCount"`
	Stats       StatsPayload       `json:"stats"`
}

// MatchPayload flattens one entity match for transport.
type MatchPayload struct {
	Entity     *registry.Entity `json:"entity"`
	Confidence float64          `json:"confidence"`
	Positions  []SpanPayload    `json:"positions"`
}

// SpanPayload is a half-open character range in the source text.
type SpanPayload struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// StatsPayload summarizes the scan funnel.
type StatsPayload struct {
	TokensFiltered   int     `json:"tokensFiltered"`
	Candidates       int     `json:"candidates"`
	RejectedByCache  int     `json:"rejectedByCache"`
	ScoredCandidates int     `json:"scoredCandidates"`
	AcceptedMatches  int     `json:"acceptedMatches"`
	DurationMs       float64 `json:"durationMs"`
	RejectionHitRate float64 `json:"rejectionHitRate"`
	IndexRebuilt     bool    `json:"indexRebuilt"`
}

func toScanResponse(r *scan.Result) ScanResponse {
	resp := ScanResponse{
		DocumentID:  r.DocumentID,
		Explicit:    r.Explicit,
		Matches:     make([]MatchPayload, 0, len(r.Matches)),
		Promoted:    r.Promoted,
		EntityCount: r.EntityCount,
		Stats: StatsPayload{
			TokensFiltered:   r.Stats.TokensFiltered,
			Candidates:       r.Stats.Candidates,
			RejectedByCache:  r.Stats.RejectedByCache,
			ScoredCandidates: r.Stats.ScoredCandidates,
			AcceptedMatches:  r.Stats.AcceptedMatches,
			DurationMs:       r.Stats.DurationMs,
			RejectionHitRate: r.Stats.RejectionHitRate,
			IndexRebuilt:     r.Stats.IndexRebuilt,
		},
	}
	for _, m := range r.Matches {
		spans := make([]SpanPayload, 0, len(m.Positions))
		for _, p := range m.Positions {
			spans = append(spans, SpanPayload{Start: p.Start, End: p.End})
		}
		resp.Matches = append(resp.Matches, MatchPayload{
			Entity:     m.Entity,
			Confidence: m.Confidence,
			Positions:  spans,
		})
	}
	return resp
}

// Scan runs the full recognition pipeline over one document.
// POST /api/v1/scan
func (h *Handler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidParam("invalid scan request: "+err.Error()))
		return
	}

	var (
		result *scan.Result
		err    error
	)
	if len(req.Blocks) > 0 {
		doc := scan.Document{ID: req.DocumentID, Title: req.Title, Blocks: req.Blocks}
		result, err = h.svc.ScanDocument(c.Request.Context(), doc)
	} else {
		result, err = h.svc.ScanText(c.Request.Context(), req.DocumentID, req.Text)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScanResponse(result))
}

// BulkMentions runs the exhaustive parallel matcher without the confidence
// pipeline.
// POST /api/v1/mentions
func (h *Handler) BulkMentions(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidParam("invalid mentions request: "+err.Error()))
		return
	}

	doc := scan.NewTextDocument(req.DocumentID, req.Text)
	if len(req.Blocks) > 0 {
		doc = scan.Document{ID: req.DocumentID, Title: req.Title, Blocks: req.Blocks}
	}
	mentions, err := h.svc.BulkMentions(c.Request.Context(), doc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": req.DocumentID, "mentions": mentions})
}

// DeleteDocument drops a document's evidence from the registry and caches.
// DELETE /api/v1/documents/:id
func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.svc.DeleteDocument(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ─────────────────────────────────────────────────────────────────────────────
// Entities
// ─────────────────────────────────────────────────────────────────────────────

// CreateEntityRequest registers a new entity.
type CreateEntityRequest struct {
	Label    string                 `json:"label" binding:"required"`
	Kind     string                 `json:"kind"`
	Subtype  string                 `json:"subtype,omitempty"`
	Aliases  []string               `json:"aliases,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	SourceID string                 `json:"sourceId,omitempty"`
}

// UpdateEntityRequest patches an entity. Absent fields stay untouched.
type UpdateEntityRequest struct {
	Label    *string                `json:"label,omitempty"`
	Kind     *string                `json:"kind,omitempty"`
	Subtype  *string                `json:"subtype,omitempty"`
	Aliases  *[]string              `json:"aliases,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ListEntities returns every registered entity.
// GET /api/v1/entities
func (h *Handler) ListEntities(c *gin.Context) {
	entities := h.svc.Entities()
	c.JSON(http.StatusOK, gin.H{"entities": entities, "total": len(entities)})
}

// GetEntity resolves an entity by id, label, or alias.
// GET /api/v1/entities/:id
func (h *Handler) GetEntity(c *gin.Context) {
	e := h.svc.Entity(c.Param("id"))
	if e == nil {
		writeError(c, errors.New(errors.CodeEntityNotFound, "entity not found: "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, e)
}

// CreateEntity registers a new entity.
// POST /api/v1/entities
func (h *Handler) CreateEntity(c *gin.Context) {
	var req CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidParam("invalid entity request: "+err.Error()))
		return
	}

	sourceID := req.SourceID
	if sourceID == "" {
		sourceID = "api"
	}
	e, err := h.svc.CreateEntity(c.Request.Context(), req.Label, registry.ParseKind(req.Kind), sourceID, &registry.RegisterOptions{
		Subtype:  req.Subtype,
		Aliases:  req.Aliases,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// UpdateEntity applies a partial update.
// PATCH /api/v1/entities/:id
func (h *Handler) UpdateEntity(c *gin.Context) {
	var req UpdateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidParam("invalid update request: "+err.Error()))
		return
	}

	patch := registry.UpdatePatch{
		Label:    req.Label,
		Subtype:  req.Subtype,
		Aliases:  req.Aliases,
		Metadata: req.Metadata,
	}
	if req.Kind != nil {
		k := registry.ParseKind(*req.Kind)
		patch.Kind = &k
	}
	e, err := h.svc.UpdateEntity(c.Request.Context(), registry.EntityID(c.Param("id")), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// DeleteEntity removes an entity and every edge that references it.
// DELETE /api/v1/entities/:id
func (h *Handler) DeleteEntity(c *gin.Context) {
	if err := h.svc.DeleteEntity(registry.EntityID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// MergeRequest folds one entity into another.
type MergeRequest struct {
	TargetID string `json:"targetId" binding:"required"`
	SourceID string `json:"sourceId" binding:"required"`
}

// MergeEntities merges the source entity into the target.
// POST /api/v1/entities/merge
func (h *Handler) MergeEntities(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidParam("invalid merge request: "+err.Error()))
		return
	}
	merged, err := h.svc.MergeEntities(c.Request.Context(), registry.EntityID(req.TargetID), registry.EntityID(req.SourceID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, merged)
}

// AliasRequest adds one alias to an entity.
type AliasRequest struct {
	Alias string `json:"alias" binding:"required"`
}

// AddAlias attaches an alias to an entity.
// POST /api/v1/entities/:id/aliases
func (h *Handler) AddAlias(c *gin.Context) {
	var req AliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidParam("invalid alias request: "+err.Error()))
		return
	}
	if err := h.svc.AddAlias(registry.EntityID(c.Param("id")), req.Alias); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

// RemoveAlias detaches an alias from an entity.
// DELETE /api/v1/entities/:id/aliases/:alias
func (h *Handler) RemoveAlias(c *gin.Context) {
	if err := h.svc.RemoveAlias(registry.EntityID(c.Param("id")), c.Param("alias")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// ─────────────────────────────────────────────────────────────────────────────
// Relationships
// ─────────────────────────────────────────────────────────────────────────────

// RelationshipRequest records one typed edge between two entities, referenced
// by label or alias.
type RelationshipRequest struct {
	Source     string  `json:"source" binding:"required"`
	Type       string  `json:"type" binding:"required"`
	Target     string  `json:"target" binding:"required"`
	Confidence float64 `json:"confidence"`
	SourceID   string  `json:"sourceId,omitempty"`
	Evidence   string  `json:"evidence,omitempty"`
}

// AddRelationship records an edge. Unknown endpoints yield a nil edge and a
// 404.
// POST /api/v1/relationships
func (h *Handler) AddRelationship(c *gin.Context) {
	var req RelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidParam("invalid relationship request: "+err.Error()))
		return
	}
	conf := req.Confidence
	if conf == 0 {
		conf = 0.5
	}
	rel := h.svc.AddRelationship(c.Request.Context(), req.Source, req.Type, req.Target, conf, req.SourceID, req.Evidence)
	if rel == nil {
		writeError(c, errors.New(errors.CodeEntityNotFound, "relationship endpoints not registered"))
		return
	}
	c.JSON(http.StatusCreated, rel)
}

// GetRelationships lists every edge touching an entity.
// GET /api/v1/entities/:id/relationships
func (h *Handler) GetRelationships(c *gin.Context) {
	rels := h.svc.Relationships(registry.EntityID(c.Param("id")))
	c.JSON(http.StatusOK, gin.H{"relationships": rels, "total": len(rels)})
}

// GetCoOccurring lists the entities that most often share documents with the
// given one.
// GET /api/v1/entities/:id/cooccurring
func (h *Handler) GetCoOccurring(c *gin.Context) {
	n := 10
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	entities := h.svc.TopCoOccurring(registry.EntityID(c.Param("id")), n)
	c.JSON(http.StatusOK, gin.H{"entities": entities, "total": len(entities)})
}

// ─────────────────────────────────────────────────────────────────────────────
// Maintenance
// ─────────────────────────────────────────────────────────────────────────────

// GetPromotions lists spans the promoter is tracking.
// GET /api/v1/promotions
func (h *Handler) GetPromotions(c *gin.Context) {
	records := h.svc.PendingPromotions()
	c.JSON(http.StatusOK, gin.H{"promotions": records, "total": len(records)})
}

// CheckIntegrity reports structural problems without touching anything.
// GET /api/v1/integrity
func (h *Handler) CheckIntegrity(c *gin.Context) {
	issues := h.svc.CheckIntegrity()
	c.JSON(http.StatusOK, gin.H{"issues": issues, "total": len(issues)})
}

// RepairIntegrity fixes what the integrity sweep found.
// POST /api/v1/integrity/repair
func (h *Handler) RepairIntegrity(c *gin.Context) {
	issues, err := h.svc.RepairIntegrity()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": issues, "total": len(issues)})
}

// Export streams the full registry snapshot.
// GET /api/v1/export
func (h *Handler) Export(c *gin.Context) {
	data, err := h.svc.Export()
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// Import replaces the registry with the posted snapshot.
// POST /api/v1/import
func (h *Handler) Import(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, errors.InvalidParam("failed to read snapshot body"))
		return
	}
	if err := h.svc.Import(data); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "imported"})
}

// FlushRequest gates the destructive registry wipe.
type FlushRequest struct {
	Confirm bool `json:"confirm"`
}

// Flush destroys the registry. Requires confirm=true in the body.
// POST /api/v1/flush
func (h *Handler) Flush(c *gin.Context) {
	var req FlushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidParam("invalid flush request: "+err.Error()))
		return
	}
	if err := h.svc.Flush(req.Confirm); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}

// GetStats reports registry-wide counts.
// GET /api/v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

// Healthz is the liveness probe.
// GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
