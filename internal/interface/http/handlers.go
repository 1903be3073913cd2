package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alem-hub/alem-badges/internal/application/command"
	"github.com/alem-hub/alem-badges/internal/application/query"
	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "Alem Badges API",
		"version": s.deps.Version,
		"endpoints": map[string]string{
			"health":     "/health",
			"awards":     "/api/v1/badges/{badge}/awards",
			"recipients": "/api/v1/badges/{badge}/recipients/{existing|potential}",
			"selection":  "/api/v1/badges/{badge}/selection/{session}",
			"audit":      "/api/v1/badges/{badge}/audit",
			"user":       "/api/v1/users/{user}/badges",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.deps.Version,
	})
}

// handleReady handles the readiness endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type awardRequest struct {
	RecipientIDs []int64 `json:"recipient_ids"`
	IssuerID     int64   `json:"issuer_id"`
	IssuerRoleID int64   `json:"issuer_role_id"`

	// Session, when set, has the awarded users removed from its selection.
	Session string `json:"session,omitempty"`
}

type awardOutcome struct {
	RecipientID int64 `json:"recipient_id"`
	Awarded     bool  `json:"awarded"`
}

type awardResponse struct {
	BadgeID      int64          `json:"badge_id"`
	Results      []awardOutcome `json:"results"`
	AwardedCount int            `json:"awarded_count"`

	// FailedRecipientID is set when the batch stopped early. Results then
	// hold the recipients processed before it.
	FailedRecipientID int64 `json:"failed_recipient_id,omitempty"`
}

// handleAwardBadge handles POST /api/v1/badges/{badge}/awards.
//
// Recipients are awarded in order; the first hard failure stops the batch.
// A recipient already holding the award reports awarded=false.
func (s *Server) handleAwardBadge(w http.ResponseWriter, r *http.Request) {
	if s.deps.AwardBadge == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Award handler not configured")
		return
	}

	badgeID, ok := s.badgePathValue(w, r)
	if !ok {
		return
	}

	var req awardRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Malformed request body", err.Error())
		return
	}
	if len(req.RecipientIDs) == 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "recipient_ids is required")
		return
	}
	if len(req.RecipientIDs) > s.config.MaxAwardBatch {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("At most %d recipients per request", s.config.MaxAwardBatch))
		return
	}

	resp := awardResponse{
		BadgeID: int64(badgeID),
		Results: make([]awardOutcome, 0, len(req.RecipientIDs)),
	}
	awarded := make([]shared.UserID, 0, len(req.RecipientIDs))

	for _, rid := range req.RecipientIDs {
		ok, err := s.deps.AwardBadge.Handle(r.Context(), command.AwardBadgeCommand{
			RecipientID:   shared.UserID(rid),
			IssuerID:      shared.UserID(req.IssuerID),
			IssuerRoleID:  shared.RoleID(req.IssuerRoleID),
			BadgeID:       badgeID,
			CorrelationID: getRequestID(r.Context()),
		})
		if err != nil {
			// Earlier recipients stay awarded; report them with the error.
			s.unstageAwarded(r, req.Session, badgeID, awarded)
			resp.FailedRecipientID = rid
			s.writeDomainErrorWithData(w, r, "award badge", err, resp)
			return
		}
		resp.Results = append(resp.Results, awardOutcome{RecipientID: rid, Awarded: ok})
		if ok {
			resp.AwardedCount++
		}
		awarded = append(awarded, shared.UserID(rid))
	}

	s.unstageAwarded(r, req.Session, badgeID, awarded)
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) unstageAwarded(r *http.Request, session string, badgeID shared.BadgeID, awarded []shared.UserID) {
	if session == "" || s.deps.Selection == nil || len(awarded) == 0 {
		return
	}
	if err := s.deps.Selection.Unstage(r.Context(), session, badgeID, awarded...); err != nil {
		s.logger.Warn("failed to unstage awarded recipients",
			"error", err,
			"badge_id", int64(badgeID),
			"request_id", getRequestID(r.Context()),
		)
	}
}

// handleRevokeBadge handles DELETE /api/v1/badges/{badge}/awards/{recipient}.
func (s *Server) handleRevokeBadge(w http.ResponseWriter, r *http.Request) {
	if s.deps.RevokeBadge == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Revoke handler not configured")
		return
	}

	badgeID, ok := s.badgePathValue(w, r)
	if !ok {
		return
	}
	recipientID, err := shared.ParseUserID(r.PathValue("recipient"))
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Invalid recipient id")
		return
	}
	issuerID, err := getQueryParamInt64(r, "issuer_id")
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	roleID, err := getQueryParamInt64(r, "issuer_role_id")
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	revoked, err := s.deps.RevokeBadge.Handle(r.Context(), command.RevokeBadgeCommand{
		RecipientID:   recipientID,
		IssuerID:      shared.UserID(issuerID),
		IssuerRoleID:  shared.RoleID(roleID),
		BadgeID:       badgeID,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, "revoke badge", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"badge_id":     int64(badgeID),
		"recipient_id": int64(recipientID),
		"revoked":      revoked,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RECIPIENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleExistingRecipients handles GET /api/v1/badges/{badge}/recipients/existing.
func (s *Server) handleExistingRecipients(w http.ResponseWriter, r *http.Request) {
	if s.deps.FindRecipients == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Recipient search not configured")
		return
	}

	q, ok := s.recipientQuery(w, r)
	if !ok {
		return
	}

	result, err := s.deps.FindRecipients.FindExisting(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, "find existing recipients", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{Count: result.Len()})
}

// handlePotentialRecipients handles GET /api/v1/badges/{badge}/recipients/potential.
//
// Users in the exclude parameter and in the session's staged selection are
// left out. A failing selection store degrades to the explicit list.
func (s *Server) handlePotentialRecipients(w http.ResponseWriter, r *http.Request) {
	if s.deps.FindRecipients == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Recipient search not configured")
		return
	}

	q, ok := s.recipientQuery(w, r)
	if !ok {
		return
	}

	excluded, err := shared.ParseUserIDs(r.URL.Query().Get("exclude"))
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Invalid exclude list")
		return
	}
	q.ExcludedIDs = excluded

	if session := r.URL.Query().Get("session"); session != "" && s.deps.Selection != nil {
		staged, err := s.deps.Selection.Staged(r.Context(), session, q.BadgeID)
		if err != nil {
			s.logger.Warn("selection unavailable, using explicit exclusions only",
				"error", err,
				"badge_id", int64(q.BadgeID),
				"request_id", getRequestID(r.Context()),
			)
		} else {
			recipient.MergeExcluded(&q, staged)
		}
	}

	opts := recipient.Options{Mode: recipient.ModeRender}
	if getQueryParamBool(r, "validate") {
		opts.Mode = recipient.ModeValidate
	}

	result, err := s.deps.FindRecipients.FindPotential(r.Context(), q, opts)
	if err != nil {
		s.writeDomainError(w, r, "find potential recipients", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{Count: result.Len()})
}

// recipientQuery builds a recipient.Query from path and query parameters.
func (s *Server) recipientQuery(w http.ResponseWriter, r *http.Request) (recipient.Query, bool) {
	badgeID, ok := s.badgePathValue(w, r)
	if !ok {
		return recipient.Query{}, false
	}

	ids := make(map[string]int64, 3)
	for _, key := range []string{"role", "group", "context"} {
		v, err := getQueryParamInt64(r, key)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return recipient.Query{}, false
		}
		ids[key] = v
	}

	return recipient.Query{
		BadgeID:      badgeID,
		IssuerRoleID: shared.RoleID(ids["role"]),
		ContextID:    shared.ContextID(ids["context"]),
		GroupID:      shared.GroupID(ids["group"]),
		Search:       r.URL.Query().Get("search"),
	}, true
}

// ══════════════════════════════════════════════════════════════════════════════
// SELECTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type selectionRequest struct {
	RecipientIDs []int64 `json:"recipient_ids"`
}

type selectionResponse struct {
	BadgeID int64   `json:"badge_id"`
	Session string  `json:"session"`
	Staged  []int64 `json:"staged"`
}

// handleGetSelection handles GET /api/v1/badges/{badge}/selection/{session}.
func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	badgeID, session, ok := s.selectionTarget(w, r)
	if !ok {
		return
	}
	s.writeSelection(w, r, badgeID, session)
}

// handleStageSelection handles POST /api/v1/badges/{badge}/selection/{session}.
func (s *Server) handleStageSelection(w http.ResponseWriter, r *http.Request) {
	badgeID, session, ok := s.selectionTarget(w, r)
	if !ok {
		return
	}

	var req selectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Malformed request body", err.Error())
		return
	}
	if len(req.RecipientIDs) == 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "recipient_ids is required")
		return
	}

	if err := s.deps.Selection.Stage(r.Context(), session, badgeID, toUserIDs(req.RecipientIDs)...); err != nil {
		s.writeSelectionError(w, r, err)
		return
	}
	s.writeSelection(w, r, badgeID, session)
}

// handleUnstageSelection handles DELETE /api/v1/badges/{badge}/selection/{session}.
// With ?ids= only those users are removed; without it the selection is cleared.
func (s *Server) handleUnstageSelection(w http.ResponseWriter, r *http.Request) {
	badgeID, session, ok := s.selectionTarget(w, r)
	if !ok {
		return
	}

	ids, err := shared.ParseUserIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Invalid ids list")
		return
	}

	if len(ids) == 0 {
		err = s.deps.Selection.Clear(r.Context(), session, badgeID)
	} else {
		err = s.deps.Selection.Unstage(r.Context(), session, badgeID, ids...)
	}
	if err != nil {
		s.writeSelectionError(w, r, err)
		return
	}
	s.writeSelection(w, r, badgeID, session)
}

func (s *Server) selectionTarget(w http.ResponseWriter, r *http.Request) (shared.BadgeID, string, bool) {
	if s.deps.Selection == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "selection_unavailable", "Selection store not configured")
		return 0, "", false
	}
	badgeID, ok := s.badgePathValue(w, r)
	if !ok {
		return 0, "", false
	}
	return badgeID, r.PathValue("session"), true
}

func (s *Server) writeSelection(w http.ResponseWriter, r *http.Request, badgeID shared.BadgeID, session string) {
	staged, err := s.deps.Selection.Staged(r.Context(), session, badgeID)
	if err != nil {
		s.writeSelectionError(w, r, err)
		return
	}

	resp := selectionResponse{
		BadgeID: int64(badgeID),
		Session: session,
		Staged:  make([]int64, 0, len(staged)),
	}
	for _, id := range staged {
		resp.Staged = append(resp.Staged, int64(id))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) writeSelectionError(w http.ResponseWriter, r *http.Request, err error) {
	if shared.IsValidation(err) {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", errorMessage(err))
		return
	}
	s.logger.Warn("selection store failure", "error", err, "request_id", getRequestID(r.Context()))
	writeJSONError(w, r, http.StatusServiceUnavailable, "selection_unavailable", "Selection store unavailable")
}

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT & USER BADGE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type auditEntryDTO struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EventType     string    `json:"event_type"`
	BadgeID       int64     `json:"badge_id"`
	RecipientID   int64     `json:"recipient_id"`
	ContextID     int64     `json:"context_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// handleBadgeAudit handles GET /api/v1/badges/{badge}/audit.
func (s *Server) handleBadgeAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Audit log not configured")
		return
	}

	badgeID, ok := s.badgePathValue(w, r)
	if !ok {
		return
	}

	limit := getQueryParamInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	entries, err := s.deps.Audit.ListByBadge(r.Context(), badgeID, limit)
	if err != nil {
		s.writeDomainError(w, r, "list audit", shared.WrapError("badge", "ListAudit", shared.ErrStorage, "failed to list audit", err))
		return
	}

	out := make([]auditEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryDTO{
			ID:            e.ID,
			CorrelationID: e.CorrelationID,
			EventType:     e.EventType,
			BadgeID:       int64(e.BadgeID),
			RecipientID:   int64(e.RecipientID),
			ContextID:     int64(e.ContextID),
			OccurredAt:    e.OccurredAt,
		})
	}
	writeJSONWithMeta(w, r, http.StatusOK, out, &ResponseMeta{Count: len(out)})
}

// handleUserBadges handles GET /api/v1/users/{user}/badges.
func (s *Server) handleUserBadges(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListUserBadges == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Badge listing not configured")
		return
	}

	userID, err := shared.ParseUserID(r.PathValue("user"))
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Invalid user id")
		return
	}
	viewerID, err := getQueryParamInt64(r, "viewer")
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	contextID, err := getQueryParamInt64(r, "context")
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	q := query.ListUserBadgesQuery{
		UserID:     userID,
		ViewerID:   shared.UserID(viewerID),
		ContextID:  shared.ContextID(contextID),
		Search:     r.URL.Query().Get("search"),
		OnlyPublic: getQueryParamBool(r, "onlypublic"),
		Page:       getQueryParamInt(r, "page", 0),
		PerPage:    getQueryParamInt(r, "perpage", 0),
	}

	result, err := s.deps.ListUserBadges.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, "list user badges", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{
		Page:     q.Page,
		PageSize: q.PerPage,
		Count:    len(result.Badges),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING & DECODING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain error kinds to HTTP statuses. Unknown errors
// are logged and hidden behind a generic 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.writeDomainErrorWithData(w, r, op, err, nil)
}

// writeDomainErrorWithData maps err to a status and also returns data, such
// as the part of a batch that completed.
func (s *Server) writeDomainErrorWithData(w http.ResponseWriter, r *http.Request, op string, err error, data interface{}) {
	status, code, message := http.StatusInternalServerError, "internal_error", "Failed to "+op
	switch {
	case shared.IsNotFound(err):
		status, code, message = http.StatusNotFound, "not_found", errorMessage(err)
	case shared.IsValidation(err):
		status, code, message = http.StatusBadRequest, "invalid_request", errorMessage(err)
	case shared.IsAlreadyExists(err):
		status, code, message = http.StatusConflict, "conflict", errorMessage(err)
	default:
		s.logger.Error("request failed",
			"op", op,
			"error", err,
			"request_id", getRequestID(r.Context()),
		)
	}

	encode(w, status, JSONResponse{
		Data:      data,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(r.Context()),
	})
}

// errorMessage returns the outermost domain message, or the error text.
func errorMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func (s *Server) badgePathValue(w http.ResponseWriter, r *http.Request) (shared.BadgeID, bool) {
	id, err := shared.ParseBadgeID(r.PathValue("badge"))
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Invalid badge id")
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func toUserIDs(raw []int64) []shared.UserID {
	ids := make([]shared.UserID, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, shared.UserID(id))
	}
	return ids
}
