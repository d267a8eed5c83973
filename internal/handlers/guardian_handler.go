// Package handlers exposes the guardian daemon's local HTTP API: passcode
// login, token issuance, and per-child consent, presence, and escalation
// views. Everything here is a thin wrapper over the services; no protocol
// logic lives in this package.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"nettie/internal/models"
	"nettie/internal/service"
)

// GuardianHandler handles the guardian dashboard API.
type GuardianHandler struct {
	auth        *service.AuthService
	pairing     *service.PairingService
	consent     *service.ConsentService
	escalations *service.EscalationService
	presence    *service.PresenceService
	middleware  *Middleware
}

// NewGuardianHandler creates a new guardian API handler
func NewGuardianHandler(
	auth *service.AuthService,
	pairing *service.PairingService,
	consent *service.ConsentService,
	escalations *service.EscalationService,
	presence *service.PresenceService,
	middleware *Middleware,
) *GuardianHandler {
	return &GuardianHandler{
		auth:        auth,
		pairing:     pairing,
		consent:     consent,
		escalations: escalations,
		presence:    presence,
		middleware:  middleware,
	}
}

// RegisterRoutes wires the API onto the mux.
func (h *GuardianHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", h.middleware.RateLimit(h.Login))
	mux.HandleFunc("POST /api/pairing/tokens", h.middleware.RequireAuth(h.IssueToken))
	mux.HandleFunc("DELETE /api/pairing/tokens/{token}", h.middleware.RequireAuth(h.RevokeToken))
	mux.HandleFunc("GET /api/children", h.middleware.RequireAuth(h.ListChildren))
	mux.HandleFunc("GET /api/children/{childId}/consent", h.middleware.RequireAuth(h.ConsentOverview))
	mux.HandleFunc("PUT /api/children/{childId}/consent/{capability}", h.middleware.RequireAuth(h.SetConsent))
	mux.HandleFunc("GET /api/children/{childId}/escalations", h.middleware.RequireAuth(h.RecentEscalations))
}

// Login exchanges the dashboard passcode for a session token.
func (h *GuardianHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passcode string `json:"passcode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.auth.Login(req.Passcode)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// IssueToken creates a pending pairing token and returns the payload string
// the dashboard renders into a scannable code.
func (h *GuardianHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing session")
		return
	}

	token, linkPayload, err := h.pairing.Issue(r.Context(), actor.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"token":    token.Token,
		"payload":  linkPayload,
		"issuedAt": token.IssuedAt,
	})
}

// RevokeToken cancels a pairing token that was issued but never scanned.
func (h *GuardianHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing session")
		return
	}

	if err := h.pairing.Revoke(r.Context(), actor.ID, r.PathValue("token")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// childView is one linked child with its latest presence snapshot and last
// reported location.
type childView struct {
	ChildID     string           `json:"childId"`
	Nickname    string           `json:"nickname,omitempty"`
	LastSeen    int64            `json:"lastSeen,omitempty"`
	Mood        models.Mood      `json:"mood,omitempty"`
	IsEscalated bool             `json:"isEscalated"`
	Location    *models.Location `json:"location,omitempty"`
}

// ListChildren returns the guardian's linked children with presence.
func (h *GuardianHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing session")
		return
	}

	childIDs, err := h.pairing.ListChildren(r.Context(), actor.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	children := make([]childView, 0, len(childIDs))
	for _, childID := range childIDs {
		view := childView{ChildID: childID}
		profile, err := h.presence.Read(r.Context(), childID)
		if err == nil && profile != nil {
			view.Nickname = profile.Nickname
			view.LastSeen = profile.LastSeen
			view.Mood = profile.Mood
			view.IsEscalated = profile.IsEscalated
		}
		if loc, err := h.presence.LastLocation(r.Context(), childID); err == nil {
			view.Location = loc
		}
		children = append(children, view)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"children": children})
}

// consentView is one capability flag as the API reports it.
type consentView struct {
	Capability string `json:"capability"`
	Granted    bool   `json:"granted"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
	UpdatedBy  string `json:"updatedBy,omitempty"`
}

// ConsentOverview returns the effective flag for every capability.
func (h *GuardianHandler) ConsentOverview(w http.ResponseWriter, r *http.Request) {
	_, childID, err := h.ownedChild(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	records, err := h.consent.Overview(r.Context(), childID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	views := make([]consentView, 0, len(records))
	for _, rec := range records {
		views = append(views, consentView{
			Capability: string(rec.Capability),
			Granted:    rec.Granted,
			UpdatedAt:  rec.UpdatedAt,
			UpdatedBy:  rec.UpdatedBy,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"consent": views})
}

// SetConsent records one guardian decision for a capability.
func (h *GuardianHandler) SetConsent(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing session")
		return
	}
	childID := r.PathValue("childId")

	capability, err := models.ParseCapability(r.PathValue("capability"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown capability")
		return
	}

	var req struct {
		Granted *bool `json:"granted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Granted == nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.consent.SetConsent(r.Context(), actor, childID, capability, *req.Granted); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, consentView{
		Capability: string(capability),
		Granted:    *req.Granted,
	})
}

// escalationView is one detection event as the API reports it.
type escalationView struct {
	Key            string   `json:"key"`
	Timestamp      int64    `json:"timestamp"`
	Category       string   `json:"category"`
	MatchedPhrases []string `json:"matchedPhrases,omitempty"`
	SourceApp      string   `json:"sourceApp,omitempty"`
	DeflectionUsed string   `json:"deflectionUsed,omitempty"`
	IsEscalated    bool     `json:"isEscalated"`
}

// RecentEscalations returns up to limit events for a child, newest first.
func (h *GuardianHandler) RecentEscalations(w http.ResponseWriter, r *http.Request) {
	actor, childID, err := h.ownedChild(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.escalations.Recent(r.Context(), actor.ID, childID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	views := make([]escalationView, 0, len(events))
	for _, ev := range events {
		views = append(views, escalationView{
			Key:            ev.Key,
			Timestamp:      ev.Timestamp,
			Category:       ev.Category,
			MatchedPhrases: ev.MatchedPhrases,
			SourceApp:      ev.SourceApp,
			DeflectionUsed: ev.DeflectionUsed,
			IsEscalated:    ev.IsEscalated,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": views})
}

// ownedChild resolves the session actor and the childId path segment,
// checking the actor actually owns the child's household.
func (h *GuardianHandler) ownedChild(r *http.Request) (models.Actor, string, error) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		return models.Actor{}, "", service.ErrInvalidSession
	}
	childID := r.PathValue("childId")
	linked, err := h.pairing.IsLinked(r.Context(), actor.ID, childID)
	if err != nil {
		return models.Actor{}, "", err
	}
	if !linked {
		return models.Actor{}, "", service.ErrNotLinked
	}
	return actor, childID, nil
}
