package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rcliao/slicegate/internal/batch"
	"github.com/rcliao/slicegate/internal/model"
	"github.com/rcliao/slicegate/internal/token"
)

type sliceRequest struct {
	AnchorID      string `json:"anchor_id"`
	PolicyID      string `json:"policy_id"`
	PolicyVersion int    `json:"policy_version,omitempty"`
}

type sliceResponse struct {
	Slice *model.Slice `json:"slice"`
	Token string       `json:"token"`
}

func (s *Server) handleSlice(w http.ResponseWriter, r *http.Request) {
	var req sliceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, kindBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AnchorID == "" || req.PolicyID == "" {
		respondError(w, http.StatusBadRequest, kindBadRequest, "anchor_id and policy_id are required")
		return
	}

	sl, tok, err := s.buildOne(r.Context(), batch.Request(req))
	if err != nil {
		status, kind := mapError(err)
		respondError(w, status, kind, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sliceResponse{Slice: sl, Token: tok})
}

type batchRequest struct {
	Requests []batch.Request `json:"requests"`
}

type batchItem struct {
	Slice *model.Slice `json:"slice,omitempty"`
	Token string       `json:"token,omitempty"`
	Error *errorBody   `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

func (s *Server) handleSliceBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, kindBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Requests) == 0 {
		respondError(w, http.StatusBadRequest, kindBadRequest, "requests must be non-empty")
		return
	}

	results := s.batch.Run(r.Context(), req.Requests)
	metricBatchItems.Add(float64(len(results)))

	resp := batchResponse{Results: make([]batchItem, len(results))}
	for i, res := range results {
		if res.Err != nil {
			_, kind := mapError(res.Err)
			resp.Results[i] = batchItem{Error: &errorBody{Kind: kind, Message: res.Err.Error()}}
			continue
		}
		resp.Results[i] = batchItem{Slice: res.Slice, Token: res.Token}
	}
	respondJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason,omitempty"`
	PolicyID      string `json:"policy_id,omitempty"`
	PolicyVersion int    `json:"policy_version,omitempty"`
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, kindBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, kindBadRequest, "token is required")
		return
	}

	claims, err := s.tokens.Verify(req.Token)
	if err != nil {
		var reason string
		switch {
		case errors.Is(err, token.ErrExpired):
			reason = kindTokenExpired
		case errors.Is(err, token.ErrSignatureMismatch):
			reason = kindTokenSigMismatch
		default:
			reason = kindTokenMalformed
		}
		metricTokenVerifications.WithLabelValues(reason).Inc()
		respondJSON(w, http.StatusOK, verifyResponse{Valid: false, Reason: reason})
		return
	}

	metricTokenVerifications.WithLabelValues("valid").Inc()
	respondJSON(w, http.StatusOK, verifyResponse{
		Valid:         true,
		PolicyID:      claims.PolicyID,
		PolicyVersion: claims.PolicyVersion,
	})
}

// policySummary is the list/registration view of a policy; the window
// renders as a duration string rather than nanoseconds.
type policySummary struct {
	ID          string    `json:"id"`
	Version     int       `json:"version"`
	MaxWidth    int       `json:"max_width"`
	MaxWindow   string    `json:"max_window"`
	MinSalience float64   `json:"min_salience"`
	Ordering    string    `json:"ordering"`
	Predicate   string    `json:"predicate,omitempty"`
	FollowLinks bool      `json:"follow_links,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func summarize(p model.Policy) policySummary {
	return policySummary{
		ID:          p.ID,
		Version:     p.Version,
		MaxWidth:    p.MaxWidth,
		MaxWindow:   p.MaxWindow.String(),
		MinSalience: p.MinSalience,
		Ordering:    p.Ordering,
		Predicate:   p.Predicate,
		FollowLinks: p.FollowLinks,
		CreatedAt:   p.CreatedAt,
	}
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := s.registry.List()
	summaries := make([]policySummary, len(policies))
	for i, p := range policies {
		summaries[i] = summarize(p)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"policies": summaries})
}

func (s *Server) handleRegisterPolicy(w http.ResponseWriter, r *http.Request) {
	var spec model.PolicySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, kindBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := s.registry.Register(r.Context(), spec)
	if err != nil {
		status, kind := mapError(err)
		respondError(w, status, kind, err.Error())
		return
	}
	metricPoliciesRegistered.Set(float64(len(s.registry.List())))
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"policy_id": p.ID,
		"version":   p.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.health.Snapshot()
	status := http.StatusOK
	if !st.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, st)
}

func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	st := s.health.Snapshot()
	status := http.StatusOK
	if !st.Live {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]bool{"live": st.Live})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	st := s.health.Snapshot()
	status := http.StatusOK
	if !st.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]bool{"ready": st.Ready})
}

func (s *Server) handleHealthStartup(w http.ResponseWriter, r *http.Request) {
	st := s.health.Snapshot()
	status := http.StatusOK
	if !st.StartupComplete {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]bool{"startup_complete": st.StartupComplete})
}
