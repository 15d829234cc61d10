package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rcliao/slicegate/internal/policy"
	"github.com/rcliao/slicegate/internal/slice"
	"github.com/rcliao/slicegate/internal/store"
	"github.com/rcliao/slicegate/internal/token"
)

// Stable error kind strings surfaced in the error envelope.
const (
	kindAnchorNotFound      = "anchor_not_found"
	kindPolicyNotFound      = "policy_not_found"
	kindInvalidPolicySchema = "invalid_policy_schema"
	kindStoreUnavailable    = "store_unavailable"
	kindTokenMalformed      = "token_malformed"
	kindTokenSigMismatch    = "token_signature_mismatch"
	kindTokenExpired        = "token_expired"
	kindBadRequest          = "bad_request"
	kindNotFound            = "not_found"
	kindCancelled           = "cancelled"
	kindInternal            = "internal"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, errorEnvelope{Error: errorBody{Kind: kind, Message: message}})
}

// mapError translates component errors to a status code and a stable
// kind string. Every error reaching the boundary is surfaced; nothing
// is swallowed into a generic validation failure.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, slice.ErrAnchorNotFound):
		return http.StatusNotFound, kindAnchorNotFound
	case errors.Is(err, policy.ErrNotFound):
		return http.StatusNotFound, kindPolicyNotFound
	case errors.Is(err, policy.ErrInvalidSchema):
		return http.StatusBadRequest, kindInvalidPolicySchema
	case errors.Is(err, policy.ErrNotLoaded):
		return http.StatusServiceUnavailable, kindStoreUnavailable
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, kindStoreUnavailable
	case errors.Is(err, token.ErrMalformed):
		return http.StatusBadRequest, kindTokenMalformed
	case errors.Is(err, token.ErrSignatureMismatch):
		return http.StatusBadRequest, kindTokenSigMismatch
	case errors.Is(err, token.ErrExpired):
		return http.StatusBadRequest, kindTokenExpired
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, kindCancelled
	default:
		return http.StatusInternalServerError, kindInternal
	}
}
