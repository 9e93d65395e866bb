package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"

	"ams-control-plane/backend/internal/access"
	accessservice "ams-control-plane/backend/internal/access/service"
	"ams-control-plane/backend/internal/apperr"
	identityservice "ams-control-plane/backend/internal/identity/service"
	"ams-control-plane/backend/internal/observability/logger"
	verificationservice "ams-control-plane/backend/internal/verification/service"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// decodeJSON reads the request body into v. Unknown fields are ignored; an empty body leaves v
// untouched. Returns false after writing a 400 when the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return false
	}
	return true
}

// classify maps err to an HTTP status, a stable code and a caller-facing message.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, apperr.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, apperr.Code(err), "storage unavailable, try again later"
	case errors.Is(err, verificationservice.ErrDeliveryFailed):
		return http.StatusBadGateway, "delivery_failed", "verification code could not be delivered"
	case errors.Is(err, verificationservice.ErrNoTarget):
		return http.StatusBadRequest, "no_target", "identity has no address for this channel"
	case errors.Is(err, identityservice.ErrIdentityNotFound), errors.Is(err, verificationservice.ErrUnknownIdentity):
		return http.StatusNotFound, "identity_not_found", "identity not found"
	case errors.Is(err, identityservice.ErrAlreadyVerified):
		return http.StatusConflict, "already_verified", err.Error()
	case errors.Is(err, accessservice.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found", "subscription not found"
	case errors.Is(err, access.ErrUnknownModule):
		return http.StatusNotFound, "module_not_found", "module not found"
	}

	code := apperr.Code(err)
	switch code {
	case "invalid_credentials", "token_revoked", "token_invalid_or_expired":
		return http.StatusUnauthorized, code, err.Error()
	case "invalid_or_expired_code":
		return http.StatusBadRequest, code, err.Error()
	case "unverified_identity", "module_access_denied", "limit_exceeded":
		return http.StatusForbidden, code, err.Error()
	case "duplicate_identifier", "cyclic_parent_assignment":
		return http.StatusConflict, code, err.Error()
	}
	return http.StatusInternalServerError, apperr.CodeUnknown, "internal error"
}

// writeError writes the JSON error body for err. Validation failures list the offending fields.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for k, e := range verrs {
			fields[k] = e.Error()
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Message: "request is invalid", Fields: fields})
		return
	}

	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		logger.From(r.Context()).Error("request failed", logger.String("code", code), logger.Err(err))
	}
	writeErrorCode(w, status, code, msg)
}
