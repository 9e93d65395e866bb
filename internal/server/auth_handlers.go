package server

import (
	"net/http"
	"time"

	identitydomain "ams-control-plane/backend/internal/identity/domain"
	identityservice "ams-control-plane/backend/internal/identity/service"
	verificationdomain "ams-control-plane/backend/internal/verification/domain"
)

type signinRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Device     string `json:"device"`
	Browser    string `json:"browser"`
}

type unverifiedResponse struct {
	Message       string `json:"message"`
	EmailVerified bool   `json:"email_verified"`
	Email         string `json:"email"`
	UserID        string `json:"user_id"`
}

type signupResponse struct {
	User         identitydomain.Summary `json:"user"`
	Verification struct {
		Channel   verificationdomain.Channel `json:"channel"`
		ExpiresAt *time.Time                 `json:"expires_at,omitempty"`
		Sent      bool                       `json:"sent"`
	} `json:"verification"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	Device  string `json:"device"`
	Browser string `json:"browser"`
}

type sendVerificationRequest struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
	Method     string `json:"method"`
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

type sessionView struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Browser    string    `json:"browser"`
	Origin     string    `json:"origin"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var in identityservice.SignupInput
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.auth.Signup(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var out signupResponse
	out.User = res.User
	out.Verification.Channel = res.VerificationChannel
	out.Verification.Sent = res.VerificationSent
	if !res.VerificationExpiresAt.IsZero() {
		exp := res.VerificationExpiresAt
		out.Verification.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handler) signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ri, _ := GetRequestInfo(r.Context())
	res, err := h.auth.Signin(r.Context(), req.Identifier, req.Password, ri.Fingerprint(req.Device, req.Browser))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Unverified {
		writeJSON(w, http.StatusOK, unverifiedResponse{
			Message:       "email address is not verified; a verification link has been sent",
			EmailVerified: false,
			Email:         res.Email,
			UserID:        res.IdentityID,
		})
		return
	}
	writeJSON(w, http.StatusOK, res.Tokens)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller, _ := GetCaller(r.Context())
	ri, _ := GetRequestInfo(r.Context())
	if err := h.auth.Logout(r.Context(), caller.IdentityID, caller.AccessToken, ri.Fingerprint(req.Device, req.Browser)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *handler) tokenStatus(w http.ResponseWriter, r *http.Request) {
	token := extractBearer(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	st, err := h.auth.TokenStatus(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) sendVerification(w http.ResponseWriter, r *http.Request) {
	var req sendVerificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Channel == "" {
		req.Channel = string(verificationdomain.ChannelEmail)
	}
	if req.Method == "" {
		req.Method = string(verificationdomain.MethodOTP)
	}
	channel, err := verificationdomain.ParseChannel(req.Channel)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	method, err := verificationdomain.ParseMethod(req.Method)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Identifier == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "identifier is required")
		return
	}
	res, err := h.auth.SendVerification(r.Context(), req.Identifier, channel, method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.VerifyEmail(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	caller, _ := GetCaller(r.Context())
	list, err := h.auth.ListSessions(r.Context(), caller.IdentityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:         s.ID,
			Device:     s.Fingerprint.Device,
			Browser:    s.Fingerprint.Browser,
			Origin:     s.Fingerprint.Origin,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.LastSeenAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *handler) devVerificationCode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel, err := verificationdomain.ParseChannel(q.Get("channel"))
	if err != nil {
		channel = verificationdomain.ChannelEmail
	}
	target := q.Get("target")
	code, kind, ok := h.devCodes.Get(r.Context(), string(channel), target)
	if !ok {
		writeErrorCode(w, http.StatusNotFound, "not_found", "no code captured for target")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code, "kind": string(kind)})
}
