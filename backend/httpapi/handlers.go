package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/goElevate/backend"
)

const maxBodyBytes = 16 << 10

type loginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	ChallengeToken string `json:"challengeToken"`
}

type loginResponse struct {
	Success           bool   `json:"success"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	UserID            string `json:"userId"`
	Token             string `json:"token"`
	identityFields
}

type identityFields struct {
	Username           string `json:"username,omitempty"`
	IsAdmin            bool   `json:"isAdmin"`
	IsEmployee         bool   `json:"isEmployee"`
	IsContractor       bool   `json:"isContractor"`
	VerificationStatus string `json:"verificationStatus,omitempty"`
}

func identityOf(id *backend.Identity) identityFields {
	if id == nil {
		return identityFields{}
	}
	return identityFields{
		Username:           id.Username,
		IsAdmin:            id.IsAdmin,
		IsEmployee:         id.IsEmployee,
		IsContractor:       id.IsContractor,
		VerificationStatus: id.VerificationStatus,
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return backend.ErrInvalidInput
	}
	return nil
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err, nil, nil)
		return
	}
	res, err := s.svc.Login(r.Context(), backend.LoginInput{
		Username:     req.Username,
		Password:     req.Password,
		CaptchaToken: req.ChallengeToken,
		IP:           clientIP(r),
	})
	if err != nil {
		writeError(w, err, &res, nil)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Success:           true,
		RequiresTwoFactor: res.RequiresTwoFactor,
		UserID:            res.UserID,
		Token:             res.Token,
		identityFields:    identityOf(res.User),
	})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Logout(r.Context(), tokenFrom(r.Context())); err != nil {
		writeError(w, err, nil, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type verifyRequest struct {
	UserID     string `json:"userId"`
	Code       string `json:"code"`
	BackupCode string `json:"backupCode"`
}

type verifyResponse struct {
	Success   bool   `json:"success"`
	UserID    string `json:"userId"`
	ReturnURL string `json:"returnUrl"`
}

func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err, nil, nil)
		return
	}
	method, code := backend.MethodTOTP, strings.TrimSpace(req.Code)
	if req.BackupCode != "" {
		method, code = backend.MethodBackup, req.BackupCode
	}
	if code == "" {
		writeError(w, backend.ErrInvalidInput, nil, nil)
		return
	}

	token := tokenFrom(r.Context())
	view, err := s.svc.SessionView(r.Context(), token)
	if err != nil {
		writeError(w, err, nil, nil)
		return
	}
	if !view.Authenticated {
		writeError(w, backend.ErrUnauthenticated, nil, nil)
		return
	}
	if req.UserID != "" && req.UserID != view.User.ID {
		writeError(w, backend.ErrInvalidInput, nil, nil)
		return
	}

	res, err := s.svc.VerifyTwoFactor(r.Context(), token, method, code)
	if err != nil {
		writeError(w, err, nil, &res)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Success: true, UserID: view.User.ID, ReturnURL: s.returnTo})
}

type elevateRequest struct {
	UserID   string `json:"userId"`
	Verified bool   `json:"verified"`
}

func (s *server) handleElevate(w http.ResponseWriter, r *http.Request) {
	var req elevateRequest
	if err := decode(r, &req); err != nil || !req.Verified {
		writeError(w, backend.ErrInvalidInput, nil, nil)
		return
	}
	view, err := s.svc.ElevateSession(r.Context(), tokenFrom(r.Context()))
	if err != nil {
		writeError(w, err, nil, nil)
		return
	}
	if req.UserID != "" && view.User != nil && req.UserID != view.User.ID {
		writeError(w, backend.ErrInvalidInput, nil, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type sessionResponse struct {
	Authenticated     bool   `json:"authenticated"`
	TwoFactorEnabled  bool   `json:"twoFactorEnabled"`
	TwoFactorVerified bool   `json:"twoFactorVerified"`
	ID                string `json:"id,omitempty"`
	identityFields
}

// handleSession answers with an unauthenticated view when no token is sent.
func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r.Header.Get("Authorization"))
	view, err := s.svc.SessionView(r.Context(), token)
	if err != nil {
		writeError(w, err, nil, nil)
		return
	}
	resp := sessionResponse{
		Authenticated:     view.Authenticated,
		TwoFactorEnabled:  view.TwoFactorEnabled,
		TwoFactorVerified: view.TwoFactorVerified,
		identityFields:    identityOf(view.User),
	}
	if view.User != nil {
		resp.ID = view.User.ID
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSetup(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.BeginSetup(r.Context(), tokenFrom(r.Context()))
	if err != nil {
		writeError(w, err, nil, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": res.Secret, "qrPayload": res.QRPayload})
}

type codeRequest struct {
	Code       string `json:"code"`
	BackupCode string `json:"backupCode"`
}

type backupCodesResponse struct {
	Success     bool     `json:"success"`
	BackupCodes []string `json:"backupCodes"`
}

func (s *server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decode(r, &req); err != nil || req.Code == "" {
		writeError(w, backend.ErrInvalidInput, nil, nil)
		return
	}
	codes, err := s.svc.ConfirmSetup(r.Context(), tokenFrom(r.Context()), req.Code)
	if err != nil {
		writeError(w, err, nil, nil)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{Success: true, BackupCodes: codes})
}

func (s *server) handleDisable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err, nil, nil)
		return
	}
	code, useBackup := req.Code, false
	if req.BackupCode != "" {
		code, useBackup = req.BackupCode, true
	}
	if code == "" {
		writeError(w, backend.ErrInvalidInput, nil, nil)
		return
	}
	if err := s.svc.DisableTwoFactor(r.Context(), tokenFrom(r.Context()), code, useBackup); err != nil {
		writeError(w, err, nil, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	codes, err := s.svc.RegenerateBackupCodes(r.Context(), tokenFrom(r.Context()))
	if err != nil {
		writeError(w, err, nil, nil)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{Success: true, BackupCodes: codes})
}
