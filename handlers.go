package gedauth

import (
	"net/http"
	"strings"
)

// ==================== PUBLIC ====================

func (s *AuthService) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	result, err := s.Register(withClientMeta(r), RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *AuthService) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "email and password are required")
		return
	}

	result, err := s.Login(withClientMeta(r), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *AuthService) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	pair, err := s.CompleteMFAChallenge(withClientMeta(r), req.AccountID, req.PendingToken, req.Code)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (s *AuthService) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "refresh_token is required")
		return
	}

	pair, err := s.Refresh(withClientMeta(r), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// ==================== AUTHENTICATED ====================

func (s *AuthService) handleMe(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountIDFromContext(r.Context())

	account, err := s.Me(r.Context(), accountID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (s *AuthService) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := GetAccountIDFromContext(ctx)

	if err := s.Logout(ctx, tokenFromContext(ctx), accountID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (s *AuthService) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := GetAccountIDFromContext(ctx)

	var req changePasswordRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	if err := s.ChangePassword(ctx, accountID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "password changed, please sign in again"})
}

func (s *AuthService) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := GetAccountIDFromContext(ctx)

	setup, err := s.SetupMFA(ctx, accountID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, setup)
}

func (s *AuthService) handleMFAEnable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := GetAccountIDFromContext(ctx)

	var req mfaCodeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	if err := s.EnableMFA(ctx, accountID, req.Code); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "two-factor authentication enabled"})
}

func (s *AuthService) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := GetAccountIDFromContext(ctx)

	var req mfaCodeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	if err := s.DisableMFA(ctx, accountID, req.Code); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "two-factor authentication disabled"})
}
