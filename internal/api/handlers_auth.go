package api

import (
	"net/http"
	"time"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/auth"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginUser struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	Role           string  `json:"role"`
	DefaultView    *string `json:"default_view"`
	SingleViewMode bool    `json:"single_view_mode"`
}

type loginResponse struct {
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         loginUser `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.auth.Login(r.Context(), req.Username, req.Password, req.RememberMe, requestMeta(r))
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken: result.Token,
		ExpiresAt:    result.Session.ExpiresAt,
		User: loginUser{
			ID:             result.User.ID,
			Username:       result.User.Username,
			Role:           string(result.User.Role),
			DefaultView:    result.User.DefaultView,
			SingleViewMode: result.User.SingleViewMode,
		},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), extractToken(r), requestMeta(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

type createUserRequest struct {
	Username       string  `json:"username"`
	Password       string  `json:"password"`
	Role           string  `json:"role"`
	DefaultView    *string `json:"default_view"`
	SingleViewMode bool    `json:"single_view_mode"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	role, ok := models.NormalizeRole(req.Role)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "role must be viewer or admin")
		return
	}

	user, err := s.auth.CreateUser(r.Context(), auth.CreateUserInput{
		Username:       req.Username,
		Password:       req.Password,
		Role:           role,
		DefaultView:    req.DefaultView,
		SingleViewMode: req.SingleViewMode,
	}, currentUser(r), requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type updateUserRequest struct {
	Password       *string `json:"password"`
	Role           *string `json:"role"`
	DefaultView    *string `json:"default_view"`
	SingleViewMode *bool   `json:"single_view_mode"`
	IsActive       *bool   `json:"is_active"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	input := auth.UpdateUserInput{
		Password:       req.Password,
		DefaultView:    req.DefaultView,
		SingleViewMode: req.SingleViewMode,
		IsActive:       req.IsActive,
	}
	if req.Role != nil {
		role, ok := models.NormalizeRole(*req.Role)
		if !ok {
			writeDetail(w, http.StatusUnprocessableEntity, "role must be viewer or admin")
			return
		}
		input.Role = &role
	}

	user, err := s.auth.UpdateUser(r.Context(), r.PathValue("id"), input, currentUser(r), requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.DeleteUser(r.Context(), r.PathValue("id"), currentUser(r), requestMeta(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.auth.ListActiveSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.auth.ListAuditEvents(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
