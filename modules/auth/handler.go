package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/model"
	"dream-canvas-server/modules/common/response"
)

const maxAuthBody = 16 << 10

// ProfileReader - 세션 조회 시 프로필 포함용
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// Handler - /api/auth/* 엔드포인트
type Handler struct {
	backend  Backend
	resolver *SessionResolver
	profiles ProfileReader
	log      *zap.Logger
}

// SessionResponse - 인증 응답
type SessionResponse struct {
	Success              bool           `json:"success"`
	AlreadySignedIn      bool           `json:"alreadySignedIn,omitempty"`
	ConfirmationRequired bool           `json:"confirmationRequired,omitempty"`
	User                 *model.User    `json:"user,omitempty"`
	Session              *model.Session `json:"session,omitempty"`
	Profile              *model.Profile `json:"profile,omitempty"`
}

// RefreshRequest - 토큰 갱신 요청
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// NewHandler - profiles는 nil 가능
func NewHandler(backend Backend, resolver *SessionResolver, profiles ProfileReader) *Handler {
	return &Handler{
		backend:  backend,
		resolver: resolver,
		profiles: profiles,
		log:      logger.Module("Auth"),
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/auth/signup", h.HandleSignUp).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/auth/signin", h.HandleSignIn).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/auth/refresh", h.HandleRefresh).Methods("POST", "OPTIONS")
	r.Handle("/api/auth/signout", h.resolver.RequireUser(http.HandlerFunc(h.HandleSignOut))).Methods("POST")
	r.Handle("/api/auth/session", h.resolver.RequireUser(http.HandlerFunc(h.HandleSession))).Methods("GET")
	h.log.Info("✅ Auth routes registered: /api/auth/{signup,signin,refresh,signout,session}")
}

// HandleSignUp - POST /api/auth/signup
func (h *Handler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	if h.redirectIfSignedIn(w, r) {
		return
	}

	var form SignUpForm
	if err := response.DecodeJSON(w, r, maxAuthBody, &form); err != nil {
		response.Error(w, err)
		return
	}
	form.Normalize()
	if err := ValidateForm(&form); err != nil {
		response.Error(w, err)
		return
	}

	user, session, err := h.backend.SignUp(r.Context(), form.Email, form.Password, form.DisplayName)
	if err != nil {
		h.log.Warn("⚠️  [Auth] Sign-up failed", zap.String("email", form.Email), zap.Error(err))
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, SessionResponse{
		Success:              true,
		ConfirmationRequired: session == nil,
		User:                 user,
		Session:              session,
	})
}

// HandleSignIn - POST /api/auth/signin
func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	if h.redirectIfSignedIn(w, r) {
		return
	}

	var form SignInForm
	if err := response.DecodeJSON(w, r, maxAuthBody, &form); err != nil {
		response.Error(w, err)
		return
	}
	form.Normalize()
	if err := ValidateForm(&form); err != nil {
		response.Error(w, err)
		return
	}

	session, err := h.backend.SignIn(r.Context(), form.Email, form.Password)
	if err != nil {
		h.log.Warn("⚠️  [Auth] Sign-in failed", zap.String("email", form.Email), zap.Error(err))
		response.Error(w, err)
		return
	}

	h.log.Info("🔑 [Auth] Signed in", zap.String("user_id", session.User.ID))
	user := session.User
	response.JSON(w, http.StatusOK, SessionResponse{Success: true, User: &user, Session: session})
}

// HandleRefresh - POST /api/auth/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := response.DecodeJSON(w, r, maxAuthBody, &req); err != nil {
		response.Error(w, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		response.Error(w, apperror.Validation("refreshToken is required"))
		return
	}

	session, err := h.backend.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		response.Error(w, err)
		return
	}
	user := session.User
	response.JSON(w, http.StatusOK, SessionResponse{Success: true, User: &user, Session: session})
}

// HandleSignOut - POST /api/auth/signout
func (h *Handler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)
	if err := h.backend.SignOut(r.Context(), token); err != nil {
		// 서버 측 세션이 이미 만료된 경우에도 로컬 캐시는 정리
		h.log.Warn("⚠️  [Auth] Sign-out failed", zap.Error(err))
	}
	h.resolver.Forget(r.Context(), token)

	response.JSON(w, http.StatusOK, response.Envelope{Success: true})
}

// HandleSession - GET /api/auth/session
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	resp := SessionResponse{Success: true, User: &user}
	if h.profiles != nil {
		profile, err := h.profiles.GetProfile(r.Context(), user.ID)
		if err != nil {
			h.log.Warn("⚠️  [Auth] Profile lookup failed", zap.String("user_id", user.ID), zap.Error(err))
		} else {
			resp.Profile = profile
		}
	}
	response.JSON(w, http.StatusOK, resp)
}

// redirectIfSignedIn - 이미 유효한 세션이면 백엔드 호출 없이 현재 사용자 반환
func (h *Handler) redirectIfSignedIn(w http.ResponseWriter, r *http.Request) bool {
	token := TokenFromRequest(r)
	if token == "" {
		return false
	}
	user, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		return false
	}
	response.JSON(w, http.StatusOK, SessionResponse{Success: true, AlreadySignedIn: true, User: user})
	return true
}
