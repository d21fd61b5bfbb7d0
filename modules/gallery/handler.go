package gallery

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dream-canvas-server/modules/auth"
	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/model"
	"dream-canvas-server/modules/common/response"
	"dream-canvas-server/modules/common/utils"
)

const filenamePromptRunes = 30

// Store - 소유자 제한된 generations 조회/삭제
type Store interface {
	ListGenerations(ctx context.Context, userID string, limit int) ([]model.Generation, error)
	GetGeneration(ctx context.Context, userID, id string) (*model.Generation, error)
	DeleteGeneration(ctx context.Context, userID, id string) error
}

// ImageFetcher - image_url → (mime, bytes)
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (string, []byte, error)
}

// Notifier - 갤러리 새로고침 신호
type Notifier interface {
	Bump(ctx context.Context, userID string) (int64, error)
}

// ListResponse - GET /api/generations
type ListResponse struct {
	Success     bool               `json:"success"`
	Generations []model.Generation `json:"generations"`
}

type Handler struct {
	store    Store
	fetcher  ImageFetcher
	notifier Notifier
	log      *zap.Logger
}

func NewHandler(store Store, fetcher ImageFetcher, notifier Notifier) *Handler {
	return &Handler{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		log:      logger.Module("Gallery"),
	}
}

// RegisterRoutes - 인증된 서브라우터에 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/generations", h.HandleList).Methods("GET")
	r.HandleFunc("/api/generations/{id}", h.HandleDelete).Methods("DELETE")
	r.HandleFunc("/api/generations/{id}/download", h.HandleDownload).Methods("GET")
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		response.Error(w, apperror.Authentication(""))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(w, apperror.Validation("limit must be a number"))
			return
		}
		limit = n
	}

	gens, err := h.store.ListGenerations(r.Context(), user.ID, limit)
	if err != nil {
		h.log.Error("❌ [Gallery] Failed to list generations", zap.String("user_id", user.ID), zap.Error(err))
		response.Error(w, err)
		return
	}
	if gens == nil {
		gens = []model.Generation{}
	}
	response.JSON(w, http.StatusOK, ListResponse{Success: true, Generations: gens})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		response.Error(w, apperror.Authentication(""))
		return
	}
	id := mux.Vars(r)["id"]

	if err := h.store.DeleteGeneration(r.Context(), user.ID, id); err != nil {
		if !apperror.Is(err, apperror.KindAuthorization) {
			h.log.Error("❌ [Gallery] Failed to delete generation",
				zap.String("generation_id", id),
				zap.String("user_id", user.ID),
				zap.Error(err))
		}
		response.Error(w, err)
		return
	}

	if _, err := h.notifier.Bump(r.Context(), user.ID); err != nil {
		h.log.Warn("⚠️  [Gallery] Failed to bump refresh counter", zap.String("user_id", user.ID), zap.Error(err))
	}
	response.JSON(w, http.StatusOK, response.Envelope{Success: true})
}

func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		response.Error(w, apperror.Authentication(""))
		return
	}
	id := mux.Vars(r)["id"]

	gen, err := h.store.GetGeneration(r.Context(), user.ID, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	if gen.Image() == "" {
		response.Error(w, apperror.NotFound(apperror.MsgNoImage))
		return
	}

	mime, data, err := h.fetcher.FetchImage(r.Context(), gen.Image())
	if err != nil {
		h.log.Error("❌ [Gallery] Failed to fetch image",
			zap.String("generation_id", id),
			zap.Error(err))
		response.Error(w, apperror.Wrap(err, apperror.KindUpstream, "Failed to download image. Please try again."))
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, DownloadFilename(gen.Prompt, mime)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DownloadFilename - 프롬프트 앞 30자를 파일명으로 (영숫자 외에는 '-')
func DownloadFilename(prompt, mime string) string {
	runes := []rune(strings.TrimSpace(prompt))
	if len(runes) > filenamePromptRunes {
		runes = runes[:filenamePromptRunes]
	}

	var b strings.Builder
	dash := false
	for _, r := range runes {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToLower(r))
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	name := strings.TrimRight(b.String(), "-")
	if name == "" {
		name = "generation"
	}
	return name + "." + utils.ExtensionForMIME(mime)
}
