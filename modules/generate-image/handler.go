package generateimage

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dream-canvas-server/modules/auth"
	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/model"
	redisClient "dream-canvas-server/modules/common/redis"
	"dream-canvas-server/modules/common/response"
)

// maxGenerateBody - 10 MiB 이미지의 base64 + JSON 여유
const maxGenerateBody = 16 << 20

// GenerateRequest - POST /api/generate
type GenerateRequest struct {
	GenerationID  string `json:"generationId"`
	Prompt        string `json:"prompt"`
	Style         string `json:"style"`
	UploadedImage string `json:"uploadedImage,omitempty"`
}

// GenerateResponse - POST /api/generate 응답
type GenerateResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
}

// SubmitRequest - POST /api/generations, /api/generations/async
type SubmitRequest struct {
	Prompt        string `json:"prompt"`
	Style         string `json:"style"`
	UploadedImage string `json:"uploadedImage,omitempty"`
}

// SubmitResponse - 생성 레코드와 함께 응답
type SubmitResponse struct {
	Success       bool              `json:"success"`
	Generation    *model.Generation `json:"generation"`
	QueuePosition int64             `json:"queuePosition,omitempty"`
}

// Handler - 생성 관련 엔드포인트 (인증 필수 라우터에 등록)
type Handler struct {
	orch     *Orchestrator
	store    Store
	guard    redisClient.Locker
	guardTTL time.Duration
	queue    *Queue
	log      *zap.Logger
}

// NewHandler - guard는 사용자별 동시 제출 제한, queue는 nil 가능 (비동기 비활성)
func NewHandler(orch *Orchestrator, store Store, guard redisClient.Locker, queue *Queue) *Handler {
	if guard == nil {
		guard = redisClient.NewMemoryLocker()
	}
	return &Handler{
		orch:     orch,
		store:    store,
		guard:    guard,
		guardTTL: orch.opts.ModelTimeout + lockMargin,
		queue:    queue,
		log:      logger.Module("Generate"),
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/generate", h.HandleGenerate).Methods("POST")
	r.HandleFunc("/api/generations", h.HandleSubmit).Methods("POST")
	r.HandleFunc("/api/generations/async", h.HandleSubmitAsync).Methods("POST")
	h.log.Info("✅ Generate routes registered: /api/generate, /api/generations, /api/generations/async")
}

// HandleGenerate - POST /api/generate (기존 pending 레코드에 대해 오케스트레이터 실행)
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		response.Error(w, apperror.Authentication(""))
		return
	}

	var req GenerateRequest
	if err := response.DecodeJSON(w, r, maxGenerateBody, &req); err != nil {
		response.Error(w, err)
		return
	}

	gen, err := h.orch.Generate(r.Context(), user.ID, GenerateInput{
		GenerationID:  req.GenerationID,
		Prompt:        req.Prompt,
		Style:         model.Style(req.Style),
		UploadedImage: req.UploadedImage,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, GenerateResponse{Success: true, ImageURL: gen.Image()})
}

// HandleSubmit - POST /api/generations
// 검증 → pending 생성 → 오케스트레이터 실행. 사용자당 동시에 1건만 허용
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		response.Error(w, apperror.Authentication(""))
		return
	}

	var req SubmitRequest
	if err := response.DecodeJSON(w, r, maxGenerateBody, &req); err != nil {
		response.Error(w, err)
		return
	}
	input, err := validateInput(req.Prompt, model.Style(req.Style), req.UploadedImage)
	if err != nil {
		response.Error(w, err)
		return
	}

	release, acquired, err := h.guard.Acquire(r.Context(), submitKey(user.ID), h.guardTTL)
	if err != nil {
		h.log.Error("❌ [Generate] Failed to acquire submit guard", zap.Error(err))
		response.Error(w, apperror.Upstream(err))
		return
	}
	if !acquired {
		response.Error(w, apperror.Conflict(apperror.MsgInFlight))
		return
	}
	defer release()

	rec, err := h.store.CreateGeneration(r.Context(), user.ID, input.prompt, input.style)
	if err != nil {
		h.log.Error("❌ [Generate] Failed to create generation", zap.String("user_id", user.ID), zap.Error(err))
		response.Error(w, err)
		return
	}

	gen, err := h.orch.Generate(r.Context(), user.ID, GenerateInput{
		GenerationID:  rec.ID,
		Prompt:        input.prompt,
		Style:         input.style,
		UploadedImage: req.UploadedImage,
	})
	if err != nil {
		h.orch.MarkFailed(r.Context(), user.ID, rec.ID)
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, SubmitResponse{Success: true, Generation: gen})
}

// HandleSubmitAsync - POST /api/generations/async
// pending 생성 후 큐에 넣고 202 응답. 결과는 워커가 기록
func (h *Handler) HandleSubmitAsync(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		response.JSON(w, http.StatusServiceUnavailable, response.Envelope{
			Success: false,
			Error:   "Background generation is not available.",
		})
		return
	}

	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		response.Error(w, apperror.Authentication(""))
		return
	}

	var req SubmitRequest
	if err := response.DecodeJSON(w, r, maxGenerateBody, &req); err != nil {
		response.Error(w, err)
		return
	}
	input, err := validateInput(req.Prompt, model.Style(req.Style), req.UploadedImage)
	if err != nil {
		response.Error(w, err)
		return
	}

	rec, err := h.store.CreateGeneration(r.Context(), user.ID, input.prompt, input.style)
	if err != nil {
		response.Error(w, err)
		return
	}

	position, err := h.queue.Enqueue(r.Context(), Job{
		GenerationID:  rec.ID,
		UserID:        user.ID,
		Prompt:        input.prompt,
		Style:         input.style,
		UploadedImage: req.UploadedImage,
		EnqueuedAt:    time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("❌ [Generate] Failed to enqueue job", zap.String("generation_id", rec.ID), zap.Error(err))
		h.orch.MarkFailed(r.Context(), user.ID, rec.ID)
		response.Error(w, apperror.Upstream(err))
		return
	}

	h.log.Info("📥 [Generate] Job enqueued",
		zap.String("generation_id", rec.ID),
		zap.String("user_id", user.ID),
		zap.Int64("position", position))
	response.JSON(w, http.StatusAccepted, SubmitResponse{Success: true, Generation: rec, QueuePosition: position})
}

func submitKey(userID string) string {
	return "generation:submit:" + userID
}
