package generateimage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/model"
	redisClient "dream-canvas-server/modules/common/redis"
	"dream-canvas-server/modules/common/utils"
)

const (
	// lockMargin - 모델 타임아웃 이후 DB 기록까지의 여유
	lockMargin = 30 * time.Second
	// terminalWriteTimeout - 요청 ctx 취소 후에도 failed 기록을 보장하기 위한 제한 시간
	terminalWriteTimeout = 10 * time.Second
)

// Store - generations 테이블 접근 (항상 user_id 범위)
type Store interface {
	CreateGeneration(ctx context.Context, userID, prompt string, style model.Style) (*model.Generation, error)
	GetGeneration(ctx context.Context, userID, id string) (*model.Generation, error)
	UpdateGeneration(ctx context.Context, userID, id string, upd model.GenerationUpdate) (*model.Generation, bool, error)
	FailStalePending(ctx context.Context, olderThan time.Time) (int, error)
}

// Credits - 크레딧 확인/차감
type Credits interface {
	EnsureAvailable(ctx context.Context, userID string) (*model.Profile, error)
	DeductCredits(ctx context.Context, userID, generationID string) error
}

// Notifier - 갤러리 새로고침 신호
type Notifier interface {
	Bump(ctx context.Context, userID string) (int64, error)
}

// Transcoder - 저장 전 이미지 재인코딩 (WebP)
type Transcoder func(data []byte, quality float32) ([]byte, error)

// Options - Orchestrator 동작 설정
type Options struct {
	ModelTimeout time.Duration
	OutputWebP   bool
	WebPQuality  float32
	Transcode    Transcoder
}

// GenerateInput - 생성 요청 (레코드는 이미 pending으로 존재)
type GenerateInput struct {
	GenerationID  string
	Prompt        string
	Style         model.Style
	UploadedImage string // data URI, 선택
}

// Orchestrator - 생성 1건의 검증, 모델 호출, 종료 상태 기록을 담당.
// 종료 상태(completed/failed)는 항상 여기서 한 번만 기록
type Orchestrator struct {
	store    Store
	credits  Credits
	locker   redisClient.Locker
	model    ImageModel
	notifier Notifier
	opts     Options
	log      *zap.Logger
}

// NewOrchestrator - notifier는 nil 가능
func NewOrchestrator(store Store, credits Credits, locker redisClient.Locker, imageModel ImageModel, notifier Notifier, opts Options) *Orchestrator {
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 120 * time.Second
	}
	if locker == nil {
		locker = redisClient.NewMemoryLocker()
	}
	return &Orchestrator{
		store:    store,
		credits:  credits,
		locker:   locker,
		model:    imageModel,
		notifier: notifier,
		opts:     opts,
		log:      logger.Module("Orchestrator"),
	}
}

// validatedInput - 네트워크 호출 전 검증 결과
type validatedInput struct {
	prompt    string
	style     model.Style
	imageMIME string
	imageData []byte
}

// validateInput - 프롬프트와 업로드 이미지 검증 (네트워크 호출 없음)
func validateInput(prompt string, style model.Style, uploadedImage string) (*validatedInput, error) {
	trimmed, err := ValidatePrompt(prompt)
	if err != nil {
		return nil, err
	}
	in := &validatedInput{prompt: trimmed, style: style.OrDefault()}
	if uploadedImage != "" {
		mime, data, err := utils.ValidateUpload(uploadedImage)
		if err != nil {
			return nil, err
		}
		in.imageMIME, in.imageData = mime, data
	}
	return in, nil
}

// Generate - 이미지 생성 후 completed 레코드 반환.
// 이미 completed면 모델 호출 없이 기존 결과, 이미 failed면 UpstreamError
func (o *Orchestrator) Generate(ctx context.Context, userID string, in GenerateInput) (*model.Generation, error) {
	if in.GenerationID == "" {
		return nil, apperror.Validation("generationId is required")
	}
	input, err := validateInput(in.Prompt, in.Style, in.UploadedImage)
	if err != nil {
		return nil, err
	}

	log := o.log.With(zap.String("generation_id", in.GenerationID), zap.String("user_id", userID))

	rec, err := o.store.GetGeneration(ctx, userID, in.GenerationID)
	if err != nil {
		return nil, err
	}
	if rec.IsTerminal() {
		log.Info("⏭️  [Orchestrator] Generation already terminal", zap.String("status", rec.Status))
		return terminalResult(rec)
	}

	// 여기부터는 소유권이 확인된 pending 레코드이므로 실패 시 failed로 기록
	release, ok, err := o.locker.Acquire(ctx, lockKey(in.GenerationID), o.opts.ModelTimeout+lockMargin)
	if err != nil {
		log.Error("❌ [Orchestrator] Failed to acquire generation lock", zap.Error(err))
		o.MarkFailed(ctx, userID, in.GenerationID)
		return nil, apperror.Upstream(fmt.Errorf("failed to acquire generation lock: %w", err))
	}
	if !ok {
		log.Warn("🔒 [Orchestrator] Generation already running")
		return nil, apperror.Conflict(apperror.MsgInFlight)
	}
	defer release()

	// 잠금 획득 전에 다른 호출이 끝났을 수 있음
	rec, err = o.store.GetGeneration(ctx, userID, in.GenerationID)
	if err != nil {
		o.MarkFailed(ctx, userID, in.GenerationID)
		return nil, err
	}
	if rec.IsTerminal() {
		return terminalResult(rec)
	}

	log.Info("🚀 [Orchestrator] Generation started",
		zap.String("style", string(input.style)),
		zap.Bool("edit_mode", input.imageData != nil),
		zap.String("model", o.model.Name()))
	start := time.Now()

	imageURL, err := o.produce(ctx, userID, input)
	if err != nil {
		log.Error("❌ [Orchestrator] Generation failed",
			zap.String("error_code", string(apperror.KindOf(err))),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		o.MarkFailed(ctx, userID, in.GenerationID)
		return nil, err
	}

	wctx, cancel := terminalContext(ctx)
	defer cancel()

	updated, applied, err := o.store.UpdateGeneration(wctx, userID, in.GenerationID,
		model.GenerationUpdate{Status: model.StatusCompleted, ImageURL: imageURL})
	if err != nil {
		log.Error("❌ [Orchestrator] Failed to store result", zap.Error(err))
		o.MarkFailed(ctx, userID, in.GenerationID)
		return nil, apperror.Upstream(err)
	}
	if !applied {
		// 스위퍼 등이 먼저 종료 상태로 바꾼 경우
		log.Warn("⚠️  [Orchestrator] Generation became terminal while running", zap.String("status", updated.Status))
		return terminalResult(updated)
	}

	log.Info("✅ [Orchestrator] Generation completed", zap.Duration("elapsed", time.Since(start)))

	if err := o.credits.DeductCredits(wctx, userID, in.GenerationID); err != nil {
		log.Error("❌ [Orchestrator] Failed to deduct credits", zap.Error(err))
	}
	o.notify(wctx, userID)
	return updated, nil
}

// produce - 크레딧 확인, 프롬프트 구성, 모델 호출, 재인코딩
func (o *Orchestrator) produce(ctx context.Context, userID string, input *validatedInput) (string, error) {
	if _, err := o.credits.EnsureAvailable(ctx, userID); err != nil {
		return "", err
	}

	req := ImageRequest{
		Prompt:    BuildPrompt(input.prompt, input.style),
		ImageMIME: input.imageMIME,
		ImageData: input.imageData,
	}

	mctx, cancel := context.WithTimeout(ctx, o.opts.ModelTimeout)
	defer cancel()

	result, err := o.model.GenerateImage(mctx, req)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindUnknown {
			return "", apperror.Upstream(err)
		}
		return "", err
	}
	if result == nil || len(result.Data) == 0 {
		return "", apperror.Upstream(errors.New("model returned no image"))
	}

	mime, data := result.MIME, result.Data
	if o.opts.OutputWebP && o.opts.Transcode != nil && mime != "image/webp" {
		converted, err := o.opts.Transcode(data, o.opts.WebPQuality)
		if err != nil {
			o.log.Warn("⚠️  [Orchestrator] WebP conversion failed, storing original", zap.Error(err))
		} else {
			mime, data = "image/webp", converted
		}
	}
	return utils.BuildDataURI(mime, data), nil
}

// MarkFailed - failed 기록 (이미 종료 상태면 no-op)
func (o *Orchestrator) MarkFailed(ctx context.Context, userID, id string) {
	wctx, cancel := terminalContext(ctx)
	defer cancel()

	if _, _, err := o.store.UpdateGeneration(wctx, userID, id,
		model.GenerationUpdate{Status: model.StatusFailed}); err != nil {
		o.log.Error("❌ [Orchestrator] Failed to mark generation failed",
			zap.String("generation_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, userID string) {
	if o.notifier == nil {
		return
	}
	if _, err := o.notifier.Bump(ctx, userID); err != nil {
		o.log.Warn("⚠️  [Orchestrator] Failed to bump refresh counter", zap.String("user_id", userID), zap.Error(err))
	}
}

// terminalResult - 종료된 레코드의 결과 (completed면 그대로, failed면 에러)
func terminalResult(rec *model.Generation) (*model.Generation, error) {
	if rec.Status == model.StatusCompleted {
		return rec, nil
	}
	return nil, apperror.Upstream(errors.New("generation already failed"))
}

// terminalContext - 요청이 취소돼도 종료 상태 기록은 완료되도록 분리된 ctx
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func lockKey(generationID string) string {
	return "generation:lock:" + generationID
}
