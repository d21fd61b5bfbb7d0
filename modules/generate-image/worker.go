package generateimage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
)

const (
	dequeueTimeout = 5 * time.Second
	dequeueBackoff = 5 * time.Second
)

// Worker - 큐 감시 후 작업마다 오케스트레이터 실행 (동시 실행 수 제한)
type Worker struct {
	queue       *Queue
	orch        *Orchestrator
	concurrency int
	log         *zap.Logger
}

// NewWorker - concurrency는 최소 1
func NewWorker(queue *Queue, orch *Orchestrator, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       queue,
		orch:        orch,
		concurrency: concurrency,
		log:         logger.Module("Worker"),
	}
}

// Run - ctx가 취소될 때까지 큐 감시. 반환 전 진행 중인 작업을 기다림
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("👀 [Worker] Watching queue",
		zap.String("queue", w.queue.key),
		zap.Int("concurrency", w.concurrency))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			w.log.Info("🛑 [Worker] Stopping")
			return
		}

		job, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				w.log.Info("🛑 [Worker] Stopping")
				return
			}
			if errors.Is(err, ErrQueueEmpty) {
				continue
			}
			w.log.Error("❌ [Worker] Dequeue failed", zap.Error(err))
			select {
			case <-time.After(dequeueBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		w.log.Info("🎯 [Worker] Received job",
			zap.String("generation_id", job.GenerationID),
			zap.Duration("queued_for", time.Since(job.EnqueuedAt)))

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.Process(ctx, job)
		}()
	}
}

// Process - 작업 1건 실행. 오케스트레이터가 종료 상태를 기록하지 못한 경우 failed 보정
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With(zap.String("generation_id", job.GenerationID), zap.String("user_id", job.UserID))

	_, err := w.orch.Generate(ctx, job.UserID, GenerateInput{
		GenerationID:  job.GenerationID,
		Prompt:        job.Prompt,
		Style:         job.Style,
		UploadedImage: job.UploadedImage,
	})
	if err != nil {
		log.Warn("⚠️  [Worker] Job failed",
			zap.String("error_code", string(apperror.KindOf(err))),
			zap.Error(err))
		// 다른 인스턴스가 처리 중이면 그쪽이 기록
		if !apperror.Is(err, apperror.KindConflict) {
			w.orch.MarkFailed(ctx, job.UserID, job.GenerationID)
		}
		return
	}
	log.Info("✅ [Worker] Job completed")
}

// Sweeper - 오래된 pending 레코드를 주기적으로 failed 처리
type Sweeper struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewSweeper - timeout보다 오래 pending인 레코드를 interval마다 정리
func NewSweeper(store Store, timeout, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
		log:      logger.Module("Sweeper"),
	}
}

// Run - ctx가 취소될 때까지 주기 실행
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("🧹 [Sweeper] Started",
		zap.Duration("pending_timeout", s.timeout),
		zap.Duration("interval", s.interval))

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("❌ [Sweeper] Sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			s.log.Info("🛑 [Sweeper] Stopped")
			return
		}
	}
}

// SweepOnce - 한 번 정리하고 failed로 바뀐 건수 반환
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.store.FailStalePending(ctx, s.now().Add(-s.timeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("🧹 [Sweeper] Marked stale generations as failed", zap.Int("count", n))
	}
	return n, nil
}
