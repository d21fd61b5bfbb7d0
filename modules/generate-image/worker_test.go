package generateimage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/model"
)

func TestQueueRoundTrip(t *testing.T) {
	_, queue := newTestQueue(t)
	ctx := context.Background()

	_, err := queue.Dequeue(ctx, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrQueueEmpty)

	_, err = queue.Enqueue(ctx, Job{GenerationID: "g1", UserID: "u1", Prompt: "first"})
	require.NoError(t, err)
	n, err := queue.Enqueue(ctx, Job{GenerationID: "g2", UserID: "u1", Prompt: "second"})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	job, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "g1", job.GenerationID)

	left, err := queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), left)
}

func TestWorkerRunProcessesQueuedJobs(t *testing.T) {
	f := newFixture(t, Options{})
	f.pending("g1", "u1")
	f.pending("g2", "u2")
	_, queue := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, job := range []Job{
		{GenerationID: "g1", UserID: "u1", Prompt: "a red bicycle", Style: model.StyleAnime},
		{GenerationID: "g2", UserID: "u2", Prompt: "a blue car"},
	} {
		_, err := queue.Enqueue(ctx, job)
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		NewWorker(queue, f.orch, 2).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.store.get("g1").Status == model.StatusCompleted &&
			f.store.get("g2").Status == model.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
	require.Equal(t, int64(1), f.notifier.count("u1"))
	require.Equal(t, int64(1), f.notifier.count("u2"))
}

func TestWorkerProcessMarksInvalidJobFailed(t *testing.T) {
	f := newFixture(t, Options{})
	f.pending("g1", "u1")

	NewWorker(nil, f.orch, 1).Process(context.Background(), &Job{GenerationID: "g1", UserID: "u1", Prompt: "  "})
	require.Equal(t, model.StatusFailed, f.store.get("g1").Status)
	require.Zero(t, f.model.callCount())
}

func TestWorkerProcessLeavesLockedJobAlone(t *testing.T) {
	f := newFixture(t, Options{})
	f.pending("g1", "u1")
	release, ok, err := f.locker.Acquire(context.Background(), lockKey("g1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	NewWorker(nil, f.orch, 1).Process(context.Background(), &Job{GenerationID: "g1", UserID: "u1", Prompt: "cat"})
	require.Equal(t, model.StatusPending, f.store.get("g1").Status)
}

func TestSweeperFailsStalePending(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.seed(model.Generation{ID: "old", UserID: "u1", Status: model.StatusPending, CreatedAt: now.Add(-time.Hour)})
	store.seed(model.Generation{ID: "fresh", UserID: "u1", Status: model.StatusPending, CreatedAt: now.Add(-time.Minute)})
	img := "data:image/png;base64,AAAA"
	store.seed(model.Generation{ID: "done", UserID: "u1", Status: model.StatusCompleted, ImageURL: &img, CreatedAt: now.Add(-time.Hour)})

	s := NewSweeper(store, 10*time.Minute, time.Minute)
	s.now = func() time.Time { return now }

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, model.StatusFailed, store.get("old").Status)
	require.Equal(t, model.StatusPending, store.get("fresh").Status)
	require.Equal(t, model.StatusCompleted, store.get("done").Status)

	// 스위퍼가 먼저 failed로 바꾼 레코드는 이후 오케스트레이터 호출에서도 그대로
	f := newFixture(t, Options{})
	f.store = store
	f.orch = NewOrchestrator(store, f.credits, f.locker, f.model, f.notifier, Options{ModelTimeout: time.Second})
	_, err = f.orch.Generate(context.Background(), "u1", GenerateInput{GenerationID: "old", Prompt: "cat"})
	require.True(t, apperror.Is(err, apperror.KindUpstream))
	require.Zero(t, f.model.callCount())
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := newMemStore()
	store.now = func() time.Time { return time.Now().Add(-time.Hour) }
	_, err := store.CreateGeneration(context.Background(), "u1", "cat", model.StyleAnime)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(store, time.Minute, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return store.get("gen-1").Status == model.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
