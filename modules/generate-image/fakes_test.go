package generateimage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/model"
)

// memStore - user_id 범위를 지키는 인메모리 Store
type memStore struct {
	mu      sync.Mutex
	rows    map[string]*model.Generation
	seq     int
	updates int
	now     func() time.Time
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*model.Generation{}, now: time.Now}
}

func (s *memStore) CreateGeneration(_ context.Context, userID, prompt string, style model.Style) (*model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	g := &model.Generation{
		ID:        fmt.Sprintf("gen-%d", s.seq),
		UserID:    userID,
		Prompt:    prompt,
		Style:     style,
		Status:    model.StatusPending,
		CreatedAt: s.now(),
	}
	s.rows[g.ID] = g
	cp := *g
	return &cp, nil
}

func (s *memStore) GetGeneration(_ context.Context, userID, id string) (*model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rows[id]
	if !ok || g.UserID != userID {
		return nil, apperror.Authorization(apperror.MsgNotFound)
	}
	cp := *g
	return &cp, nil
}

func (s *memStore) UpdateGeneration(_ context.Context, userID, id string, upd model.GenerationUpdate) (*model.Generation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rows[id]
	if !ok || g.UserID != userID {
		return nil, false, apperror.Authorization(apperror.MsgNotFound)
	}
	if g.Status != model.StatusPending {
		cp := *g
		return &cp, false, nil
	}
	s.updates++
	g.Status = upd.Status
	if upd.Status == model.StatusCompleted {
		img := upd.ImageURL
		g.ImageURL = &img
	}
	cp := *g
	return &cp, true, nil
}

func (s *memStore) FailStalePending(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.rows {
		if g.Status == model.StatusPending && g.CreatedAt.Before(olderThan) {
			g.Status = model.StatusFailed
			n++
		}
	}
	return n, nil
}

// ListGenerations - 최신순
func (s *memStore) ListGenerations(_ context.Context, userID string, limit int) ([]model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Generation
	for _, g := range s.rows {
		if g.UserID == userID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) DeleteGeneration(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rows[id]
	if !ok || g.UserID != userID {
		return apperror.Authorization(apperror.MsgNotFound)
	}
	delete(s.rows, id)
	return nil
}

func (s *memStore) seed(g model.Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[g.ID] = &g
}

func (s *memStore) get(id string) model.Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// fakeCredits - 사용자별 잔여 크레딧
type fakeCredits struct {
	mu        sync.Mutex
	remaining map[string]int
	deducted  int
}

func (c *fakeCredits) EnsureAvailable(_ context.Context, userID string) (*model.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	left, ok := c.remaining[userID]
	if !ok {
		left = 10
	}
	if left <= 0 {
		return nil, apperror.QuotaExhausted(fmt.Errorf("no credits"))
	}
	return &model.Profile{ID: userID, CreditsRemaining: left}, nil
}

func (c *fakeCredits) DeductCredits(context.Context, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deducted++
	return nil
}

// fakeModel - 호출 기록 + 고정 결과
type fakeModel struct {
	mu       sync.Mutex
	calls    int
	requests []ImageRequest
	result   *ImageResult
	err      error
	block    chan struct{}
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &ImageResult{MIME: "image/png", Data: []byte("\x89PNG\r\n\x1a\nfake")}, nil
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeNotifier - 사용자별 카운터
type fakeNotifier struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (n *fakeNotifier) Bump(_ context.Context, userID string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.counts == nil {
		n.counts = map[string]int64{}
	}
	n.counts[userID]++
	return n.counts[userID], nil
}

func (n *fakeNotifier) count(userID string) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counts[userID]
}
