package generateimage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dream-canvas-server/modules/common/model"
)

// QueueKey - 비동기 생성 작업 큐
const QueueKey = "generations:queue"

// ErrQueueEmpty - 대기 시간 동안 작업 없음
var ErrQueueEmpty = errors.New("queue empty")

// Job - 큐에 들어가는 생성 작업
type Job struct {
	GenerationID  string      `json:"generationId"`
	UserID        string      `json:"userId"`
	Prompt        string      `json:"prompt"`
	Style         model.Style `json:"style"`
	UploadedImage string      `json:"uploadedImage,omitempty"`
	EnqueuedAt    time.Time   `json:"enqueuedAt"`
}

// Queue - Redis list 기반 작업 큐 (LPUSH / BRPOP)
type Queue struct {
	rdb *redis.Client
	key string
}

// NewQueue - Redis가 비활성화면 nil
func NewQueue(rdb *redis.Client) *Queue {
	if rdb == nil {
		return nil
	}
	return &Queue{rdb: rdb, key: QueueKey}
}

// Enqueue - 작업 추가 후 큐 길이 반환
func (q *Queue) Enqueue(ctx context.Context, job Job) (int64, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("failed to encode job: %w", err)
	}
	n, err := q.rdb.LPush(ctx, q.key, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LPUSH failed: %w", err)
	}
	return n, nil
}

// Dequeue - 최대 timeout 동안 대기. 작업이 없으면 ErrQueueEmpty
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis BRPOP failed: %w", err)
	}

	// result[0]은 큐 이름, result[1]이 payload
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// Len - 대기 중인 작업 수
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
