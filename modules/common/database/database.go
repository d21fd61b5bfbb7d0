package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/config"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/model"
)

const (
	tableGenerations = "generations"
	tableProfiles    = "profiles"

	// postgrest-go 에러 메시지는 "(<code>) <message>" 형식
	pgInvalidTextRepresentation = "(22P02)"

	// MaxListLimit - 갤러리 최대 조회 개수
	MaxListLimit = 20
)

// Client - generations / profiles 접근. 모든 쿼리는 user_id로 소유자를 명시적으로 제한함
// (service key는 RLS를 우회하므로)
type Client struct {
	supabase *supabase.Client
	log      *zap.Logger
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &Client{
		supabase: supabaseClient,
		log:      logger.Module("Database"),
	}, nil
}

// CreateGeneration - pending 상태로 새 요청 생성
func (c *Client) CreateGeneration(ctx context.Context, userID, prompt string, style model.Style) (*model.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := map[string]interface{}{
		"user_id": userID,
		"prompt":  prompt,
		"style":   string(style),
		"status":  model.StatusPending,
	}

	data, _, err := c.supabase.From(tableGenerations).
		Insert(row, false, "", "representation", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to insert generation: %w", err)
	}

	gens, err := decodeGenerations(data)
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, fmt.Errorf("insert returned no rows")
	}

	gen := &gens[0]
	c.log.Info("📝 [Database] Generation created",
		zap.String("generation_id", gen.ID),
		zap.String("user_id", userID),
		zap.String("style", string(gen.Style)))
	return gen, nil
}

// ListGenerations - 최신순 목록 (limit 1..20)
func (c *Client) ListGenerations(ctx context.Context, userID string, limit int) ([]model.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	data, _, err := c.supabase.From(tableGenerations).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}

	return decodeGenerations(data)
}

// GetGeneration - 단일 조회. 없거나 타인 소유면 AuthorizationError
func (c *Client) GetGeneration(ctx context.Context, userID, id string) (*model.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := c.supabase.From(tableGenerations).
		Select("*", "exact", false).
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, lookupError(err, "query")
	}

	gens, err := decodeGenerations(data)
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, apperror.Authorization(apperror.MsgNotFound)
	}
	return &gens[0], nil
}

// UpdateGeneration - pending 레코드만 종료 상태로 전환.
// 이미 종료된 레코드면 현재 값을 돌려주고 applied=false (멱등)
func (c *Client) UpdateGeneration(ctx context.Context, userID, id string, upd model.GenerationUpdate) (*model.Generation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	fields := map[string]interface{}{"status": upd.Status}
	switch upd.Status {
	case model.StatusCompleted:
		if upd.ImageURL == "" {
			return nil, false, apperror.Validation("completed generation requires an image")
		}
		fields["image_url"] = upd.ImageURL
	case model.StatusFailed:
		fields["image_url"] = nil
	default:
		return nil, false, apperror.Validation(fmt.Sprintf("invalid target status: %s", upd.Status))
	}

	data, _, err := c.supabase.From(tableGenerations).
		Update(fields, "representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		Eq("status", model.StatusPending).
		Execute()
	if err != nil {
		return nil, false, lookupError(err, "update")
	}

	gens, err := decodeGenerations(data)
	if err != nil {
		return nil, false, err
	}
	if len(gens) > 0 {
		c.log.Info("✅ [Database] Generation status updated",
			zap.String("generation_id", id),
			zap.String("status", upd.Status))
		return &gens[0], true, nil
	}

	// 변경된 행이 없음: 소유권 없음 또는 이미 종료 상태
	current, err := c.GetGeneration(ctx, userID, id)
	if err != nil {
		return nil, false, err
	}
	c.log.Info("⏭️  [Database] Generation already terminal, update skipped",
		zap.String("generation_id", id),
		zap.String("status", current.Status))
	return current, false, nil
}

// DeleteGeneration - 소유자만 삭제 가능 (상태 무관)
func (c *Client) DeleteGeneration(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, _, err := c.supabase.From(tableGenerations).
		Delete("representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return lookupError(err, "delete")
	}

	gens, err := decodeGenerations(data)
	if err != nil {
		return err
	}
	if len(gens) == 0 {
		return apperror.Authorization(apperror.MsgNotFound)
	}

	c.log.Info("🗑️  [Database] Generation deleted",
		zap.String("generation_id", id),
		zap.String("user_id", userID))
	return nil
}

// lookupError - id 형식 오류(22P02)는 없는 레코드와 같게 취급
func lookupError(err error, action string) error {
	if strings.HasPrefix(err.Error(), pgInvalidTextRepresentation) {
		return apperror.Wrap(err, apperror.KindAuthorization, apperror.MsgNotFound)
	}
	return fmt.Errorf("failed to %s generation: %w", action, err)
}

// FailStalePending - olderThan 이전에 생성된 pending 레코드를 failed로 전환 (전체 사용자 대상)
func (c *Client) FailStalePending(ctx context.Context, olderThan time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, _, err := c.supabase.From(tableGenerations).
		Update(map[string]interface{}{"status": model.StatusFailed}, "representation", "").
		Eq("status", model.StatusPending).
		Lt("created_at", olderThan.UTC().Format(time.RFC3339)).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale generations: %w", err)
	}

	gens, err := decodeGenerations(data)
	if err != nil {
		return 0, err
	}
	return len(gens), nil
}

// GetProfile - profiles 조회
func (c *Client) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var profiles []model.Profile
	data, _, err := c.supabase.From(tableProfiles).
		Select("*", "", false).
		Eq("id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if len(profiles) == 0 {
		return nil, apperror.Authorization("profile not found")
	}
	return &profiles[0], nil
}

// SetProfileCredits - credits_remaining이 expected일 때만 next로 변경 (낙관적 잠금)
func (c *Client) SetProfileCredits(ctx context.Context, userID string, expected, next int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var profiles []model.Profile
	data, _, err := c.supabase.From(tableProfiles).
		Update(map[string]interface{}{
			"credits_remaining": next,
			"updated_at":        time.Now().UTC().Format(time.RFC3339),
		}, "representation", "").
		Eq("id", userID).
		Eq("credits_remaining", fmt.Sprintf("%d", expected)).
		Execute()
	if err != nil {
		return false, fmt.Errorf("failed to update credits: %w", err)
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return false, fmt.Errorf("failed to parse profile response: %w", err)
	}
	return len(profiles) > 0, nil
}

func decodeGenerations(data []byte) ([]model.Generation, error) {
	var gens []model.Generation
	if err := json.Unmarshal(data, &gens); err != nil {
		return nil, fmt.Errorf("failed to parse generations response: %w", err)
	}
	return gens, nil
}
