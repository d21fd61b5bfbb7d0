package credit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/model"
)

// maxDeductAttempts - 동시 차감 충돌 시 재시도 횟수
const maxDeductAttempts = 3

// ProfileStore - profiles 테이블 접근
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	SetProfileCredits(ctx context.Context, userID string, expected, next int) (bool, error)
}

type Client struct {
	store ProfileStore
	cost  int
	log   *zap.Logger
}

// NewClient - Credit 클라이언트 생성 (cost: 이미지 1장당 차감 크레딧)
func NewClient(store ProfileStore, cost int) *Client {
	return &Client{
		store: store,
		cost:  cost,
		log:   logger.Module("Credit"),
	}
}

// EnsureAvailable - 남은 크레딧 확인. 0 이하이거나 비용보다 적으면 QuotaExhaustedError
func (c *Client) EnsureAvailable(ctx context.Context, userID string) (*model.Profile, error) {
	profile, err := c.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if profile.CreditsRemaining <= 0 || profile.CreditsRemaining < c.cost {
		c.log.Warn("💸 [Credit] Insufficient credits",
			zap.String("user_id", userID),
			zap.Int("credits_remaining", profile.CreditsRemaining),
			zap.Int("cost", c.cost))
		return profile, apperror.QuotaExhausted(fmt.Errorf("user %s has %d credits", userID, profile.CreditsRemaining))
	}
	return profile, nil
}

// DeductCredits - 완료된 생성 1건에 대한 크레딧 차감 (0 미만으로 내려가지 않음)
func (c *Client) DeductCredits(ctx context.Context, userID, generationID string) error {
	if c.cost == 0 {
		return nil
	}

	for attempt := 1; attempt <= maxDeductAttempts; attempt++ {
		profile, err := c.store.GetProfile(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to fetch user credits: %w", err)
		}

		current := profile.CreditsRemaining
		next := current - c.cost
		if next < 0 {
			next = 0
		}

		ok, err := c.store.SetProfileCredits(ctx, userID, current, next)
		if err != nil {
			return fmt.Errorf("failed to deduct credits: %w", err)
		}
		if ok {
			c.log.Info("💰 [Credit] Credits deducted",
				zap.String("user_id", userID),
				zap.String("generation_id", generationID),
				zap.Int("before", current),
				zap.Int("after", next))
			return nil
		}

		c.log.Warn("🔁 [Credit] Balance changed concurrently, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt))
	}

	return fmt.Errorf("failed to deduct credits for %s after %d attempts", userID, maxDeductAttempts)
}
