package model

import "time"

// Generation - generations 테이블 구조
type Generation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt"`
	Style     Style     `json:"style"`
	ImageURL  *string   `json:"image_url"` // data URI, 완료 전에는 null
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// IsTerminal - completed / failed 여부
func (g *Generation) IsTerminal() bool {
	return g.Status == StatusCompleted || g.Status == StatusFailed
}

// Image - image_url 값 (없으면 빈 문자열)
func (g *Generation) Image() string {
	if g.ImageURL == nil {
		return ""
	}
	return *g.ImageURL
}

// Profile - profiles 테이블 구조
type Profile struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	DisplayName      *string   `json:"display_name"`
	SubscriptionPlan string    `json:"subscription_plan"`
	CreditsRemaining int       `json:"credits_remaining"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// User - 인증 서비스에서 가져온 사용자 정보
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// Session - 로그인 세션
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
	User         User   `json:"user"`
}

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// GenerationUpdate - 종료 상태 기록용
type GenerationUpdate struct {
	Status   string
	ImageURL string
}
