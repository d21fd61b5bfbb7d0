package auth

import (
	"context"

	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/config"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/model"
)

// Backend - 외부 인증 서비스
type Backend interface {
	// SignUp - 이메일 확인이 필요한 프로젝트면 session은 nil
	SignUp(ctx context.Context, email, password, displayName string) (*model.User, *model.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*model.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*model.User, error)
}

// SupabaseBackend - Supabase Auth(GoTrue) 구현
type SupabaseBackend struct {
	client *supabase.Client
	log    *zap.Logger
}

// NewSupabaseBackend - anon key가 있으면 anon key, 없으면 service key로 Auth 클라이언트 생성
func NewSupabaseBackend(cfg *config.Config) (*SupabaseBackend, error) {
	key := cfg.SupabaseAnonKey
	if key == "" {
		key = cfg.SupabaseServiceKey
	}
	client, err := supabase.NewClient(cfg.SupabaseURL, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, err
	}
	return &SupabaseBackend{client: client, log: logger.Module("Auth")}, nil
}

func (b *SupabaseBackend) SignUp(ctx context.Context, email, password, displayName string) (*model.User, *model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	res, err := b.client.Auth.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"display_name": displayName},
	})
	if err != nil {
		return nil, nil, FriendlyError(err)
	}

	user := toUser(res.User)
	b.log.Info("👤 [Auth] User signed up",
		zap.String("user_id", user.ID),
		zap.Bool("confirmed", res.AccessToken != ""))

	if res.AccessToken == "" {
		return user, nil, nil
	}
	return user, toSession(res.Session), nil
}

func (b *SupabaseBackend) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := b.client.Auth.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, FriendlyError(err)
	}
	return toSession(res.Session), nil
}

func (b *SupabaseBackend) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := b.client.Auth.RefreshToken(refreshToken)
	if err != nil {
		// 만료/폐기된 refresh token은 400으로 오지만 재로그인이 필요한 인증 실패
		ferr := FriendlyError(err)
		if apperror.Is(ferr, apperror.KindValidation) {
			return nil, apperror.Wrap(err, apperror.KindAuthentication, msgSessionExpired)
		}
		return nil, ferr
	}
	return toSession(res.Session), nil
}

func (b *SupabaseBackend) SignOut(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.client.Auth.WithToken(accessToken).Logout(); err != nil {
		return FriendlyError(err)
	}
	return nil
}

func (b *SupabaseBackend) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := b.client.Auth.WithToken(accessToken).GetUser()
	if err != nil {
		return nil, FriendlyError(err)
	}
	return toUser(res.User), nil
}

func toUser(u types.User) *model.User {
	user := &model.User{
		ID:    u.ID.String(),
		Email: u.Email,
	}
	if name, ok := u.UserMetadata["display_name"].(string); ok {
		user.DisplayName = name
	}
	return user
}

func toSession(s types.Session) *model.Session {
	return &model.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         *toUser(s.User),
	}
}
