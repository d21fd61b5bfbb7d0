package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/model"
	redisClient "dream-canvas-server/modules/common/redis"
	"dream-canvas-server/modules/common/response"
)

// maxCacheTTL - 원격 조회 결과 캐시 상한
const maxCacheTTL = 5 * time.Minute

var ErrResolverClosed = errors.New("session resolver closed")

// SessionResolver - access token → User.
// JWT secret이 있으면 로컬 검증(HS256), 없으면 Auth 서비스 조회 + Redis 캐시
type SessionResolver struct {
	backend Backend
	secret  []byte
	cache   *redisClient.Cache
	closed  atomic.Bool
	now     func() time.Time
	log     *zap.Logger
}

// NewSessionResolver - cache는 nil 가능
func NewSessionResolver(backend Backend, jwtSecret string, cache *redisClient.Cache) *SessionResolver {
	r := &SessionResolver{
		backend: backend,
		cache:   cache,
		now:     time.Now,
		log:     logger.Module("Session"),
	}
	if jwtSecret != "" {
		r.secret = []byte(jwtSecret)
	}
	return r
}

// supabaseClaims - Supabase access token의 사용 필드
type supabaseClaims struct {
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	jwt.RegisteredClaims
}

// Resolve - 토큰 검증 후 사용자 반환. 실패 시 AuthenticationError
func (r *SessionResolver) Resolve(ctx context.Context, token string) (*model.User, error) {
	if r.closed.Load() {
		return nil, ErrResolverClosed
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.Authentication("")
	}

	if r.secret != nil {
		return r.verifyLocal(token)
	}

	key := cacheKey(token)
	if r.cache != nil {
		var cached model.User
		found, err := r.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			r.log.Warn("⚠️  [Session] Cache read failed", zap.Error(err))
		} else if found {
			return &cached, nil
		}
	}

	user, err := r.backend.GetUser(ctx, token)
	if err != nil {
		if apperror.Is(err, apperror.KindUpstream) || apperror.Is(err, apperror.KindUnknown) {
			return nil, err
		}
		return nil, apperror.Wrap(err, apperror.KindAuthentication, apperror.MsgUnauthorized)
	}

	if r.cache != nil {
		if ttl := r.cacheTTL(token); ttl > 0 {
			if err := r.cache.SetJSON(ctx, key, user, ttl); err != nil {
				r.log.Warn("⚠️  [Session] Cache write failed", zap.Error(err))
			}
		}
	}
	return user, nil
}

// Forget - 로그아웃 시 캐시 제거
func (r *SessionResolver) Forget(ctx context.Context, token string) {
	if r.cache == nil || token == "" {
		return
	}
	if err := r.cache.Delete(ctx, cacheKey(token)); err != nil {
		r.log.Warn("⚠️  [Session] Cache delete failed", zap.Error(err))
	}
}

// Close - 이후 Resolve 호출은 ErrResolverClosed
func (r *SessionResolver) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *SessionResolver) verifyLocal(token string) (*model.User, error) {
	claims := &supabaseClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil || !parsed.Valid {
		return nil, apperror.Wrap(err, apperror.KindAuthentication, apperror.MsgUnauthorized)
	}
	if claims.Subject == "" {
		return nil, apperror.Authentication("")
	}

	user := &model.User{ID: claims.Subject, Email: claims.Email}
	if name, ok := claims.UserMetadata["display_name"].(string); ok {
		user.DisplayName = name
	}
	return user, nil
}

// cacheTTL - 토큰 만료 시각과 상한 중 짧은 쪽
func (r *SessionResolver) cacheTTL(token string) time.Duration {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return maxCacheTTL
	}
	ttl := claims.ExpiresAt.Time.Sub(r.now())
	if ttl > maxCacheTTL {
		return maxCacheTTL
	}
	return ttl
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type userContextKey struct{}

// WithUser - 컨텍스트에 사용자 저장
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, *user)
}

// UserFromContext - 읽기 전용 사본 반환
func UserFromContext(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(model.User)
	return user, ok
}

// UserIDFromRequest - rate limiter 키 용도
func UserIDFromRequest(req *http.Request) string {
	if user, ok := UserFromContext(req.Context()); ok {
		return user.ID
	}
	return ""
}

// TokenFromRequest - Authorization: Bearer 또는 access_token 쿼리 (websocket)
func TokenFromRequest(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return req.URL.Query().Get("access_token")
}

// RequireUser - 인증 필수 미들웨어 (실패 시 401)
func (r *SessionResolver) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, err := r.Resolve(req.Context(), TokenFromRequest(req))
		if err != nil {
			if !apperror.Is(err, apperror.KindAuthentication) {
				r.log.Error("❌ [Session] Failed to resolve session", zap.Error(err))
			}
			response.Error(w, err)
			return
		}
		next.ServeHTTP(w, req.WithContext(WithUser(req.Context(), user)))
	})
}
