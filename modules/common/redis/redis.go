package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dream-canvas-server/modules/common/config"
	"dream-canvas-server/modules/common/logger"
)

// Connect - Redis 연결 생성. REDIS_ENABLED=false면 (nil, nil)
func Connect(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.RedisEnabled {
		return nil, nil
	}

	log := logger.Module("Redis")
	log.Info("🔌 [Redis] Connecting", zap.String("addr", cfg.GetRedisAddr()), zap.Bool("tls", cfg.RedisUseTLS))

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// 연결 테스트
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info("✅ [Redis] Connected")
	return rdb, nil
}
