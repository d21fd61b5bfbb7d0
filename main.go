package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dream-canvas-server/modules/auth"
	"dream-canvas-server/modules/common/config"
	"dream-canvas-server/modules/common/credit"
	"dream-canvas-server/modules/common/database"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/middleware"
	redisClient "dream-canvas-server/modules/common/redis"
	"dream-canvas-server/modules/common/response"
	"dream-canvas-server/modules/common/storage"
	"dream-canvas-server/modules/common/webpconv"
	"dream-canvas-server/modules/gallery"
	generateimage "dream-canvas-server/modules/generate-image"
	"dream-canvas-server/modules/realtime"
)

const (
	shutdownMargin    = 30 * time.Second
	limiterSweepEvery = 5 * time.Minute
)

type healthResponse struct {
	Status  string         `json:"status"`
	Service string         `json:"service"`
	Model   string         `json:"model"`
	Redis   bool           `json:"redis"`
	Sockets realtime.Stats `json:"sockets"`
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	l, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("❌ Failed to init logger: %v", err)
	}
	defer logger.Sync()
	cfg.LogSummary(l)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Fatal("❌ Server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, l *zap.Logger) error {
	rdb, err := redisClient.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	db, err := database.NewClient(cfg)
	if err != nil {
		return err
	}
	credits := credit.NewClient(db, cfg.GenerationCreditCost)
	fetcher := storage.NewClient(nil)
	locker := redisClient.NewLocker(rdb)

	// 세션 해석기 (JWT 로컬 검증 또는 Auth 서비스 조회 + 캐시)
	authBackend, err := auth.NewSupabaseBackend(cfg)
	if err != nil {
		return err
	}
	var sessionCache *redisClient.Cache
	if rdb != nil {
		sessionCache = redisClient.NewCache(rdb, "session:")
	}
	resolver := auth.NewSessionResolver(authBackend, cfg.SupabaseJWTSecret, sessionCache)
	defer resolver.Close()

	imageModel, err := generateimage.NewImageModel(ctx, cfg, fetcher)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(rdb)
	defer hub.Close()

	orch := generateimage.NewOrchestrator(db, credits, locker, imageModel, hub, generateimage.Options{
		ModelTimeout: cfg.ModelTimeout,
		OutputWebP:   cfg.ImageOutputWebP,
		WebPQuality:  cfg.WebPQuality,
		Transcode:    webpconv.Convert,
	})
	queue := generateimage.NewQueue(rdb)

	// 라우터 설정
	r := mux.NewRouter()
	health := func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, healthResponse{
			Status:  "healthy",
			Service: "dream-canvas",
			Model:   imageModel.Name(),
			Redis:   rdb != nil,
			Sockets: hub.Stats(),
		})
	}
	r.HandleFunc("/", health).Methods("GET")
	r.HandleFunc("/health", health).Methods("GET")

	auth.NewHandler(authBackend, resolver, db).RegisterRoutes(r)
	realtime.NewHandler(hub, resolver, cfg.CORSAllowedOrigin).RegisterRoutes(r)

	// 인증 필요 라우트
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, auth.UserIDFromRequest)
	api := r.NewRoute().Subrouter()
	api.Use(resolver.RequireUser, limiter.Middleware)
	generateimage.NewHandler(orch, db, locker, queue).RegisterRoutes(api)
	gallery.NewHandler(db, fetcher, hub).RegisterRoutes(api)

	// 백그라운드 루틴. 반환 시 취소 후 종료를 기다린 다음 위의 Close들이 실행됨
	bgCtx, cancelBg := context.WithCancel(ctx)
	var bg background
	defer bg.Wait()
	defer cancelBg()

	bg.Go(bgCtx, hub.Run)
	bg.Go(bgCtx, generateimage.NewSweeper(db, cfg.PendingTimeout, cfg.PendingSweepInterval).Run)
	if queue != nil {
		bg.Go(bgCtx, generateimage.NewWorker(queue, orch, cfg.WorkerConcurrency).Run)
	} else {
		l.Warn("⚠️  Redis disabled, async generation endpoint will answer 503")
	}
	bg.Go(bgCtx, func(ctx context.Context) { sweepLimiter(ctx, limiter, l) })

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.CORS(cfg.CORSAllowedOrigin)(middleware.RequestID(middleware.AccessLog(l)(r))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("🚀 Dream Canvas server starting",
			zap.String("port", cfg.Port),
			zap.String("model", imageModel.Name()))
		l.Info("📡 WebSocket endpoint: /ws")
		l.Info("❤️  Health check: /health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info("🛑 Shutting down")
	shutdown(srv, shutdownTimeout(cfg.ModelTimeout), l)
	return nil
}

// shutdownTimeout - 진행 중인 동기 생성 요청이 끝날 수 있도록 모델 타임아웃보다 길게
func shutdownTimeout(modelTimeout time.Duration) time.Duration {
	return modelTimeout + shutdownMargin
}

// shutdown - 제한 시간 안에 못 끝낸 연결은 경고 후 강제 종료
func shutdown(srv *http.Server, timeout time.Duration, l *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Warn("⚠️  Graceful shutdown incomplete, closing remaining connections",
			zap.Duration("timeout", timeout), zap.Error(err))
		_ = srv.Close()
	}
}

// background - ctx 취소 후 Wait가 모든 루틴의 종료를 기다림
type background struct {
	wg sync.WaitGroup
}

func (b *background) Go(ctx context.Context, fn func(context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(ctx)
	}()
}

func (b *background) Wait() {
	b.wg.Wait()
}

// sweepLimiter - 오래 쓰지 않은 사용자별 limiter 정리
func sweepLimiter(ctx context.Context, limiter *middleware.RateLimiter, l *zap.Logger) {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				l.Debug("🧹 Rate limiters swept", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
