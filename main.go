package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	migrate "github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"iccard-backend/internal/card_mgmt/cards"
	"iccard-backend/internal/card_mgmt/ledger"
	"iccard-backend/internal/card_mgmt/lending"
	"iccard-backend/internal/card_mgmt/staff"
	"iccard-backend/internal/frontdesk"
	"iccard-backend/internal/platform/auth"
	"iccard-backend/internal/platform/db"
	"iccard-backend/internal/platform/keymutex"
	"iccard-backend/internal/platform/web"
	"iccard-backend/internal/reader"
)

func main() {
	configPath := flag.String("config", db.DefaultConfigPath, "設定ファイルのパス")
	flag.Parse()

	// .env は任意（なければ環境変数だけで動く）
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := db.LoadConfig(*configPath)
	if err != nil {
		logger.Error("設定の読み込みに失敗", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Mode != "debug" && cfg.Mode != "release" {
		fmt.Println("config.yaml の mode は debug | release のいずれかにしてください")
		os.Exit(1)
	}
	logger.Info("起動", slog.String("version", cfg.Version), slog.String("mode", cfg.Mode))

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if cfg.Mode == "release" {
			logger.Error("release モードでは ICCARD_JWT_SECRET の設定が必須です")
			os.Exit(1)
		}
		secret = "dev-secret-do-not-use"
		logger.Warn("JWTシークレット未設定のため開発用の値を使用します")
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		logger.Error("DB接続に失敗", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("DB接続完了", slog.String("dbname", cfg.DB.DBName))

	if err := runMigrations(logger, cfg.DB); err != nil {
		logger.Error("マイグレーションに失敗", slog.Any("error", err))
		os.Exit(1)
	}

	if pw := os.Getenv("ICCARD_ADMIN_PASSWORD"); pw != "" {
		if err := auth.EnsureAccount(context.Background(), conn, "admin", pw, "admin"); err != nil {
			logger.Error("管理者アカウントの作成に失敗", slog.Any("error", err))
			os.Exit(1)
		}
	}

	stations, err := reader.LoadStations()
	if err != nil {
		logger.Error("駅コード表の読み込みに失敗", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("駅コード表を読み込み", slog.Int("stations", stations.Len()))

	// 読み取り機。実機ドライバは未実装なのでシミュレータのみ。
	var sim *reader.Simulator
	var drv reader.Driver
	switch cfg.Reader.Driver {
	case "", "simulator":
		sim = reader.NewSimulator()
		drv = sim
	default:
		logger.Error("未対応の読み取り機ドライバ", slog.String("driver", cfg.Reader.Driver))
		os.Exit(1)
	}

	// 起動時の整合性チェック。違反は警告に残すだけで起動は止めない。
	checker := ledger.NewChecker(ledger.NewStore(conn), logger)
	if _, err := checker.Check(context.Background()); err != nil {
		logger.Error("整合性チェックの実行に失敗", slog.Any("error", err))
		os.Exit(1)
	}

	locks := keymutex.New()
	lendingSvc := lending.NewService(conn, drv, stations, locks, logger, cfg.Lending)

	hub := frontdesk.NewHub(logger)
	ctrl := frontdesk.NewController(
		drv, hub, lendingSvc,
		cards.NewStore(conn), staff.NewStore(conn), ledger.NewStore(conn),
		logger, cfg.Lending,
	)
	runCtx, stopController := context.WithCancel(context.Background())
	go ctrl.Run(runCtx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(web.RequestLogger(logger), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "debug" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// /api/v1
	api := r.Group("/api/v1")
	frontdesk.RegisterRoutes(api, ctrl, hub)
	cards.RegisterRoutes(api, cards.NewService(conn))
	staff.RegisterRoutes(api, staff.NewService(conn))
	ledger.RegisterRoutes(api, ledger.NewService(ledger.NewStore(conn)))

	// ログインは総当たり対策で流量制限をかける
	loginRate, err := limiter.NewRateFromFormatted("10-M")
	if err != nil {
		logger.Error("流量制限の設定に失敗", slog.Any("error", err))
		os.Exit(1)
	}
	authGroup := api.Group("/auth")
	authGroup.Use(web.RateLimit(limiter.New(memory.NewStore(), loginRate)))
	auth.RegisterRoutes(authGroup, auth.NewService(conn, []byte(secret)))

	// 認証必須の操作系
	protected := api.Group("")
	protected.Use(auth.RequireAuth([]byte(secret)))
	lending.RegisterRoutes(protected, lendingSvc)
	if sim != nil {
		frontdesk.RegisterTouchRoutes(protected, sim)
	}

	admin := protected.Group("")
	admin.Use(auth.RequireRole("admin"))
	ledger.RegisterAdminRoutes(admin, checker)

	addr := cfg.Server.Addr
	if cfg.Mode == "release" {
		addr = cfg.Server.TLSAddr
	}
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if cfg.Mode == "debug" {
			logger.Info("HTTPで待ち受け", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTPサーバが停止", slog.Any("error", err))
				os.Exit(1)
			}
			return
		}
		logger.Info("HTTPSで待ち受け", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServeTLS(cfg.Certificate.Cert, cfg.Certificate.Key); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTPSサーバが停止", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logger.Info("シャットダウン開始")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		// SSE接続が残っていると期限切れになるが、そのまま落として良い
		logger.Warn("HTTPサーバの停止がタイムアウト", slog.Any("error", err))
	}

	stopController()
	if sim != nil {
		sim.Close()
	}
	logger.Info("シャットダウン完了")
}

// runMigrations はスキーマを最新へ揃える。適用済みなら何もしない。
func runMigrations(logger *slog.Logger, cfg db.DatabaseConfig) error {
	// マイグレーションは専用の接続で行い、終わったら閉じる
	migrationDB, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return fmt.Errorf("マイグレーション用接続の作成に失敗: %w", err)
	}
	defer migrationDB.Close()

	driver, err := migratemysql.WithInstance(migrationDB, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("マイグレーションドライバの作成に失敗: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "mysql", driver)
	if err != nil {
		return fmt.Errorf("マイグレーションの初期化に失敗: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	if dbErr != nil {
		return dbErr
	}

	logger.Info("マイグレーション完了")
	return nil
}
