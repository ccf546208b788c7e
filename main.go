package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"mindcare-realtime/internal/auth"
	"mindcare-realtime/internal/chat"
	"mindcare-realtime/internal/config"
	"mindcare-realtime/internal/db"
	"mindcare-realtime/internal/events"
	grpcserver "mindcare-realtime/internal/grpc"
	"mindcare-realtime/internal/handlers"
	"mindcare-realtime/internal/jobs"
	"mindcare-realtime/internal/kafka"
	"mindcare-realtime/internal/logging"
	"mindcare-realtime/internal/membership"
	"mindcare-realtime/internal/middleware"
	"mindcare-realtime/internal/notify"
	"mindcare-realtime/internal/observability"
	"mindcare-realtime/internal/rabbitmq"
	"mindcare-realtime/internal/ratelimit"
	"mindcare-realtime/internal/repositories"
	"mindcare-realtime/internal/telemetry"
	"mindcare-realtime/internal/ws"
)

const serviceName = "mindcare-realtime"

// storage bundles the repositories of one backend.
type storage struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	notifications repositories.NotificationRepository
	users         repositories.UserRepository
	prefs         repositories.PreferenceRepository
	ping          func(context.Context) error
	close         func() error
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	if cfg.Storage == "memory" {
		logger.Warn("using in-memory storage, data is lost on restart")
		store := repositories.NewMemoryStore()
		return &storage{
			conversations: store,
			messages:      store,
			notifications: store,
			users:         store,
			prefs:         store,
			ping:          func(context.Context) error { return nil },
			close:         func() error { return nil },
		}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDSN, logger)
	if err != nil {
		return nil, err
	}
	return postgresStorage(database), nil
}

func postgresStorage(database *sqlx.DB) *storage {
	users := repositories.NewUserRepo(database)
	return &storage{
		conversations: repositories.NewConversationRepo(database),
		messages:      repositories.NewMessageRepo(database),
		notifications: repositories.NewNotificationRepo(database),
		users:         users,
		prefs:         users,
		ping:          database.PingContext,
		close:         database.Close,
	}
}

func newBus(cfg *config.Config, logger *zap.Logger) rabbitmq.Publisher {
	switch cfg.EventBus {
	case "kafka":
		logger.Info("event bus: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		return kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "amqp":
		return rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	default:
		return rabbitmq.NewNoopPublisher(logger)
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}

	bus := newBus(cfg, logger)
	busMode, busReason := rabbitmq.Describe(bus)
	logger.Info("event bus ready", zap.String("mode", busMode), zap.String("reason", busReason))
	observability.SetPublisher(bus)
	audit := telemetry.NewAuditEmitter(bus, "audit", serviceName, cfg.Environment, logger)

	rates, err := ratelimit.ParseRates(cfg.ThrottleRates)
	if err != nil {
		logger.Fatal("invalid throttle rates", zap.Error(err))
	}

	hub := ws.NewHub(cfg.WS.SendTimeout, logger)
	scheduler := jobs.NewScheduler(logger)

	var limitStore ratelimit.Store
	var bridge *ws.RedisBridge
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		limitStore = ratelimit.NewRedisStore(rdb, cfg.RedisPrefix)
		bridge = ws.NewRedisBridge(rdb, cfg.RedisPrefix, logger)
		hub.SetBridge(bridge)
	} else {
		memoryLimits := ratelimit.NewMemoryStore()
		if err := scheduler.AddRateLimitSweep("@every 5m", memoryLimits, 30*time.Minute); err != nil {
			logger.Fatal("failed to schedule rate limit sweep", zap.Error(err))
		}
		limitStore = memoryLimits
	}

	authenticator := auth.NewAuthenticator(cfg.JWTSecret)
	resolver := membership.NewResolver(store.conversations, cfg.MembershipCacheSize, cfg.MembershipCacheTTL, logger)
	if bridge != nil {
		bridge.OnEvict(func(group string, userID int64) {
			if conversationID, ok := ws.ParseConversationGroup(group); ok {
				resolver.Invalidate(userID, conversationID)
			}
		})
	}
	limiter := ratelimit.NewLimiter(limitStore, rates, audit, logger)

	mailer := notify.NewMailer(bus, logger)
	dispatcher := notify.NewDispatcher(store.notifications, store.prefs, store.users, hub, mailer, logger)
	if err := dispatcher.SeedDefaultTypes(ctx); err != nil {
		logger.Fatal("failed to seed notification types", zap.Error(err))
	}

	chatService := chat.NewService(chat.Deps{
		Conversations: store.conversations,
		Messages:      store.messages,
		Users:         store.users,
		Members:       resolver,
		Limiter:       limiter,
		Publisher:     events.NewPublisher(hub, store.users, bus, logger),
		Notifier:      dispatcher,
		Sessions:      hub,
		Audit:         audit,
		Options: chat.Options{
			EditWindow:           cfg.MessageEditWindow,
			MaxMessageLength:     cfg.MessageMaxLength,
			MaxGroupParticipants: cfg.GroupMaxParticipants,
			MaxGroupsPerUser:     cfg.MaxGroupsPerUser,
		},
		Log: logger,
	})

	sockets := ws.NewHandler(ws.HandlerDeps{
		Hub:     hub,
		Auth:    authenticator,
		Members: resolver,
		Users:   store.users,
		Reads:   chatService,
		Limiter: limiter,
		Audit:   audit,
		Config:  cfg.WS,
		Log:     logger,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(serviceName),
		observability.HTTPMetricsMiddleware(),
		logging.GinLogger(logger),
	)
	router.GET("/healthz", func(c *gin.Context) {
		if err := store.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(authenticator, store.users, logger)
	handlers.Register(router, authMiddleware, handlers.Routes{
		Conversations: handlers.NewConversationHandler(chatService, logger),
		Messages:      handlers.NewMessageHandler(chatService, logger),
		Notifications: handlers.NewNotificationHandler(dispatcher, logger),
		Sockets:       sockets,
	})
	handlers.RegisterDebugRoutes(router, authMiddleware, handlers.DebugDeps{Audit: audit, Hub: hub}, !cfg.IsProduction())

	health := grpcserver.NewHealthServer(logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.Error(err))
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			logger.Error("grpc health server stopped", zap.Error(err))
		}
	}()
	go health.Watch(ctx, 10*time.Second, store.ping)

	if bridge != nil {
		go func() {
			if err := bridge.Run(ctx, hub); err != nil {
				logger.Error("broadcast bridge stopped", zap.Error(err))
			}
		}()
	}
	scheduler.Start()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	health.Stop()
	scheduler.Stop(shutdownCtx)
	mailer.Wait()
	if err := bus.Close(); err != nil {
		logger.Warn("event bus close", zap.Error(err))
	}
	if err := store.close(); err != nil {
		logger.Warn("storage close", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
