package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/keygate/internal/accesskey"
	accesskeydomain "github.com/smallbiznis/keygate/internal/accesskey/domain"
	"github.com/smallbiznis/keygate/internal/audit"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/auth"
	authdomain "github.com/smallbiznis/keygate/internal/auth/domain"
	"github.com/smallbiznis/keygate/internal/auth/session"
	"github.com/smallbiznis/keygate/internal/authorization"
	"github.com/smallbiznis/keygate/internal/cache"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/internal/credential"
	"github.com/smallbiznis/keygate/internal/entitlement"
	"github.com/smallbiznis/keygate/internal/observability"
	obsmiddleware "github.com/smallbiznis/keygate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/keygate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/keygate/internal/observability/tracing"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	"github.com/smallbiznis/keygate/internal/redemption"
	"github.com/smallbiznis/keygate/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/keygate/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	cache.Module,
	ratelimit.Module,
	credential.Module,
	authorization.Module,
	audit.Module,
	auth.Module,
	session.Module,
	accesskey.Module,
	subscription.Module,
	redemption.Module,
	entitlement.Module,
	fx.Provide(provideEntitlements),
	fx.Provide(provideLimiter),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// Entitlements is the subscription state the transport reads and writes through.
type Entitlements interface {
	Snapshot(ctx context.Context, user *authdomain.User) (entitlement.Snapshot, error)
	Verify(ctx context.Context, user *authdomain.User) (entitlement.Snapshot, error)
	ActivateWithKey(ctx context.Context, user *authdomain.User, raw string) (redemption.Result, error)
	Clear(ctx context.Context, userID snowflake.ID) error
	Invalidate(ctx context.Context, userID snowflake.ID) error
}

// Limiter is the failure throttle used for admin actions and resets.
type Limiter interface {
	IsBlocked(ctx context.Context, key string) (ratelimit.Status, error)
	RecordAttempt(ctx context.Context, key string, succeeded bool, class ratelimit.Class) error
	Reset(ctx context.Context, key string) error
}

func provideEntitlements(state *entitlement.State) Entitlements { return state }

func provideLimiter(l *ratelimit.Limiter) Limiter { return l }

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, clk clock.Clock) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware(clk))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, clk clock.Clock) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics, clk)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	clock           clock.Clock
	authsvc         authdomain.Service
	sessions        *session.Manager
	authzSvc        authorization.Service
	entitlements    Entitlements
	events          *entitlement.Hub
	accessKeySvc    accesskeydomain.Service
	subscriptionSvc subscriptiondomain.Service
	limiter         Limiter
	ingressLimiter  *ratelimit.IngressLimiter
	auditSvc        auditdomain.Service
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	Authsvc         authdomain.Service
	Sessions        *session.Manager
	AuthzSvc        authorization.Service
	Entitlements    Entitlements
	Events          *entitlement.Hub
	AccessKeySvc    accesskeydomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Limiter         Limiter
	IngressLimiter  *ratelimit.IngressLimiter `optional:"true"`
	AuditSvc        auditdomain.Service       `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		clock:           p.Clock,
		authsvc:         p.Authsvc,
		sessions:        p.Sessions,
		authzSvc:        p.AuthzSvc,
		entitlements:    p.Entitlements,
		events:          p.Events,
		accessKeySvc:    p.AccessKeySvc,
		subscriptionSvc: p.SubscriptionSvc,
		limiter:         p.Limiter,
		ingressLimiter:  p.IngressLimiter,
		auditSvc:        p.AuditSvc,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAccessRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.IngressRateLimit("signup"), s.SignUp)
	auth.POST("/login", s.IngressRateLimit("login"), s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.SessionRequired(), s.Me)
	auth.POST("/change-password", s.SessionRequired(), s.ChangePassword)
}

func (s *Server) registerAccessRoutes() {
	access := s.engine.Group("/access")

	access.POST("/redeem", s.IngressRateLimit("redeem"), s.SessionRequired(), s.RedeemKey)
	access.GET("/state", s.OptionalSession(), s.AccessState)
	access.GET("/gate", s.OptionalSession(), s.AccessGateDecision)
	access.GET("/events", s.SessionRequired(), s.StreamEntitlementEvents)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.OptionalSession())
	api.Use(s.AccessGate())

	api.GET("/entitlement/verify", s.VerifyEntitlement)
	api.GET("/profile", s.Profile)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.SessionRequired())

	// -------- Access Keys --------
	admin.POST("/access-keys", s.RequireAdmin(authorization.ObjectAccessKey, authorization.ActionAccessKeyGenerate), s.GenerateAccessKeys)
	admin.GET("/access-keys", s.RequireAdmin(authorization.ObjectAccessKey, authorization.ActionAccessKeyView), s.ListAccessKeys)
	admin.GET("/access-keys/:id", s.RequireAdmin(authorization.ObjectAccessKey, authorization.ActionAccessKeyView), s.GetAccessKey)
	admin.DELETE("/access-keys/:id", s.RequireAdmin(authorization.ObjectAccessKey, authorization.ActionAccessKeyRevoke), s.RevokeAccessKey)

	// -------- Subscriptions --------
	admin.GET("/subscriptions/:user_id", s.RequireAdmin(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.GetSubscription)
	admin.PUT("/subscriptions/:user_id", s.RequireAdmin(authorization.ObjectSubscription, authorization.ActionSubscriptionWrite), s.SetSubscription)
	admin.DELETE("/subscriptions/:user_id", s.RequireAdmin(authorization.ObjectSubscription, authorization.ActionSubscriptionWrite), s.RemoveSubscription)

	// -------- Users --------
	admin.PUT("/users/:user_id/role", s.RequireAdmin(authorization.ObjectUser, authorization.ActionUserSetRole), s.SetUserRole)

	// -------- Rate Limits --------
	admin.POST("/rate-limits/reset", s.RequireAdmin(authorization.ObjectRateLimit, authorization.ActionRateLimitReset), s.ResetRateLimit)

	// -------- Audit --------
	admin.GET("/audit-logs", s.RequireAdmin(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
