package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/photos"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityIDContextKey = "kindred_identity_id"

const defaultMultipartMemory = 8 << 20

var (
	errMissingIdentityService = errors.New("identity service dependency required")
	errMissingTokenVerifier   = errors.New("token verifier dependency required")
	errMissingAdminService    = errors.New("admin service dependency required when admin registration is enabled")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// IdentityService is the set of identity workflows exposed over HTTP.
type IdentityService interface {
	Register(ctx context.Context, input users.RegistrationInput) (users.Profile, error)
	Authenticate(ctx context.Context, email, secret string) (users.Session, error)
	Profile(ctx context.Context, identityID string) (users.Profile, error)
	UpdateProfile(ctx context.Context, identityID string, input users.ProfileInput) (users.Profile, error)
	SetOnline(ctx context.Context, identityID string, online bool) (users.Profile, error)
	CountUsers(ctx context.Context) (users.UserCounts, error)
}

// AdminRegistrar creates administrator records.
type AdminRegistrar interface {
	Register(ctx context.Context, email, secret string) (users.AdminView, error)
}

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// PhotoUploader stores uploaded photos and removes them again on failure.
type PhotoUploader interface {
	SaveAll(ctx context.Context, uploads []photos.Upload) ([]string, error)
	Discard(ctx context.Context, references []string)
}

type Dependencies struct {
	Identities               IdentityService
	Tokens                   TokenVerifier
	Admins                   AdminRegistrar
	AdminRegistrationEnabled bool
	Photos                   PhotoUploader
	Metrics                  *metrics.Metrics
	Logger                   *zap.Logger
	AllowedOrigins           []string
	// UploadsDir is served under UploadsPath when both are set.
	UploadsDir      string
	UploadsPath     string
	MultipartMemory int64
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Identities == nil {
		return nil, errMissingIdentityService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenVerifier
	}
	if deps.AdminRegistrationEnabled && deps.Admins == nil {
		return nil, errMissingAdminService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.MaxMultipartMemory = deps.MultipartMemory
	if router.MaxMultipartMemory <= 0 {
		router.MaxMultipartMemory = defaultMultipartMemory
	}
	router.Use(gin.Recovery())
	router.Use(accessLog(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		identities: deps.Identities,
		tokens:     deps.Tokens,
		admins:     deps.Admins,
		photos:     deps.Photos,
		metrics:    deps.Metrics,
		logger:     logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.UploadsDir != "" && deps.UploadsPath != "" {
		router.Static(deps.UploadsPath, deps.UploadsDir)
	}

	router.POST("/register", handler.handleRegister)
	router.POST("/login", handler.handleLogin)
	if deps.AdminRegistrationEnabled {
		router.POST("/admin/register", handler.handleAdminRegister)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/profile", handler.handleGetProfile)
	protected.PUT("/profile", handler.handleUpdateProfile)
	protected.PUT("/profile/online", handler.handleSetOnline)
	protected.GET("/user-count", handler.handleUserCount)

	return router, nil
}

type httpHandler struct {
	identities IdentityService
	tokens     TokenVerifier
	admins     AdminRegistrar
	photos     PhotoUploader
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 || containsWildcard(origins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid or expired token"})
		return
	}
	if claims.IdentityID == "" {
		h.logger.Warn("token validation failed", zap.Error(auth.ErrMissingIdentity))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid or expired token"})
		return
	}
	c.Set(identityIDContextKey, claims.IdentityID)
	c.Request = c.Request.WithContext(auth.WithIdentityID(c.Request.Context(), claims.IdentityID))
	c.Next()
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if identityID := c.GetString(identityIDContextKey); identityID != "" {
			fields = append(fields, zap.String("identity_id", identityID))
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Info("http request", fields...)
	}
}
