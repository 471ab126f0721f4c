package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classtrack/internal/apperr"
	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/clock"
	"classtrack/internal/config"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/identity"
	"classtrack/internal/metrics"
	"classtrack/internal/report"
	"classtrack/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	repo := attendance.NewRepository(db.Client)
	profiles := identity.New(cfg.IdentityURL, cfg.IdentitySkip, redisClient.Client, cfg.ProfileCacheTTL)
	att := attendance.NewService(repo, profiles, clock.Default{}, loc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	authGroup := r.Group("/v1", auth.Require(auth.FromHeader, cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.GET("/sessions/:sessionID/attendances", func(c *gin.Context) {
		roster, err := att.SessionAttendances(c.Request.Context(), c.Param("sessionID"), auth.MemberID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, roster)
	})

	authGroup.POST("/sessions/:sessionID/checkin", func(c *gin.Context) {
		rec, err := att.CheckIn(c.Request.Context(), auth.MemberID(c), c.Param("sessionID"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"record_id":     rec.ID,
			"session_id":    rec.SessionID,
			"checked_in_at": rec.CheckedInAt,
		})
	})

	// Summary selects the perspective by requester identity: the owner gets
	// the full matrix, an enrolled member gets their own timeline.
	authGroup.GET("/classes/:classID/summary", func(c *gin.Context) {
		classID := c.Param("classID")
		requester := auth.MemberID(c)

		course, err := att.CourseForAuthz(c.Request.Context(), classID)
		if err != nil {
			respondErr(c, err)
			return
		}
		if course.OwnerID == requester {
			sum, err := att.OwnerSummary(c.Request.Context(), classID)
			if err != nil {
				respondErr(c, err)
				return
			}
			c.JSON(http.StatusOK, sum)
			return
		}
		sum, err := att.MemberSummary(c.Request.Context(), classID, requester)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	authGroup.GET("/classes/:classID/students/:memberID", func(c *gin.Context) {
		classID := c.Param("classID")
		course, err := att.CourseForAuthz(c.Request.Context(), classID)
		if err != nil {
			respondErr(c, err)
			return
		}
		if course.OwnerID != auth.MemberID(c) {
			respondErr(c, apperr.Forbidden("owner only"))
			return
		}
		sum, err := att.MemberSummary(c.Request.Context(), classID, c.Param("memberID"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	// The export link is opened directly by the browser, which cannot attach
	// an Authorization header, so this one route authenticates via the
	// "token" query parameter. Deliberate deviation; keep it isolated here.
	exportGroup := r.Group("/v1", auth.Require(auth.FromQuery, cfg.JWTSigningKey, cfg.JWTIssuer))

	exportGroup.GET("/classes/:classID/export", func(c *gin.Context) {
		classID := c.Param("classID")
		requester := auth.MemberID(c)

		course, err := att.CourseForAuthz(c.Request.Context(), classID)
		if err != nil {
			respondErr(c, err)
			return
		}
		if course.OwnerID != requester {
			respondErr(c, apperr.Forbidden("owner only"))
			return
		}
		sum, err := att.OwnerSummary(c.Request.Context(), classID)
		if err != nil {
			respondErr(c, err)
			return
		}

		exp, err := report.Build(sum, exporterName(c, requester), time.Now(), loc)
		if err != nil {
			respondErr(c, err)
			return
		}
		metrics.ReportExports.Inc()

		c.Header("Content-Disposition", "attachment; filename=\"attendance.csv\"; filename*=UTF-8''"+url.PathEscape(exp.Filename))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", exp.Payload)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// respondErr maps a taxonomy error to its HTTP status. Unexpected errors are
// logged in full and returned as a generic message.
func respondErr(c *gin.Context, err error) {
	status := apperr.StatusCode(err)
	if status == http.StatusInternalServerError {
		log.Printf("unexpected error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

// exporterName attributes the export to the requester.
func exporterName(c *gin.Context, fallback string) string {
	claimsAny, ok := c.Get("claims")
	if ok {
		if claims, ok := claimsAny.(auth.Claims); ok && claims.Name != "" {
			return claims.Name
		}
	}
	return fallback
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
