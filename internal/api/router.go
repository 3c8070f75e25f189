package api

import (
	"net/http"
	"time"

	"checkout-service/internal/auth"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	RateLimit  float64
	RateBurst  int
	LimiterTTL time.Duration
	// JWTSecret protects the read endpoints when non-empty.
	JWTSecret string
	Logger    zerolog.Logger
}

func NewRouter(h *OrderHandler, cfg RouterConfig) *echo.Echo {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.LimiterTTL <= 0 {
		cfg.LimiterTTL = 3 * time.Minute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	limiterConfig := middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			// gateway notifications must never be throttled
			return c.Path() == "/api/shop/order/phonepe-callback"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     cfg.RateBurst,
				ExpiresIn: cfg.LimiterTTL,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, errorResponse{Error: errorBody{Kind: "forbidden", Message: "rate limiter error"}})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: errorBody{Kind: "rate_limited", Message: "rate limit exceeded"}})
		},
	}

	logger := cfg.Logger
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "checkout-service",
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	shop := e.Group("/api/shop", middleware.RateLimiterWithConfig(limiterConfig))

	var read, owner []echo.MiddlewareFunc
	if cfg.JWTSecret != "" {
		read = append(read, echojwt.WithConfig(echojwt.Config{
			SigningKey: []byte(cfg.JWTSecret),
			ContextKey: auth.ContextKey,
			NewClaimsFunc: func(c echo.Context) jwt.Claims {
				return new(auth.Claims)
			},
		}))
		owner = append(append(owner, read...), auth.RequireSameUser("userId"))
	}

	shop.POST("/order/create", h.CreateOrder)
	shop.POST("/order/phonepe-callback", h.PhonePeCallback)
	shop.GET("/order/phonepe-redirect", h.PhonePeRedirect)
	shop.POST("/order/phonepe-redirect", h.PhonePeRedirect)

	shop.GET("/order/verify-payment", h.VerifyPayment, read...)
	shop.GET("/order/list/:userId", h.ListOrders, owner...)
	shop.GET("/order/details/:id", h.GetOrder, read...)
	shop.GET("/cart/:userId", h.GetCart, owner...)
	shop.PUT("/cart/:userId", h.SaveCart, owner...)

	return e
}

// requestLogger attaches a logger carrying the request id to the request context.
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l := logger.With().Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).Logger()
			req := c.Request()
			c.SetRequest(req.WithContext(l.WithContext(req.Context())))
			return next(c)
		}
	}
}
