// Package server is the verification bridge: a small HTTP service that
// holds the payment provider credentials and answers the client's
// verify, recover and checkout calls.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/payment"
)

type Config struct {
	Addr string
	// ProductType is used when a request does not name one.
	ProductType string
	// ProviderTimeout bounds each call to the payment provider.
	ProviderTimeout time.Duration
	// Tracing enables the otelfiber middleware.
	Tracing bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ProductType == "" {
		c.ProductType = entitlement.ProductPremium
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	return c
}

type handlers struct {
	cfg      Config
	provider entitlement.Provider
	logger   observability.Logger
	metrics  *observability.Metrics
}

// New builds the bridge app. Collectors are registered on reg, which also
// backs /metrics.
func New(cfg Config, provider entitlement.Provider, logger observability.Logger, reg *prometheus.Registry) (*fiber.App, error) {
	if provider == nil {
		return nil, errors.New("server: provider is required")
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cfg = cfg.withDefaults()
	logger = observability.OrNop(logger)

	httpMetrics, err := NewHTTPMetrics(reg)
	if err != nil {
		return nil, err
	}
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(),
		DisableStartupMessage: true,
	})
	app.Use(RequestID())
	app.Use(AccessLog(logger))
	app.Use(httpMetrics.Handler())
	if cfg.Tracing {
		app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
			return c.Path() == "/metrics" || c.Path() == "/healthz"
		})))
	}

	h := &handlers{cfg: cfg, provider: provider, logger: logger, metrics: metrics}
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	api := app.Group("/api")
	api.Post("/verify-payment", h.verify)
	api.Post("/recover-license", h.recoverLicense)
	api.Post("/create-checkout", h.checkout)
	return app, nil
}

// Run serves app on cfg.Addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, app *fiber.App, addr string, logger observability.Logger) error {
	logger = observability.OrNop(logger)
	errc := make(chan error, 1)
	go func() { errc <- app.Listen(addr) }()
	logger.Info("bridge listening", observability.String("addr", addr))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("bridge shutting down")
	return app.ShutdownWithContext(shutdown)
}

func (h *handlers) call(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.cfg.ProviderTimeout)
}

func (h *handlers) verify(c *fiber.Ctx) error {
	var req payment.VerifyRequest
	if err := c.BodyParser(&req); err != nil || req.SessionID == "" {
		return writeError(c, fiber.StatusBadRequest, payment.CodeBadRequest, "sessionId is required")
	}
	ctx, cancel := h.call(c)
	defer cancel()
	v, err := h.provider.VerifySession(ctx, req.SessionID)
	h.metrics.ObserveVerification("bridge_verify", outcome(err))
	if err != nil {
		h.logger.Warn("verify failed", observability.String("request_id", requestID(c)), observability.Error("error", err))
		return providerFailure(c, err)
	}
	return c.JSON(payment.VerifyResponse{
		Paid:        v.Paid,
		Email:       v.Email,
		ProductType: v.ProductType,
		PaidAt:      v.PaidAt,
	})
}

func (h *handlers) recoverLicense(c *fiber.Ctx) error {
	var req payment.RecoverRequest
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return writeError(c, fiber.StatusBadRequest, payment.CodeBadRequest, "email is required")
	}
	email, err := entitlement.NormalizeEmail(req.Email)
	if err != nil {
		return providerFailure(c, err)
	}
	product := req.ProductType
	if product == "" {
		product = h.cfg.ProductType
	}
	ctx, cancel := h.call(c)
	defer cancel()
	s, err := h.provider.FindPaidSession(ctx, email, product)
	h.metrics.ObserveVerification("bridge_recover", outcome(err))
	if err != nil {
		return providerFailure(c, err)
	}
	return c.JSON(payment.RecoverResponse{
		Found:       true,
		SessionID:   s.SessionID,
		Email:       s.Email,
		ProductType: s.ProductType,
		PaidAt:      s.PaidAt,
	})
}

func (h *handlers) checkout(c *fiber.Ctx) error {
	var req payment.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, payment.CodeBadRequest, "invalid request body")
	}
	email := req.Email
	if email != "" {
		var err error
		if email, err = entitlement.NormalizeEmail(email); err != nil {
			return providerFailure(c, err)
		}
	}
	product := req.ProductType
	if product == "" {
		product = h.cfg.ProductType
	}
	cp, ok := h.provider.(entitlement.CheckoutProvider)
	if !ok {
		return providerFailure(c, entitlement.ErrCheckoutUnsupported)
	}
	ctx, cancel := h.call(c)
	defer cancel()
	s, err := cp.CreateCheckout(ctx, email, product)
	if err != nil {
		return providerFailure(c, err)
	}
	return c.JSON(payment.CheckoutResponse{SessionID: s.ID, URL: s.URL})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, entitlement.ErrSessionNotFound), errors.Is(err, entitlement.ErrNoPurchaseFound):
		return "not_found"
	}
	return "unavailable"
}
