package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/commerce"
	"github.com/yourorg/checkout-orchestrator/internal/commerce/circuitbreaker"
	"github.com/yourorg/checkout-orchestrator/internal/config"
	buyerctx "github.com/yourorg/checkout-orchestrator/internal/context"
	"github.com/yourorg/checkout-orchestrator/internal/followup"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
	"github.com/yourorg/checkout-orchestrator/internal/gateway/card"
	"github.com/yourorg/checkout-orchestrator/internal/gateway/redirectpay"
	"github.com/yourorg/checkout-orchestrator/internal/gateway/wallet"
	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/monitor"
	"github.com/yourorg/checkout-orchestrator/internal/orchestrator"
	"github.com/yourorg/checkout-orchestrator/internal/policy"
	"github.com/yourorg/checkout-orchestrator/internal/presenter"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

type server struct {
	log             *slog.Logger
	orch            *orchestrator.Orchestrator
	policies        *policy.Enforcer
	checkoutMonitor *monitor.ContractMonitor
	redirectMonitor *monitor.ContractMonitor
	recorder        *reporting.Recorder
}

func newServer(cfg config.Config, log *slog.Logger) (*server, error) {
	breaker := circuitbreaker.New(circuitbreaker.Settings{
		FailureThreshold:         cfg.Breaker.FailureThreshold,
		OpenStateTimeout:         cfg.Breaker.OpenStateTimeout,
		HalfOpenSuccessThreshold: cfg.Breaker.HalfOpenSuccessThreshold,
	})
	commerceClient := commerce.NewClient(
		cfg.Commerce.BaseURL,
		cfg.Commerce.AuthToken,
		&http.Client{Timeout: cfg.Commerce.Timeout},
		breaker,
		log,
	)

	registry := gateway.NewRegistry(
		card.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, nil),
		redirectpay.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.ReturnURL, nil),
		wallet.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.WalletSheetTimeout, nil, nil),
	)

	policies, err := policy.NewEnforcer(policy.DefaultRules())
	if err != nil {
		return nil, err
	}
	checkoutMonitor, err := monitor.NewCheckoutRequestMonitor()
	if err != nil {
		return nil, err
	}
	redirectMonitor, err := monitor.NewRedirectCallbackMonitor()
	if err != nil {
		return nil, err
	}

	recorder := reporting.NewRecorder()
	orch := orchestrator.New(
		commerceClient,
		registry,
		followup.NewDispatcher(commerceClient, log),
		presenter.NewSlogPresenter(log),
		orchestrator.WithLogger(log),
		orchestrator.WithRecorder(recorder),
	)

	return &server{
		log:             log,
		orch:            orch,
		policies:        policies,
		checkoutMonitor: checkoutMonitor,
		redirectMonitor: redirectMonitor,
		recorder:        recorder,
	}, nil
}

type checkoutRequest struct {
	checkout.SelectionRequest
	CouponCode    string            `json:"coupon_code"`
	PaymentMethod string            `json:"payment_method"`
	MethodSubtype string            `json:"method_subtype"`
	MethodFields  map[string]string `json:"method_fields"`
}

func buyerFromHeaders(c *gin.Context) buyerctx.BuyerContext {
	return buyerctx.BuyerContext{
		BuyerID:  c.GetHeader("X-Buyer-Id"),
		Email:    c.GetHeader("X-Buyer-Email"),
		Timezone: c.GetHeader("X-Buyer-Timezone"),
	}
}

// traceFromRequest continues an upstream trace when the caller supplies
// one, otherwise starts a fresh trace for this attempt.
func traceFromRequest(c *gin.Context) buyerctx.TraceContext {
	traceID := c.GetHeader("X-Trace-Id")
	spanID := c.GetHeader("X-Span-Id")
	if traceID != "" && spanID != "" {
		return buyerctx.NewTraceContextWithIDs(c.Request.Context(), traceID, spanID)
	}
	return buyerctx.NewTraceContext(c.Request.Context())
}

// handleCheckout executes one full checkout attempt in a single request:
// order creation, then the payment leg when a payment method is supplied
// and the order requires one.
func (s *server) handleCheckout(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	valid, violations, err := s.checkoutMonitor.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
		return
	}

	selection, err := checkout.BuildSelection(req.SelectionRequest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tc := traceFromRequest(c)
	attempt := s.orch.NewAttempt(buyerFromHeaders(c), selection)

	order, err := attempt.CreateOrder(tc, orchestrator.OrderOptions{CouponCode: req.CouponCode})
	if err != nil {
		s.renderFailure(c, attempt.State(), err)
		return
	}

	if !order.PaymentRequired {
		c.JSON(http.StatusOK, gin.H{
			"attempt_id": attempt.ID,
			"state":      attempt.State(),
			"order":      order,
		})
		return
	}

	if req.PaymentMethod == "" {
		// Order created, payment pending; the client follows up with a
		// method-specific confirmation.
		c.JSON(http.StatusOK, gin.H{
			"attempt_id": attempt.ID,
			"state":      attempt.State(),
			"order":      order,
		})
		return
	}

	res, err := attempt.CompletePayment(tc, gateway.MethodPayload{
		Method:  req.PaymentMethod,
		Subtype: req.MethodSubtype,
		Fields:  req.MethodFields,
	})
	if err != nil {
		s.renderFailure(c, res.State, err)
		return
	}

	if res.RedirectURL != "" {
		c.JSON(http.StatusOK, gin.H{
			"attempt_id":   res.AttemptID,
			"state":        res.State,
			"redirect_url": res.RedirectURL,
		})
		return
	}

	c.JSON(http.StatusOK, successBody(res))
}

// handlePaymentReturn resumes a redirect-based payment from the
// return-URL parameters appended by the gateway.
func (s *server) handlePaymentReturn(c *gin.Context) {
	params := c.Request.URL.Query()

	valid, violations, err := s.redirectMonitor.ValidateQuery(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid callback"})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return
	}

	token, err := checkout.ParseResumeToken(params)
	if err != nil {
		s.renderFailure(c, checkout.StateGatewayConfirming, err)
		return
	}

	tc := traceFromRequest(c)
	res, err := s.orch.VerifyRedirectedPayment(tc, token, buyerFromHeaders(c))
	if err != nil {
		s.renderFailure(c, res.State, err)
		return
	}

	c.JSON(http.StatusOK, successBody(res))
}

func successBody(res orchestrator.PaymentResult) gin.H {
	body := gin.H{
		"state":        res.State,
		"verification": res.Verification,
	}
	if res.AttemptID != "" {
		body["attempt_id"] = res.AttemptID
	}
	if res.FollowUp != nil {
		fu := gin.H{
			"status":     res.FollowUp.Status,
			"product_id": res.FollowUp.ProductID,
		}
		if res.FollowUp.Notice != "" {
			fu["notice"] = res.FollowUp.Notice
		}
		body["follow_up"] = fu
	}
	return body
}

// renderFailure maps a workflow error to an HTTP response, attaching the
// retry guidance decided by the policy rules.
func (s *server) renderFailure(c *gin.Context, state checkout.State, err error) {
	var werr *checkout.WorkflowError
	if !errors.As(err, &werr) {
		s.log.Error("unclassified failure", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	decision, derr := s.policies.Evaluate(policy.FailureInput{
		ErrorKind:     werr.Kind,
		Reason:        werr.Reason,
		State:         state,
		AttemptNumber: 1,
	})
	if derr != nil {
		s.log.Error("policy evaluation failed", slog.Any("error", derr))
	}

	c.JSON(statusFor(werr), gin.H{
		"state": state,
		"error": gin.H{
			"kind":   werr.Kind,
			"reason": werr.Reason,
			"title":  werr.Title,
			"detail": werr.Detail,
		},
		"retry": gin.H{
			"allowed":         decision.AllowUserRetry,
			"contact_support": decision.EscalateSupport,
		},
	})
}

func statusFor(werr *checkout.WorkflowError) int {
	switch werr.Reason {
	case checkout.ReasonMalformedResumeToken:
		return http.StatusBadRequest
	case checkout.ReasonInvalidState:
		return http.StatusConflict
	case checkout.ReasonGatewayDeclined:
		return http.StatusPaymentRequired
	case checkout.ReasonDiscountNotApplicable, checkout.ReasonAlreadyOwned, checkout.ReasonUnapprovedUser:
		return http.StatusUnprocessableEntity
	case checkout.ReasonCommerceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func (s *server) setupRouter(env string) *gin.Engine {
	if env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("checkout-orchestrator"))

	router.POST("/checkout", s.handleCheckout)
	router.GET("/payment/return", s.handlePaymentReturn)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/retrospective", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.recorder.Report())
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func setupTracing() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log := setupLogger(cfg.Env)
	log.Info("starting checkout orchestrator", slog.String("env", cfg.Env))

	metrics.Register()

	shutdownTracing, err := setupTracing()
	if err != nil {
		log.Error("failed to initialize tracing", slog.Any("error", err))
		os.Exit(1)
	}

	srv, err := newServer(cfg, log)
	if err != nil {
		log.Error("failed to initialize server", slog.Any("error", err))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: srv.setupRouter(cfg.Env),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("address", cfg.Server.Address))
		errChan <- httpServer.ListenAndServe()
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		log.Info("stopping server...")
	case err := <-errChan:
		log.Error("server crashed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("failed to stop server", slog.Any("error", err))
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Error("failed to stop tracer", slog.Any("error", err))
	}

	log.Info("server stopped")
}
