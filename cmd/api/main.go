package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-shop-checkout.git/internal/audit"
	"github.com/ariefcatur/go-shop-checkout.git/internal/cart"
	"github.com/ariefcatur/go-shop-checkout.git/internal/catalog"
	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/config"
	"github.com/ariefcatur/go-shop-checkout.git/internal/httpx"
	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/logx"
	"github.com/ariefcatur/go-shop-checkout.git/internal/metrics"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/payments"
	"github.com/ariefcatur/go-shop-checkout.git/internal/postgres"
	"github.com/ariefcatur/go-shop-checkout.git/internal/pricing"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(logx.Options{Service: cfg.ServiceName, Env: cfg.Env, Level: cfg.LogLevel})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: satu multi-topic untuk event lifecycle, satu untuk audit
	events := kafkax.NewMultiProducer(cfg.KafkaBrokers, 1024)
	events.Start(ctx)
	auditProd := kafkax.NewProducer(cfg.KafkaBrokers, audit.Topic, 1024)
	auditProd.Start(ctx)

	m := metrics.New("api")
	auditSink := &audit.KafkaSink{Producer: auditProd, Service: cfg.ServiceName}

	// Repos
	ledger := &inventory.Ledger{DB: db}
	catalogRepo := &catalog.Repo{DB: db}
	cartRepo := &cart.Repo{DB: db, Currency: cfg.Currency}
	orderRepo := &orders.Repo{DB: db, Ledger: ledger, NumberPrefix: cfg.OrderPrefix}
	couponRepo := &pricing.CouponRepo{DB: db}
	paymentRepo := &payments.Repo{DB: db, Orders: orderRepo}

	// Services
	cartSvc := &cart.Service{Store: cartRepo, Stock: ledger, Catalog: catalogRepo}
	checkoutSvc := &checkout.Service{
		Stock:       ledger,
		Catalog:     catalogRepo,
		Orders:      orderRepo,
		Coupons:     couponRepo,
		Audit:       auditSink,
		Events:      events,
		ServiceName: cfg.ServiceName,
	}
	paymentSvc := &payments.Service{
		Gateway:       payments.NewIyzicoClient(cfg.Iyzico),
		GatewayName:   "iyzico",
		Store:         paymentRepo,
		Orders:        orderRepo,
		Redis:         rdb,
		Audit:         auditSink,
		Events:        events,
		Metrics:       m,
		WebhookSecret: cfg.Iyzico.SecretKey,
		ServiceName:   cfg.ServiceName,
	}

	// Router & handlers
	router := httpx.NewRouter()
	(&httpx.CartHandler{Carts: cartSvc}).Register(router)
	(&httpx.CheckoutHandler{
		Checkout: checkoutSvc,
		Carts:    cartSvc,
		Orders:   orderRepo,
		Redis:    rdb,
		Metrics:  m,
	}).Register(router)
	(&httpx.PaymentHandler{Payments: paymentSvc, Redis: rdb}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	events.Close() // tutup inbox -> flush & close writer
	auditProd.Close()
	cancel() // stop producer loop
	events.WaitClosed()
	auditProd.WaitClosed()
}
