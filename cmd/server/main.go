package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cardops/config"
	"cardops/internal/api"
	"cardops/internal/broker"
	"cardops/internal/carrier"
	"cardops/internal/imagerelay"
	"cardops/internal/mailer"
	"cardops/internal/models"
	"cardops/internal/psa"
	"cardops/internal/queue"
	"cardops/internal/quota"
	"cardops/internal/redisclient"
	"cardops/internal/service"
	"cardops/internal/shopify"
	"cardops/internal/store"
	"cardops/internal/trolltoad"
	"cardops/internal/util"
	"cardops/internal/worker"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	tp, err := util.InitTracer("cardops", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer st.Close()

	rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer rc.Close()

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicJobs)
	defer producer.Close()
	publisher := broker.NewEventPublisher(producer)

	rotator, err := quota.NewRotator(rootCtx, rc, cfg.PSA.KeyNames, cfg.PSA.DailyQuota)
	if err != nil {
		logger.Fatal("Failed to seed quota counters", zap.Error(err))
	}

	gcs, err := storage.NewClient(rootCtx)
	if err != nil {
		logger.Fatal("Failed to create storage client", zap.Error(err))
	}
	defer gcs.Close()
	relay := imagerelay.NewRelay(gcs, cfg.Storage.Bucket)

	psaClient := psa.NewClient(cfg.PSA.BaseURL)
	ttClient := trolltoad.NewClient(cfg.Business.TrollToadBaseURL)
	shopClient := shopify.NewClient(cfg.Shopify.ShopDomain, cfg.Shopify.APIVersion)
	carrierClient := carrier.NewClient(
		cfg.Carrier.BaseURL, cfg.Carrier.TokenURL,
		cfg.Carrier.ClientID, cfg.Carrier.ClientSecret)

	var failureMailer worker.FailureMailer
	if cfg.Mail.SendGridKey != "" && cfg.Mail.AlertsTo != "" {
		failureMailer = mailer.NewMailer(cfg.Mail.SendGridKey, "cardops", cfg.Mail.FromAddress, cfg.Mail.AlertsTo)
	}

	queueOpts := queue.Options{
		MaxAttempts: cfg.Business.JobMaxAttempts,
		BackoffBase: time.Duration(cfg.Business.JobBackoffBaseSecs) * time.Second,
	}
	certQueue := queue.NewQueue(rc, models.JobKindPSACert, queueOpts, publisher)
	listingQueue := queue.NewQueue(rc, models.JobKindTrollToad, queueOpts, publisher)

	bulkCfg := shopify.BulkPollConfig{
		Interval:  time.Duration(cfg.Business.BulkPollSecs) * time.Second,
		MaxChecks: cfg.Business.BulkPollMaxChecks,
	}

	importSvc := service.NewImportService(
		st, rotator, psaClient, ttClient, relay, shopClient,
		certQueue, listingQueue, rc, cfg.Shopify.ShopDomain)
	complianceSvc := service.NewComplianceService(
		st, shopClient, cfg.Shopify.ShopDomain, cfg.Business.NewArrivalsCollection)
	lotSvc := service.NewLotService(st, carrierClient, shopClient, cfg.Shopify.ShopDomain)
	analyticsSvc := service.NewAnalyticsService(st, shopClient, cfg.Shopify.ShopDomain, bulkCfg)
	wishlistSvc := service.NewWishlistService(st)

	certWorker := queue.NewWorker(certQueue, importSvc.ProcessJob)
	listingWorker := queue.NewWorker(listingQueue, importSvc.ProcessJob)
	go func() {
		if err := certWorker.Start(rootCtx); err != nil && err != context.Canceled {
			logger.Error("Cert worker stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := listingWorker.Start(rootCtx); err != nil && err != context.Canceled {
			logger.Error("Listing worker stopped", zap.Error(err))
		}
	}()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicJobs, cfg.Kafka.ConsumerGroup)
	defer consumer.Close()
	notifWorker := worker.NewNotificationWorker(consumer, st, failureMailer,
		time.Duration(cfg.Business.NotifyRetentionDays)*24*time.Hour)
	go func() {
		if err := notifWorker.Start(rootCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	webhookHandler := api.NewWebhookHandler(cfg.Shopify.WebhookSecret, complianceSvc, st)
	handler := api.NewHandler(
		importSvc, complianceSvc, lotSvc, analyticsSvc, wishlistSvc,
		rotator, st, webhookHandler)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("Shutting down...")

	certWorker.Stop()
	listingWorker.Stop()
	notifWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Tracer shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}
