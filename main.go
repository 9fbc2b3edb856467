package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wellpipe/aggregate"
	"wellpipe/alerts"
	"wellpipe/anomaly"
	"wellpipe/config"
	"wellpipe/database"
	"wellpipe/delivery"
	"wellpipe/email"
	"wellpipe/handlers"
	"wellpipe/ingest"
	"wellpipe/metrics"
	"wellpipe/middleware"
	"wellpipe/rabbitmq"
	"wellpipe/report"
	"wellpipe/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Register()

	// Database
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := db.EnsureTables(ctx); err != nil {
		cancel()
		log.Fatal("Failed to ensure database tables:", err)
	}
	cancel()

	// RabbitMQ publisher is optional; the pipeline runs without a broker.
	var publisher alerts.Publisher
	var broker handlers.BrokerStatus
	if p, err := rabbitmq.NewPublisher(cfg.GetAMQPURL(), cfg.RabbitMQExchange, cfg.AlertRoutingKey); err != nil {
		log.Printf("RabbitMQ unavailable, alert events will not be published: %v", err)
	} else {
		publisher = p
		broker = p
		defer p.Close()
	}

	// Email notifier is optional as well; nil means no email channel.
	var notifier alerts.Notifier
	if sender := email.NewSender(cfg); sender != nil {
		notifier = sender
	}

	// Pipeline wiring
	dispatcher := alerts.NewDispatcher(db, publisher, notifier)
	engine := aggregate.NewEngine(cfg.ExpectedSamplesPerDay())
	ingestor := ingest.NewIngestor(cfg, db, db, engine)
	detector := anomaly.NewDetector(cfg, anomaly.NewScorer(cfg), db, dispatcher, engine)
	deliverer := delivery.NewHTTPDeliverer(cfg)
	manager := report.NewManager(cfg, db, deliverer, dispatcher, engine)

	// Recover anything left mid-upload by a previous run before the
	// scheduler starts issuing new work.
	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := manager.RecoverStaleUploads(recoverCtx); err != nil {
		log.Printf("Startup stale-upload recovery failed: %v", err)
	}
	recoverCancel()

	sched := scheduler.NewScheduler(cfg, manager, db)
	sched.Start()

	h := handlers.NewHandlers(cfg, db, ingestor, detector, dispatcher, manager, broker)
	router := setupRouter(h)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop()
	detector.Shutdown()
	manager.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func setupRouter(h *handlers.Handlers) *gin.Engine {
	router := gin.Default()

	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())

	router.GET("/health", h.HealthCheck)
	router.GET("/version", h.Version)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v3")
	{
		api.POST("/telemetry", h.IngestTelemetry)
		api.POST("/telemetry/batch", h.IngestTelemetryBatch)
		api.GET("/telemetry/stats/:well_id", h.GetTelemetryStats)

		api.GET("/wells", h.ListWells)

		api.POST("/reports/generate", h.GenerateReport)
		api.POST("/reports/:id/upload", h.UploadReport)
		api.GET("/reports", h.ListReports)
		api.GET("/reports/:id", h.GetReport)

		api.GET("/alerts", h.ListAlerts)
		api.POST("/alerts/:id/resolve", h.ResolveAlert)

		api.GET("/anomalies", h.ListAnomalies)
		api.POST("/anomalies/:id/confirm", h.ConfirmAnomaly)

		api.GET("/dashboard/overview", h.DashboardOverview)
		api.GET("/dashboard/history", h.DashboardHistory)
		api.GET("/dashboard/realtime", h.DashboardRealtime)
	}

	return router
}
