package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	deliveryapi "github.com/advisorly/courier/internal/api/handlers/delivery"
	fallbackapi "github.com/advisorly/courier/internal/api/handlers/fallback"
	templateapi "github.com/advisorly/courier/internal/api/handlers/template"
	webhookapi "github.com/advisorly/courier/internal/api/handlers/webhook"
	"github.com/advisorly/courier/internal/api/router"
	"github.com/advisorly/courier/internal/api/server"
	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	deliverymsg "github.com/advisorly/courier/internal/rabbitmq/handlers/delivery"
	"github.com/advisorly/courier/internal/rabbitmq/queue"
	contentrepo "github.com/advisorly/courier/internal/repository/content"
	deliveryrepo "github.com/advisorly/courier/internal/repository/delivery"
	fallbackrepo "github.com/advisorly/courier/internal/repository/fallback"
	fallbacksvc "github.com/advisorly/courier/internal/service/fallback"
	healthsvc "github.com/advisorly/courier/internal/service/health"
	rotationsvc "github.com/advisorly/courier/internal/service/rotation"
	schedulersvc "github.com/advisorly/courier/internal/service/scheduler"
	"github.com/advisorly/courier/internal/worker"
	"github.com/advisorly/courier/pkg/alert"
	"github.com/advisorly/courier/pkg/whatsapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()
	clk := clock.Real{}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
	}

	q, err := queue.NewDeliveryQueue(ch)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create delivery queue")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	contents := contentrepo.NewRepository(db)
	deliveries := deliveryrepo.NewRepository(db)
	fallbacks := fallbackrepo.NewRepository(db)

	wa := whatsapp.NewClient(whatsapp.Config{
		APIBase:           cfg.WhatsApp.APIBase,
		APIVersion:        cfg.WhatsApp.APIVersion,
		PhoneNumberID:     cfg.WhatsApp.PhoneNumberID,
		BusinessAccountID: cfg.WhatsApp.BusinessAccountID,
		AccessToken:       cfg.WhatsApp.AccessToken,
		MaxRetries:        cfg.WhatsApp.MaxRetries,
		RetryDelay:        cfg.WhatsApp.RetryDelay,
		RatePerSecond:     cfg.Scheduler.RatePerSecond,
	})

	var alerter *alert.Mailer
	if cfg.Alerts.SMTPHost != "" {
		alerter = alert.NewMailer(
			cfg.Alerts.SMTPHost,
			cfg.Alerts.SMTPPort,
			cfg.Alerts.Username,
			cfg.Alerts.Password,
			cfg.Alerts.From,
			cfg.Alerts.To,
		)
	}

	health := healthsvc.NewService(wa, deliveries, cfg.Health, clk)
	rotation := rotationsvc.NewService(health, cfg.Rotation, clk)
	fallback := fallbacksvc.NewService(contents, fallbacks, cfg.Fallback, clk)

	var metrics *schedulersvc.Metrics
	if alerter != nil {
		metrics = schedulersvc.NewMetrics(cfg.Scheduler, alerter, clk)
	} else {
		metrics = schedulersvc.NewMetrics(cfg.Scheduler, nil, clk)
	}

	scheduler, err := schedulersvc.NewService(contents, deliveries, q, rdb, metrics, cfg.Scheduler, clk)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create scheduler")
	}

	jobHandler := deliverymsg.NewHandler(scheduler, rotation, wa, deliveries, q, cfg.Scheduler, clk)

	// The concurrent-send ceiling caps the pool size.
	workerCount := cfg.Workers.Count
	if cfg.Scheduler.MaxConcurrent > 0 && workerCount > cfg.Scheduler.MaxConcurrent {
		workerCount = cfg.Scheduler.MaxConcurrent
	}
	dispatcher := worker.NewDispatcher(q, jobHandler, workerCount*10)

	go dispatcher.Run(ctx, cfg.Retry, workerCount)
	go samplePeaks(ctx, dispatcher, metrics, cfg.Scheduler.QueueSampleInterval)

	c, err := startCron(ctx, cfg, scheduler, fallback)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to start cron")
	}

	deliveryHandler := deliveryapi.NewHandler(scheduler, val, cfg)
	fallbackHandler := fallbackapi.NewHandler(fallback, val)
	templateHandler := templateapi.NewHandler(health)
	webhookHandler := webhookapi.NewHandler(deliveries, health, cfg.WhatsApp.VerifyToken)

	r := router.New(deliveryHandler, fallbackHandler, templateHandler, webhookHandler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	<-c.Stop().Done()

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := ch.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
	}
	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}

// startCron registers the nightly jobs: the fallback coverage sweep and the
// scheduling pass for the next delivery day, both in the delivery timezone.
func startCron(ctx context.Context, cfg *config.Config, scheduler *schedulersvc.Service, fallback *fallbacksvc.Service) (*cron.Cron, error) {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	c := cron.New(cron.WithLocation(loc))

	sweepCron := cfg.Fallback.SweepCron
	if sweepCron == "" {
		sweepCron = "30 21 * * *"
	}
	scheduleCron := cfg.Scheduler.ScheduleCron
	if scheduleCron == "" {
		scheduleCron = "0 22 * * *"
	}

	_, err = c.AddFunc(sweepCron, func() {
		targetDate := time.Now().In(loc).AddDate(0, 0, 1)
		if _, err := fallback.AssignFallbacks(ctx, targetDate); err != nil {
			zlog.Logger.Error().Err(err).Msg("fallback sweep failed")
		}
	})
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc(scheduleCron, func() {
		targetDate := time.Now().In(loc).AddDate(0, 0, 1)
		if _, err := scheduler.ScheduleWindow(ctx, cfg.Retry, targetDate); err != nil {
			zlog.Logger.Error().Err(err).Msg("scheduling pass failed")
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()

	return c, nil
}

// samplePeaks periodically folds the dispatcher's in-flight count into the
// peak concurrency metric.
func samplePeaks(ctx context.Context, d *worker.Dispatcher, m *schedulersvc.Metrics, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SamplePeak(d.Active())
		}
	}
}
