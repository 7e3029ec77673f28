package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/config"
	"github.com/fiverlaine/tracktelegram/internal/db"
	"github.com/fiverlaine/tracktelegram/internal/forwarder"
	"github.com/fiverlaine/tracktelegram/internal/kafka"
	"github.com/fiverlaine/tracktelegram/internal/logger"
	"github.com/fiverlaine/tracktelegram/internal/metrics"
	"github.com/fiverlaine/tracktelegram/internal/repository"
	"github.com/fiverlaine/tracktelegram/internal/service/click"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var forwarderCmd = &cobra.Command{
	Use:   "forwarder",
	Short: "Run the conversion forwarder (Kafka -> Facebook CAPI)",
	RunE:  runForwarder,
}

func runForwarder(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zlog := logger.New(cfg.Log.Level)
	defer func() { _ = zlog.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL, for pixel invalidation)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	pixelsRepo := repository.NewPixelsRepository(dbx)

	// 3) CAPI sender behind a breaker
	breaker := forwarder.NewBreaker(
		cfg.Forwarder.Breaker.FailThreshold,
		time.Duration(cfg.Forwarder.Breaker.OpenForMs)*time.Millisecond,
	)
	sender := forwarder.NewCAPIClient(cfg.Forwarder.GraphBaseURL, cfg.Forwarder.Timeout, breaker)

	// 4) kafka consumer on the outbox relay topic
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "tracktg-forwarder"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          click.ConversionsKafkaTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := forwarder.NewWorker(consumer, pixelsRepo, sender, zlog)

	// tune knobs
	if cfg.Forwarder.Workers > 0 {
		w.Workers = cfg.Forwarder.Workers
	}
	if cfg.Forwarder.MaxAttempts > 0 {
		w.MaxAttempts = cfg.Forwarder.MaxAttempts
	}
	if cfg.Forwarder.BaseBackoff > 0 {
		w.BaseBackoff = cfg.Forwarder.BaseBackoff
	}
	if cfg.Forwarder.MaxBackoff > 0 {
		w.MaxBackoff = cfg.Forwarder.MaxBackoff
	}

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> forwarder started topic=%s group=%s workers=%d attempts=%d",
		click.ConversionsKafkaTopic, groupID, w.Workers, w.MaxAttempts)

	return w.Run(ctx)
}
