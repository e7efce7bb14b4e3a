// README: Location stream consumer; archives driver GPS events to Postgres.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"hail/internal/config"
	"hail/internal/infra"
	"hail/internal/logging"
	"hail/internal/modules/location"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "consumer_messages_consumed_total",
		Help: "Location messages consumed from the stream",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "consumer_messages_invalid_total",
		Help: "Messages that failed to decode",
	})
	historyWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "consumer_history_writes_total",
		Help: "Location history rows written",
	})
	historyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "consumer_history_errors_total",
		Help: "Failed location history writes",
	})
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.ServiceName+"-consumer", cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		logger.Fatal("postgres init", zap.Error(err))
	}
	defer dbPool.Close()

	metricsAddr := os.Getenv("HAIL_CONSUMER_METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":2112"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := dbPool.Ping(r.Context()); err != nil {
				http.Error(w, "postgres not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		logger.Info("metrics listening", zap.String("addr", metricsAddr))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	brokers := cfg.Kafka.Brokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.Kafka.LocationTopic,
		GroupID:  cfg.Kafka.Group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	logger.Info("consuming",
		zap.String("topic", cfg.Kafka.LocationTopic),
		zap.Strings("brokers", brokers),
		zap.String("group", cfg.Kafka.Group))

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return
			}
			logger.Warn("read failed", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var e location.Event
		if err := json.Unmarshal(m.Value, &e); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", zap.Error(err))
			continue
		}
		if err := insertHistory(ctx, dbPool, e); err != nil {
			historyErrors.Inc()
			logger.Warn("history write failed", zap.String("driver_id", e.DriverID), zap.Error(err))
			continue
		}
		historyWrites.Inc()
	}
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertHistory(ctx context.Context, db execer, e location.Event) error {
	_, err := db.Exec(ctx, `
		INSERT INTO driver_location_history (driver_id, lat, lng, heading, speed, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.DriverID, e.Lat, e.Lng, e.Heading, e.Speed, e.RecordedAt)
	return err
}
