// Command bulkopsd runs the bulk-mutation engine as a small HTTP daemon:
// health and metrics endpoints plus a read-only view of the deletion trash.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kartenwerk/bulkops/internal/config"
	"github.com/kartenwerk/bulkops/pkg/bulk"
	"github.com/kartenwerk/bulkops/pkg/engine"
	"github.com/kartenwerk/bulkops/pkg/logging"
	"github.com/kartenwerk/bulkops/pkg/staging"
	"github.com/kartenwerk/bulkops/pkg/store"
)

func main() {
	configPath := flag.String("config", "bulkops.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		fallback := logging.NewLogger("bulkopsd")
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	}).With().Str("component", "bulkopsd").Logger()

	if cfg.StoreURL == "" {
		logger.Fatal().Msg("store_url is required")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")

	storeCfg := store.DefaultConfig(redisClient, cfg.StoreURL)
	storeCfg.UserAgent = cfg.UserAgent
	storeClient, err := store.New(storeCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create store client")
	}
	defer storeClient.Close()

	eng, err := engine.New(storeClient, engine.Config{
		GracePeriod:      cfg.GracePeriod,
		ChunkSize:        cfg.ChunkSize,
		SelectionCap:     cfg.SelectionCap,
		PageSize:         cfg.PageSize,
		ConfirmThreshold: cfg.ConfirmThreshold,
		ConfirmWord:      cfg.ConfirmWord,
		OnCommitResult: func(batchID string, outcome bulk.Outcome) {
			logger.Info().
				Str("batch_id", batchID).
				Str("result", engine.Summary("delete", outcome)).
				Msg("Batch committed")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create engine")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/trash", trashHandler(eng))

	logger.Info().Str("listen", cfg.Listen).Msg("Starting bulkops daemon")
	if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// trashEntry is the wire form of one staged deletion in the trash view.
type trashEntry struct {
	staging.PendingDeletion
	SecondsRemaining int `json:"secondsRemaining"`
}

func trashHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		staged := eng.Staging().ListStaged()

		entries := make([]trashEntry, 0, len(staged))
		for _, p := range staged {
			entries = append(entries, trashEntry{
				PendingDeletion:  p,
				SecondsRemaining: p.SecondsRemaining(now),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
