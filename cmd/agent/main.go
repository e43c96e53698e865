// cmd/agent/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"analytics-agent/internal/agent"
	"analytics-agent/internal/common/config"
	"analytics-agent/internal/common/database"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/observability"
	"analytics-agent/internal/genai"
	"analytics-agent/internal/mapper"
	"analytics-agent/internal/narrator"
	"analytics-agent/internal/normalize"
	"analytics-agent/internal/planner"
	"analytics-agent/internal/session"
	"analytics-agent/internal/tools"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting analytics agent...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Pipeline wiring ---
	refDate, err := time.Parse("2006-01-02", cfg.Pipeline.ReferenceDate)
	if err != nil {
		zapLog.Fatal("invalid pipeline.reference_date", zap.Error(err))
	}
	norm := normalize.New(refDate, cfg.Pipeline.DefaultYear)

	var classifier mapper.Classifier
	var generator planner.Generator
	if cfg.APIs.GenAI.Enabled {
		client := genai.NewClient(
			cfg.APIs.GenAI.BaseURL,
			cfg.Pipeline.ReferenceDate,
			config.GetDuration(cfg.APIs.GenAI.Timeout),
			cfg.APIs.GenAI.MaxRetries,
			log,
		)
		classifier = client
		generator = client
		zapLog.Info("GenAI sidecar enabled", zap.String("baseURL", cfg.APIs.GenAI.BaseURL))
	} else {
		zapLog.Info("GenAI sidecar disabled, rules only")
	}

	executor := tools.NewExecutor(pg.GetDB(), config.GetDuration(cfg.Pipeline.QueryTimeout), log)
	sessions := session.NewStore(rdb.GetClient(), time.Duration(cfg.Pipeline.SessionTTLHours)*time.Hour, log)

	a := agent.New(
		mapper.New(classifier, norm, log),
		planner.New(generator, executor, log),
		executor,
		sessions,
		narrator.New(),
		log,
	)

	// --- HTTP surface ---
	mux := http.NewServeMux()
	mux.HandleFunc("/ask", askHandler(a, obs, zapLog))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := pg.Ping(checkCtx); err != nil {
			status, code = "postgres unreachable", http.StatusServiceUnavailable
		} else if err := rdb.Ping(checkCtx); err != nil {
			status, code = "redis unreachable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      mux,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", cfg.Server.ListenAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("Analytics agent stopped gracefully")
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type askResponse struct {
	TraceID     string      `json:"trace_id"`
	Answer      string      `json:"answer"`
	Headline    string      `json:"headline,omitempty"`
	Evidence    []string    `json:"evidence,omitempty"`
	Assumptions []string    `json:"assumptions,omitempty"`
	Charts      interface{} `json:"charts,omitempty"`
}

func askHandler(a *agent.Agent, obs *observability.Observability, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		start := time.Now()

		var req askRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			http.Error(w, "question is required", http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			req.SessionID = "anonymous"
		}

		res, err := a.Answer(r.Context(), req.SessionID, req.Question)
		if err != nil {
			obs.RecordTurn(r.Context(), "error")
			log.Error("turn failed", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		obs.RecordTurn(r.Context(), "ok")
		obs.RecordTurnDuration(r.Context(), time.Since(start), "ok")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(askResponse{
			TraceID:     res.TraceID,
			Answer:      res.Answer.Text,
			Headline:    res.Answer.Headline,
			Evidence:    res.Answer.Evidence,
			Assumptions: res.Plan.Assumptions,
			Charts:      res.Answer.Charts,
		})
	}
}
