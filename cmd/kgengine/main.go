// Command kgengine runs the knowledge graph engine: import papers from
// the command line or serve the HTTP surface.
//
// Exit codes: 0 on success, 1 on operation failure, 2 on configuration
// error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/app"
	"github.com/djjay0131/agentic-kg/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 1
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 2
	}

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: kgengine <serve|import> [args]")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer a.Close()

	switch args[0] {
	case "serve":
		return serve(ctx, cfg, a, args[1:], logger)
	case "import":
		return importPapers(ctx, a, args[1:], logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return 2
	}
}

// importPapers runs the full pipeline for each identifier in order.
func importPapers(ctx context.Context, a *app.App, ids []string, logger *zap.Logger) int {
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "usage: kgengine import <doi|arxiv-id> ...")
		return 2
	}
	failed := 0
	for _, id := range ids {
		rep, err := a.Pipeline.ProcessPaper(ctx, id)
		if err != nil {
			logger.Error("import failed", zap.String("id", id), zap.Error(err))
			failed++
			continue
		}
		logger.Info("paper processed",
			zap.String("doi", rep.DOI),
			zap.String("title", rep.Title),
			zap.String("import", string(rep.Import)),
			zap.Int("problems", rep.Problems),
			zap.Int("linked", rep.Linked),
			zap.Int("created", rep.Created),
			zap.Int("escalated", rep.Escalated))
	}
	if failed > 0 {
		return 1
	}
	return 0
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func serve(ctx context.Context, cfg config.Config, a *app.App, args []string, logger *zap.Logger) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", cfg.ListenAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.CheckHealth(r.Context()))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := a.GraphStats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		a.Hub.Serve(r.PathValue("id"), conn)
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", *addr))

	select {
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return 1
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return 1
	}
	logger.Info("stopped")
	return 0
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
