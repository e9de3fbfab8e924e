package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jusunglee/reachability-go/api/handlers"
	"github.com/jusunglee/reachability-go/internal/config"
)

func main() {
	cfg := config.Load()

	var (
		port     = flag.String("port", cfg.StubPort, "Server port")
		apiKey   = flag.String("api-key", cfg.APIKey, "Require this ApiKey header (empty accepts any)")
		cellSize = flag.Float64("cell-size", cfg.StubCellSize, "Grid cell size in meters")
	)
	flag.Parse()

	r := mux.NewRouter()
	h := handlers.NewHandler(*apiKey, *cellSize)
	h.RegisterRoutes(r)

	r.Use(loggingMiddleware)

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Stub reachability server listening on %s (cell size %.0fm)", srv.Addr, *cellSize)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		log.Fatalf("Stub server stopped: %v", err)
	case <-ctx.Done():
	}

	log.Println("Signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown incomplete: %v", err)
		srv.Close()
	}

	log.Println("Server stopped")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.RequestURI, rec.status, time.Since(start))
	})
}
