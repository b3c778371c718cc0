package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/circuit/internal/api"
	"example.com/circuit/internal/auth"
	"example.com/circuit/internal/backend"
	"example.com/circuit/internal/config"
	persistence "example.com/circuit/internal/persistence/postgres"
	httptransport "example.com/circuit/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo := openRepository(ctx, cfg.PostgresURL)
	defer closeRepo()

	mux := http.NewServeMux()
	api.NewHandler(backend.NewService(repo)).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authenticated := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}).Wrap(logRequests(mux))
	server := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.HTTPAddress}, authenticated, nil)

	log.Printf("circuit backend starting on %s", cfg.HTTPAddress)
	if err := server.ListenAndServe(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		closeRepo()
		os.Exit(1)
	}
	log.Println("circuit backend stopped")
}

// openRepository connects to Postgres, or falls back to an in-memory store for local
// runs without a database.
func openRepository(ctx context.Context, url string) (backend.Repository, func()) {
	if url == "" {
		log.Printf("POSTGRES_URL not set, keeping workouts in memory")
		return backend.NewInMemoryRepository(), func() {}
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("postgres unreachable: %v", err)
	}
	return persistence.NewRepository(pool), pool.Close
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
