package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/circuit/internal/auth"
	"example.com/circuit/internal/config"
	"example.com/circuit/internal/host"
	"example.com/circuit/internal/peer"
	"example.com/circuit/internal/reconcile"
	"example.com/circuit/internal/remote"
	"example.com/circuit/internal/store/sqlite"
	httptransport "example.com/circuit/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	transport := peer.NewKafkaTransport(peer.KafkaConfig{
		Brokers:       cfg.KafkaBrokers,
		OutboundTopic: cfg.CompanionTopic,
		InboundTopic:  cfg.HostTopic,
		GroupID:       "circuit-host-" + cfg.DeviceID,
		DeviceID:      cfg.DeviceID,
	}, nil)
	defer transport.Close()

	channel := peer.NewChannel(transport, store, peer.WithSendTimeout(cfg.SendTimeout))

	token, err := backendToken(cfg)
	if err != nil {
		log.Fatalf("failed to sign backend token: %v", err)
	}
	client := remote.NewClient(cfg.BackendURL, token, cfg.CallTimeout)

	node := host.NewNode(store, channel, client,
		host.WithReconcileOptions(reconcile.WithCallTimeout(cfg.CallTimeout)),
	)
	if err := node.Load(ctx); err != nil {
		log.Fatalf("failed to load local cache: %v", err)
	}

	metrics := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.HTTPAddress}, promhttp.Handler(), nil)
	go func() {
		if err := metrics.ListenAndServe(ctx); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	go func() {
		if err := channel.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("peer channel stopped: %v", err)
		}
	}()
	go channel.Monitor(ctx, transport, cfg.ProbeInterval)
	go node.Session().Run(ctx, cfg.TickInterval)

	if report, err := node.ForceFullSync(ctx); err != nil {
		log.Printf("startup full sync: %v", err)
	} else {
		log.Printf("startup full sync: pushed=%d removed=%d", report.WorkoutsPushed, len(report.RemovedLocally))
	}

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	log.Printf("host %s started (sync every %s)", cfg.DeviceID, cfg.SyncInterval)
	for {
		select {
		case <-ticker.C:
			if _, err := node.Sync(ctx); err != nil && !errors.Is(err, reconcile.ErrSyncInProgress) {
				log.Printf("sync error: %v", err)
			}
		case <-ctx.Done():
			log.Println("host shutting down")
			node.Wait()
			return
		}
	}
}

// backendToken returns BACKEND_TOKEN, or for local dev mints one for USER_ID with the
// shared secret.
func backendToken(cfg config.Config) (string, error) {
	if cfg.BackendToken != "" || cfg.UserID == "" {
		return cfg.BackendToken, nil
	}
	return auth.Sign(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, cfg.UserID,
		[]string{auth.ScopeWorkoutsRead, auth.ScopeWorkoutsWrite}, 24*time.Hour)
}
