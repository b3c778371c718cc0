package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/circuit/internal/companion"
	"example.com/circuit/internal/config"
	"example.com/circuit/internal/peer"
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
		OutboundTopic: cfg.HostTopic,
		InboundTopic:  cfg.CompanionTopic,
		GroupID:       "circuit-companion-" + cfg.DeviceID,
		DeviceID:      cfg.DeviceID,
	}, nil)
	defer transport.Close()

	channel := peer.NewChannel(transport, store,
		peer.WithSendTimeout(cfg.SendTimeout),
		peer.WithPullRequests(peer.TypeRequestTemplates, peer.TypeRequestGoals, peer.TypeRequestPersonalBests),
	)
	node := companion.NewNode(store, channel, nil)
	if err := node.Load(ctx); err != nil {
		log.Fatalf("failed to load cached records: %v", err)
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
	// The first successful probe flips the channel reachable, which sends the pulls
	// and drains anything queued while the host was away.
	go channel.Monitor(ctx, transport, cfg.ProbeInterval)
	go node.Controller().Run(ctx, cfg.TickInterval)

	log.Printf("companion %s started", cfg.DeviceID)
	<-ctx.Done()

	if s, ok := node.Controller().Current(); ok {
		log.Printf("abandoning in-progress session %s", s.ID)
	}
	channel.Wait()
	log.Println("companion stopped")
}
