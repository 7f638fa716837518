// Command livewatch follows a campaign's live delivery metrics from the
// terminal, falling back to polling while the stream is unavailable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"campaign-delivery/internal/live"
	"campaign-delivery/internal/live/client"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("base", envOr("LIVEWATCH_BASE_URL", "http://localhost:8080"), "API base URL")
	token := flag.String("token", os.Getenv("LIVEWATCH_TOKEN"), "tenant JWT")
	campaignID := flag.String("campaign", "", "campaign UUID")
	poll := flag.Duration("poll", 5*time.Second, "polling interval while the stream is down")
	reconnects := flag.Uint64("reconnects", 5, "stream reconnect attempts before polling only")
	flag.Parse()

	id, err := uuid.Parse(*campaignID)
	if err != nil {
		log.Fatalf("invalid -campaign: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	c := client.New(client.Options{
		BaseURL:       *baseURL,
		Token:         *token,
		CampaignID:    id,
		PollInterval:  *poll,
		MaxReconnects: *reconnects,
		OnSnapshot: func(s live.Snapshot) {
			if err := enc.Encode(s); err != nil {
				log.Printf("[LiveWatch] write snapshot: %v", err)
			}
		},
		OnState: func(s client.State) {
			log.Printf("[LiveWatch] %s", s)
		},
	})

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[LiveWatch] %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
