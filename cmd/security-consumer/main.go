// Command security-consumer drains account security events from RabbitMQ
// into an append-only log under LOG_DIR.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/obs"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/queue"
)

func main() {
	_ = godotenv.Load()
	log := obs.NewLogger("security-consumer", os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))

	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := queue.NewConsumer(url, os.Getenv("LOG_DIR"), log)
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("consumer stopped")
}
