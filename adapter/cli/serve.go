package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/settlr/settlr/adapter/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway API server",
	Long: `Serve starts the HTTP API. In local mode (no RabbitMQ configured)
it also processes the outbox and retries webhook deliveries in-process, so a
single command runs the whole gateway against SQLite.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if container == nil || cfg == nil {
		return errors.New("gateway is not initialized, check database configuration")
	}
	ctx := cmd.Context()

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.APIAddr
	serverCfg.JWTSecret = cfg.JWTSecret
	serverCfg.CronSecret = cfg.CronSecret
	serverCfg.AllowInsecureCron = cfg.IsDevelopment()

	server := api.NewServer(serverCfg, api.Dependencies{
		Subscribe:     container.SubscribeHandler,
		Lifecycle:     container.LifecycleHandler,
		ChargeNow:     container.ChargeNowHandler,
		Plans:         container.PlanHandler,
		Subscriptions: container.SubscriptionQueries,
		PlanQueries:   container.PlanQueries,
		Merchants:     container.MerchantService,
		Deliveries:    container.DeliveryRepo,
		Sweeper:       container.Sweeper,
		Metrics:       container.Metrics,
		Health:        container.Health,
	}, logger)

	if cfg.OutboxProcessorEnabled {
		if err := container.OutboxProcessor.Start(ctx); err != nil {
			return err
		}
	}
	if container.LocalMode() {
		go retryWebhooksLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// retryWebhooksLoop drives webhook retry in local mode, where no worker
// process exists to do it.
func retryWebhooksLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := container.WebhookDispatcher.RetryDue(ctx); err != nil {
				logger.Error("webhook retry pass failed", "error", err)
			}
		}
	}
}
