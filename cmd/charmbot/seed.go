package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nugget/charmbot/internal/orders"
)

// runSeed replaces every order with the sample data set.
func runSeed(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	store, err := openOrderStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sample := orders.SampleOrders()
	if err := store.Seed(ctx, sample); err != nil {
		return fmt.Errorf("seed orders: %w", err)
	}
	logger.Info("orders seeded", "driver", cfg.Orders.Driver, "count", len(sample))
	fmt.Fprintf(stdout, "Seeded %d orders\n", len(sample))
	return nil
}
