package migrate

import (
	"context"
	"fmt"

	"github.com/hogansalley/storefront/pkg/config"
	"github.com/hogansalley/storefront/pkg/db"
	"github.com/hogansalley/storefront/pkg/logger"
)

// MaybeAutoRun applies the embedded migrations when the cart is stored in SQL
// and auto-migration is enabled.
func MaybeAutoRun(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg.Cart.StorageDriver != config.StorageDriverSQL || !cfg.DB.AutoMigrate {
		return nil
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": client.Driver()})
	logg.Info(ctx, "running goose migrations (auto-run)")

	if err := Run(ctx, sqlDB, client.Driver(), "", "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "goose migrations completed")
	return nil
}
