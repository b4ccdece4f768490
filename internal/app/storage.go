package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/mojito-bar/internal/domain/inventory"
	"github.com/xenking/mojito-bar/internal/domain/order"
	"github.com/xenking/mojito-bar/internal/domain/product"
	mongostore "github.com/xenking/mojito-bar/internal/storage/mongo"
	"github.com/xenking/mojito-bar/internal/storage/postgres"
	"github.com/xenking/mojito-bar/pkg/health"
)

// storage is the persistence engine selected for a deployment.
type storage struct {
	products  product.Repository
	orders    order.Repository
	inventory inventory.Repository
	ping      health.CheckFunc
	close     func(ctx context.Context) error
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*storage, error) {
	switch cfg.Storage.Driver {
	case DriverPostgres:
		return openPostgres(ctx, cfg.DatabaseURL)
	case DriverMongo:
		return openMongo(ctx, lg, cfg.Mongo)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openPostgres(ctx context.Context, databaseURL string) (*storage, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &storage{
		products:  postgres.NewProductRepository(pool),
		orders:    postgres.NewOrderRepository(pool),
		inventory: postgres.NewInventoryRepository(pool),
		ping:      pool.Ping,
		close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}, nil
}

func openMongo(ctx context.Context, lg *zap.Logger, cfg MongoConfig) (*storage, error) {
	client, err := mongostore.Connect(ctx, cfg.URI)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	db := client.Database(cfg.Database)

	// Queries work without indexes, only slower.
	if err := mongostore.EnsureIndexes(ctx, db); err != nil {
		lg.Warn("Ensure indexes failed", zap.Error(err))
	}
	return &storage{
		products:  mongostore.NewProductRepository(db),
		orders:    mongostore.NewOrderRepository(db),
		inventory: mongostore.NewInventoryRepository(db),
		ping: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		},
		close:     client.Disconnect,
	}, nil
}
