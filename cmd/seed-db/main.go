// Command seed-db upserts the product catalog and inventory into PostgreSQL
// and/or MongoDB.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/mojito-bar/internal/handler"
	mongostore "github.com/xenking/mojito-bar/internal/storage/mongo"
	"github.com/xenking/mojito-bar/internal/storage/postgres"
)

// seedFunc upserts the catalog into one storage target.
type seedFunc func(ctx context.Context, o options, c catalog) error

var seeders = map[string]seedFunc{
	"postgres": seedPostgres,
	"mongo":    seedMongo,
}

type options struct {
	driver        string
	databaseURL   string
	mongoURI      string
	mongoDatabase string
	productsFile  string
	inventoryFile string
}

func main() {
	var (
		o            options
		apiKey       string
		apiKeyPepper string
	)
	flag.StringVar(&o.driver, "driver", "postgres", "target storage: postgres, mongo or both")
	flag.StringVar(&o.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&o.mongoURI, "mongo-uri", "", "MongoDB connection URI (or MOJITO_MONGO_URI env)")
	flag.StringVar(&o.mongoDatabase, "mongo-database", "mojitobar", "MongoDB database name")
	flag.StringVar(&o.productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally .gz")
	flag.StringVar(&o.inventoryFile, "inventory-file", "db/seed/inventory.json", "path to inventory JSON file, optionally .gz; empty skips inventory")
	flag.StringVar(&apiKey, "api-key", "", "print the hash of this API key for MOJITO_API_KEYS")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MOJITO_API_KEY_PEPPER env)")
	flag.Parse()

	o.databaseURL = orEnv(o.databaseURL, "MOJITO_DATABASE_URL", "DATABASE_URL")
	o.mongoURI = orEnv(o.mongoURI, "MOJITO_MONGO_URI")
	apiKeyPepper = orEnv(apiKeyPepper, "MOJITO_API_KEY_PEPPER")

	if apiKey != "" {
		slog.Info("api key hash, add it to MOJITO_API_KEYS",
			slog.String("hash", handler.HashAPIKey([]byte(apiKeyPepper), apiKey)),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, o, seeders); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func orEnv(v string, keys ...string) string {
	for _, k := range keys {
		if v != "" {
			return v
		}
		v = os.Getenv(k)
	}
	return v
}

func run(ctx context.Context, o options, seed map[string]seedFunc) error {
	var targets []string
	switch o.driver {
	case "postgres", "mongo":
		targets = []string{o.driver}
	case "both":
		targets = []string{"postgres", "mongo"}
	default:
		return errors.Errorf("unknown driver %q", o.driver)
	}
	for _, t := range targets {
		if t == "postgres" && o.databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		if t == "mongo" && o.mongoURI == "" {
			return errors.New("mongo URI is required: set --mongo-uri or MOJITO_MONGO_URI")
		}
	}

	slog.Info("reading products file", slog.String("path", o.productsFile))
	var (
		c   catalog
		err error
	)
	if c.products, err = readCatalog(o.productsFile); err != nil {
		return errors.Wrap(err, "products")
	}
	if o.inventoryFile != "" {
		slog.Info("reading inventory file", slog.String("path", o.inventoryFile))
		if c.inventory, err = readInventory(o.inventoryFile); err != nil {
			return errors.Wrap(err, "inventory")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			if err := seed[t](ctx, o, c); err != nil {
				return errors.Wrap(err, t)
			}
			return nil
		})
	}
	return g.Wait()
}

func seedPostgres(ctx context.Context, o options, c catalog) error {
	slog.Info("connecting to postgres")
	pool, err := postgres.NewPool(ctx, o.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewProductRepository(pool).Upsert(ctx, c.products); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	if err := postgres.NewInventoryRepository(pool).Upsert(ctx, c.inventory); err != nil {
		return errors.Wrap(err, "upsert inventory")
	}
	slog.Info("seeded",
		slog.String("driver", "postgres"),
		slog.Int("products", len(c.products)),
		slog.Int("inventory", len(c.inventory)),
	)
	return nil
}

func seedMongo(ctx context.Context, o options, c catalog) error {
	slog.Info("connecting to mongo")
	client, err := mongostore.Connect(ctx, o.mongoURI)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }()

	db := client.Database(o.mongoDatabase)
	if err := mongostore.EnsureIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "ensure indexes")
	}
	if err := mongostore.NewProductRepository(db).Upsert(ctx, c.products); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	if err := mongostore.NewInventoryRepository(db).Upsert(ctx, c.inventory); err != nil {
		return errors.Wrap(err, "upsert inventory")
	}
	slog.Info("seeded",
		slog.String("driver", "mongo"),
		slog.Int("products", len(c.products)),
		slog.Int("inventory", len(c.inventory)),
	)
	return nil
}
