package app

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"accounts/backend/internal/repository"
)

type closeFunc func(ctx context.Context) error

// openStore builds the user store named by cfg.Store. The returned close
// function releases the store's connections.
func openStore(ctx context.Context, cfg Config) (repository.UserRepository, closeFunc, error) {
	if cfg.Store == StoreMemory {
		return repository.NewMemoryUserRepository(), func(context.Context) error { return nil }, nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	users := repository.NewMongoUserRepository(client.Database(cfg.MongoDatabase))
	if err := users.EnsureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return users, client.Disconnect, nil
}
