package ticketstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/foohm71/cuttlefish4/internal/logging"
	qdrantclient "github.com/foohm71/cuttlefish4/internal/qdrant"
	"github.com/foohm71/cuttlefish4/internal/ragerr"
)

// Config selects and configures the ticket store backend.
type Config struct {
	Backend  Backend
	Postgres PostgresConfig
	Qdrant   *qdrantclient.ClientConfig
}

// New builds a Store per cfg.Backend. BackendAuto tries Postgres first and
// falls back to Qdrant if the primary cannot be reached at construction
// time; the choice is fixed for the lifetime of the returned Store, not
// re-evaluated per request.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (Store, error) {
	if logger == nil {
		nop, _ := logging.NewLogger(logging.NewDefaultConfig(), nil)
		logger = nop
	}

	switch cfg.Backend {
	case BackendPrimary:
		return NewPostgresStore(ctx, cfg.Postgres)
	case BackendFallback:
		return newQdrantBackend(cfg.Qdrant, logger)
	case BackendAuto, "":
		store, err := NewPostgresStore(ctx, cfg.Postgres)
		if err == nil {
			return store, nil
		}
		logger.Warn(ctx, "primary ticket store unreachable, falling back to qdrant",
			zap.Error(err))
		return newQdrantBackend(cfg.Qdrant, logger)
	default:
		return nil, ragerr.New(ragerr.Fatal, fmt.Errorf("unknown ticket store backend %q", cfg.Backend))
	}
}

func newQdrantBackend(cfg *qdrantclient.ClientConfig, logger *logging.Logger) (Store, error) {
	if cfg == nil {
		return nil, ragerr.New(ragerr.Fatal, fmt.Errorf("qdrant config required for fallback backend"))
	}
	client, err := qdrantclient.NewGRPCClient(cfg, logger)
	if err != nil {
		return nil, ragerr.New(ragerr.Fatal, fmt.Errorf("connecting to qdrant: %w", err))
	}
	return NewQdrantStore(client), nil
}
