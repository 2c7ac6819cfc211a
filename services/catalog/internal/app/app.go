package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bookshelf/pkg/auth"
	"bookshelf/pkg/cache"
	"bookshelf/pkg/queue"
	"bookshelf/pkg/storage"
	"bookshelf/pkg/store"
	"bookshelf/services/catalog/internal/googlebooks"
)

const (
	defaultListTTL      = 5 * time.Minute
	invalidationTimeout = 3 * time.Second
)

// MetadataFetcher enriches a book with third-party metadata. Implementations
// must fold failures into the returned value.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, title, author string) googlebooks.Metadata
}

// MetadataWarmer schedules a background metadata fetch so that the first
// detail read of a new or retitled book is served from cache.
type MetadataWarmer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Cache       cache.Cache
	Metadata    MetadataFetcher
	Tokens      *auth.TokenManager
	// Objects is optional; cover uploads are refused without it.
	Objects storage.ObjectStore
	// Warmer is optional; without it metadata is fetched on first read.
	Warmer MetadataWarmer
	// ListTTL bounds cached list and filter pages.
	ListTTL time.Duration
	// AllowAdminSignup lets Register grant the admin role on request.
	AllowAdminSignup bool
}

// App is the core catalog service wiring storage, caching, enrichment and
// authentication together.
type App struct {
	store       store.Store
	cache       cache.Cache
	metadata    MetadataFetcher
	tokens      *auth.TokenManager
	objects     storage.ObjectStore
	warmer      MetadataWarmer
	listTTL     time.Duration
	adminSignup bool
	validate    *validator.Validate
}

// New constructs the application. A DatabaseURL of "memory" selects the
// in-process store.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		switch dsn := strings.TrimSpace(cfg.DatabaseURL); dsn {
		case "":
			return nil, errors.New("database URL required")
		case "memory":
			dataStore = store.NewMemoryStore()
		default:
			var err error
			dataStore, err = store.NewGormStore(dsn)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
		}
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache required")
	}
	if cfg.Metadata == nil {
		return nil, errors.New("metadata fetcher required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token manager required")
	}
	listTTL := cfg.ListTTL
	if listTTL <= 0 {
		listTTL = defaultListTTL
	}
	return &App{
		store:       dataStore,
		cache:       cfg.Cache,
		metadata:    cfg.Metadata,
		tokens:      cfg.Tokens,
		objects:     cfg.Objects,
		warmer:      cfg.Warmer,
		listTTL:     listTTL,
		adminSignup: cfg.AllowAdminSignup,
		validate:    newValidator(),
	}, nil
}
