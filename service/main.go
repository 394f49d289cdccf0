package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-compute-service/config"
	"github.com/tnqbao/gau-compute-service/entity"
	"github.com/tnqbao/gau-compute-service/infra"
	"github.com/tnqbao/gau-compute-service/provider"
	"github.com/tnqbao/gau-compute-service/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// VMStore is the persistence contract the lifecycle layer needs. The gorm
// repository satisfies it in production; tests run an in-memory double.
type VMStore interface {
	Insert(ctx context.Context, vm *entity.VM) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.VM, error)
	UpdateByID(ctx context.Context, id uuid.UUID, mutator func(*entity.VM) error) (*entity.VM, error)
	List(ctx context.Context, filter repository.VMFilter) ([]entity.VM, error)
}

// EventPublisher emits lifecycle events. Publishing is best-effort: a
// failed publish never fails the operation that produced it.
type EventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, event string, vm *entity.VM, detail string) error
}

// RecordCache is the read-path cache for VM records.
type RecordCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Service struct {
	cfg          *config.Config
	store        VMStore
	backend      provider.ComputeBackend
	events       EventPublisher
	cache        RecordCache
	logger       *infra.LoggerClient
	locks        *keyLocks
	tracer       trace.Tracer
	lifecycleOps metric.Int64Counter
	now          func() time.Time
}

// NewService wires the lifecycle layer. events and cache may be nil; the
// corresponding behavior is skipped.
func NewService(cfg *config.Config, store VMStore, backend provider.ComputeBackend, events EventPublisher, cache RecordCache, logger *infra.LoggerClient) *Service {
	if store == nil {
		panic("Failed to initialize Service: store is required")
	}
	if backend == nil {
		panic("Failed to initialize Service: backend is required")
	}
	if logger == nil {
		panic("Failed to initialize Service: logger is required")
	}

	lifecycleOps, err := otel.Meter("gau-compute-service/service").Int64Counter(
		"vm.lifecycle.operations",
		metric.WithDescription("VM lifecycle operations by operation and outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Service{
		cfg:          cfg,
		store:        store,
		backend:      backend,
		events:       events,
		cache:        cache,
		logger:       logger,
		locks:        newKeyLocks(),
		tracer:       otel.Tracer("gau-compute-service/service"),
		lifecycleOps: lifecycleOps,
		now:          func() time.Time { return time.Now().UTC() },
	}
}
