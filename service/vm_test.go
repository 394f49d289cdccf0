package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-compute-service/config"
	"github.com/tnqbao/gau-compute-service/entity"
	"github.com/tnqbao/gau-compute-service/infra"
	"github.com/tnqbao/gau-compute-service/provider"
	"github.com/tnqbao/gau-compute-service/repository"
	"gorm.io/datatypes"
)

// memoryStore implements VMStore with the same contract as the gorm
// repository: per-id atomic updates, conflict on duplicate insert, and
// value isolation between callers.
type memoryStore struct {
	mu  sync.Mutex
	vms map[uuid.UUID]*entity.VM
}

func newMemoryStore() *memoryStore {
	return &memoryStore{vms: make(map[uuid.UUID]*entity.VM)}
}

func cloneVM(vm *entity.VM) *entity.VM {
	copied := *vm
	copied.Labels = append(datatypes.JSONSlice[string]{}, vm.Labels...)
	return &copied
}

func (s *memoryStore) Insert(_ context.Context, vm *entity.VM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vms[vm.ID]; exists {
		return repository.ErrVMConflict
	}
	s.vms[vm.ID] = cloneVM(vm)
	return nil
}

func (s *memoryStore) FindByID(_ context.Context, id uuid.UUID) (*entity.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[id]
	if !ok {
		return nil, repository.ErrVMNotFound
	}
	return cloneVM(vm), nil
}

func (s *memoryStore) UpdateByID(_ context.Context, id uuid.UUID, mutator func(*entity.VM) error) (*entity.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[id]
	if !ok {
		return nil, repository.ErrVMNotFound
	}
	next := cloneVM(vm)
	if err := mutator(next); err != nil {
		return nil, err
	}
	s.vms[id] = next
	return cloneVM(next), nil
}

func (s *memoryStore) List(_ context.Context, filter repository.VMFilter) ([]entity.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var vms []entity.VM
	for _, vm := range s.vms {
		if filter.Status != nil && vm.Status != *filter.Status {
			continue
		}
		vms = append(vms, *cloneVM(vm))
	}
	sort.Slice(vms, func(i, j int) bool { return vms[i].CreatedAt.Before(vms[j].CreatedAt) })
	return vms, nil
}

// fakeBackend scripts per-call outcomes and counts calls. A nil entry (or
// running past the script) means success.
type fakeBackend struct {
	mu                sync.Mutex
	provisionErrs     []error
	decommissionErrs  []error
	provisionResult   provider.ProvisionedVM
	provisionCalls    int
	decommissionCalls int
}

func (b *fakeBackend) Provision(_ context.Context, _ provider.ProvisionSpec) (*provider.ProvisionedVM, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.provisionCalls
	b.provisionCalls++
	if idx < len(b.provisionErrs) && b.provisionErrs[idx] != nil {
		return nil, b.provisionErrs[idx]
	}
	result := b.provisionResult
	return &result, nil
}

func (b *fakeBackend) Decommission(_ context.Context, _ uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.decommissionCalls
	b.decommissionCalls++
	if idx < len(b.decommissionErrs) && b.decommissionErrs[idx] != nil {
		return b.decommissionErrs[idx]
	}
	return nil
}

func (b *fakeBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.provisionCalls, b.decommissionCalls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) PublishLifecycleEvent(_ context.Context, event string, _ *entity.VM, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	hits    int
}

func (c *fakeCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return errors.New("cache miss")
	}
	c.hits++
	return json.Unmarshal(data, dest)
}

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	c.sets++
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{EnvConfig: &config.EnvConfig{}}
	cfg.EnvConfig.Retry.MaxAttempts = 3
	cfg.EnvConfig.Retry.BaseDelay = time.Millisecond
	cfg.EnvConfig.ComputeBackend.Timeout = 100 * time.Millisecond
	return cfg
}

func newTestService(store VMStore, backend provider.ComputeBackend, events EventPublisher) *Service {
	logger := infra.NewLoggerClient(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewService(testConfig(), store, backend, events, nil, logger)
}

func validSpec() CreateVMSpec {
	return CreateVMSpec{
		Name:     "test-vm",
		CPUCores: 2,
		MemoryMB: 4096,
		DiskGB:   50,
		PublicIP: "192.168.1.1",
		Labels:   []string{"test"},
	}
}

func TestCreateVM_Success(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{}
	events := &fakePublisher{}
	svc := newTestService(store, backend, events)

	vm, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, vm.ID)
	assert.Equal(t, "test-vm", vm.Name)
	assert.Equal(t, 2, vm.CPUCores)
	assert.Equal(t, 4096, vm.MemoryMB)
	assert.Equal(t, 50, vm.DiskGB)
	assert.Equal(t, "192.168.1.1", vm.PublicIP)
	assert.Equal(t, entity.StatusCreated, vm.Status)
	assert.Equal(t, []string{"test"}, []string(vm.Labels))
	assert.False(t, vm.UpdatedAt.Before(vm.CreatedAt))

	provisions, decommissions := backend.calls()
	assert.Equal(t, 1, provisions)
	assert.Equal(t, 0, decommissions)
	assert.Equal(t, []string{"vm.created"}, events.events)
}

func TestCreateVM_LabelsKeepOrderAndDuplicates(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, &fakeBackend{}, nil)

	spec := validSpec()
	spec.Labels = []string{"web", "prod", "web"}

	vm, err := svc.CreateVM(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "prod", "web"}, []string(vm.Labels))
}

func TestCreateVM_BackendAssignedFieldsMerged(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{provisionResult: provider.ProvisionedVM{PublicIP: "203.0.113.7", HostNode: "node-3"}}
	svc := newTestService(store, backend, nil)

	vm, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", vm.PublicIP)
	assert.Equal(t, "node-3", vm.HostNode)
}

func TestCreateVM_InvalidSpec(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateVMSpec)
	}{
		{name: "empty name", mutate: func(s *CreateVMSpec) { s.Name = "" }},
		{name: "zero cpu cores", mutate: func(s *CreateVMSpec) { s.CPUCores = 0 }},
		{name: "negative memory", mutate: func(s *CreateVMSpec) { s.MemoryMB = -1 }},
		{name: "zero disk size", mutate: func(s *CreateVMSpec) { s.DiskGB = 0 }},
		{name: "malformed public ip", mutate: func(s *CreateVMSpec) { s.PublicIP = "not-an-ip" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			backend := &fakeBackend{}
			svc := newTestService(store, backend, nil)

			spec := validSpec()
			tt.mutate(&spec)

			_, err := svc.CreateVM(context.Background(), spec)
			require.Error(t, err)
			assert.Equal(t, KindInvalidSpec, KindOf(err))

			// Nothing persisted, no backend call.
			vms, lerr := store.List(context.Background(), repository.VMFilter{})
			require.NoError(t, lerr)
			assert.Empty(t, vms)
			provisions, _ := backend.calls()
			assert.Equal(t, 0, provisions)
		})
	}
}

func TestCreateVM_BackendRejected(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{provisionErrs: []error{provider.ErrBackendRejected}}
	events := &fakePublisher{}
	svc := newTestService(store, backend, events)

	_, err := svc.CreateVM(context.Background(), validSpec())
	require.Error(t, err)
	assert.Equal(t, KindBackendRejected, KindOf(err))

	vms, _ := store.List(context.Background(), repository.VMFilter{})
	require.Len(t, vms, 1)
	assert.Equal(t, entity.StatusFailed, vms[0].Status)
	assert.True(t, vms[0].UpdatedAt.After(vms[0].CreatedAt))

	// Rejection is permanent; no retries.
	provisions, _ := backend.calls()
	assert.Equal(t, 1, provisions)
	assert.Equal(t, []string{"vm.create_failed"}, events.events)
}

func TestCreateVM_UnavailableRetriedThenFailed(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{provisionErrs: []error{
		provider.ErrBackendUnavailable,
		provider.ErrBackendUnavailable,
		provider.ErrBackendUnavailable,
	}}
	svc := newTestService(store, backend, nil)

	_, err := svc.CreateVM(context.Background(), validSpec())
	require.Error(t, err)
	assert.Equal(t, KindBackendUnavailable, KindOf(err))

	provisions, _ := backend.calls()
	assert.Equal(t, 3, provisions)

	vms, _ := store.List(context.Background(), repository.VMFilter{})
	require.Len(t, vms, 1)
	assert.Equal(t, entity.StatusFailed, vms[0].Status)
}

func TestCreateVM_UnavailableThenSuccess(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{provisionErrs: []error{provider.ErrBackendUnavailable, nil}}
	svc := newTestService(store, backend, nil)

	vm, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCreated, vm.Status)

	provisions, _ := backend.calls()
	assert.Equal(t, 2, provisions)
}

func TestCreateVM_AmbiguousOutcomeStaysPending(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{provisionErrs: []error{provider.ErrBackendUnknown}}
	events := &fakePublisher{}
	svc := newTestService(store, backend, events)

	_, err := svc.CreateVM(context.Background(), validSpec())
	require.Error(t, err)
	assert.Equal(t, KindBackendAmbiguous, KindOf(err))

	// An ambiguous outcome is not retried and never resolved to created
	// or failed.
	provisions, _ := backend.calls()
	assert.Equal(t, 1, provisions)

	vms, _ := store.List(context.Background(), repository.VMFilter{})
	require.Len(t, vms, 1)
	assert.Equal(t, entity.StatusPending, vms[0].Status)

	read, err := svc.GetVM(context.Background(), vms[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, read.Status)
	assert.Equal(t, []string{"vm.provision_ambiguous"}, events.events)
}

func TestDeleteVM_Success(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{}
	events := &fakePublisher{}
	svc := newTestService(store, backend, events)

	created, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)

	deleted, err := svc.DeleteVM(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, deleted.ID)
	assert.Equal(t, entity.StatusDeleted, deleted.Status)
	assert.Empty(t, []string(deleted.Labels))
	assert.Equal(t, created.Name, deleted.Name)
	assert.Equal(t, created.CPUCores, deleted.CPUCores)
	assert.Equal(t, created.CreatedAt, deleted.CreatedAt)
	assert.True(t, deleted.UpdatedAt.After(created.UpdatedAt) || deleted.UpdatedAt.Equal(created.UpdatedAt))

	_, decommissions := backend.calls()
	assert.Equal(t, 1, decommissions)
	assert.Equal(t, []string{"vm.created", "vm.deleted"}, events.events)
}

func TestDeleteVM_Idempotent(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{}
	svc := newTestService(store, backend, nil)

	created, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)

	first, err := svc.DeleteVM(context.Background(), created.ID)
	require.NoError(t, err)
	second, err := svc.DeleteVM(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.StatusDeleted, first.Status)
	assert.Equal(t, entity.StatusDeleted, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	_, decommissions := backend.calls()
	assert.Equal(t, 1, decommissions)
}

func TestDeleteVM_NotFound(t *testing.T) {
	svc := newTestService(newMemoryStore(), &fakeBackend{}, nil)

	_, err := svc.DeleteVM(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDeleteVM_InvalidState(t *testing.T) {
	for _, status := range []entity.VMStatus{entity.StatusPending, entity.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			store := newMemoryStore()
			backend := &fakeBackend{}
			svc := newTestService(store, backend, nil)

			now := time.Now().UTC()
			vm := &entity.VM{
				ID:        uuid.New(),
				Name:      "stuck-vm",
				CPUCores:  1,
				MemoryMB:  512,
				DiskGB:    10,
				Labels:    datatypes.JSONSlice[string]{},
				Status:    status,
				CreatedAt: now,
				UpdatedAt: now,
			}
			require.NoError(t, store.Insert(context.Background(), vm))

			_, err := svc.DeleteVM(context.Background(), vm.ID)
			require.Error(t, err)
			assert.Equal(t, KindInvalidState, KindOf(err))

			_, decommissions := backend.calls()
			assert.Equal(t, 0, decommissions)
		})
	}
}

func TestDeleteVM_BackendRejectionMeansAlreadyGone(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{decommissionErrs: []error{provider.ErrBackendRejected}}
	svc := newTestService(store, backend, nil)

	created, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)

	deleted, err := svc.DeleteVM(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDeleted, deleted.Status)
}

func TestDeleteVM_UnavailableLeavesDeleting(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{decommissionErrs: []error{
		provider.ErrBackendUnavailable,
		provider.ErrBackendUnavailable,
		provider.ErrBackendUnavailable,
	}}
	svc := newTestService(store, backend, nil)

	created, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)

	_, err = svc.DeleteVM(context.Background(), created.ID)
	require.Error(t, err)
	assert.Equal(t, KindBackendUnavailable, KindOf(err))

	stuck, err := store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDeleting, stuck.Status)

	// A later delete retries the decommission and completes.
	deleted, err := svc.DeleteVM(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDeleted, deleted.Status)

	_, decommissions := backend.calls()
	assert.Equal(t, 4, decommissions)
}

func TestDeleteVM_AmbiguousLeavesDeleting(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{decommissionErrs: []error{provider.ErrBackendUnknown}}
	svc := newTestService(store, backend, nil)

	created, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)

	_, err = svc.DeleteVM(context.Background(), created.ID)
	require.Error(t, err)
	assert.Equal(t, KindBackendAmbiguous, KindOf(err))

	stuck, err := store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDeleting, stuck.Status)
}

func TestCreateVM_ConcurrentDistinctSpecs(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{}
	svc := newTestService(store, backend, nil)

	const n = 8
	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			spec := validSpec()
			spec.Name = "vm-" + uuid.NewString()
			vm, err := svc.CreateVM(context.Background(), spec)
			if assert.NoError(t, err) {
				ids <- vm.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	provisions, _ := backend.calls()
	assert.Equal(t, n, provisions)
}

func TestDeleteVM_ConcurrentSameID(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{}
	svc := newTestService(store, backend, nil)

	created, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan *entity.VM, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vm, err := svc.DeleteVM(context.Background(), created.ID)
			if assert.NoError(t, err) {
				results <- vm
			}
		}()
	}
	wg.Wait()
	close(results)

	for vm := range results {
		assert.Equal(t, entity.StatusDeleted, vm.Status)
	}

	// Exactly one decommission regardless of how many callers raced.
	_, decommissions := backend.calls()
	assert.Equal(t, 1, decommissions)
}

func TestGetVM_UsesCache(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{}
	cache := &fakeCache{entries: make(map[string][]byte)}

	logger := infra.NewLoggerClient(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := NewService(testConfig(), store, backend, nil, cache, logger)

	created, err := svc.CreateVM(context.Background(), validSpec())
	require.NoError(t, err)

	// First read fills the cache, second read is served from it.
	first, err := svc.GetVM(context.Background(), created.ID)
	require.NoError(t, err)
	second, err := svc.GetVM(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, cache.sets)
	assert.GreaterOrEqual(t, cache.hits, 1)

	// Deletion invalidates the cached record.
	_, err = svc.DeleteVM(context.Background(), created.ID)
	require.NoError(t, err)
	read, err := svc.GetVM(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDeleted, read.Status)
}

func TestLifecycleScenario(t *testing.T) {
	store := newMemoryStore()
	backend := &fakeBackend{}
	svc := newTestService(store, backend, nil)

	created, err := svc.CreateVM(context.Background(), CreateVMSpec{
		Name:     "test-vm",
		CPUCores: 2,
		MemoryMB: 4096,
		DiskGB:   50,
		PublicIP: "192.168.1.1",
		Labels:   []string{"test"},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCreated, created.Status)
	assert.Equal(t, []string{"test"}, []string(created.Labels))

	deleted, err := svc.DeleteVM(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, deleted.ID)
	assert.Equal(t, entity.StatusDeleted, deleted.Status)
	assert.Empty(t, []string(deleted.Labels))
	assert.Equal(t, created.CreatedAt, deleted.CreatedAt)
	assert.True(t, deleted.UpdatedAt.After(deleted.CreatedAt))
}
