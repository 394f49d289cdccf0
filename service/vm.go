package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-compute-service/entity"
	"github.com/tnqbao/gau-compute-service/infra/produce"
	"github.com/tnqbao/gau-compute-service/provider"
	"github.com/tnqbao/gau-compute-service/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/datatypes"
)

const (
	maxNameLength = 255
	vmCacheTTL    = 30 * time.Second
)

// CreateVMSpec is the validated input for provisioning a VM.
type CreateVMSpec struct {
	Name     string
	CPUCores int
	MemoryMB int
	DiskGB   int
	PublicIP string
	Labels   []string
}

func (s CreateVMSpec) validate() error {
	if s.Name == "" {
		return newError(KindInvalidSpec, "name must not be empty")
	}
	if len(s.Name) > maxNameLength {
		return newError(KindInvalidSpec, fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if s.CPUCores <= 0 {
		return newError(KindInvalidSpec, "cpu_cores must be a positive integer")
	}
	if s.MemoryMB <= 0 {
		return newError(KindInvalidSpec, "memory must be a positive integer")
	}
	if s.DiskGB <= 0 {
		return newError(KindInvalidSpec, "disk_size must be a positive integer")
	}
	if s.PublicIP != "" {
		if _, err := netip.ParseAddr(s.PublicIP); err != nil {
			return wrapError(KindInvalidSpec, err, "public_ip must be an IPv4 or IPv6 literal")
		}
	}
	return nil
}

// CreateVM drives a new record from pending to created (or failed),
// reconciling the store with the backend outcome. On an ambiguous backend
// outcome the record stays pending and the returned error is retryable.
func (s *Service) CreateVM(ctx context.Context, spec CreateVMSpec) (*entity.VM, error) {
	ctx, span := s.tracer.Start(ctx, "vm.create")
	defer span.End()

	// Validation failures are returned before anything is persisted and
	// before any backend call.
	if err := spec.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	labels := datatypes.JSONSlice[string]{}
	if spec.Labels != nil {
		labels = datatypes.JSONSlice[string](spec.Labels)
	}

	vm := &entity.VM{
		ID:        uuid.New(),
		Name:      spec.Name,
		CPUCores:  spec.CPUCores,
		MemoryMB:  spec.MemoryMB,
		DiskGB:    spec.DiskGB,
		PublicIP:  spec.PublicIP,
		Labels:    labels,
		Status:    entity.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Insert(ctx, vm); err != nil {
		if errors.Is(err, repository.ErrVMConflict) {
			return nil, wrapError(KindConflict, err, "vm id already exists")
		}
		return nil, wrapError(KindInternal, err, "failed to persist vm record")
	}

	unlock := s.locks.lock(vm.ID)
	defer unlock()

	provisioned, err := s.provisionWithRetry(ctx, spec)
	switch {
	case err == nil:
		updated, uerr := s.store.UpdateByID(ctx, vm.ID, func(v *entity.VM) error {
			if terr := v.TransitionTo(entity.StatusCreated, s.now()); terr != nil {
				return terr
			}
			if provisioned.PublicIP != "" {
				v.PublicIP = provisioned.PublicIP
			}
			if provisioned.HostNode != "" {
				v.HostNode = provisioned.HostNode
			}
			return nil
		})
		if uerr != nil {
			// The backend provisioned but the record could not be updated;
			// it stays pending until reconciled.
			s.logger.ErrorWithContextf(ctx, uerr, "[VM] Provisioned %s but failed to update record", vm.ID)
			s.publishEvent(ctx, produce.EventVMProvisionAmbiguous, vm, "provisioned but record update failed")
			return nil, wrapError(KindBackendAmbiguous, uerr, "vm provisioned but record update failed; retry to reconcile")
		}
		s.logger.InfoWithContextf(ctx, "[VM] Created %s (%s)", updated.ID, updated.Name)
		s.publishEvent(ctx, produce.EventVMCreated, updated, "")
		s.invalidateCache(ctx, updated.ID)
		s.countOp(ctx, "create", "created")
		return updated, nil

	case errors.Is(err, provider.ErrBackendUnknown):
		// Never promote an ambiguous outcome to created or failed.
		s.logger.WarningWithContextf(ctx, "[VM] Ambiguous provision outcome for %s: %v", vm.ID, err)
		s.publishEvent(ctx, produce.EventVMProvisionAmbiguous, vm, err.Error())
		s.countOp(ctx, "create", "ambiguous")
		return nil, wrapError(KindBackendAmbiguous, err, "backend outcome unknown; vm left pending")

	case errors.Is(err, provider.ErrBackendRejected):
		s.markCreateFailed(ctx, vm.ID, err)
		s.countOp(ctx, "create", "rejected")
		return nil, wrapError(KindBackendRejected, err, "backend rejected the provision request")

	case errors.Is(err, provider.ErrBackendUnavailable):
		s.markCreateFailed(ctx, vm.ID, err)
		s.countOp(ctx, "create", "unavailable")
		return nil, wrapError(KindBackendUnavailable, err, "backend unavailable after retries")

	default:
		s.logger.ErrorWithContextf(ctx, err, "[VM] Unexpected backend error for %s", vm.ID)
		s.publishEvent(ctx, produce.EventVMProvisionAmbiguous, vm, err.Error())
		s.countOp(ctx, "create", "ambiguous")
		return nil, wrapError(KindBackendAmbiguous, err, "unexpected backend error; vm left pending")
	}
}

func (s *Service) markCreateFailed(ctx context.Context, id uuid.UUID, cause error) {
	updated, err := s.store.UpdateByID(ctx, id, func(v *entity.VM) error {
		return v.TransitionTo(entity.StatusFailed, s.now())
	})
	if err != nil {
		s.logger.ErrorWithContextf(ctx, err, "[VM] Failed to mark %s as failed", id)
		return
	}
	s.logger.WarningWithContextf(ctx, "[VM] Create failed for %s: %v", id, cause)
	s.publishEvent(ctx, produce.EventVMCreateFailed, updated, cause.Error())
	s.invalidateCache(ctx, id)
}

// DeleteVM decommissions a created VM. Deleting an already-deleted VM is
// idempotent and performs no backend call. A pending or failed VM has
// nothing to decommission and is rejected.
func (s *Service) DeleteVM(ctx context.Context, id uuid.UUID) (*entity.VM, error) {
	ctx, span := s.tracer.Start(ctx, "vm.delete")
	defer span.End()

	if _, err := s.store.FindByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrVMNotFound) {
			return nil, wrapError(KindNotFound, err, "vm not found")
		}
		return nil, wrapError(KindInternal, err, "failed to load vm record")
	}

	unlock := s.locks.lock(id)
	defer unlock()

	// Re-read under the lock: a concurrent operation may have finished
	// between the lookup and the acquisition.
	vm, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrVMNotFound) {
			return nil, wrapError(KindNotFound, err, "vm not found")
		}
		return nil, wrapError(KindInternal, err, "failed to load vm record")
	}

	switch vm.Status {
	case entity.StatusDeleted:
		return vm, nil
	case entity.StatusPending:
		return nil, newError(KindInvalidState, "vm is still being provisioned")
	case entity.StatusFailed:
		return nil, newError(KindInvalidState, "vm failed to provision; nothing to delete")
	}

	// created or deleting (an earlier delete attempt that did not finish)
	vm, err = s.store.UpdateByID(ctx, id, func(v *entity.VM) error {
		return v.TransitionTo(entity.StatusDeleting, s.now())
	})
	if err != nil {
		return nil, wrapError(KindInternal, err, "failed to mark vm as deleting")
	}

	err = s.decommissionWithRetry(ctx, id)
	switch {
	case err == nil, errors.Is(err, provider.ErrBackendRejected):
		// A rejection here means the backend does not know the VM; the
		// desired end state already holds.
		updated, uerr := s.store.UpdateByID(ctx, id, func(v *entity.VM) error {
			if terr := v.TransitionTo(entity.StatusDeleted, s.now()); terr != nil {
				return terr
			}
			v.Labels = datatypes.JSONSlice[string]{}
			return nil
		})
		if uerr != nil {
			s.logger.ErrorWithContextf(ctx, uerr, "[VM] Decommissioned %s but failed to update record", id)
			return nil, wrapError(KindBackendAmbiguous, uerr, "vm decommissioned but record update failed; retry to reconcile")
		}
		s.logger.InfoWithContextf(ctx, "[VM] Deleted %s", id)
		s.publishEvent(ctx, produce.EventVMDeleted, updated, "")
		s.invalidateCache(ctx, id)
		s.countOp(ctx, "delete", "deleted")
		return updated, nil

	case errors.Is(err, provider.ErrBackendUnavailable):
		// The record stays deleting; the caller retries the delete.
		s.logger.WarningWithContextf(ctx, "[VM] Decommission of %s unavailable after retries: %v", id, err)
		s.countOp(ctx, "delete", "unavailable")
		return nil, wrapError(KindBackendUnavailable, err, "backend unavailable after retries; delete again to retry")

	default:
		s.logger.WarningWithContextf(ctx, "[VM] Ambiguous decommission outcome for %s: %v", id, err)
		s.countOp(ctx, "delete", "ambiguous")
		return nil, wrapError(KindBackendAmbiguous, err, "backend outcome unknown; vm left deleting")
	}
}

// GetVM reads a record, through the cache when one is configured.
func (s *Service) GetVM(ctx context.Context, id uuid.UUID) (*entity.VM, error) {
	if s.cache != nil {
		var cached entity.VM
		if err := s.cache.Get(ctx, vmCacheKey(id), &cached); err == nil {
			return &cached, nil
		}
	}

	vm, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrVMNotFound) {
			return nil, wrapError(KindNotFound, err, "vm not found")
		}
		return nil, wrapError(KindInternal, err, "failed to load vm record")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, vmCacheKey(id), vm, vmCacheTTL); err != nil {
			s.logger.WarningWithContextf(ctx, "[VM] Failed to cache %s: %v", id, err)
		}
	}

	return vm, nil
}

func (s *Service) ListVMs(ctx context.Context, filter repository.VMFilter) ([]entity.VM, error) {
	vms, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, wrapError(KindInternal, err, "failed to list vm records")
	}
	return vms, nil
}

func (s *Service) provisionWithRetry(ctx context.Context, spec CreateVMSpec) (*provider.ProvisionedVM, error) {
	var provisioned *provider.ProvisionedVM

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.EnvConfig.ComputeBackend.Timeout)
		defer cancel()

		result, err := s.backend.Provision(callCtx, provider.ProvisionSpec{
			Name:     spec.Name,
			CPUCores: spec.CPUCores,
			MemoryMB: spec.MemoryMB,
			DiskGB:   spec.DiskGB,
			PublicIP: spec.PublicIP,
			Labels:   spec.Labels,
		})
		if err != nil {
			if errors.Is(err, provider.ErrBackendUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}

		provisioned = result
		return nil
	}

	if err := backoff.Retry(operation, s.newBackOff(ctx)); err != nil {
		return nil, err
	}
	return provisioned, nil
}

func (s *Service) decommissionWithRetry(ctx context.Context, id uuid.UUID) error {
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.EnvConfig.ComputeBackend.Timeout)
		defer cancel()

		err := s.backend.Decommission(callCtx, id)
		if err != nil {
			if errors.Is(err, provider.ErrBackendUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	return backoff.Retry(operation, s.newBackOff(ctx))
}

// newBackOff bounds transient-failure retries: MaxAttempts total calls with
// exponential spacing starting at BaseDelay.
func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = s.cfg.EnvConfig.Retry.BaseDelay

	var maxRetries uint64
	if s.cfg.EnvConfig.Retry.MaxAttempts > 1 {
		maxRetries = uint64(s.cfg.EnvConfig.Retry.MaxAttempts - 1)
	}

	return backoff.WithContext(backoff.WithMaxRetries(exponential, maxRetries), ctx)
}

func (s *Service) countOp(ctx context.Context, operation, outcome string) {
	if s.lifecycleOps == nil {
		return
	}
	s.lifecycleOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func (s *Service) publishEvent(ctx context.Context, event string, vm *entity.VM, detail string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLifecycleEvent(ctx, event, vm, detail); err != nil {
		// Event delivery is best-effort; the record is the source of truth.
		s.logger.WarningWithContextf(ctx, "[VM] Failed to publish %s for %s: %v", event, vm.ID, err)
	}
}

func (s *Service) invalidateCache(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, vmCacheKey(id)); err != nil {
		s.logger.WarningWithContextf(ctx, "[VM] Failed to invalidate cache for %s: %v", id, err)
	}
}

func vmCacheKey(id uuid.UUID) string {
	return "vm:" + id.String()
}
