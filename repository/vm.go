package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-compute-service/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrVMNotFound = errors.New("vm not found")
	ErrVMConflict = errors.New("vm already exists")
)

type VMFilter struct {
	Status *entity.VMStatus
}

type VMRepository struct {
	db *gorm.DB
}

func NewVMRepository(db *gorm.DB) *VMRepository {
	return &VMRepository{db: db}
}

func (r *VMRepository) Insert(ctx context.Context, vm *entity.VM) error {
	err := r.db.WithContext(ctx).Create(vm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrVMConflict
		}
		return err
	}
	return nil
}

func (r *VMRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.VM, error) {
	var vm entity.VM
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&vm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVMNotFound
		}
		return nil, err
	}
	return &vm, nil
}

// UpdateByID applies mutator to the current row and persists the result in
// one transaction. The row is locked for the duration so no other update on
// the same id can interleave.
func (r *VMRepository) UpdateByID(ctx context.Context, id uuid.UUID, mutator func(*entity.VM) error) (*entity.VM, error) {
	var updated *entity.VM

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vm entity.VM
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&vm).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVMNotFound
			}
			return err
		}

		if err := mutator(&vm); err != nil {
			return err
		}

		if err := tx.Save(&vm).Error; err != nil {
			return err
		}

		updated = &vm
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *VMRepository) List(ctx context.Context, filter VMFilter) ([]entity.VM, error) {
	query := r.db.WithContext(ctx).Model(&entity.VM{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var vms []entity.VM
	if err := query.Order("created_at").Find(&vms).Error; err != nil {
		return nil, err
	}
	return vms, nil
}
