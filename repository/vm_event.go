package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-compute-service/entity"
	"gorm.io/gorm"
)

type VMEventRepository struct {
	db *gorm.DB
}

func NewVMEventRepository(db *gorm.DB) *VMEventRepository {
	return &VMEventRepository{db: db}
}

func (r *VMEventRepository) Create(ctx context.Context, event *entity.VMEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *VMEventRepository) FindByVMID(ctx context.Context, vmID uuid.UUID) ([]entity.VMEvent, error) {
	var events []entity.VMEvent
	err := r.db.WithContext(ctx).Where("vm_id = ?", vmID).Order("id").Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
