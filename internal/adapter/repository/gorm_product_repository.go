package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"swapmeet/internal/domain/entity"
	"swapmeet/internal/domain/repository"
	apperrors "swapmeet/pkg/errors"
)

type gormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) repository.ProductRepository {
	return &gormProductRepository{
		db: db,
	}
}

func (r *gormProductRepository) GetByID(ctx context.Context, id int64) (*entity.Product, error) {
	var product entity.Product
	if err := r.db.WithContext(ctx).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Product", err)
		}
		return nil, apperrors.Internal("Failed to get product", err)
	}
	return &product, nil
}
