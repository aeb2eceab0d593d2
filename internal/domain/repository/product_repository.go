package repository

import (
	"context"

	"swapmeet/internal/domain/entity"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Product, error)
}
