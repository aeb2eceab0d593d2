package repository

import (
	"context"

	"swapmeet/internal/domain/entity"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
}
