package services

import (
	"context"

	"github.com/petgo/apiserver/types"
)

// AnimalRepository defines persistence operations for animal records.
type AnimalRepository interface {
	List(ctx context.Context) ([]types.Animal, error)
	GetByID(ctx context.Context, id int) (types.Animal, error)
	Create(ctx context.Context, animal types.Animal) (types.Animal, error)
	Update(ctx context.Context, animal types.Animal, replaceImage bool) error
	Delete(ctx context.Context, id int) error
}

// AnimalService encapsulates animal-record use-cases.
type AnimalService struct {
	repo AnimalRepository
}

func NewAnimalService(repo AnimalRepository) *AnimalService {
	return &AnimalService{repo: repo}
}

func (s *AnimalService) List(ctx context.Context) ([]types.Animal, error) {
	return s.repo.List(ctx)
}

func (s *AnimalService) Get(ctx context.Context, id int) (types.Animal, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *AnimalService) Create(ctx context.Context, animal types.Animal) (types.Animal, error) {
	return s.repo.Create(ctx, animal)
}

func (s *AnimalService) Update(ctx context.Context, animal types.Animal, replaceImage bool) error {
	return s.repo.Update(ctx, animal, replaceImage)
}

func (s *AnimalService) Delete(ctx context.Context, id int) error {
	return s.repo.Delete(ctx, id)
}
