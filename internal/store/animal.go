package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/petgo/apiserver/types"
)

// AnimalRepository handles persistence for animal records.
//
// Create and Update run inside a transaction; the transaction is released
// on every exit path (defer rollback, no-op once committed).
type AnimalRepository struct {
	db *sql.DB
}

func NewAnimalRepository(db *sql.DB) *AnimalRepository {
	return &AnimalRepository{db: db}
}

func (r *AnimalRepository) List(ctx context.Context) ([]types.Animal, error) {
	const query = `
		SELECT id, name, species, breed, latitude, longitude, created_by, health_status, image_url
		FROM animals
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	animals := make([]types.Animal, 0)
	for rows.Next() {
		var animal types.Animal
		if err := rows.Scan(
			&animal.ID,
			&animal.Name,
			&animal.Species,
			&animal.Breed,
			&animal.Latitude,
			&animal.Longitude,
			&animal.CreatedBy,
			&animal.HealthStatus,
			&animal.ImageURL,
		); err != nil {
			return nil, err
		}
		animals = append(animals, animal)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return animals, nil
}

func (r *AnimalRepository) GetByID(ctx context.Context, id int) (types.Animal, error) {
	const query = `
		SELECT id, name, species, breed, latitude, longitude, created_by, health_status, image_url
		FROM animals
		WHERE id = $1`
	var animal types.Animal
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&animal.ID,
		&animal.Name,
		&animal.Species,
		&animal.Breed,
		&animal.Latitude,
		&animal.Longitude,
		&animal.CreatedBy,
		&animal.HealthStatus,
		&animal.ImageURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Animal{}, ErrNotFound
		}
		return types.Animal{}, err
	}
	return animal, nil
}

func (r *AnimalRepository) Create(ctx context.Context, animal types.Animal) (types.Animal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Animal{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
		INSERT INTO animals (name, species, breed, latitude, longitude, created_by, health_status, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		query,
		animal.Name,
		animal.Species,
		animal.Breed,
		animal.Latitude,
		animal.Longitude,
		animal.CreatedBy,
		animal.HealthStatus,
		animal.ImageURL,
	).Scan(&animal.ID); err != nil {
		return types.Animal{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Animal{}, err
	}
	return animal, nil
}

// Update rewrites the six core fields of an animal record. The image_url
// column is included only when replaceImage is set.
func (r *AnimalRepository) Update(ctx context.Context, animal types.Animal, replaceImage bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		UPDATE animals
		SET name = $1, species = $2, breed = $3, latitude = $4, longitude = $5, health_status = $6`
	args := []any{
		animal.Name,
		animal.Species,
		animal.Breed,
		animal.Latitude,
		animal.Longitude,
		animal.HealthStatus,
	}
	if replaceImage {
		query += `, image_url = $7 WHERE id = $8`
		args = append(args, animal.ImageURL, animal.ID)
	} else {
		query += ` WHERE id = $7`
		args = append(args, animal.ID)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes an animal record. It does not report whether a row was
// actually removed; repeated deletes of a gone id still succeed.
func (r *AnimalRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM animals WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
