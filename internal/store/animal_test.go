package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/petgo/apiserver/types"
)

func newAnimalRepoMock(t *testing.T) (*AnimalRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAnimalRepository(db), mock
}

func TestAnimalCreateCommits(t *testing.T) {
	repo, mock := newAnimalRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO animals`).
		WithArgs("Rex", "dog", nil, nil, nil, nil, "ok", "/uploads/abc.jpg").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectCommit()

	created, err := repo.Create(context.Background(), types.Animal{
		Name:         "Rex",
		Species:      "dog",
		HealthStatus: "ok",
		ImageURL:     "/uploads/abc.jpg",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != 3 {
		t.Fatalf("expected id 3, got %d", created.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAnimalCreateRollsBackOnInsertFailure(t *testing.T) {
	repo, mock := newAnimalRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO animals`).
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), types.Animal{
		Name:         "Rex",
		Species:      "dog",
		HealthStatus: "ok",
		ImageURL:     "/uploads/abc.jpg",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("transaction not released: %v", err)
	}
}

func TestAnimalUpdateWithReplacementImage(t *testing.T) {
	repo, mock := newAnimalRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`image_url = \$7 WHERE id = \$8`).
		WithArgs("Rex", "dog", nil, nil, nil, "ok", "/uploads/new.jpg", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), types.Animal{
		ID:           3,
		Name:         "Rex",
		Species:      "dog",
		HealthStatus: "ok",
		ImageURL:     "/uploads/new.jpg",
	}, true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAnimalUpdateKeepsImageColumn(t *testing.T) {
	repo, mock := newAnimalRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`health_status = \$6 WHERE id = \$7`).
		WithArgs("Rex", "dog", nil, nil, nil, "ok", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), types.Animal{
		ID:           3,
		Name:         "Rex",
		Species:      "dog",
		HealthStatus: "ok",
	}, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAnimalUpdateRollsBackOnFailure(t *testing.T) {
	repo, mock := newAnimalRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE animals`).
		WillReturnError(errors.New("update failed"))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), types.Animal{
		ID:           3,
		Name:         "Rex",
		Species:      "dog",
		HealthStatus: "ok",
	}, false)
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("transaction not released: %v", err)
	}
}

func TestAnimalDeleteIgnoresAffectedRows(t *testing.T) {
	repo, mock := newAnimalRepoMock(t)

	mock.ExpectExec(`DELETE FROM animals`).
		WithArgs(42).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), 42); err != nil {
		t.Fatalf("delete of a gone id should succeed: %v", err)
	}
}

func TestAnimalGetByIDNotFound(t *testing.T) {
	repo, mock := newAnimalRepoMock(t)

	mock.ExpectQuery(`SELECT id, name, species`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "species", "breed", "latitude", "longitude", "created_by", "health_status", "image_url",
		}))

	_, err := repo.GetByID(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
