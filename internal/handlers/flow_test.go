package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/petgo/apiserver/config"
	"github.com/petgo/apiserver/internal/handlers"
	"github.com/petgo/apiserver/internal/mq"
	"github.com/petgo/apiserver/internal/services"
	"github.com/petgo/apiserver/internal/storage"
	"github.com/petgo/apiserver/types"
)

// TestRegistryFlow walks the whole API the way a client would: register,
// log in, use the token against the account, then manage an animal record
// with a photo.
func TestRegistryFlow(t *testing.T) {
	userRepo := newMemUserRepo()
	animalRepo := newMemAnimalRepo()
	analyzer := &fakeAnalyzer{}
	broker := &memBroker{}

	backend, err := storage.NewLocalClient(config.LocalStoreConfig{Dir: t.TempDir(), BaseURL: "/uploads"})
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	uploads := storage.NewStorage(backend)
	if err := uploads.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("ensure uploads dir: %v", err)
	}
	events := mq.NewEventPublisher(mq.New(broker), "petgo-registry")

	router := chi.NewRouter()
	router.NotFound(handlers.NotFound)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, services.NewUserService(userRepo), testSecret, handlers.RequireAuth(testSecret))
	})
	router.Route("/animals", func(r chi.Router) {
		handlers.AnimalRouter(r, services.NewAnimalService(animalRepo), uploads, analyzer, events)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	userID := registerUser(t, server.URL, "Ana", "ana@example.com", "11122233344", "hunter22")
	token := loginUser(t, server.URL, "ana@example.com", "hunter22")

	// The token unlocks the owner's own account.
	status, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/users/%d", server.URL, userID), token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 profile fetch, got %d body=%s", status, string(body))
	}

	fields := map[string]string{
		"name":          "Luna",
		"species":       "cat",
		"health_status": "ok",
		"created_by":    fmt.Sprintf("%d", userID),
	}
	status, body = doMultipart(t, http.MethodPost, server.URL+"/animals", fields, "luna.png", fakeImage)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 animal create, got %d body=%s", status, string(body))
	}
	var created types.Animal
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode created animal: %v", err)
	}
	if created.CreatedBy == nil || *created.CreatedBy != userID {
		t.Fatalf("expected created_by %d, got %+v", userID, created.CreatedBy)
	}

	status, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/animals/%d", server.URL, created.ID), "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 animal fetch, got %d body=%s", status, string(body))
	}
	var fetched types.Animal
	if err := json.Unmarshal(body, &fetched); err != nil {
		t.Fatalf("decode fetched animal: %v", err)
	}
	if fetched.ImageURL != created.ImageURL {
		t.Fatalf("image_url mismatch: %q vs %q", fetched.ImageURL, created.ImageURL)
	}

	status, _ = doMultipart(t, http.MethodDelete, fmt.Sprintf("%s/animals/%d", server.URL, created.ID), nil, "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 animal delete, got %d", status)
	}

	status, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/animals/%d", server.URL, created.ID), "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}

	if actions := broker.actions(); len(actions) != 2 ||
		actions[0] != mq.ActionAnimalCreated || actions[1] != mq.ActionAnimalDeleted {
		t.Fatalf("unexpected published actions: %v", actions)
	}
}
