package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/petgo/apiserver/config"
	"github.com/petgo/apiserver/internal/handlers"
	"github.com/petgo/apiserver/internal/moderation"
	"github.com/petgo/apiserver/internal/mq"
	"github.com/petgo/apiserver/internal/services"
	"github.com/petgo/apiserver/internal/storage"
	"github.com/petgo/apiserver/internal/store"
	"github.com/petgo/apiserver/types"
)

// memAnimalRepo is an in-memory stand-in for the Postgres animal repository.
type memAnimalRepo struct {
	mu      sync.Mutex
	nextID  int
	animals map[int]types.Animal

	failWrites bool
}

func newMemAnimalRepo() *memAnimalRepo {
	return &memAnimalRepo{nextID: 1, animals: make(map[int]types.Animal)}
}

func (r *memAnimalRepo) List(ctx context.Context) ([]types.Animal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	animals := make([]types.Animal, 0, len(r.animals))
	for _, animal := range r.animals {
		animals = append(animals, animal)
	}
	sort.Slice(animals, func(i, j int) bool { return animals[i].ID < animals[j].ID })
	return animals, nil
}

func (r *memAnimalRepo) GetByID(ctx context.Context, id int) (types.Animal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	animal, ok := r.animals[id]
	if !ok {
		return types.Animal{}, store.ErrNotFound
	}
	return animal, nil
}

func (r *memAnimalRepo) Create(ctx context.Context, animal types.Animal) (types.Animal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites {
		return types.Animal{}, errors.New("write failed")
	}
	animal.ID = r.nextID
	r.nextID++
	r.animals[animal.ID] = animal
	return animal, nil
}

func (r *memAnimalRepo) Update(ctx context.Context, animal types.Animal, replaceImage bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites {
		return errors.New("write failed")
	}
	existing, ok := r.animals[animal.ID]
	if !ok {
		return nil
	}
	existing.Name = animal.Name
	existing.Species = animal.Species
	existing.Breed = animal.Breed
	existing.Latitude = animal.Latitude
	existing.Longitude = animal.Longitude
	existing.HealthStatus = animal.HealthStatus
	if replaceImage {
		existing.ImageURL = animal.ImageURL
	}
	r.animals[animal.ID] = existing
	return nil
}

func (r *memAnimalRepo) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.animals, id)
	return nil
}

func (r *memAnimalRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.animals)
}

// fakeAnalyzer returns a scripted classification.
type fakeAnalyzer struct {
	result moderation.Result
	err    error
}

func (f *fakeAnalyzer) Classify(ctx context.Context, image []byte) (moderation.Result, error) {
	return f.result, f.err
}

// memBroker records published registry events.
type memBroker struct {
	mu        sync.Mutex
	published []mq.Message
}

func (b *memBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, mq.Message{Data: data, Attributes: attrs})
	return fmt.Sprintf("msg-%d", len(b.published)), nil
}

func (b *memBroker) Subscribe(ctx context.Context, channel string, handler mq.Handler) error {
	return nil
}

func (b *memBroker) Close() error { return nil }

func (b *memBroker) actions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	actions := make([]string, 0, len(b.published))
	for _, msg := range b.published {
		actions = append(actions, msg.Attributes["action"])
	}
	return actions
}

type animalFixture struct {
	server     *httptest.Server
	repo       *memAnimalRepo
	analyzer   *fakeAnalyzer
	broker     *memBroker
	uploadsDir string
}

func newAnimalTestServer(t *testing.T) animalFixture {
	t.Helper()

	repo := newMemAnimalRepo()
	analyzer := &fakeAnalyzer{}
	broker := &memBroker{}
	uploadsDir := t.TempDir()

	backend, err := storage.NewLocalClient(config.LocalStoreConfig{Dir: uploadsDir, BaseURL: "/uploads"})
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	uploads := storage.NewStorage(backend)
	if err := uploads.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("ensure uploads dir: %v", err)
	}

	events := mq.NewEventPublisher(mq.New(broker), "petgo-registry")
	animalService := services.NewAnimalService(repo)

	router := chi.NewRouter()
	router.NotFound(handlers.NotFound)
	router.Route("/animals", func(r chi.Router) {
		handlers.AnimalRouter(r, animalService, uploads, analyzer, events)
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return animalFixture{
		server:     server,
		repo:       repo,
		analyzer:   analyzer,
		broker:     broker,
		uploadsDir: uploadsDir,
	}
}

func storedUploads(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func multipartBody(t *testing.T, fields map[string]string, imageName string, image []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %q: %v", key, err)
		}
	}
	if imageName != "" {
		part, err := writer.CreateFormFile("image", imageName)
		if err != nil {
			t.Fatalf("create image part: %v", err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatalf("write image part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func doMultipart(t *testing.T, method, url string, fields map[string]string, imageName string, image []byte) (int, []byte) {
	t.Helper()

	body, contentType := multipartBody(t, fields, imageName, image)
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, raw
}

var validAnimalFields = map[string]string{
	"name":          "Rex",
	"species":       "dog",
	"health_status": "ok",
}

var fakeImage = []byte("\xff\xd8\xff fake jpeg bytes")

func TestCreateAnimalWithoutImage(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, body := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", validAnimalFields, "", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", status, string(body))
	}
	if fx.repo.count() != 0 {
		t.Fatalf("expected no record to be persisted")
	}
	if files := storedUploads(t, fx.uploadsDir); len(files) != 0 {
		t.Fatalf("expected no staged uploads, found %v", files)
	}
}

func TestCreateAnimalUnsafeImage(t *testing.T) {
	cases := []struct {
		name   string
		result moderation.Result
	}{
		{"adult likely", moderation.Result{Adult: moderation.Likely}},
		{"violence very likely", moderation.Result{Violence: moderation.VeryLikely}},
		{"racy likely", moderation.Result{Racy: moderation.Likely}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newAnimalTestServer(t)
			fx.analyzer.result = tc.result

			status, body := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", validAnimalFields, "rex.jpg", fakeImage)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", status, string(body))
			}

			var resp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Error != "The uploaded image is inappropriate." {
				t.Fatalf("unexpected error message: %q", resp.Error)
			}
			if fx.repo.count() != 0 {
				t.Fatalf("expected no record to be persisted")
			}
			if files := storedUploads(t, fx.uploadsDir); len(files) != 0 {
				t.Fatalf("expected staged upload to be deleted, found %v", files)
			}
		})
	}
}

func TestCreateAnimalBorderlineImageIsAccepted(t *testing.T) {
	fx := newAnimalTestServer(t)
	fx.analyzer.result = moderation.Result{
		Adult:    moderation.Possible,
		Violence: moderation.Possible,
		Racy:     moderation.Possible,
	}

	status, body := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", validAnimalFields, "rex.jpg", fakeImage)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", status, string(body))
	}
}

func TestCreateAnimalMissingFields(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, _ := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", map[string]string{
		"name": "Rex",
	}, "rex.jpg", fakeImage)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if fx.repo.count() != 0 {
		t.Fatalf("expected no record to be persisted")
	}
	if files := storedUploads(t, fx.uploadsDir); len(files) != 0 {
		t.Fatalf("expected staged upload to be deleted, found %v", files)
	}
}

func TestCreateAnimal(t *testing.T) {
	fx := newAnimalTestServer(t)

	fields := map[string]string{
		"name":          "Rex",
		"species":       "dog",
		"breed":         "mixed",
		"latitude":      "-23.55",
		"longitude":     "-46.63",
		"created_by":    "7",
		"health_status": "ok",
	}
	status, body := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", fields, "rex.jpg", fakeImage)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", status, string(body))
	}

	var created types.Animal
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == 0 || created.Name != "Rex" || created.Species != "dog" {
		t.Fatalf("unexpected record: %s", string(body))
	}
	if created.ImageURL == "" {
		t.Fatalf("expected image_url to be set")
	}
	if created.Breed == nil || *created.Breed != "mixed" {
		t.Fatalf("expected breed to round-trip")
	}
	if created.CreatedBy == nil || *created.CreatedBy != 7 {
		t.Fatalf("expected created_by to round-trip")
	}

	if files := storedUploads(t, fx.uploadsDir); len(files) != 1 {
		t.Fatalf("expected one stored upload, found %v", files)
	}
	if actions := fx.broker.actions(); len(actions) != 1 || actions[0] != mq.ActionAnimalCreated {
		t.Fatalf("unexpected published actions: %v", actions)
	}
}

func TestCreateAnimalWriteFailureCleansUp(t *testing.T) {
	fx := newAnimalTestServer(t)
	fx.repo.failWrites = true

	status, _ := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", validAnimalFields, "rex.jpg", fakeImage)
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
	if files := storedUploads(t, fx.uploadsDir); len(files) != 0 {
		t.Fatalf("expected staged upload to be deleted, found %v", files)
	}
	if actions := fx.broker.actions(); len(actions) != 0 {
		t.Fatalf("expected no events, got %v", actions)
	}
}

func TestUpdateAnimalUnsafeReplacementLeavesRecordUntouched(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, body := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", validAnimalFields, "rex.jpg", fakeImage)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", status, string(body))
	}
	var created types.Animal
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	fx.analyzer.result = moderation.Result{Racy: moderation.VeryLikely}
	status, body = doMultipart(t, http.MethodPut, fmt.Sprintf("%s/animals/%d", fx.server.URL, created.ID), map[string]string{
		"name":          "Changed",
		"species":       "cat",
		"health_status": "sick",
	}, "new.jpg", fakeImage)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", status, string(body))
	}

	current, err := fx.repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("fetch record: %v", err)
	}
	if current.Name != "Rex" || current.Species != "dog" || current.ImageURL != created.ImageURL {
		t.Fatalf("record was modified: %+v", current)
	}

	// Only the original photo remains.
	if files := storedUploads(t, fx.uploadsDir); len(files) != 1 {
		t.Fatalf("expected only the original upload, found %v", files)
	}
}

func TestUpdateAnimalWithReplacementImage(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, body := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", validAnimalFields, "rex.jpg", fakeImage)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", status, string(body))
	}
	var created types.Animal
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	status, body = doMultipart(t, http.MethodPut, fmt.Sprintf("%s/animals/%d", fx.server.URL, created.ID), map[string]string{
		"name":          "Rex II",
		"species":       "dog",
		"health_status": "recovering",
	}, "new.jpg", fakeImage)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", status, string(body))
	}

	var resp struct {
		ID      int    `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != created.ID || resp.Message == "" {
		t.Fatalf("unexpected response: %s", string(body))
	}

	current, err := fx.repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("fetch record: %v", err)
	}
	if current.Name != "Rex II" || current.HealthStatus != "recovering" {
		t.Fatalf("fields not rewritten: %+v", current)
	}
	if current.ImageURL == created.ImageURL {
		t.Fatalf("expected image_url to be replaced")
	}
}

func TestUpdateAnimalWithoutImageKeepsPhoto(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, body := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", validAnimalFields, "rex.jpg", fakeImage)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", status, string(body))
	}
	var created types.Animal
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	status, _ = doMultipart(t, http.MethodPut, fmt.Sprintf("%s/animals/%d", fx.server.URL, created.ID), map[string]string{
		"name":          "Rex II",
		"species":       "dog",
		"health_status": "ok",
	}, "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	current, err := fx.repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("fetch record: %v", err)
	}
	if current.ImageURL != created.ImageURL {
		t.Fatalf("image_url should be unchanged, got %q", current.ImageURL)
	}
}

func TestUpdateAnimalMissingFields(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, _ := doMultipart(t, http.MethodPut, fx.server.URL+"/animals/1", map[string]string{
		"name": "Rex",
	}, "", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestDeleteAnimalAlwaysSucceeds(t *testing.T) {
	fx := newAnimalTestServer(t)

	// Deleting an id that never existed still reports success.
	status, body := doMultipart(t, http.MethodDelete, fx.server.URL+"/animals/42", nil, "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", status, string(body))
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message == "" {
		t.Fatalf("expected message, got %s", string(body))
	}
	if actions := fx.broker.actions(); len(actions) != 1 || actions[0] != mq.ActionAnimalDeleted {
		t.Fatalf("unexpected published actions: %v", actions)
	}
}

func TestDeleteAnimalKeepsPhoto(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, body := doMultipart(t, http.MethodPost, fx.server.URL+"/animals", validAnimalFields, "rex.jpg", fakeImage)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", status, string(body))
	}
	var created types.Animal
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	status, _ = doMultipart(t, http.MethodDelete, fmt.Sprintf("%s/animals/%d", fx.server.URL, created.ID), nil, "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	// The stored photo is deliberately left behind.
	if files := storedUploads(t, fx.uploadsDir); len(files) != 1 {
		t.Fatalf("expected photo to remain, found %v", files)
	}
}

func TestGetAnimalNotFound(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, body := doJSON(t, http.MethodGet, fx.server.URL+"/animals/42", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}

	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "Animal not found." {
		t.Fatalf("unexpected error message: %q", resp.Error)
	}
}

func TestListAnimals(t *testing.T) {
	fx := newAnimalTestServer(t)

	status, body := doJSON(t, http.MethodGet, fx.server.URL+"/animals", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	var animals []types.Animal
	if err := json.Unmarshal(body, &animals); err != nil {
		t.Fatalf("expected raw array, got %s", string(body))
	}
	if len(animals) != 0 {
		t.Fatalf("expected empty list, got %v", animals)
	}
}
