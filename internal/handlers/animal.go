package handlers

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/petgo/apiserver/internal/moderation"
	"github.com/petgo/apiserver/internal/mq"
	"github.com/petgo/apiserver/internal/services"
	"github.com/petgo/apiserver/internal/storage"
	"github.com/petgo/apiserver/internal/store"
	"github.com/petgo/apiserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	maxImageBytes      = 16 << 20
	formFieldImage     = "image"
	formFieldName      = "name"
	formFieldSpecies   = "species"
	formFieldBreed     = "breed"
	formFieldLatitude  = "latitude"
	formFieldLongitude = "longitude"
	formFieldCreatedBy = "created_by"
	formFieldHealth    = "health_status"
)

// UploadedImage represents an image file read from a multipart form.
type UploadedImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AnimalHandler provides HTTP handlers for animal records.
//
// Mutations run the full pipeline: stage the uploaded photo, gate it
// through the content-safety analyzer, validate the fields, then write
// inside a transaction. A staged photo is deleted on every path that does
// not end in a committed write.
type AnimalHandler struct {
	animalService *services.AnimalService
	uploads       *storage.Storage
	analyzer      moderation.Analyzer
	events        *mq.EventPublisher
}

// NewAnimalHandler constructs a handler with the provided dependencies.
func NewAnimalHandler(
	animalService *services.AnimalService,
	uploads *storage.Storage,
	analyzer moderation.Analyzer,
	events *mq.EventPublisher,
) *AnimalHandler {
	return &AnimalHandler{
		animalService: animalService,
		uploads:       uploads,
		analyzer:      analyzer,
		events:        events,
	}
}

// AnimalRouter registers animal routes on the given router.
func AnimalRouter(
	r chi.Router,
	animalService *services.AnimalService,
	uploads *storage.Storage,
	analyzer moderation.Analyzer,
	events *mq.EventPublisher,
) {
	handler := NewAnimalHandler(animalService, uploads, analyzer, events)

	r.Get("/", handler.ListAnimals)
	r.Post("/", handler.CreateAnimal)
	r.Route("/{animalID}", func(r chi.Router) {
		r.Get("/", handler.GetAnimal)
		r.Put("/", handler.UpdateAnimal)
		r.Delete("/", handler.DeleteAnimal)
	})
}

func (h *AnimalHandler) ListAnimals(w http.ResponseWriter, r *http.Request) {
	animals, err := h.animalService.List(r.Context())
	if err != nil {
		log.Printf("failed to list animals: %v", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred while fetching animals.")
		return
	}
	writeJSON(w, http.StatusOK, animals)
}

func (h *AnimalHandler) GetAnimal(w http.ResponseWriter, r *http.Request) {
	id, err := parseAnimalID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "Animal not found.")
		return
	}

	animal, err := h.animalService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Animal not found.")
			return
		}
		log.Printf("failed to fetch animal %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred while fetching the animal.")
		return
	}

	writeJSON(w, http.StatusOK, animal)
}

// CreateAnimal registers an animal with a mandatory photo. The photo is
// staged and moderated before any validation or transaction.
func (h *AnimalHandler) CreateAnimal(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form.")
		return
	}

	image, err := parseImageFile(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if image == nil {
		writeError(w, http.StatusBadRequest, "No image was uploaded.")
		return
	}

	key := newObjectKey(image.Filename)
	if err := h.uploads.Put(r.Context(), key, bytes.NewReader(image.Data), int64(len(image.Data)), image.ContentType); err != nil {
		log.Printf("failed to stage uploaded image: %v", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred while creating the animal.")
		return
	}

	result, err := h.analyzer.Classify(r.Context(), image.Data)
	if err != nil {
		h.discardStaged(r, key)
		log.Printf("failed to moderate uploaded image: %v", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred while creating the animal.")
		return
	}
	if result.Unsafe() {
		h.discardStaged(r, key)
		writeError(w, http.StatusBadRequest, "The uploaded image is inappropriate.")
		return
	}

	fields, err := parseAnimalForm(r)
	if err != nil {
		h.discardStaged(r, key)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	animal := types.Animal{
		Name:         fields.Name,
		Species:      fields.Species,
		Breed:        fields.Breed,
		Latitude:     fields.Latitude,
		Longitude:    fields.Longitude,
		CreatedBy:    fields.CreatedBy,
		HealthStatus: fields.HealthStatus,
		ImageURL:     h.uploads.URL(key),
	}

	created, err := h.animalService.Create(r.Context(), animal)
	if err != nil {
		h.discardStaged(r, key)
		log.Printf("failed to create animal: %v", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred while creating the animal.")
		return
	}

	h.publishEvent(r, mq.ActionAnimalCreated, created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// UpdateAnimal rewrites an animal record, optionally replacing its photo.
// A replacement photo is moderated before any write; rejection leaves the
// existing record untouched.
func (h *AnimalHandler) UpdateAnimal(w http.ResponseWriter, r *http.Request) {
	id, err := parseAnimalID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid animal id.")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form.")
		return
	}

	fields, err := parseAnimalForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	image, err := parseImageFile(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var newKey string
	if image != nil {
		newKey = newObjectKey(image.Filename)
		if err := h.uploads.Put(r.Context(), newKey, bytes.NewReader(image.Data), int64(len(image.Data)), image.ContentType); err != nil {
			log.Printf("failed to stage replacement image: %v", err)
			writeError(w, http.StatusInternalServerError, "An internal error occurred while updating the animal.")
			return
		}

		result, err := h.analyzer.Classify(r.Context(), image.Data)
		if err != nil {
			h.discardStaged(r, newKey)
			log.Printf("failed to moderate replacement image: %v", err)
			writeError(w, http.StatusInternalServerError, "An internal error occurred while updating the animal.")
			return
		}
		if result.Unsafe() {
			h.discardStaged(r, newKey)
			writeError(w, http.StatusBadRequest, "The new uploaded image is inappropriate.")
			return
		}
	}

	animal := types.Animal{
		ID:           id,
		Name:         fields.Name,
		Species:      fields.Species,
		Breed:        fields.Breed,
		Latitude:     fields.Latitude,
		Longitude:    fields.Longitude,
		HealthStatus: fields.HealthStatus,
	}
	if newKey != "" {
		animal.ImageURL = h.uploads.URL(newKey)
	}

	if err := h.animalService.Update(r.Context(), animal, newKey != ""); err != nil {
		if newKey != "" {
			h.discardStaged(r, newKey)
		}
		log.Printf("failed to update animal %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred while updating the animal.")
		return
	}

	h.publishEvent(r, mq.ActionAnimalUpdated, id)
	writeJSON(w, http.StatusOK, UpdateAnimalResponse{
		ID:      id,
		Message: "Animal updated successfully.",
	})
}

// DeleteAnimal removes an animal record. The stored photo is not removed
// and no affected-row check is made; deleting a gone id still succeeds.
func (h *AnimalHandler) DeleteAnimal(w http.ResponseWriter, r *http.Request) {
	id, err := parseAnimalID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid animal id.")
		return
	}

	if err := h.animalService.Delete(r.Context(), id); err != nil {
		log.Printf("failed to delete animal %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred while deleting the animal.")
		return
	}

	h.publishEvent(r, mq.ActionAnimalDeleted, id)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Animal deleted successfully."})
}

func (h *AnimalHandler) discardStaged(r *http.Request, key string) {
	if err := h.uploads.Delete(r.Context(), key); err != nil {
		log.Printf("failed to delete staged upload %q: %v", key, err)
	}
}

func (h *AnimalHandler) publishEvent(r *http.Request, action string, animalID int) {
	if err := h.events.PublishAnimalEvent(r.Context(), action, animalID); err != nil {
		log.Printf("failed to publish %s event for animal %d: %v", action, animalID, err)
	}
}

// UpdateAnimalResponse is the payload of a successful animal update.
type UpdateAnimalResponse struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

// MessageResponse is a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AnimalFormFields holds the parsed non-file fields of an animal form.
type AnimalFormFields struct {
	Name         string
	Species      string
	Breed        *string
	Latitude     *float64
	Longitude    *float64
	CreatedBy    *int
	HealthStatus string
}

func parseAnimalID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "animalID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid animal id")
	}
	return id, nil
}

func parseAnimalForm(r *http.Request) (AnimalFormFields, error) {
	name := strings.TrimSpace(r.FormValue(formFieldName))
	species := strings.TrimSpace(r.FormValue(formFieldSpecies))
	health := strings.TrimSpace(r.FormValue(formFieldHealth))
	if name == "" || species == "" || health == "" {
		return AnimalFormFields{}, errors.New("Name, species and health status are required.")
	}

	fields := AnimalFormFields{
		Name:         name,
		Species:      species,
		HealthStatus: health,
	}

	if breed := strings.TrimSpace(r.FormValue(formFieldBreed)); breed != "" {
		fields.Breed = &breed
	}

	latitude, err := parseOptionalFloat(r.FormValue(formFieldLatitude))
	if err != nil {
		return AnimalFormFields{}, errors.New("Invalid latitude.")
	}
	fields.Latitude = latitude

	longitude, err := parseOptionalFloat(r.FormValue(formFieldLongitude))
	if err != nil {
		return AnimalFormFields{}, errors.New("Invalid longitude.")
	}
	fields.Longitude = longitude

	createdBy, err := parseOptionalInt(r.FormValue(formFieldCreatedBy))
	if err != nil {
		return AnimalFormFields{}, errors.New("Invalid created_by.")
	}
	fields.CreatedBy = createdBy

	return fields, nil
}

func parseOptionalFloat(value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseImageFile reads the image file part, if present. It returns nil
// when the form carries no image.
func parseImageFile(form *multipart.Form) (*UploadedImage, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[formFieldImage]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("Only one image file is allowed.")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	data, err := readFileLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &UploadedImage{
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("Uploaded file too large.")
	}
	return data, nil
}

// newObjectKey derives a unique storage key, keeping the upload's
// extension so served files retain a usable content type.
func newObjectKey(filename string) string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return filename
	}
	return hex.EncodeToString(buf[:]) + strings.ToLower(filepath.Ext(filename))
}
