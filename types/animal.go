package types

// Animal represents a registered animal record.
//
// Breed, Latitude, Longitude and CreatedBy are optional and persisted as
// NULL when absent. CreatedBy is a weak reference to a user id; it is not
// enforced as a foreign key and may be stale.
type Animal struct {
	// ID is the unique identifier of the animal record.
	ID int `json:"id" db:"id"`

	// Name is the animal's name.
	Name string `json:"name" db:"name"`

	// Species is the animal's species (e.g., "dog", "cat").
	Species string `json:"species" db:"species"`

	// Breed is the animal's breed, when known.
	Breed *string `json:"breed" db:"breed"`

	// Latitude is where the animal was registered, when known.
	Latitude *float64 `json:"latitude" db:"latitude"`

	// Longitude is where the animal was registered, when known.
	Longitude *float64 `json:"longitude" db:"longitude"`

	// CreatedBy references the registering user's id, when provided.
	CreatedBy *int `json:"created_by" db:"created_by"`

	// HealthStatus is a free-text description of the animal's health.
	HealthStatus string `json:"health_status" db:"health_status"`

	// ImageURL points at the stored photo. An animal record is never
	// persisted without a photo that passed the content-safety check.
	ImageURL string `json:"image_url" db:"image_url"`
}
