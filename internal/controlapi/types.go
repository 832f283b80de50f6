package controlapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/rafaeljc/engage/internal/engagement"
	"github.com/rafaeljc/engage/internal/store"
)

// defaultMaxManifestBytes bounds PUT payloads unless WithMaxManifestBytes
// says otherwise.
const defaultMaxManifestBytes = 1 << 20

// Manifest is the manifest resource returned by the API.
type Manifest struct {
	AppKey       string          `json:"app_key"`
	Version      int64           `json:"version"`
	Interactions json.RawMessage `json:"interactions"`
	Targets      json.RawMessage `json:"targets"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PutManifestRequest replaces the manifest of an application.
//
// ExpectedVersion enables optimistic locking: omitted writes
// unconditionally, 0 only creates, N only replaces version N.
type PutManifestRequest struct {
	Interactions    json.RawMessage `json:"interactions"`
	Targets         json.RawMessage `json:"targets"`
	ExpectedVersion *int64          `json:"expected_version,omitempty"`
}

// manifestDocument is the stored body. Targets stay raw so the authored key
// order of every criteria object survives the round trip.
type manifestDocument struct {
	Interactions json.RawMessage `json:"interactions"`
	Targets      json.RawMessage `json:"targets"`
}

// Document builds the stored manifest body, defaulting absent sections to
// empty ones.
func (r *PutManifestRequest) Document() (json.RawMessage, error) {
	doc := manifestDocument{Interactions: r.Interactions, Targets: r.Targets}
	if isNull(doc.Interactions) {
		doc.Interactions = json.RawMessage("[]")
	}
	if isNull(doc.Targets) {
		doc.Targets = json.RawMessage("{}")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return body, nil
}

// Validate compiles the document the way the data plane will, so a manifest
// that cannot be evaluated is never published.
func (r *PutManifestRequest) Validate(body json.RawMessage) *ErrorResponse {
	if r.ExpectedVersion != nil && *r.ExpectedVersion < 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "expected_version must not be negative",
			Details: []ErrorDetail{{Field: "expected_version", Issue: "negative"}},
		}
	}
	if _, err := engagement.ParseManifest(body); err != nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_MANIFEST",
			Message: err.Error(),
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// toManifest splits a stored record back into the API shape.
func toManifest(rec *store.ManifestRecord) (Manifest, error) {
	var doc manifestDocument
	if err := json.Unmarshal(rec.Body, &doc); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode stored manifest %q: %w", rec.AppKey, err)
	}
	if isNull(doc.Interactions) {
		doc.Interactions = json.RawMessage("[]")
	}
	if isNull(doc.Targets) {
		doc.Targets = json.RawMessage("{}")
	}
	return Manifest{
		AppKey:       rec.AppKey,
		Version:      rec.Version,
		Interactions: doc.Interactions,
		Targets:      doc.Targets,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

// ManifestSummary is one row of the list endpoint. Bodies are omitted.
type ManifestSummary struct {
	AppKey    string    `json:"app_key"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaginatedResponse wraps list endpoints using offset pagination.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for list responses.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse is the structured error body of every failed request.
type ErrorResponse struct {
	// Code is machine-readable, e.g. "ERR_INVALID_INPUT".
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail points at a single invalid field.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}
