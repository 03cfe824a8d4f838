// Package analysis talks to the external embedding/search backend that
// deconstructs AI-generated images. The backend is a black box: it either
// answers an upload with ranked matches directly, or with a raw embedding
// that has to be fed into a second search call.
package analysis

import (
	"errors"
	"fmt"
)

// Match is a candidate set of generation parameters with a similarity score,
// as returned by the analysis backend. Optional numeric fields are pointers
// so a missing value can be told apart from zero.
type Match struct {
	Similarity float64  `json:"similarity"`
	ImageName  string   `json:"image_name,omitempty"`
	Prompt     string   `json:"prompt"`
	Model      string   `json:"model,omitempty"`
	Cfg        *float64 `json:"cfg,omitempty"`
	Steps      *int     `json:"steps,omitempty"`
	Sampler    string   `json:"sampler,omitempty"`
	Seed       *int64   `json:"seed,omitempty"`
}

// Outcome is the normalized result of one analysis round trip. The backend's
// two response shapes (plain match array vs. grouped object) are resolved at
// the network boundary so callers never branch on wire formats.
type Outcome struct {
	ImageMatches  []Match `json:"image_matches"`
	PromptMatches []Match `json:"prompt_matches"`
}

// Empty reports whether the backend returned nothing usable.
func (o Outcome) Empty() bool {
	return len(o.ImageMatches) == 0 && len(o.PromptMatches) == 0
}

var (
	// ErrUnsupportedType is wrapped by ValidationError for bad MIME types.
	ErrUnsupportedType = errors.New("unsupported image type")
)

// ValidationError means the input was rejected before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// UploadError means the upload call failed or returned a non-2xx status.
type UploadError struct {
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
	return fmt.Sprintf("upload failed: status %d", e.StatusCode)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SearchError means the follow-up search-by-embedding call failed.
type SearchError struct {
	StatusCode int
	Err        error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding search failed: %v", e.Err)
	}
	return fmt.Sprintf("embedding search failed: status %d", e.StatusCode)
}

func (e *SearchError) Unwrap() error { return e.Err }
