package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// Default hint values sent with every upload. The backend treats them as
// priors when it cannot recover a parameter from the image itself.
const (
	DefaultPrompt  = ""
	DefaultCfg     = 7.5
	DefaultSteps   = 30
	DefaultSampler = "unknown"
)

// allowedTypes is the upload MIME allow-list. Everything else is rejected
// before any network traffic happens.
var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// Upload describes one user-selected image plus optional generation hints.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte

	Prompt  string
	Cfg     float64
	Steps   int
	Sampler string
}

// NewUpload builds an Upload with the default hint fields populated.
func NewUpload(filename, contentType string, data []byte) Upload {
	return Upload{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		Prompt:      DefaultPrompt,
		Cfg:         DefaultCfg,
		Steps:       DefaultSteps,
		Sampler:     DefaultSampler,
	}
}

// Client performs the two-step analysis round trip against the backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the analysis backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Submit uploads an image for analysis and returns the normalized outcome.
//
// The flow is strictly sequential: one multipart POST to /api/upload, then,
// only if the backend answered with a raw embedding instead of matches, one
// JSON POST to /api/search. The two calls are never issued concurrently.
func (c *Client) Submit(ctx context.Context, up Upload) (Outcome, error) {
	if !allowedTypes[strings.ToLower(up.ContentType)] {
		return Outcome{}, &ValidationError{Reason: fmt.Sprintf("%v: %s", ErrUnsupportedType, up.ContentType)}
	}

	// Downscale oversized images before shipping them; the backend resizes
	// for the embedding model anyway, so original pixels are wasted bytes.
	body, contentType := prepareImage(up.Data, up.ContentType)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := up.Filename
	if filename == "" {
		filename = "upload"
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return Outcome{}, &UploadError{Err: err}
	}
	if _, err := part.Write(body); err != nil {
		return Outcome{}, &UploadError{Err: err}
	}

	fields := map[string]string{
		"prompt":  up.Prompt,
		"cfg":     strconv.FormatFloat(up.Cfg, 'f', -1, 64),
		"steps":   strconv.Itoa(up.Steps),
		"sampler": up.Sampler,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return Outcome{}, &UploadError{Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return Outcome{}, &UploadError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return Outcome{}, &UploadError{Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{}, &UploadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return Outcome{}, &UploadError{StatusCode: resp.StatusCode}
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return Outcome{}, &UploadError{Err: fmt.Errorf("decoding response: %w", err)}
	}

	if ur.Results != nil && len(ur.Results.ImageMatches) > 0 {
		return Outcome{
			ImageMatches:  ur.Results.ImageMatches,
			PromptMatches: ur.Results.PromptMatches,
		}, nil
	}

	if len(ur.Embedding) > 0 {
		return c.SearchEmbedding(ctx, ur.Embedding)
	}

	// Neither matches nor an embedding: nothing to show.
	return Outcome{}, nil
}

// SearchEmbedding runs the second-stage similarity search for a raw embedding.
func (c *Client) SearchEmbedding(ctx context.Context, embedding []float64) (Outcome, error) {
	payload, err := json.Marshal(searchRequest{Embedding: embedding})
	if err != nil {
		return Outcome{}, &SearchError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/search", bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, &SearchError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{}, &SearchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return Outcome{}, &SearchError{StatusCode: resp.StatusCode}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Outcome{}, &SearchError{Err: fmt.Errorf("decoding response: %w", err)}
	}

	if !sr.Success {
		return Outcome{}, &SearchError{Err: fmt.Errorf("backend reported failure: %s", sr.Error)}
	}

	return normalizeResults(sr.Results)
}

type matchGroups struct {
	ImageMatches  []Match `json:"image_matches"`
	PromptMatches []Match `json:"prompt_matches"`
}

type uploadResponse struct {
	Results   *matchGroups `json:"results"`
	Embedding []float64    `json:"embedding"`
}

type searchRequest struct {
	Embedding []float64 `json:"embedding"`
}

type searchResponse struct {
	Success bool            `json:"success"`
	Results json.RawMessage `json:"results"`
	Error   string          `json:"error"`
}

// normalizeResults resolves the backend's polymorphic search payload once, at
// the network boundary. A plain array is treated as image matches; an object
// is destructured into its image/prompt groups.
func normalizeResults(raw json.RawMessage) (Outcome, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Outcome{}, nil
	}

	if trimmed[0] == '[' {
		var list []Match
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return Outcome{}, &SearchError{Err: fmt.Errorf("decoding match list: %w", err)}
		}
		return Outcome{ImageMatches: list}, nil
	}

	var groups matchGroups
	if err := json.Unmarshal(trimmed, &groups); err != nil {
		return Outcome{}, &SearchError{Err: fmt.Errorf("decoding match groups: %w", err)}
	}
	return Outcome{
		ImageMatches:  groups.ImageMatches,
		PromptMatches: groups.PromptMatches,
	}, nil
}
