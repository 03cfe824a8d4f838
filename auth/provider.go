package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Identity is the provider's view of a signed-in user. Directly after a
// sign-up the provider may not have propagated email or profile fields yet,
// so an Identity can be incomplete for a short while.
type Identity struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// Complete reports whether the fields required for a user sync are present.
func (id Identity) Complete() bool {
	return id.ID != "" && id.Email != ""
}

// IdentityProvider fetches the identity record behind an external auth id.
type IdentityProvider interface {
	FetchIdentity(ctx context.Context, authID string) (Identity, error)
}

// HTTPProvider talks to the identity provider's backend API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// providerUser mirrors the provider's user payload.
type providerUser struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	EmailAddresses []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
}

// FetchIdentity retrieves the user record for an external auth id.
func (p *HTTPProvider) FetchIdentity(ctx context.Context, authID string) (Identity, error) {
	endpoint := fmt.Sprintf("%s/v1/users/%s", p.baseURL, url.PathEscape(authID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return Identity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Identity{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var pu providerUser
	if err := json.NewDecoder(resp.Body).Decode(&pu); err != nil {
		return Identity{}, fmt.Errorf("decoding provider response: %w", err)
	}

	id := Identity{
		ID:        pu.ID,
		FirstName: pu.FirstName,
		LastName:  pu.LastName,
	}
	for _, addr := range pu.EmailAddresses {
		if addr.ID == pu.PrimaryEmailAddressID || id.Email == "" {
			id.Email = addr.EmailAddress
		}
	}
	return id, nil
}
