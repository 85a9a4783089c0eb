// Package tools manages the MCP service registry and aggregates tool
// catalogs from the registered providers for use during generation.
package tools

import (
	"net/url"
	"strings"
	"time"

	apperrors "github.com/promptgate/promptgate/internal/errors"
)

// ProviderType selects the MCP transport for a provider.
type ProviderType string

const (
	// ProviderTypeHTTP uses streamable HTTP with SSE fallback.
	ProviderTypeHTTP ProviderType = "http"
	// ProviderTypeSSE forces the legacy SSE transport.
	ProviderTypeSSE ProviderType = "sse"
)

// Provider is one registered MCP service.
type Provider struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	URL         string       `json:"url"`
	Type        ProviderType `json:"type"`
	Description string       `json:"description,omitempty"`
	Enabled     bool         `json:"enabled"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

// validate checks the fields a caller can set.
func (p *Provider) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "provider name is required", nil)
	}
	if strings.TrimSpace(p.URL) == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "provider url is required", nil)
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "provider url must be a valid http(s) URL", nil)
	}
	switch p.Type {
	case "", ProviderTypeHTTP, ProviderTypeSSE:
	default:
		return apperrors.New(apperrors.ErrCodeValidation, "provider type must be http or sse", nil)
	}
	return nil
}
