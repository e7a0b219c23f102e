// Package provider defines the adapter interface every generation vendor
// implements. An adapter only builds and parses HTTP traffic; execution,
// deadlines, fallback, and accounting belong to the client.
package provider

import (
	"context"
	"net/http"

	"github.com/treadworks/tiregen/pkg/types"
)

// Capability is the set of generation modes a provider supports.
type Capability uint8

const (
	CapText Capability = 1 << iota
	CapJSON
	CapImage
	CapEmbedding
)

// Has reports whether all of the given capabilities are present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Provider is the closed dispatch surface for one generation vendor.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Capabilities returns the generation modes this adapter supports.
	Capabilities() Capability

	// Available reports whether the adapter holds a usable credential.
	// Checked before any network activity so a credential-less provider
	// never wastes a timeout.
	Available() bool

	// BuildTextRequest creates the HTTP request for a text generation.
	// jsonMode steers the vendor into structured output where supported.
	BuildTextRequest(ctx context.Context, model string, req *types.TextRequest, jsonMode bool) (*http.Request, error)

	// ParseTextResponse extracts text and usage from a 2xx response.
	ParseTextResponse(resp *http.Response) (*types.TextCompletion, error)

	// BuildImageRequest creates the HTTP request for an image generation.
	// Adapters without CapImage return an invalid-request error.
	BuildImageRequest(ctx context.Context, model string, req *types.ImageRequest) (*http.Request, error)

	// ParseImageResponse extracts the image payload from a 2xx response.
	ParseImageResponse(resp *http.Response) (*types.ImageCompletion, error)

	// MapError converts a non-2xx response into a standardized error.
	MapError(statusCode int, body []byte) error
}

// Config carries everything needed to construct a provider adapter. APIKey
// is the already-resolved secret value (the registry resolves env:// and
// vault:// references before construction).
type Config struct {
	Name              string
	Type              string
	APIKey            string
	BaseURL           string
	Model             string // default model for this provider
	Models            []string
	Headers           map[string]string
	RequestsPerMinute int
	Burst             int
}

// Factory constructs a provider adapter from configuration.
type Factory func(Config) (Provider, error)
