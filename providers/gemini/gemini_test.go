package gemini

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/pkg/types"
)

func newTestProvider(t *testing.T) provider.Provider {
	t.Helper()
	p, err := New(provider.Config{Name: "gemini", APIKey: "AIza-test"})
	require.NoError(t, err)
	return p
}

func TestBuildTextRequest_JSONMode(t *testing.T) {
	p := newTestProvider(t)

	req, err := p.BuildTextRequest(context.Background(), "gemini-1.5-flash", &types.TextRequest{
		Prompt: "Spec sheet.",
		System: "You write tire copy.",
	}, true)
	require.NoError(t, err)

	require.Contains(t, req.URL.Path, "models/gemini-1.5-flash:generateContent")
	require.Equal(t, "AIza-test", req.Header.Get("x-goog-api-key"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	gc := body["generationConfig"].(map[string]any)
	require.Equal(t, "application/json", gc["responseMimeType"])
	require.NotNil(t, body["systemInstruction"])
}

func TestParseTextResponse(t *testing.T) {
	p := newTestProvider(t)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body: io.NopCloser(strings.NewReader(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Confident handling."}]}}],
			"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 15, "totalTokenCount": 23}
		}`)),
	}

	tc, err := p.ParseTextResponse(resp)
	require.NoError(t, err)
	require.Equal(t, "Confident handling.", tc.Text)
	require.Equal(t, 8, tc.Usage.InputTokens)
	require.Equal(t, 15, tc.Usage.OutputTokens)
}

func TestBuildImageRequest_UsesPredictEndpoint(t *testing.T) {
	p := newTestProvider(t)

	req, err := p.BuildImageRequest(context.Background(), "imagen-3.0-generate-001", &types.ImageRequest{
		Prompt: "All-terrain tire on a rocky trail.",
		Count:  2,
	})
	require.NoError(t, err)
	require.Contains(t, req.URL.Path, "models/imagen-3.0-generate-001:predict")

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	params := body["parameters"].(map[string]any)
	require.Equal(t, float64(2), params["sampleCount"])
}

func TestParseImageResponse_DecodesBase64(t *testing.T) {
	p := newTestProvider(t)
	// json []byte fields decode standard base64: "aGVsbG8=" is "hello".
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body: io.NopCloser(strings.NewReader(
			`{"predictions": [{"bytesBase64Encoded": "aGVsbG8="}]}`)),
	}

	ic, err := p.ParseImageResponse(resp)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), ic.Data)
	require.Empty(t, ic.URL)
}

func TestMapError_ForbiddenIsAuthentication(t *testing.T) {
	p := newTestProvider(t)

	err := p.MapError(http.StatusForbidden, []byte(`{"error":{"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	var perr *errors.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, errors.TypeAuthentication, perr.Type)
}
