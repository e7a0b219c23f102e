package tiregen

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treadworks/tiregen/pkg/budget"
	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/ledger"
	"github.com/treadworks/tiregen/pkg/pricing"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/pkg/router"
	"github.com/treadworks/tiregen/pkg/types"
)

// fakeProvider points at an httptest server and speaks a trivial wire
// format so the orchestrator's chain logic can be exercised without any
// vendor shape in the way.
type fakeProvider struct {
	name        string
	baseURL     string
	caps        provider.Capability
	unavailable bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Capabilities() provider.Capability {
	if p.caps == 0 {
		return provider.CapText | provider.CapJSON
	}
	return p.caps
}

func (p *fakeProvider) Available() bool { return !p.unavailable }

func (p *fakeProvider) BuildTextRequest(ctx context.Context, model string, req *types.TextRequest, jsonMode bool) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/generate", strings.NewReader(req.Prompt))
}

func (p *fakeProvider) ParseTextResponse(resp *http.Response) (*types.TextCompletion, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Text         string `json:"text"`
		InputTokens  int    `json:"input_tokens"`
		OutputTokens int    `json:"output_tokens"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &types.TextCompletion{
		Text: out.Text,
		Usage: types.Usage{
			InputTokens:  out.InputTokens,
			OutputTokens: out.OutputTokens,
			TotalTokens:  out.InputTokens + out.OutputTokens,
		},
	}, nil
}

func (p *fakeProvider) BuildImageRequest(ctx context.Context, model string, req *types.ImageRequest) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/image", strings.NewReader(req.Prompt))
}

func (p *fakeProvider) ParseImageResponse(resp *http.Response) (*types.ImageCompletion, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &types.ImageCompletion{URL: out.URL}, nil
}

func (p *fakeProvider) MapError(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(p.name, "", string(body))
	case http.StatusBadRequest:
		return errors.NewContentPolicyError(p.name, "", string(body))
	case http.StatusServiceUnavailable:
		return errors.NewServiceUnavailableError(p.name, "", string(body))
	default:
		return errors.NewInternalError(p.name, "", string(body))
	}
}

// fakeServer is an upstream that answers every request the same way and
// counts hits.
type fakeServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newFakeServer(t *testing.T, status int, body string) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func textBody(text string) string {
	quoted, _ := json.Marshal(text)
	return `{"text":` + string(quoted) + `,"input_tokens":20,"output_tokens":40}`
}

func newTestClient(t *testing.T, store ledger.Store, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithLedger(store),
		WithLogger(discardLogger()),
	}
	client, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func twoProviderRoute(task string) Option {
	return WithRoute(router.Route{
		Task:      task,
		Preferred: router.Candidate{Provider: "alpha", Model: "alpha-model"},
		Fallbacks: []router.Candidate{{Provider: "beta", Model: "beta-model"}},
		Timeout:   5 * time.Second,
	})
}

func TestNew_RequiresProviderAndRoute(t *testing.T) {
	_, err := New(WithRoute(router.Route{Task: "x", Preferred: router.Candidate{Provider: "a"}}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "provider")

	_, err = New(WithProviderInstance("a", &fakeProvider{name: "a"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "route")
}

func TestGenerateText_PreferredSucceeds(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, textBody("All-season grip for daily drivers."))
	store := ledger.NewMemoryStore()

	client := newTestClient(t, store,
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: srv.URL}),
		WithProviderInstance("beta", &fakeProvider{name: "beta", baseURL: srv.URL}),
		twoProviderRoute("product-description"),
	)

	res, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description",
		Prompt:   "Describe the Apex Trail AT in 265/70R17.",
	})
	require.NoError(t, err)
	require.Equal(t, "alpha", res.Provider)
	require.False(t, res.FellBack)
	require.Len(t, res.Attempts, 1)
	require.Equal(t, types.OutcomeSuccess, res.Attempts[0].Outcome)
	require.Equal(t, 20, res.Usage.InputTokens)
	require.Equal(t, 40, res.Usage.OutputTokens)
	require.Equal(t, 1, store.Len())
}

func TestGenerateText_TransientFailureFallsBack(t *testing.T) {
	bad := newFakeServer(t, http.StatusServiceUnavailable, "upstream down")
	good := newFakeServer(t, http.StatusOK, textBody("Quiet ride, long tread life."))
	store := ledger.NewMemoryStore()

	client := newTestClient(t, store,
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: bad.URL}),
		WithProviderInstance("beta", &fakeProvider{name: "beta", baseURL: good.URL}),
		twoProviderRoute("product-description"),
	)

	res, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description",
		Prompt:   "Describe the Apex Touring LX.",
	})
	require.NoError(t, err)
	require.Equal(t, "beta", res.Provider)
	require.True(t, res.FellBack)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, "alpha", res.Attempts[0].Provider)
	require.Equal(t, types.OutcomeTransient, res.Attempts[0].Outcome)
	require.Equal(t, "beta", res.Attempts[1].Provider)
	require.Equal(t, types.OutcomeSuccess, res.Attempts[1].Outcome)

	// One ledger row per attempt, failed one first.
	require.Equal(t, 2, store.Len())
	entries, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "beta", entries[0].Provider)
	require.True(t, entries[0].Success)
	require.Equal(t, "alpha", entries[1].Provider)
	require.False(t, entries[1].Success)
}

func TestGenerateText_FatalAbortsChain(t *testing.T) {
	rejecting := newFakeServer(t, http.StatusBadRequest, "content policy violation")
	fallback := newFakeServer(t, http.StatusOK, textBody("never used"))
	store := ledger.NewMemoryStore()

	client := newTestClient(t, store,
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: rejecting.URL}),
		WithProviderInstance("beta", &fakeProvider{name: "beta", baseURL: fallback.URL}),
		twoProviderRoute("product-description"),
	)

	_, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description",
		Prompt:   "Describe something unacceptable.",
	})
	require.Error(t, err)

	var perr *errors.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, errors.TypeContentPolicy, perr.Type)

	// Fallback was never contacted, and the failed attempt was ledgered.
	require.Equal(t, int64(0), fallback.hits.Load())
	require.Equal(t, 1, store.Len())
}

func TestGenerateText_AllTransientExhaustsChain(t *testing.T) {
	down := newFakeServer(t, http.StatusServiceUnavailable, "upstream down")
	store := ledger.NewMemoryStore()

	client := newTestClient(t, store,
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: down.URL}),
		WithProviderInstance("beta", &fakeProvider{name: "beta", baseURL: down.URL}),
		twoProviderRoute("product-description"),
	)

	_, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description",
		Prompt:   "Describe the Apex Trail AT.",
	})
	require.Error(t, err)

	var allFailed *errors.AllFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Equal(t, []string{"alpha", "beta"}, allFailed.Providers())
	require.Equal(t, 2, store.Len())
}

func TestGenerateText_UnavailableProviderConsumesSlot(t *testing.T) {
	good := newFakeServer(t, http.StatusOK, textBody("Strong wet braking."))
	store := ledger.NewMemoryStore()

	client := newTestClient(t, store,
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", unavailable: true}),
		WithProviderInstance("beta", &fakeProvider{name: "beta", baseURL: good.URL}),
		twoProviderRoute("product-description"),
	)

	res, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description",
		Prompt:   "Describe the Apex Sport RS.",
	})
	require.NoError(t, err)
	require.Equal(t, "beta", res.Provider)
	require.True(t, res.FellBack)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, types.OutcomeTransient, res.Attempts[0].Outcome)
	require.Contains(t, res.Attempts[0].Error, "unavailable")
	// Skips are ledgered too.
	require.Equal(t, 2, store.Len())
}

func TestGenerateText_UnknownTask(t *testing.T) {
	client := newTestClient(t, ledger.NewMemoryStore(),
		WithProviderInstance("alpha", &fakeProvider{name: "alpha"}),
		twoProviderRoute("product-description"),
	)

	_, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "press-release",
		Prompt:   "anything",
	})

	var unknown *errors.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "press-release", unknown.Task)
}

func TestGenerateText_BudgetVetoSkipsWithoutNetworkCall(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, textBody("never reached"))
	store := ledger.NewMemoryStore()
	require.NoError(t, store.Record(context.Background(), ledger.Entry{
		ID: "seed", Provider: "alpha", TaskType: "product-description",
		CostUSD: 0.99, Success: true, Timestamp: time.Now(),
	}))

	calc := pricing.NewCalculator([]pricing.ModelPricing{
		{Model: "alpha-model", InputCostPer1K: 1.0, OutputCostPer1K: 1.0},
	})

	client := newTestClient(t, store,
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: srv.URL}),
		WithRoute(router.Route{
			Task:      "product-description",
			Preferred: router.Candidate{Provider: "alpha", Model: "alpha-model"},
			Timeout:   5 * time.Second,
		}),
		WithBudget(budget.Config{DailyUSD: 1.00}),
		WithPricing(calc),
	)

	_, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description",
		Prompt:   "Describe the Apex Trail AT.",
	})
	require.Error(t, err)

	var allFailed *errors.AllFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Failures, 1)
	require.Contains(t, allFailed.Failures[0].Reason, "day ceiling")
	require.Equal(t, int64(0), srv.hits.Load())
}

func TestGenerateText_BudgetVetoFallsBackToCheaperProvider(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, textBody("Value touring tire copy."))
	store := ledger.NewMemoryStore()
	require.NoError(t, store.Record(context.Background(), ledger.Entry{
		ID: "seed", Provider: "alpha", TaskType: "product-description",
		CostUSD: 0.99, Success: true, Timestamp: time.Now(),
	}))

	// The preferred model is priced; the fallback model is unknown and
	// estimates to zero, fitting under the ceiling.
	calc := pricing.NewCalculator([]pricing.ModelPricing{
		{Model: "alpha-model", InputCostPer1K: 1.0, OutputCostPer1K: 1.0},
	})

	client := newTestClient(t, store,
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: srv.URL}),
		WithProviderInstance("beta", &fakeProvider{name: "beta", baseURL: srv.URL}),
		twoProviderRoute("product-description"),
		WithBudget(budget.Config{DailyUSD: 1.00}),
		WithPricing(calc),
	)

	res, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description",
		Prompt:   "Describe the Apex Touring LX.",
	})
	require.NoError(t, err)
	require.Equal(t, "beta", res.Provider)
	require.True(t, res.FellBack)
	require.Equal(t, int64(1), srv.hits.Load())
}

func TestGenerateJSON_ParsesFencedOutput(t *testing.T) {
	fenced := "```json\n{\"load_index\": 112, \"speed_rating\": \"T\"}\n```"
	srv := newFakeServer(t, http.StatusOK, textBody(fenced))

	client := newTestClient(t, ledger.NewMemoryStore(),
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: srv.URL}),
		twoProviderRoute("spec-sheet"),
	)

	res, err := client.GenerateJSON(context.Background(), &types.JSONRequest{
		TaskType: "spec-sheet",
		Prompt:   "Spec sheet for 265/70R17 load range E.",
	})
	require.NoError(t, err)

	var sheet map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &sheet))
	require.Equal(t, float64(112), sheet["load_index"])
}

func TestGenerateJSON_MalformedOutputIsFatal(t *testing.T) {
	bad := newFakeServer(t, http.StatusOK, textBody("here is the JSON you asked for: {broken"))
	fallback := newFakeServer(t, http.StatusOK, textBody(`{"ok":true}`))

	client := newTestClient(t, ledger.NewMemoryStore(),
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: bad.URL}),
		WithProviderInstance("beta", &fakeProvider{name: "beta", baseURL: fallback.URL}),
		twoProviderRoute("spec-sheet"),
	)

	_, err := client.GenerateJSON(context.Background(), &types.JSONRequest{
		TaskType: "spec-sheet",
		Prompt:   "Spec sheet.",
	})
	require.Error(t, err)

	var malformed *errors.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, "alpha", malformed.Provider)
	// A content bug is not worth a second vendor's budget.
	require.Equal(t, int64(0), fallback.hits.Load())
}

func TestGenerateImage_NonImageProviderConsumesSlot(t *testing.T) {
	imgSrv := newFakeServer(t, http.StatusOK, `{"url":"https://cdn.example.com/tire.png"}`)

	client := newTestClient(t, ledger.NewMemoryStore(),
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", caps: provider.CapText}),
		WithProviderInstance("beta", &fakeProvider{
			name: "beta", baseURL: imgSrv.URL,
			caps: provider.CapText | provider.CapImage,
		}),
		twoProviderRoute("product-image"),
	)

	res, err := client.GenerateImage(context.Background(), &types.ImageRequest{
		TaskType: "product-image",
		Prompt:   "Studio shot of an all-terrain tire on white.",
	})
	require.NoError(t, err)
	require.Equal(t, "beta", res.Provider)
	require.True(t, res.FellBack)
	require.Equal(t, "https://cdn.example.com/tire.png", res.URL)
}

func TestCostSummary_AggregatesLedger(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, textBody("copy"))
	store := ledger.NewMemoryStore()

	calc := pricing.NewCalculator([]pricing.ModelPricing{
		{Model: "alpha-model", InputCostPer1K: 1.0, OutputCostPer1K: 2.0},
	})

	client := newTestClient(t, store,
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: srv.URL}),
		twoProviderRoute("product-description"),
		WithPricing(calc),
	)

	_, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description",
		Prompt:   "Describe the Apex Trail AT.",
	})
	require.NoError(t, err)

	summary, err := client.CostSummary(context.Background(), "day")
	require.NoError(t, err)
	// 20 input tokens at $1/1K plus 40 output at $2/1K.
	require.InDelta(t, 0.10, summary.TotalCostUSD, 1e-9)
	require.InDelta(t, 0.10, summary.ByProvider["alpha"], 1e-9)
	require.InDelta(t, 0.10, summary.ByTaskType["product-description"], 1e-9)

	_, err = client.CostSummary(context.Background(), "fortnight")
	require.Error(t, err)
}

func TestUpdateRoutes_SwapsAtomically(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, textBody("copy"))

	client := newTestClient(t, ledger.NewMemoryStore(),
		WithProviderInstance("alpha", &fakeProvider{name: "alpha", baseURL: srv.URL}),
		twoProviderRoute("product-description"),
	)

	client.UpdateRoutes([]router.Route{{
		Task:      "seo-snippet",
		Preferred: router.Candidate{Provider: "alpha", Model: "alpha-model"},
	}})

	_, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "product-description", Prompt: "x",
	})
	var unknown *errors.UnknownTaskError
	require.ErrorAs(t, err, &unknown)

	res, err := client.GenerateText(context.Background(), &types.TextRequest{
		TaskType: "seo-snippet", Prompt: "Snippet for 265/70R17.",
	})
	require.NoError(t, err)
	require.Equal(t, "alpha", res.Provider)
}
