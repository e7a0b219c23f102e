package tiregen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/treadworks/tiregen/internal/metrics"
	"github.com/treadworks/tiregen/internal/secret"
	"github.com/treadworks/tiregen/pkg/budget"
	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/ledger"
	"github.com/treadworks/tiregen/pkg/pricing"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/pkg/router"
	"github.com/treadworks/tiregen/pkg/types"
	"github.com/treadworks/tiregen/providers"
)

// Client is the fallback-aware generation orchestrator. For each request it
// resolves a task route, then walks the candidate chain (preferred provider
// first, fallbacks strictly in configured order), checking credentials and
// budget before each attempt, executing under the route's per-attempt
// deadline, and recording every attempt to the cost ledger.
//
// Client is safe for concurrent use by multiple goroutines. Fallback within
// one request is strictly sequential; trying two providers at once would
// double-spend budget non-deterministically.
type Client struct {
	registry   *providers.Registry
	routes     *router.Table
	governor   *budget.Governor
	ledger     ledger.Store
	pricing    *pricing.Calculator
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	limiters   map[string]*rate.Limiter
	cfg        *ClientConfig

	ownLedger bool
}

// New creates an orchestrator client.
//
// Example:
//
//	client, err := tiregen.New(
//	    tiregen.WithProvider(provider.Config{
//	        Name:   "openai",
//	        Type:   "openai",
//	        APIKey: "env://OPENAI_API_KEY",
//	        Model:  "gpt-4o-mini",
//	    }),
//	    tiregen.WithRoute(router.Route{
//	        Task:      "content-generation",
//	        Preferred: router.Candidate{Provider: "openai"},
//	        Timeout:   30 * time.Second,
//	    }),
//	    tiregen.WithBudget(budget.Config{DailyUSD: 5}),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Providers) == 0 && len(cfg.Instances) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("at least one task route is required")
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = secret.NewResolver()
	}

	registry := providers.NewRegistry(cfg.Providers, resolver)
	for name, inst := range cfg.Instances {
		registry.Add(name, inst)
	}

	store := cfg.Ledger
	ownLedger := false
	if store == nil {
		store = ledger.NewMemoryStore()
		ownLedger = true
	}

	calc := cfg.Pricing
	if calc == nil {
		calc = pricing.NewCalculator(nil)
	}

	limiters := make(map[string]*rate.Limiter)
	for _, pc := range cfg.Providers {
		if pc.RequestsPerMinute > 0 {
			burst := pc.Burst
			if burst <= 0 {
				burst = 1
			}
			limiters[pc.Name] = rate.NewLimiter(rate.Limit(float64(pc.RequestsPerMinute)/60.0), burst)
		}
	}

	c := &Client{
		registry: registry,
		routes:   router.NewTable(cfg.Routes),
		governor: budget.New(store, cfg.Budget,
			budget.WithLogger(cfg.Logger), budget.WithClock(cfg.Clock)),
		ledger:  store,
		pricing: calc,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:    cfg.Logger,
		tracer:    otel.Tracer("tiregen"),
		limiters:  limiters,
		cfg:       cfg,
		ownLedger: ownLedger,
	}

	c.logger.Info("orchestrator initialized",
		"providers", len(cfg.Providers)+len(cfg.Instances),
		"tasks", len(cfg.Routes),
	)
	return c, nil
}

// GenerateText produces marketing copy for the given task type.
func (c *Client) GenerateText(ctx context.Context, req *types.TextRequest) (*types.TextResult, error) {
	if err := validateTextRequest(req.TaskType, req.Prompt); err != nil {
		return nil, err
	}

	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = c.cfg.DefaultMaxTokens
	}
	promptTokens := pricing.EstimateTokens(req.System + req.Prompt)

	var completion *types.TextCompletion
	chain, err := c.executeChain(ctx, req.TaskType, "text",
		func(model string) float64 {
			return c.pricing.EstimateTextCost(model, promptTokens, maxOut)
		},
		func(ctx context.Context, p provider.Provider, model string) (types.Usage, float64, error) {
			httpReq, err := p.BuildTextRequest(ctx, model, req, false)
			if err != nil {
				return types.Usage{}, 0, err
			}
			tc, err := c.doText(p, httpReq)
			if err != nil {
				return types.Usage{}, 0, err
			}
			completion = tc
			return tc.Usage, c.pricing.TextCost(model, tc.Usage.InputTokens, tc.Usage.OutputTokens), nil
		},
	)
	if err != nil {
		return nil, err
	}

	return &types.TextResult{
		Text:      completion.Text,
		Provider:  chain.provider,
		Model:     chain.model,
		Usage:     chain.usage,
		CostUSD:   chain.costUSD,
		LatencyMs: chain.latencyMs,
		FellBack:  chain.fellBack,
		Attempts:  chain.attempts,
	}, nil
}

// GenerateJSON produces structured output for the given task type. Output
// that cannot be parsed as JSON fails with MalformedResponseError and is
// treated as fatal: a content bug retried against another vendor rarely
// helps and would waste budget.
func (c *Client) GenerateJSON(ctx context.Context, req *types.JSONRequest) (*types.JSONResult, error) {
	if err := validateTextRequest(req.TaskType, req.Prompt); err != nil {
		return nil, err
	}

	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = c.cfg.DefaultMaxTokens
	}
	promptTokens := pricing.EstimateTokens(req.System + req.Prompt)

	textReq := &types.TextRequest{
		TaskType:    req.TaskType,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Metadata:    req.Metadata,
	}

	var data json.RawMessage
	chain, err := c.executeChain(ctx, req.TaskType, "json",
		func(model string) float64 {
			return c.pricing.EstimateTextCost(model, promptTokens, maxOut)
		},
		func(ctx context.Context, p provider.Provider, model string) (types.Usage, float64, error) {
			httpReq, err := p.BuildTextRequest(ctx, model, textReq, true)
			if err != nil {
				return types.Usage{}, 0, err
			}
			tc, err := c.doText(p, httpReq)
			if err != nil {
				return types.Usage{}, 0, err
			}
			raw, perr := extractJSON(tc.Text)
			if perr != nil {
				return types.Usage{}, 0, &errors.MalformedResponseError{
					Provider: p.Name(), Model: model, Err: perr,
				}
			}
			data = raw
			return tc.Usage, c.pricing.TextCost(model, tc.Usage.InputTokens, tc.Usage.OutputTokens), nil
		},
	)
	if err != nil {
		return nil, err
	}

	return &types.JSONResult{
		Data:      data,
		Provider:  chain.provider,
		Model:     chain.model,
		Usage:     chain.usage,
		CostUSD:   chain.costUSD,
		LatencyMs: chain.latencyMs,
		FellBack:  chain.fellBack,
		Attempts:  chain.attempts,
	}, nil
}

// GenerateImage produces product imagery for the given task type.
func (c *Client) GenerateImage(ctx context.Context, req *types.ImageRequest) (*types.ImageResult, error) {
	if err := validateTextRequest(req.TaskType, req.Prompt); err != nil {
		return nil, err
	}

	var completion *types.ImageCompletion
	chain, err := c.executeChain(ctx, req.TaskType, "image",
		func(model string) float64 {
			return c.pricing.ImageCost(model, req.Count)
		},
		func(ctx context.Context, p provider.Provider, model string) (types.Usage, float64, error) {
			if !p.Capabilities().Has(provider.CapImage) {
				return types.Usage{}, 0, &errors.UnavailableError{
					Provider: p.Name(), Reason: "image generation not supported",
				}
			}
			httpReq, err := p.BuildImageRequest(ctx, model, req)
			if err != nil {
				return types.Usage{}, 0, err
			}
			resp, err := c.do(p, httpReq)
			if err != nil {
				return types.Usage{}, 0, err
			}
			defer resp.Body.Close()
			ic, err := p.ParseImageResponse(resp)
			if err != nil {
				return types.Usage{}, 0, fmt.Errorf("parse response: %w", err)
			}
			completion = ic
			return types.Usage{}, c.pricing.ImageCost(model, req.Count), nil
		},
	)
	if err != nil {
		return nil, err
	}

	return &types.ImageResult{
		URL:       completion.URL,
		Data:      completion.Data,
		Provider:  chain.provider,
		Model:     chain.model,
		CostUSD:   chain.costUSD,
		LatencyMs: chain.latencyMs,
		FellBack:  chain.fellBack,
		Attempts:  chain.attempts,
	}, nil
}

// CostSummary reports spend over a rolling window ("day", "week", "month")
// aggregated by provider and task type.
func (c *Client) CostSummary(ctx context.Context, window string) (*ledger.Summary, error) {
	w, err := budget.ParseWindow(window)
	if err != nil {
		return nil, err
	}
	return c.ledger.Summarize(ctx, c.cfg.Clock().Add(-w.Duration()))
}

// RecentEntries returns the newest n ledger entries, for diagnostics.
func (c *Client) RecentEntries(ctx context.Context, n int) ([]ledger.Entry, error) {
	return c.ledger.Recent(ctx, n)
}

// UpdateRoutes atomically replaces the routing table. In-flight requests
// keep the route they already resolved.
func (c *Client) UpdateRoutes(routes []router.Route) {
	c.routes.Replace(routes)
}

// HasCredential reports whether the named provider could serve an attempt.
func (c *Client) HasCredential(ctx context.Context, name string) bool {
	return c.registry.HasCredential(ctx, name)
}

// Close releases client resources. The ledger is closed only if this client
// created it.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	if c.ownLedger {
		return c.ledger.Close()
	}
	return nil
}

// chainResult carries the winning attempt's provenance out of the fallback
// loop.
type chainResult struct {
	provider  string
	model     string
	usage     types.Usage
	costUSD   float64
	latencyMs int64
	fellBack  bool
	attempts  []types.Attempt
}

// executeChain drives the attempt sequence for one logical request:
// resolve route, then for each candidate in order run the credential gate,
// the budget gate, and the provider call under the route's deadline.
// Transient failures advance to the next candidate; fatal failures abort
// immediately; exhaustion returns an aggregate listing every candidate
// tried, including skipped ones.
func (c *Client) executeChain(
	ctx context.Context,
	taskType, kind string,
	estimate func(model string) float64,
	attempt func(ctx context.Context, p provider.Provider, model string) (types.Usage, float64, error),
) (*chainResult, error) {
	route, err := c.routes.Resolve(taskType)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "tiregen.generate",
		trace.WithAttributes(
			attribute.String("tiregen.task_type", taskType),
			attribute.String("tiregen.kind", kind),
			attribute.String("tiregen.request_id", requestID),
		))
	defer span.End()

	candidates := route.Candidates()
	attempts := make([]types.Attempt, 0, len(candidates))
	failures := make([]errors.AttemptFailure, 0, len(candidates))

	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		model := cand.Model
		if model == "" {
			if pc, ok := c.registry.Config(cand.Provider); ok {
				model = pc.Model
			}
		}

		prov, gerr := c.registry.Get(ctx, cand.Provider)
		if gerr != nil {
			// Consumes a fallback slot without any network call.
			c.recordSkip(ctx, requestID, taskType, cand.Provider, model, gerr)
			attempts = append(attempts, types.Attempt{
				Provider: cand.Provider, Model: model,
				Outcome: types.OutcomeTransient, Error: gerr.Error(),
			})
			failures = append(failures, errors.AttemptFailure{Provider: cand.Provider, Reason: gerr.Error()})
			continue
		}

		if verr := c.governor.CanAfford(ctx, estimate(model), route.CeilingUSD); verr != nil {
			c.recordSkip(ctx, requestID, taskType, cand.Provider, model, verr)
			attempts = append(attempts, types.Attempt{
				Provider: cand.Provider, Model: model,
				Outcome: types.OutcomeTransient, Error: verr.Error(),
			})
			failures = append(failures, errors.AttemptFailure{Provider: cand.Provider, Reason: verr.Error()})
			continue
		}

		usage, cost, latency, aerr := c.tryOnce(ctx, route, prov, model, attempt)

		if aerr == nil {
			lm := latency.Milliseconds()
			c.record(ctx, ledger.Entry{
				ID: uuid.NewString(), Provider: cand.Provider, Model: model,
				TaskType: taskType, InputTokens: usage.InputTokens,
				OutputTokens: usage.OutputTokens, CostUSD: cost,
				LatencyMs: lm, Success: true, Timestamp: c.cfg.Clock(),
			})
			attempts = append(attempts, types.Attempt{
				Provider: cand.Provider, Model: model,
				Outcome: types.OutcomeSuccess, LatencyMs: lm, CostUSD: cost,
			})
			metrics.AttemptsTotal.WithLabelValues(cand.Provider, string(types.OutcomeSuccess)).Inc()
			metrics.SpendUSD.WithLabelValues(cand.Provider, taskType).Add(cost)

			fellBack := i > 0
			if fellBack {
				metrics.FallbacksTotal.WithLabelValues(taskType).Inc()
				c.logger.Info("fallback succeeded",
					"request_id", requestID, "task_type", taskType,
					"provider", cand.Provider, "attempt", i+1)
			}
			span.SetAttributes(
				attribute.String("tiregen.provider", cand.Provider),
				attribute.Bool("tiregen.fell_back", fellBack),
			)
			return &chainResult{
				provider: cand.Provider, model: model, usage: usage,
				costUSD: cost, latencyMs: lm, fellBack: fellBack,
				attempts: attempts,
			}, nil
		}

		class := errors.Classify(aerr)
		outcome := types.OutcomeTransient
		if class == errors.ClassFatal {
			outcome = types.OutcomeFatal
		}
		lm := latency.Milliseconds()
		c.record(ctx, ledger.Entry{
			ID: uuid.NewString(), Provider: cand.Provider, Model: model,
			TaskType: taskType, LatencyMs: lm, Success: false,
			Timestamp: c.cfg.Clock(),
		})
		attempts = append(attempts, types.Attempt{
			Provider: cand.Provider, Model: model,
			Outcome: outcome, LatencyMs: lm, Error: aerr.Error(),
		})
		metrics.AttemptsTotal.WithLabelValues(cand.Provider, string(outcome)).Inc()

		if class == errors.ClassFatal {
			c.logger.Error("fatal provider error, aborting fallback",
				"request_id", requestID, "task_type", taskType,
				"provider", cand.Provider, "error", aerr)
			return nil, aerr
		}

		failures = append(failures, errors.AttemptFailure{Provider: cand.Provider, Reason: aerr.Error()})
		c.logger.Warn("provider attempt failed, trying next",
			"request_id", requestID, "task_type", taskType,
			"provider", cand.Provider, "attempt", i+1,
			"remaining", len(candidates)-i-1, "error", aerr)
	}

	return nil, &errors.AllFailedError{Task: taskType, Failures: failures}
}

// tryOnce runs one provider call under the route's per-attempt deadline.
// Deadline expiry cancels only this attempt; the chain continues.
func (c *Client) tryOnce(
	ctx context.Context,
	route router.Route,
	prov provider.Provider,
	model string,
	attempt func(ctx context.Context, p provider.Provider, model string) (types.Usage, float64, error),
) (types.Usage, float64, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, route.Timeout)
	defer cancel()

	if lim, ok := c.limiters[prov.Name()]; ok {
		if err := lim.Wait(attemptCtx); err != nil {
			return types.Usage{}, 0, 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	usage, cost, err := attempt(attemptCtx, prov, model)
	latency := time.Since(start)
	metrics.AttemptDuration.WithLabelValues(prov.Name()).Observe(latency.Seconds())
	return usage, cost, latency, err
}

// do executes a built provider request and maps non-2xx responses through
// the adapter's error mapping.
func (c *Client) do(p provider.Provider, httpReq *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, p.MapError(resp.StatusCode, body)
	}
	return resp, nil
}

func (c *Client) doText(p provider.Provider, httpReq *http.Request) (*types.TextCompletion, error) {
	resp, err := c.do(p, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	tc, err := p.ParseTextResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return tc, nil
}

// record appends a ledger entry. A ledger write failure must never fail the
// caller's logical request; it is logged and dropped.
func (c *Client) record(ctx context.Context, e ledger.Entry) {
	if err := c.ledger.Record(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Error("ledger write failed", "provider", e.Provider, "error", err)
	}
}

// recordSkip records the synthetic zero-cost entry for a candidate that was
// skipped before any network activity.
func (c *Client) recordSkip(ctx context.Context, requestID, taskType, providerName, model string, cause error) {
	c.record(ctx, ledger.Entry{
		ID: uuid.NewString(), Provider: providerName, Model: model,
		TaskType: taskType, Success: false, Timestamp: c.cfg.Clock(),
	})
	metrics.AttemptsTotal.WithLabelValues(providerName, string(types.OutcomeTransient)).Inc()
	c.logger.Warn("candidate skipped",
		"request_id", requestID, "task_type", taskType,
		"provider", providerName, "reason", cause)
}

func validateTextRequest(taskType, prompt string) error {
	if taskType == "" {
		return fmt.Errorf("task type is required")
	}
	if prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// extractJSON validates provider output as JSON, tolerating the markdown
// code fences chat models like to wrap structured answers in.
func extractJSON(text string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(text))

	if bytes.HasPrefix(trimmed, []byte("```")) {
		if idx := bytes.IndexByte(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if idx := bytes.LastIndex(trimmed, []byte("```")); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = bytes.TrimSpace(trimmed)
	}

	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("output is not valid JSON")
	}
	return json.RawMessage(trimmed), nil
}
