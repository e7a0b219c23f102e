// Package tiregen is a fallback-aware generation orchestrator for the
// TreadWorks tire catalog. It routes each generation task (product copy,
// structured spec sheets, product imagery) to a configured provider chain,
// enforces a spending budget against an append-only cost ledger, and falls
// back across providers in strict order when an attempt fails transiently.
//
// Basic usage:
//
//	client, err := tiregen.New(
//	    tiregen.WithProvider(tiregen.ProviderConfig{
//	        Name:   "openai",
//	        Type:   "openai",
//	        APIKey: "env://OPENAI_API_KEY",
//	        Model:  "gpt-4o-mini",
//	    }),
//	    tiregen.WithRoute(tiregen.Route{
//	        Task:      "product-description",
//	        Preferred: tiregen.Candidate{Provider: "openai"},
//	    }),
//	    tiregen.WithBudget(tiregen.BudgetConfig{DailyUSD: 25}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.GenerateText(ctx, &tiregen.TextRequest{
//	    TaskType: "product-description",
//	    Prompt:   "Write copy for the Michelin Pilot Sport 4S in 245/40R18.",
//	})
package tiregen

import (
	"github.com/treadworks/tiregen/pkg/budget"
	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/ledger"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/pkg/router"
	"github.com/treadworks/tiregen/pkg/types"
)

// Version is the current version of tiregen.
const Version = "1.0.0"

// Re-export core request/response types for convenience.
// Users can use tiregen.TextRequest instead of types.TextRequest.
type (
	// TextRequest asks for free-form marketing copy.
	TextRequest = types.TextRequest

	// TextResult is a completed text generation with full attempt provenance.
	TextResult = types.TextResult

	// JSONRequest asks for structured output such as a spec sheet.
	JSONRequest = types.JSONRequest

	// JSONResult carries validated JSON output.
	JSONResult = types.JSONResult

	// ImageRequest asks for product imagery.
	ImageRequest = types.ImageRequest

	// ImageResult carries a generated image by URL or inline bytes.
	ImageResult = types.ImageResult

	// Usage contains token usage for one attempt.
	Usage = types.Usage

	// Attempt records one step of the fallback chain.
	Attempt = types.Attempt

	// ProviderConfig declares a named provider backend.
	ProviderConfig = provider.Config

	// Route maps a task type to its provider chain.
	Route = router.Route

	// Candidate is one provider/model pair in a chain.
	Candidate = router.Candidate

	// BudgetConfig sets rolling spend ceilings.
	BudgetConfig = budget.Config

	// LedgerEntry is one row of the append-only cost ledger.
	LedgerEntry = ledger.Entry

	// CostReport aggregates ledger spend over a window.
	CostReport = ledger.Summary
)

// Re-export error types so callers can classify failures without importing
// the errors package.
type (
	// ProviderError is a structured upstream provider failure.
	ProviderError = errors.ProviderError

	// BudgetError reports an attempt vetoed by a spend ceiling.
	BudgetError = errors.BudgetError

	// UnavailableError reports a provider skipped without a network call.
	UnavailableError = errors.UnavailableError

	// AllFailedError reports an exhausted fallback chain.
	AllFailedError = errors.AllFailedError

	// MalformedResponseError reports structured output that failed to parse.
	MalformedResponseError = errors.MalformedResponseError
)

// Outcome labels for Attempt records.
const (
	OutcomeSuccess   = types.OutcomeSuccess
	OutcomeTransient = types.OutcomeTransient
	OutcomeFatal     = types.OutcomeFatal
)
