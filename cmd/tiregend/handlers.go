package main

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/treadworks/tiregen"
	"github.com/treadworks/tiregen/pkg/errors"
)

type handler struct {
	client *tiregen.Client
	logger *slog.Logger
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (h *handler) generateText(w http.ResponseWriter, r *http.Request) {
	var req tiregen.TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	res, err := h.client.GenerateText(r.Context(), &req)
	if err != nil {
		h.writeGenerationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) generateJSON(w http.ResponseWriter, r *http.Request) {
	var req tiregen.JSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	res, err := h.client.GenerateJSON(r.Context(), &req)
	if err != nil {
		h.writeGenerationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) generateImage(w http.ResponseWriter, r *http.Request) {
	var req tiregen.ImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	res, err := h.client.GenerateImage(r.Context(), &req)
	if err != nil {
		h.writeGenerationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) costs(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	if window == "" {
		window = "day"
	}

	summary, err := h.client.CostSummary(r.Context(), window)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeGenerationError maps orchestrator failures onto HTTP statuses:
// unknown task 404, budget veto 402, exhausted chain or malformed upstream
// output 502, anything else (fatal provider errors included) 502 unless the
// provider rejected the request itself.
func (h *handler) writeGenerationError(w http.ResponseWriter, err error) {
	var unknownTask *errors.UnknownTaskError
	var budgetErr *errors.BudgetError
	var allFailed *errors.AllFailedError
	var malformed *errors.MalformedResponseError
	var provErr *errors.ProviderError

	switch {
	case stderrors.As(err, &unknownTask):
		h.writeError(w, http.StatusNotFound, "unknown_task", err.Error())
	case stderrors.As(err, &budgetErr):
		h.writeError(w, http.StatusPaymentRequired, "budget_exceeded", err.Error())
	case stderrors.As(err, &allFailed):
		h.writeError(w, http.StatusBadGateway, "all_providers_failed", err.Error())
	case stderrors.As(err, &malformed):
		h.writeError(w, http.StatusBadGateway, "malformed_response", err.Error())
	case stderrors.As(err, &provErr):
		status := http.StatusBadGateway
		if provErr.StatusCode == http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		h.writeError(w, status, provErr.Type, provErr.Message)
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	h.writeJSON(w, status, errorResponse{Error: errorBody{Message: message, Type: errType}})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}
