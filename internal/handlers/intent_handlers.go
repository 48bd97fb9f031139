package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/trustflow/trustflow-api/internal/client/intent"
)

// IntentHandler serves the natural-language intent endpoint. Its output is
// a payment proposal only; authorization happens exclusively in the
// payment endpoint.
type IntentHandler struct {
	common *CommonServices
}

// NewIntentHandler creates a new IntentHandler
func NewIntentHandler(common *CommonServices) *IntentHandler {
	return &IntentHandler{common: common}
}

// ParseIntentRequest carries the raw user instruction.
type ParseIntentRequest struct {
	NaturalLanguage string `json:"naturalLanguage"`
}

// ParseIntentResponse wraps the structured candidate.
type ParseIntentResponse struct {
	Intent intent.Parsed `json:"intent"`
}

// ParseIntent extracts a structured payment candidate from a natural
// language instruction.
func (h *IntentHandler) ParseIntent(c *gin.Context) {
	var req ParseIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.NaturalLanguage == "" {
		sendError(c, http.StatusBadRequest, "missing naturalLanguage", nil)
		return
	}

	parsed, err := h.common.intent.Parse(c.Request.Context(), req.NaturalLanguage)
	if err != nil {
		switch {
		case errors.Is(err, intent.ErrNotConfigured):
			sendError(c, http.StatusServiceUnavailable, "intent parser not configured", err)
		case errors.Is(err, intent.ErrNoStructuredIntent):
			sendError(c, http.StatusBadGateway, "model did not return a structured intent", err)
		default:
			sendError(c, http.StatusBadGateway, "intent parsing failed", err)
		}
		return
	}

	sendSuccess(c, http.StatusOK, ParseIntentResponse{Intent: parsed})
}
