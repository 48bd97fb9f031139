package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trustflow/trustflow-api/internal/book"
	"github.com/trustflow/trustflow-api/internal/chain"
	"github.com/trustflow/trustflow-api/internal/client/intent"
	"github.com/trustflow/trustflow-api/internal/engine"
	"github.com/trustflow/trustflow-api/internal/logger"
	"github.com/trustflow/trustflow-api/internal/policy"
)

// CommonServices holds common dependencies used across handlers
type CommonServices struct {
	books      *book.Store
	policies   *policy.Store
	engine     *engine.Engine
	intent     *intent.Client
	spendState *chain.SpendStateReader // nil when no RPC endpoint is configured
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// NewCommonServices creates a new instance of CommonServices
func NewCommonServices(books *book.Store, policies *policy.Store, eng *engine.Engine, intentClient *intent.Client, spendState *chain.SpendStateReader) *CommonServices {
	return &CommonServices{
		books:      books,
		policies:   policies,
		engine:     eng,
		intent:     intentClient,
		spendState: spendState,
	}
}

// sendError is a helper function that combines logging and error response.
// It logs the error with the given message and sends a JSON error response;
// internal detail stays in the log, never in the body.
func sendError(c *gin.Context, statusCode int, message string, err error) {
	logger.Error(message,
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)
	c.JSON(statusCode, ErrorResponse{Error: message})
}

// sendSuccess is a helper function that sends a success response
func sendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}
