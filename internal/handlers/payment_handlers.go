package handlers

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/trustflow/trustflow-api/internal/engine"
)

// PaymentHandler serves payment authorization and spend-state endpoints.
type PaymentHandler struct {
	common *CommonServices
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(common *CommonServices) *PaymentHandler {
	return &PaymentHandler{common: common}
}

// AuthorizePaymentRequest is an agent's payment proposal. Amount is a
// decimal string in the smallest token unit.
type AuthorizePaymentRequest struct {
	RecipientName string `json:"recipientName"`
	Amount        string `json:"amount"`
	AgentAddress  string `json:"agentAddress"`
}

// SimulatedCall describes the call a wallet provider would broadcast.
type SimulatedCall struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

// AuthorizePaymentResponse is the authorized outcome. Nothing is
// broadcast; CallData is the deterministic ABI encoding the caller may
// submit on-chain.
type AuthorizePaymentResponse struct {
	ExecutionMode string        `json:"executionMode"`
	To            string        `json:"to"`
	CallData      string        `json:"calldata"`
	Call          SimulatedCall `json:"call"`
	Note          string        `json:"note"`
	DecisionID    string        `json:"decisionId"`
}

// denialStatus maps a denial reason to its HTTP status. Malformed input is
// the caller's fault, trust-boundary refusals are 403, a tampered book is a
// stored-state conflict, and a failed share reconstruction is an upstream
// failure.
func denialStatus(reason engine.Reason) int {
	switch reason {
	case engine.ReasonMalformedRequest:
		return http.StatusBadRequest
	case engine.ReasonRecipientNotApproved,
		engine.ReasonNoActivePolicy,
		engine.ReasonPerTxLimitExceeded,
		engine.ReasonDailyCapExceeded,
		engine.ReasonWeeklyCapExceeded:
		return http.StatusForbidden
	case engine.ReasonAddressBookMissing:
		return http.StatusBadRequest
	case engine.ReasonAddressBookInvalid:
		return http.StatusConflict
	case engine.ReasonDecryptionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AuthorizePayment runs a proposal through the authorization engine. Every
// denial is terminal for that request; the caller remediates and resubmits.
func (h *PaymentHandler) AuthorizePayment(c *gin.Context) {
	var req AuthorizePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.common.engine.Authorize(c.Request.Context(), engine.Request{
		RecipientName: req.RecipientName,
		Amount:        req.Amount,
		AgentAddress:  req.AgentAddress,
	})
	if err != nil {
		sendError(c, http.StatusInternalServerError, "authorization failed", err)
		return
	}

	if result.Outcome == engine.OutcomeDenied {
		sendError(c, denialStatus(result.Reason), result.Message, nil)
		return
	}

	sendSuccess(c, http.StatusOK, AuthorizePaymentResponse{
		ExecutionMode: "simulated",
		To:            result.Target.Hex(),
		CallData:      hexutil.Encode(result.CallData),
		Call: SimulatedCall{
			Function: "executePayment",
			Args:     []string{result.Recipient.Hex(), result.Amount.String()},
		},
		Note:       "This is a simulation. No transaction was broadcast.",
		DecisionID: result.DecisionID.String(),
	})
}

// GetSpendState reads the policy executor's on-chain accounting for an
// agent. Available only when an RPC endpoint was configured at startup.
func (h *PaymentHandler) GetSpendState(c *gin.Context) {
	if h.common.spendState == nil {
		sendError(c, http.StatusServiceUnavailable, "on-chain spend state reader not configured", nil)
		return
	}

	agent := c.Param("agent_address")
	if !common.IsHexAddress(agent) {
		sendError(c, http.StatusBadRequest, "agent_address is not a valid address", nil)
		return
	}

	state, err := h.common.spendState.Read(c.Request.Context(), common.HexToAddress(agent))
	if err != nil {
		sendError(c, http.StatusBadGateway, "failed to read on-chain spend state", err)
		return
	}

	sendSuccess(c, http.StatusOK, state)
}
