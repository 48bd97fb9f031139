package handlers

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/trustflow/trustflow-api/internal/policy"
)

// PolicyHandler serves the spending policy endpoints.
type PolicyHandler struct {
	common *CommonServices
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(common *CommonServices) *PolicyHandler {
	return &PolicyHandler{common: common}
}

// SavePolicyRequest sets the limits for one agent. Caps are decimal strings
// in the smallest token unit; a zero cap disables that cap.
type SavePolicyRequest struct {
	AgentAddress string `json:"agentAddress"`
	MaxPerTxWei  string `json:"maxPerTxWei"`
	DailyCapWei  string `json:"dailyCapWei"`
	WeeklyCapWei string `json:"weeklyCapWei"`
	Owner        string `json:"owner"`
}

// PolicyResponse is the stored policy echoed back as decimal strings.
type PolicyResponse struct {
	AgentAddress string `json:"agentAddress"`
	MaxPerTx     string `json:"maxPerTx"`
	DailyCap     string `json:"dailyCap"`
	WeeklyCap    string `json:"weeklyCap"`
}

// SavePolicy replaces the policy entry for an agent. Only the verified
// owner of the stored address book may write policies; an agent can never
// raise its own limits.
func (h *PolicyHandler) SavePolicy(c *gin.Context) {
	var req SavePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AgentAddress == "" || req.MaxPerTxWei == "" || req.DailyCapWei == "" || req.WeeklyCapWei == "" || req.Owner == "" {
		sendError(c, http.StatusBadRequest, "missing fields", nil)
		return
	}
	if !common.IsHexAddress(req.AgentAddress) {
		sendError(c, http.StatusBadRequest, "agentAddress is not a valid address", nil)
		return
	}

	maxPerTx, err := policy.ParseCap(req.MaxPerTxWei)
	if err != nil {
		sendError(c, http.StatusBadRequest, "maxPerTxWei must be a non-negative integer", err)
		return
	}
	dailyCap, err := policy.ParseCap(req.DailyCapWei)
	if err != nil {
		sendError(c, http.StatusBadRequest, "dailyCapWei must be a non-negative integer", err)
		return
	}
	weeklyCap, err := policy.ParseCap(req.WeeklyCapWei)
	if err != nil {
		sendError(c, http.StatusBadRequest, "weeklyCapWei must be a non-negative integer", err)
		return
	}

	p := policy.SpendingPolicy{
		AgentAddress: req.AgentAddress,
		MaxPerTx:     maxPerTx,
		DailyCap:     dailyCap,
		WeeklyCap:    weeklyCap,
	}
	if err := h.common.policies.Save(c.Request.Context(), p, req.Owner); err != nil {
		switch {
		case errors.Is(err, policy.ErrAddressBookUnavailable):
			sendError(c, http.StatusBadRequest, "address book missing or unsigned", err)
		case errors.Is(err, policy.ErrUnauthorized):
			sendError(c, http.StatusForbidden, "owner must match signed address book owner", err)
		default:
			sendError(c, http.StatusInternalServerError, "failed to save policy", err)
		}
		return
	}

	sendSuccess(c, http.StatusOK, gin.H{
		"status": "saved",
		"agent":  req.AgentAddress,
		"policy": PolicyResponse{
			AgentAddress: req.AgentAddress,
			MaxPerTx:     maxPerTx.String(),
			DailyCap:     dailyCap.String(),
			WeeklyCap:    weeklyCap.String(),
		},
	})
}

// GetPolicy returns the stored policy for an agent.
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	agent := c.Param("agent_address")
	if !common.IsHexAddress(agent) {
		sendError(c, http.StatusBadRequest, "agent_address is not a valid address", nil)
		return
	}

	p, err := h.common.policies.Load(c.Request.Context(), agent)
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			sendError(c, http.StatusNotFound, "no active policy for agent", err)
			return
		}
		sendError(c, http.StatusInternalServerError, "failed to load policy", err)
		return
	}

	sendSuccess(c, http.StatusOK, PolicyResponse{
		AgentAddress: p.AgentAddress,
		MaxPerTx:     p.MaxPerTx.String(),
		DailyCap:     p.DailyCap.String(),
		WeeklyCap:    p.WeeklyCap.String(),
	})
}
