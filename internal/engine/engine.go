// Package engine authorizes agent payment requests against the approved
// recipient set and the owner's spending policy, and builds the on-chain
// call that a wallet provider would broadcast. The engine itself holds no
// persistent state and never broadcasts anything.
package engine

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/trustflow/trustflow-api/internal/book"
	"github.com/trustflow/trustflow-api/internal/ledger"
	"github.com/trustflow/trustflow-api/internal/logger"
	"github.com/trustflow/trustflow-api/internal/policy"
	"github.com/trustflow/trustflow-api/internal/vault"
)

// RecipientResolver is the single approved-counterparty lookup the engine
// depends on. The signed-book store and the threshold-secret-store resolver
// are interchangeable backends.
type RecipientResolver interface {
	ResolveApprovedRecipient(ctx context.Context, name string) (common.Address, error)
}

// PolicyLoader loads the spending policy for an agent.
type PolicyLoader interface {
	Load(ctx context.Context, agentAddress string) (policy.SpendingPolicy, error)
}

// SpendLedger tracks running authorized totals for daily/weekly caps.
// TryRecord must perform the cap comparison and the recording as one atomic
// operation; it returns ledger.ErrDailyCapExceeded or
// ledger.ErrWeeklyCapExceeded without recording when a cap would be broken.
type SpendLedger interface {
	TryRecord(agent string, amount, dailyCap, weeklyCap *big.Int, at time.Time) error
}

// Request is an ephemeral payment proposal. Amount is a decimal string in
// the smallest token unit.
type Request struct {
	RecipientName string `json:"recipientName"`
	Amount        string `json:"amount"`
	AgentAddress  string `json:"agentAddress"`
}

// Outcome is the terminal result of an authorization run.
type Outcome string

const (
	OutcomeAuthorized Outcome = "authorized"
	OutcomeDenied     Outcome = "denied"
)

// Reason identifies why a request was denied. Every denial is final for
// that request; the caller remediates and resubmits.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonMalformedRequest     Reason = "malformed_request"
	ReasonRecipientNotApproved Reason = "recipient_not_approved"
	ReasonAddressBookMissing   Reason = "address_book_unavailable"
	ReasonAddressBookInvalid   Reason = "address_book_invalid"
	ReasonNoActivePolicy       Reason = "no_active_policy"
	ReasonPerTxLimitExceeded   Reason = "per_transaction_limit_exceeded"
	ReasonDailyCapExceeded     Reason = "daily_cap_exceeded"
	ReasonWeeklyCapExceeded    Reason = "weekly_cap_exceeded"
	ReasonDecryptionFailed     Reason = "decryption_failed"
)

// state names the position of a request in the authorization state machine.
type state string

const (
	stateReceived           state = "received"
	stateRecipientResolving state = "recipient_resolving"
	statePolicyLoading      state = "policy_loading"
	stateLimitChecking      state = "limit_checking"
	stateAuthorized         state = "authorized"
	stateDenied             state = "denied"
)

// Result is the terminal output of one authorization run. Target and
// CallData are populated only when Outcome is OutcomeAuthorized.
type Result struct {
	DecisionID uuid.UUID
	Outcome    Outcome
	Reason     Reason
	Message    string
	Recipient  common.Address
	Amount     *big.Int
	Target     common.Address
	CallData   []byte
}

// Engine is a pure function of (request, current book, current policy); it
// owns no record of its own.
type Engine struct {
	resolver RecipientResolver
	policies PolicyLoader
	ledger   SpendLedger
	executor common.Address
	now      func() time.Time
	logger   *zap.Logger
}

// New builds an authorization engine targeting the given policy executor
// contract.
func New(resolver RecipientResolver, policies PolicyLoader, ledger SpendLedger, executor common.Address) *Engine {
	return &Engine{
		resolver: resolver,
		policies: policies,
		ledger:   ledger,
		executor: executor,
		now:      time.Now,
		logger:   logger.Log,
	}
}

func (e *Engine) deny(id uuid.UUID, reason Reason, message string) Result {
	e.logger.Info("payment denied",
		zap.String("decision_id", id.String()),
		zap.String("state", string(stateDenied)),
		zap.String("reason", string(reason)),
	)
	return Result{
		DecisionID: id,
		Outcome:    OutcomeDenied,
		Reason:     reason,
		Message:    message,
	}
}

// Authorize runs a request through the state machine. A returned error
// means the engine could not reach a decision (backing store failure); all
// trust-boundary refusals come back as denied Results.
func (e *Engine) Authorize(ctx context.Context, req Request) (Result, error) {
	id := uuid.New()
	log := e.logger.With(zap.String("decision_id", id.String()))
	log.Debug("authorization state", zap.String("state", string(stateReceived)))

	// Step 1: request shape. A malformed request is a one-step terminal
	// denial.
	amount, err := parseAmount(req.Amount)
	switch {
	case req.RecipientName == "":
		return e.deny(id, ReasonMalformedRequest, "recipientName is required"), nil
	case req.AgentAddress == "":
		return e.deny(id, ReasonMalformedRequest, "agentAddress is required"), nil
	case !common.IsHexAddress(req.AgentAddress):
		return e.deny(id, ReasonMalformedRequest, "agentAddress is not a valid address"), nil
	case err != nil:
		return e.deny(id, ReasonMalformedRequest, "amount must be a non-negative integer in smallest unit"), nil
	}

	// Step 2/3: resolve the recipient through the approved-counterparty
	// backend; the signed-book backend re-verifies its container here.
	log.Debug("authorization state", zap.String("state", string(stateRecipientResolving)))
	recipient, err := e.resolver.ResolveApprovedRecipient(ctx, req.RecipientName)
	if err != nil {
		switch {
		case errors.Is(err, book.ErrEntryNotFound) || errors.Is(err, vault.ErrNotFound):
			return e.deny(id, ReasonRecipientNotApproved,
				"recipient not authorized; add them to the address book"), nil
		case errors.Is(err, book.ErrNotFound):
			return e.deny(id, ReasonAddressBookMissing,
				"address book not available or not signed"), nil
		case errors.Is(err, book.ErrInvalid):
			return e.deny(id, ReasonAddressBookInvalid,
				"stored address book failed verification; the owner must re-sign it"), nil
		case errors.Is(err, vault.ErrDecryptionFailed):
			return e.deny(id, ReasonDecryptionFailed,
				"could not reconstruct the recipient address from storage nodes"), nil
		}
		return Result{}, errors.Wrap(err, "resolving recipient")
	}

	// Step 4: policy.
	log.Debug("authorization state", zap.String("state", string(statePolicyLoading)))
	pol, err := e.policies.Load(ctx, req.AgentAddress)
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			return e.deny(id, ReasonNoActivePolicy,
				"no active policy for agent; the owner must configure spending limits"), nil
		}
		return Result{}, errors.Wrap(err, "loading policy")
	}

	// Step 5: limits. The per-transaction cap is absolute; daily and weekly
	// caps ride on the ledger, which compares and records under one lock so
	// concurrent requests cannot both squeeze under the same cap. A zero cap
	// is not enforced.
	log.Debug("authorization state", zap.String("state", string(stateLimitChecking)))
	now := e.now()
	agent := strings.ToLower(req.AgentAddress)

	if amount.Cmp(pol.MaxPerTx) > 0 {
		return e.deny(id, ReasonPerTxLimitExceeded,
			"amount exceeds per-transaction limit; lower the amount or raise the policy cap"), nil
	}

	// Step 6: build the call. Encoding is deterministic; broadcasting is
	// someone else's job. Encoding happens before the ledger write so a
	// failed encode never consumes cap headroom.
	callData, err := EncodeExecutePayment(recipient, amount)
	if err != nil {
		return Result{}, err
	}

	if err := e.ledger.TryRecord(agent, amount, pol.DailyCap, pol.WeeklyCap, now); err != nil {
		switch {
		case errors.Is(err, ledger.ErrDailyCapExceeded):
			return e.deny(id, ReasonDailyCapExceeded,
				"amount would exceed the daily cap; retry after the UTC day rolls over"), nil
		case errors.Is(err, ledger.ErrWeeklyCapExceeded):
			return e.deny(id, ReasonWeeklyCapExceeded,
				"amount would exceed the weekly cap; retry after the ISO week rolls over"), nil
		}
		return Result{}, errors.Wrap(err, "recording spend")
	}

	log.Info("payment authorized",
		zap.String("state", string(stateAuthorized)),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()),
		zap.String("agent", req.AgentAddress),
	)
	return Result{
		DecisionID: id,
		Outcome:    OutcomeAuthorized,
		Recipient:  recipient,
		Amount:     amount,
		Target:     e.executor,
		CallData:   callData,
	}, nil
}

// parseAmount parses a non-negative decimal integer amount in the smallest
// token unit.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("amount must be a non-negative integer")
	}
	return v, nil
}
