// Package policy persists per-agent spending limits. Limits are
// arbitrary-precision integers in the smallest token unit; floating point
// never touches a cap.
package policy

import (
	"context"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/trustflow/trustflow-api/internal/book"
	"github.com/trustflow/trustflow-api/internal/logger"
	"github.com/trustflow/trustflow-api/internal/storage"
)

const documentName = "policies"

var (
	// ErrNotFound is returned when no policy exists for an agent.
	ErrNotFound = errors.New("no policy for agent")
	// ErrUnauthorized is returned when the caller is not the verified owner
	// of the stored address book.
	ErrUnauthorized = errors.New("owner must match signed address book owner")
	// ErrAddressBookUnavailable is returned when no signed address book is
	// stored, so there is no owner to authorize against.
	ErrAddressBookUnavailable = errors.New("address book missing or unsigned")
	// ErrInvalidCap is returned when a cap is not a non-negative decimal
	// integer.
	ErrInvalidCap = errors.New("cap must be a non-negative integer in smallest unit")
)

// SpendingPolicy is the per-agent limit set. A zero daily or weekly cap
// means that cap is not enforced.
type SpendingPolicy struct {
	AgentAddress string   `json:"agentAddress"`
	MaxPerTx     *big.Int `json:"-"`
	DailyCap     *big.Int `json:"-"`
	WeeklyCap    *big.Int `json:"-"`
}

// document is the persisted shape: agent address -> decimal-string caps.
type document struct {
	Agents map[string]entry `json:"agents"`
}

type entry struct {
	MaxPerTx  string `json:"maxPerTx"`
	DailyCap  string `json:"dailyCap"`
	WeeklyCap string `json:"weeklyCap"`
}

// BookLoader is the slice of the address book store the policy store needs:
// the currently stored, already-verified container.
type BookLoader interface {
	Load(ctx context.Context) (*book.Container, error)
}

// Store persists the agent->policy map as a single replace-on-write
// document. Writes are owner-gated against the signed address book.
type Store struct {
	docs   storage.DocumentStore
	books  BookLoader
	logger *zap.Logger
}

// NewStore creates a policy store bound to the given address book.
func NewStore(docs storage.DocumentStore, books BookLoader) *Store {
	return &Store{
		docs:   docs,
		books:  books,
		logger: logger.Log,
	}
}

// ParseCap parses a decimal-string cap into a non-negative big integer.
func ParseCap(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, ErrInvalidCap
	}
	return v, nil
}

// Save replaces the policy entry for an agent. The caller must be the owner
// of the currently stored address book; an agent can never self-assign a
// policy.
func (s *Store) Save(ctx context.Context, p SpendingPolicy, owner string) error {
	container, err := s.books.Load(ctx)
	if err != nil {
		if errors.Is(err, book.ErrNotFound) {
			return ErrAddressBookUnavailable
		}
		return errors.Wrap(err, "loading address book")
	}
	if !strings.EqualFold(owner, container.Owner) {
		s.logger.Warn("policy save rejected",
			zap.String("caller", owner),
			zap.String("book_owner", container.Owner),
		)
		return ErrUnauthorized
	}

	var doc document
	if err := s.docs.Load(ctx, documentName, &doc); err != nil && !errors.Is(err, storage.ErrNotExist) {
		return errors.Wrap(err, "loading policies")
	}
	if doc.Agents == nil {
		doc.Agents = make(map[string]entry)
	}

	doc.Agents[strings.ToLower(p.AgentAddress)] = entry{
		MaxPerTx:  p.MaxPerTx.String(),
		DailyCap:  p.DailyCap.String(),
		WeeklyCap: p.WeeklyCap.String(),
	}

	if err := s.docs.Save(ctx, documentName, doc); err != nil {
		return errors.Wrap(err, "persisting policies")
	}

	s.logger.Info("spending policy replaced",
		zap.String("agent", p.AgentAddress),
		zap.String("max_per_tx", p.MaxPerTx.String()),
	)
	return nil
}

// Load returns the policy for an agent or ErrNotFound.
func (s *Store) Load(ctx context.Context, agentAddress string) (SpendingPolicy, error) {
	var doc document
	if err := s.docs.Load(ctx, documentName, &doc); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return SpendingPolicy{}, ErrNotFound
		}
		return SpendingPolicy{}, errors.Wrap(err, "loading policies")
	}

	e, ok := doc.Agents[strings.ToLower(agentAddress)]
	if !ok {
		return SpendingPolicy{}, ErrNotFound
	}

	maxPerTx, err := ParseCap(e.MaxPerTx)
	if err != nil {
		return SpendingPolicy{}, errors.Wrapf(err, "stored maxPerTx for %s", agentAddress)
	}
	dailyCap, err := ParseCap(e.DailyCap)
	if err != nil {
		return SpendingPolicy{}, errors.Wrapf(err, "stored dailyCap for %s", agentAddress)
	}
	weeklyCap, err := ParseCap(e.WeeklyCap)
	if err != nil {
		return SpendingPolicy{}, errors.Wrapf(err, "stored weeklyCap for %s", agentAddress)
	}

	return SpendingPolicy{
		AgentAddress: agentAddress,
		MaxPerTx:     maxPerTx,
		DailyCap:     dailyCap,
		WeeklyCap:    weeklyCap,
	}, nil
}
