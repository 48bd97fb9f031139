package vault

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/trustflow/trustflow-api/internal/logger"
)

var (
	// ErrNotFound is returned when fewer nodes than the configured
	// threshold returned a share record for the name. A node outage and a
	// missing name are indistinguishable by design; neither carries a stale
	// value.
	ErrNotFound = errors.New("recipient not in encrypted address book")
	// ErrDecryptionFailed is returned when share recombination fails or
	// yields something that is not an address.
	ErrDecryptionFailed = errors.New("share reconstruction failed")
)

const defaultNodeTimeout = 5 * time.Second

// Config wires a resolver to its node cluster.
type Config struct {
	Nodes    []Node
	AgentID  string
	SchemaID string
	// MinResponses is the number of nodes that must return a record before
	// the first responder's share set is trusted. 1 reproduces the
	// first-responder behavior; len(Nodes) demands full quorum.
	MinResponses int
	// NodeTimeout bounds each node read. A timed-out node contributes no
	// share; it does not fail the request.
	NodeTimeout time.Duration
}

// Resolver is the threshold-secret-store backend of the recipient resolver.
type Resolver struct {
	nodes        []*NodeClient
	agentID      string
	schemaID     string
	minResponses int
	nodeTimeout  time.Duration
	logger       *zap.Logger
}

// NewResolver builds a resolver over the configured node cluster.
func NewResolver(cfg Config) *Resolver {
	clients := make([]*NodeClient, len(cfg.Nodes))
	for i, node := range cfg.Nodes {
		clients[i] = NewNodeClient(node)
	}

	minResponses := cfg.MinResponses
	if minResponses < 1 {
		minResponses = 1
	}
	nodeTimeout := cfg.NodeTimeout
	if nodeTimeout <= 0 {
		nodeTimeout = defaultNodeTimeout
	}

	return &Resolver{
		nodes:        clients,
		agentID:      cfg.AgentID,
		schemaID:     cfg.SchemaID,
		minResponses: minResponses,
		nodeTimeout:  nodeTimeout,
		logger:       logger.Log,
	}
}

// Resolve queries every node concurrently, joins all responses, and
// reconstructs the plaintext address from the first non-empty share set in
// configuration order once the response threshold is met.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.ToLower(name)

	// Join, not race: every node is awaited so a response threshold can be
	// judged, but each read is individually time-bounded.
	results := make([]string, len(r.nodes))
	var wg sync.WaitGroup
	for i, node := range r.nodes {
		wg.Add(1)
		go func(i int, node *NodeClient) {
			defer wg.Done()

			nodeCtx, cancel := context.WithTimeout(ctx, r.nodeTimeout)
			defer cancel()

			share, err := node.ReadShare(nodeCtx, r.schemaID, r.agentID, name)
			if err != nil {
				r.logger.Warn("vault node read failed",
					zap.String("node", node.node.Name),
					zap.String("name", name),
					zap.Error(err),
				)
				return
			}
			results[i] = share
		}(i, node)
	}
	wg.Wait()

	responded := 0
	first := ""
	for _, share := range results {
		if share == "" {
			continue
		}
		responded++
		if first == "" {
			first = share
		}
	}

	if responded == 0 || responded < r.minResponses {
		return "", ErrNotFound
	}

	address, err := CombineShares(first)
	if err != nil {
		r.logger.Error("share reconstruction failed",
			zap.String("name", name),
			zap.Error(err),
		)
		return "", ErrDecryptionFailed
	}
	return address, nil
}

// ResolveApprovedRecipient adapts Resolve to the engine's recipient
// resolver interface.
func (r *Resolver) ResolveApprovedRecipient(ctx context.Context, name string) (common.Address, error) {
	address, err := r.Resolve(ctx, name)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, ErrDecryptionFailed
	}
	return common.HexToAddress(address), nil
}
