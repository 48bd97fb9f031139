// Package book persists the owner-signed address book and resolves
// approved recipient names against it.
package book

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/trustflow/trustflow-api/internal/logger"
	"github.com/trustflow/trustflow-api/internal/signature"
	"github.com/trustflow/trustflow-api/internal/storage"
)

const documentName = "addressbook"

var (
	// ErrNotFound is returned when no address book has been stored yet.
	ErrNotFound = errors.New("address book not found")
	// ErrEntryNotFound is returned when a name is not in the current book.
	ErrEntryNotFound = errors.New("recipient not in address book")
	// ErrSignatureMismatch is returned when the recovered signer is not the
	// claimed owner.
	ErrSignatureMismatch = errors.New("signature does not match owner")
	// ErrMalformedPayload is returned when a verified message does not
	// contain a usable entries mapping.
	ErrMalformedPayload = errors.New("signed message is not a valid address book payload")
)

// Store is the signed-flat-file address book. Verification gates every
// write; reads used for payment authorization re-verify via
// Container.Verify.
type Store struct {
	docs   storage.DocumentStore
	logger *zap.Logger
}

// NewStore creates an address book store over the given document store.
func NewStore(docs storage.DocumentStore) *Store {
	return &Store{
		docs:   docs,
		logger: logger.Log,
	}
}

// Save verifies the signature over the exact message bytes, and only then
// parses the message and replaces the stored container wholesale.
// Every failure return precedes the write, so a failed save never mutates
// existing state.
func (s *Store) Save(ctx context.Context, owner, message string, sig []byte) (*Container, error) {
	recovered, err := signature.Recover(message, sig)
	if err != nil {
		return nil, err
	}
	if !signature.Matches(recovered, owner) {
		s.logger.Warn("address book save rejected",
			zap.String("claimed_owner", owner),
			zap.String("recovered", recovered.Hex()),
		)
		return nil, ErrSignatureMismatch
	}

	// Parsing happens strictly after signature success; unsigned garbage
	// never reaches the parser.
	entries, timestamp, err := parsePayload(message)
	if err != nil {
		return nil, err
	}

	container := &Container{
		Owner:         owner,
		SignedMessage: message,
		Signature:     sig,
		Entries:       entries,
		Timestamp:     timestamp,
	}

	if err := s.docs.Save(ctx, documentName, container); err != nil {
		return nil, errors.Wrap(err, "persisting address book")
	}

	s.logger.Info("address book replaced",
		zap.String("owner", recovered.Hex()),
		zap.Int("entries", len(entries)),
	)
	return container, nil
}

// Load returns the current container or ErrNotFound.
func (s *Store) Load(ctx context.Context) (*Container, error) {
	var container Container
	if err := s.docs.Load(ctx, documentName, &container); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "loading address book")
	}
	return &container, nil
}

// Resolve looks up a case-normalized name in the current book. It does not
// re-verify the signature; callers gating a monetary action use
// ResolveApprovedRecipient instead.
func (s *Store) Resolve(ctx context.Context, name string) (string, error) {
	container, err := s.Load(ctx)
	if err != nil {
		return "", err
	}

	address, ok := container.Entries[strings.ToLower(name)]
	if !ok {
		return "", ErrEntryNotFound
	}
	return address, nil
}

// ResolveApprovedRecipient re-verifies the stored container before trusting
// its entries. This is the signed-book backend of the engine's recipient
// resolver.
func (s *Store) ResolveApprovedRecipient(ctx context.Context, name string) (common.Address, error) {
	container, err := s.Load(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if err := container.Verify(); err != nil {
		return common.Address{}, err
	}

	address, ok := container.Entries[strings.ToLower(name)]
	if !ok {
		return common.Address{}, ErrEntryNotFound
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, ErrMalformedPayload
	}
	return common.HexToAddress(address), nil
}

// parsePayload extracts the entries mapping from a verified message. The
// message is either an object with an "entries" member or itself the
// name->address mapping. Entry names are lowercased; addresses must be
// valid hex addresses so a later authorization can never emit garbage
// calldata.
func parsePayload(message string) (map[string]string, int64, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(message)))
	dec.UseNumber()

	var parsed map[string]interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, 0, ErrMalformedPayload
	}

	raw := parsed
	nested := false
	if inner, ok := parsed["entries"].(map[string]interface{}); ok {
		raw = inner
		nested = true
	}

	entries := make(map[string]string, len(raw))
	for name, v := range raw {
		if !nested && name == "timestamp" {
			continue
		}
		address, ok := v.(string)
		if !ok || !common.IsHexAddress(address) {
			return nil, 0, ErrMalformedPayload
		}
		entries[strings.ToLower(name)] = address
	}
	// An explicit empty "entries" member is a legitimate book: saving it
	// revokes every approved recipient. A bare mapping with nothing in it is
	// indistinguishable from arbitrary JSON and stays rejected.
	if !nested && len(entries) == 0 {
		return nil, 0, ErrMalformedPayload
	}

	timestamp := time.Now().UnixMilli()
	if ts, ok := parsed["timestamp"].(json.Number); ok {
		if n, err := ts.Int64(); err == nil {
			timestamp = n
		}
	}
	return entries, timestamp, nil
}
