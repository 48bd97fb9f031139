package book

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/trustflow/trustflow-api/internal/canonical"
	"github.com/trustflow/trustflow-api/internal/signature"
)

// Container is the unit of address book replacement: the owner-signed
// message exactly as signed, its signature, and the entries parsed out of
// it. Partial updates do not exist; the owner re-signs the whole book.
type Container struct {
	Owner         string            `json:"owner"`
	SignedMessage string            `json:"signedMessage"`
	Signature     hexutil.Bytes     `json:"signature"`
	Entries       map[string]string `json:"entries"`
	Timestamp     int64             `json:"timestamp"`
}

// ErrInvalid reports that the stored container no longer verifies against
// its owner: the file was tampered with or corrupted after write.
var ErrInvalid = errors.New("stored address book no longer verifies")

// Verify re-runs signature recovery over the raw signed message and
// compares the recovered signer to the container owner. It is called on
// every monetary use of the book, not just at save time.
func (c *Container) Verify() error {
	recovered, err := signature.Recover(c.SignedMessage, c.Signature)
	if err != nil {
		return ErrInvalid
	}
	if !signature.Matches(recovered, c.Owner) {
		return ErrInvalid
	}
	return nil
}

// SigningPayload renders the canonical string an owner signs to publish a
// set of entries. Canonical serialization keeps the signature reproducible
// no matter what order the entries were assembled in.
func SigningPayload(entries map[string]string, timestamp int64) (string, error) {
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}
	return canonical.Marshal(map[string]interface{}{
		"entries":   entries,
		"timestamp": timestamp,
	})
}
