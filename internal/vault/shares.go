package vault

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/corvus-ch/shamir"
	"github.com/pkg/errors"
)

// Shares are stored as a comma-joined list of "index:hexdata" parts, the
// wire form a node record's address field carries.

// SplitSecret splits a plaintext value into n shares requiring threshold k
// to reconstruct, encoded in the stored wire form. Used by owner-side setup
// tooling and tests.
func SplitSecret(plaintext string, n, k int) (string, error) {
	parts, err := shamir.Split([]byte(plaintext), n, k)
	if err != nil {
		return "", errors.Wrap(err, "splitting secret")
	}

	encoded := make([]string, 0, len(parts))
	for idx, data := range parts {
		encoded = append(encoded, fmt.Sprintf("%d:%s", idx, hex.EncodeToString(data)))
	}
	return strings.Join(encoded, ","), nil
}

// CombineShares reconstructs the plaintext from the stored wire form.
func CombineShares(joined string) (string, error) {
	parts := make(map[byte][]byte)
	for _, piece := range strings.Split(joined, ",") {
		sep := strings.IndexByte(piece, ':')
		if sep < 0 {
			return "", errors.Errorf("malformed share %q", piece)
		}

		idx, err := strconv.ParseUint(piece[:sep], 10, 8)
		if err != nil {
			return "", errors.Wrapf(err, "share index %q", piece[:sep])
		}
		data, err := hex.DecodeString(piece[sep+1:])
		if err != nil {
			return "", errors.Wrapf(err, "share data for index %d", idx)
		}
		parts[byte(idx)] = data
	}

	plaintext, err := shamir.Combine(parts)
	if err != nil {
		return "", errors.Wrap(err, "combining shares")
	}
	return string(plaintext), nil
}
