package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustflow/trustflow-api/internal/logger"
)

func init() {
	logger.InitLogger()
}

const (
	testSchema  = "addressbook-schema"
	testAgent   = "agent-1"
	plainAddr   = "0xB7BdA0b6a477db6c370B6e83311Efe1092Ba6a08"
	anotherAddr = "0x0000000000000000000000000000000000000001"
)

// fakeNode returns an httptest server answering the data/read endpoint with
// the given share payload (empty = no record) for a specific name.
func fakeNode(t *testing.T, wantName, share string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/data/read", r.URL.Path)
		assert.Equal(t, "Bearer test-jwt", r.Header.Get("Authorization"))

		var req readRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testSchema, req.Schema)
		assert.Equal(t, testAgent, req.Filter.Agent)

		var body readResponse
		if share != "" && req.Filter.Name == wantName {
			body.Data = []shareRecord{{Address: share}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
}

func newResolver(t *testing.T, minResponses int, urls ...string) *Resolver {
	t.Helper()
	nodes := make([]Node, len(urls))
	for i, u := range urls {
		nodes[i] = Node{Name: "node", URL: u, JWT: "test-jwt"}
	}
	return NewResolver(Config{
		Nodes:        nodes,
		AgentID:      testAgent,
		SchemaID:     testSchema,
		MinResponses: minResponses,
		NodeTimeout:  2 * time.Second,
	})
}

func TestSplitCombineRoundTrip(t *testing.T) {
	joined, err := SplitSecret(plainAddr, 3, 2)
	require.NoError(t, err)

	got, err := CombineShares(joined)
	require.NoError(t, err)
	assert.Equal(t, plainAddr, got)
}

func TestCombineShares_Malformed(t *testing.T) {
	tests := []string{"garbage", "x:00", "1:zz", "300:00"}
	for _, in := range tests {
		_, err := CombineShares(in)
		assert.Error(t, err, in)
	}
}

func TestResolver_Resolve(t *testing.T) {
	joined, err := SplitSecret(plainAddr, 3, 2)
	require.NoError(t, err)

	a := fakeNode(t, "designer", joined)
	defer a.Close()
	b := fakeNode(t, "designer", joined)
	defer b.Close()
	c := fakeNode(t, "designer", joined)
	defer c.Close()

	r := newResolver(t, 1, a.URL, b.URL, c.URL)

	// Lookup names are lowercased before they reach the nodes.
	got, err := r.Resolve(context.Background(), "Designer")
	require.NoError(t, err)
	assert.Equal(t, plainAddr, got)

	addr, err := r.ResolveApprovedRecipient(context.Background(), "designer")
	require.NoError(t, err)
	assert.Equal(t, plainAddr, addr.Hex())
}

func TestResolver_UnknownName(t *testing.T) {
	a := fakeNode(t, "designer", "")
	defer a.Close()

	r := newResolver(t, 1, a.URL)
	_, err := r.Resolve(context.Background(), "stranger")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_QuorumUnmet(t *testing.T) {
	joined, err := SplitSecret(plainAddr, 3, 2)
	require.NoError(t, err)

	// Only one of three nodes has the record, but two responses are
	// required.
	a := fakeNode(t, "designer", joined)
	defer a.Close()
	b := fakeNode(t, "designer", "")
	defer b.Close()
	c := fakeNode(t, "designer", "")
	defer c.Close()

	r := newResolver(t, 2, a.URL, b.URL, c.URL)
	_, err = r.Resolve(context.Background(), "designer")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_UnreachableNodeIsMissingShare(t *testing.T) {
	joined, err := SplitSecret(plainAddr, 2, 2)
	require.NoError(t, err)

	a := fakeNode(t, "designer", joined)
	defer a.Close()

	// The second node's address refuses connections; its absence must not
	// fail the request when the threshold is still met.
	r := newResolver(t, 1, a.URL, "http://127.0.0.1:1")
	got, err := r.Resolve(context.Background(), "designer")
	require.NoError(t, err)
	assert.Equal(t, plainAddr, got)
}

func TestResolver_DecryptionFailure(t *testing.T) {
	a := fakeNode(t, "designer", "1:deadbeef,2:")
	defer a.Close()

	r := newResolver(t, 1, a.URL)
	_, err := r.Resolve(context.Background(), "designer")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestResolver_NotAnAddressAfterDecrypt(t *testing.T) {
	joined, err := SplitSecret("not an address", 2, 2)
	require.NoError(t, err)

	a := fakeNode(t, "designer", joined)
	defer a.Close()

	r := newResolver(t, 1, a.URL)
	_, err = r.ResolveApprovedRecipient(context.Background(), "designer")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestResolver_FirstNodeInConfigOrderWins(t *testing.T) {
	goodShares, err := SplitSecret(plainAddr, 2, 2)
	require.NoError(t, err)
	otherShares, err := SplitSecret(anotherAddr, 2, 2)
	require.NoError(t, err)

	a := fakeNode(t, "designer", goodShares)
	defer a.Close()
	b := fakeNode(t, "designer", otherShares)
	defer b.Close()

	r := newResolver(t, 1, a.URL, b.URL)
	got, err := r.Resolve(context.Background(), "designer")
	require.NoError(t, err)
	assert.Equal(t, plainAddr, got)
}
