package handlers

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/trustflow/trustflow-api/internal/book"
	"github.com/trustflow/trustflow-api/internal/client/intent"
	"github.com/trustflow/trustflow-api/internal/engine"
	"github.com/trustflow/trustflow-api/internal/ledger"
	"github.com/trustflow/trustflow-api/internal/logger"
	"github.com/trustflow/trustflow-api/internal/policy"
	"github.com/trustflow/trustflow-api/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.InitLogger()
}

const testExecutor = "0xB7BdA0b6a477db6c370B6e83311Efe1092Ba6a08"

// testEnv is a fully wired handler stack over in-memory storage.
type testEnv struct {
	router   *gin.Engine
	books    *book.Store
	policies *policy.Store
	ownerKey *ecdsa.PrivateKey
	owner    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	docs := storage.NewMemoryStore()
	books := book.NewStore(docs)
	policies := policy.NewStore(docs, books)
	eng := engine.New(books, policies, ledger.New(), common.HexToAddress(testExecutor))

	svc := NewCommonServices(books, policies, eng, intent.NewClient(""), nil)

	router := gin.New()
	abHandler := NewAddressBookHandler(svc)
	polHandler := NewPolicyHandler(svc)
	payHandler := NewPaymentHandler(svc)
	intHandler := NewIntentHandler(svc)

	v1 := router.Group("/api/v1/trustflow")
	v1.POST("/addressbook", abHandler.SaveAddressBook)
	v1.GET("/addressbook", abHandler.GetAddressBook)
	v1.POST("/addressbook/canonicalize", abHandler.Canonicalize)
	v1.POST("/policy", polHandler.SavePolicy)
	v1.GET("/policy/:agent_address", polHandler.GetPolicy)
	v1.POST("/payments/authorize", payHandler.AuthorizePayment)
	v1.GET("/agents/:agent_address/spend-state", payHandler.GetSpendState)
	v1.POST("/intent", intHandler.ParseIntent)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &testEnv{
		router:   router,
		books:    books,
		policies: policies,
		ownerKey: key,
		owner:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// sign produces a personal-message signature in the wallet wire form
// (V as 27/28).
func (e *testEnv) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), e.ownerKey)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

// saveBook signs and stores an address book for the env owner.
func (e *testEnv) saveBook(t *testing.T, message string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/trustflow/addressbook", gin.H{
		"owner":     e.owner,
		"message":   message,
		"signature": e.sign(t, message),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// savePolicy stores limits for an agent as the env owner.
func (e *testEnv) savePolicy(t *testing.T, agent, maxPerTx, dailyCap, weeklyCap string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/trustflow/policy", gin.H{
		"agentAddress": agent,
		"maxPerTxWei":  maxPerTx,
		"dailyCapWei":  dailyCap,
		"weeklyCapWei": weeklyCap,
		"owner":        e.owner,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
