package engine_test

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustflow/trustflow-api/internal/book"
	"github.com/trustflow/trustflow-api/internal/engine"
	"github.com/trustflow/trustflow-api/internal/ledger"
	"github.com/trustflow/trustflow-api/internal/logger"
	"github.com/trustflow/trustflow-api/internal/policy"
	"github.com/trustflow/trustflow-api/internal/storage"
)

func init() {
	logger.InitLogger()
}

const (
	executorAddr  = "0xB7BdA0b6a477db6c370B6e83311Efe1092Ba6a08"
	recipientAddr = "0x00000000000000000000000000000000000000EE"
	agentAddr     = "0x00000000000000000000000000000000000000AA"
)

type fixture struct {
	engine *engine.Engine
	books  *book.Store
	owner  string
}

// newFixture seeds a signed book with {designer: recipientAddr} and a
// policy for agentAddr, wiring the engine over the signed-book backend.
func newFixture(t *testing.T, maxPerTx, dailyCap, weeklyCap int64) fixture {
	t.Helper()

	docs := storage.NewMemoryStore()
	books := book.NewStore(docs)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey).Hex()

	message := `{"entries":{"designer":"` + recipientAddr + `"}}`
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	_, err = books.Save(ctx, owner, message, sig)
	require.NoError(t, err)

	policies := policy.NewStore(docs, books)
	require.NoError(t, policies.Save(ctx, policy.SpendingPolicy{
		AgentAddress: agentAddr,
		MaxPerTx:     big.NewInt(maxPerTx),
		DailyCap:     big.NewInt(dailyCap),
		WeeklyCap:    big.NewInt(weeklyCap),
	}, owner))

	eng := engine.New(books, policies, ledger.New(), common.HexToAddress(executorAddr))
	return fixture{engine: eng, books: books, owner: owner}
}

func authorize(t *testing.T, f fixture, name, amount string) engine.Result {
	t.Helper()
	result, err := f.engine.Authorize(context.Background(), engine.Request{
		RecipientName: name,
		Amount:        amount,
		AgentAddress:  agentAddr,
	})
	require.NoError(t, err)
	return result
}

func TestAuthorize_Success(t *testing.T) {
	f := newFixture(t, 1000, 0, 0)

	result := authorize(t, f, "designer", "400")
	require.Equal(t, engine.OutcomeAuthorized, result.Outcome)
	assert.Equal(t, executorAddr, result.Target.Hex())
	assert.NotEqual(t, [16]byte{}, [16]byte(result.DecisionID))

	// Decode the calldata back and check the arguments survived intact.
	callABI := engine.ExecutorABI()
	method, err := callABI.MethodById(result.CallData[:4])
	require.NoError(t, err)
	assert.Equal(t, "executePayment", method.Name)

	args, err := method.Inputs.Unpack(result.CallData[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(recipientAddr), args[0])
	assert.Equal(t, "400", args[1].(*big.Int).String())
}

func TestAuthorize_PerTransactionCapBoundary(t *testing.T) {
	f := newFixture(t, 1000, 0, 0)

	// Exactly at the cap is allowed.
	atCap := authorize(t, f, "designer", "1000")
	assert.Equal(t, engine.OutcomeAuthorized, atCap.Outcome)

	over := authorize(t, f, "designer", "1001")
	assert.Equal(t, engine.OutcomeDenied, over.Outcome)
	assert.Equal(t, engine.ReasonPerTxLimitExceeded, over.Reason)
	assert.Empty(t, over.CallData)
}

func TestAuthorize_WeiScenario(t *testing.T) {
	docs := storage.NewMemoryStore()
	books := book.NewStore(docs)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey).Hex()

	message := `{"entries":{"designer":"` + executorAddr + `"}}`
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	_, err = books.Save(ctx, owner, message, sig)
	require.NoError(t, err)

	policies := policy.NewStore(docs, books)
	maxPerTx, _ := new(big.Int).SetString("500000000000000000", 10)
	require.NoError(t, policies.Save(ctx, policy.SpendingPolicy{
		AgentAddress: agentAddr,
		MaxPerTx:     maxPerTx,
		DailyCap:     big.NewInt(0),
		WeeklyCap:    big.NewInt(0),
	}, owner))

	eng := engine.New(books, policies, ledger.New(), common.HexToAddress(executorAddr))

	ok, err := eng.Authorize(ctx, engine.Request{
		RecipientName: "designer",
		Amount:        "400000000000000000",
		AgentAddress:  agentAddr,
	})
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeAuthorized, ok.Outcome)

	callABI := engine.ExecutorABI()
	method, err := callABI.MethodById(ok.CallData[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(ok.CallData[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(executorAddr), args[0])
	assert.Equal(t, "400000000000000000", args[1].(*big.Int).String())

	denied, err := eng.Authorize(ctx, engine.Request{
		RecipientName: "designer",
		Amount:        "600000000000000000",
		AgentAddress:  agentAddr,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.ReasonPerTxLimitExceeded, denied.Reason)
}

func TestAuthorize_MalformedRequest(t *testing.T) {
	f := newFixture(t, 1000, 0, 0)
	ctx := context.Background()

	tests := []struct {
		name string
		req  engine.Request
	}{
		{"missing recipient", engine.Request{Amount: "1", AgentAddress: agentAddr}},
		{"missing agent", engine.Request{RecipientName: "designer", Amount: "1"}},
		{"agent not an address", engine.Request{RecipientName: "designer", Amount: "1", AgentAddress: "bob"}},
		{"missing amount", engine.Request{RecipientName: "designer", AgentAddress: agentAddr}},
		{"negative amount", engine.Request{RecipientName: "designer", Amount: "-5", AgentAddress: agentAddr}},
		{"fractional amount", engine.Request{RecipientName: "designer", Amount: "1.5", AgentAddress: agentAddr}},
		{"non-numeric amount", engine.Request{RecipientName: "designer", Amount: "lots", AgentAddress: agentAddr}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.engine.Authorize(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, engine.ReasonMalformedRequest, result.Reason)
		})
	}
}

func TestAuthorize_UnknownRecipient(t *testing.T) {
	f := newFixture(t, 1000, 0, 0)

	result := authorize(t, f, "stranger", "100")
	assert.Equal(t, engine.ReasonRecipientNotApproved, result.Reason)
	assert.Empty(t, result.CallData)
	assert.Equal(t, common.Address{}, result.Recipient)
}

func TestAuthorize_NoPolicy(t *testing.T) {
	f := newFixture(t, 1000, 0, 0)

	result, err := f.engine.Authorize(context.Background(), engine.Request{
		RecipientName: "designer",
		Amount:        "100",
		AgentAddress:  "0x00000000000000000000000000000000000000BB",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.ReasonNoActivePolicy, result.Reason)
}

func TestAuthorize_TamperedBook(t *testing.T) {
	docs := storage.NewMemoryStore()
	books := book.NewStore(docs)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey).Hex()

	message := `{"entries":{"designer":"` + recipientAddr + `"}}`
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	_, err = books.Save(ctx, owner, message, sig)
	require.NoError(t, err)

	policies := policy.NewStore(docs, books)
	require.NoError(t, policies.Save(ctx, policy.SpendingPolicy{
		AgentAddress: agentAddr,
		MaxPerTx:     big.NewInt(1000),
		DailyCap:     big.NewInt(0),
		WeeklyCap:    big.NewInt(0),
	}, owner))

	// Corrupt the stored signedMessage after the fact.
	container, err := books.Load(ctx)
	require.NoError(t, err)
	container.SignedMessage = container.SignedMessage + " "
	require.NoError(t, docs.Save(ctx, "addressbook", container))

	eng := engine.New(books, policies, ledger.New(), common.HexToAddress(executorAddr))
	result, err := eng.Authorize(ctx, engine.Request{
		RecipientName: "designer",
		Amount:        "100",
		AgentAddress:  agentAddr,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.ReasonAddressBookInvalid, result.Reason)
}

func TestAuthorize_DailyCap(t *testing.T) {
	f := newFixture(t, 1000, 1500, 0)

	assert.Equal(t, engine.OutcomeAuthorized, authorize(t, f, "designer", "800").Outcome)
	assert.Equal(t, engine.OutcomeAuthorized, authorize(t, f, "designer", "700").Outcome)

	// 800 + 700 spent today; one more unit breaks the cap.
	result := authorize(t, f, "designer", "1")
	assert.Equal(t, engine.ReasonDailyCapExceeded, result.Reason)
}

func TestAuthorize_WeeklyCap(t *testing.T) {
	f := newFixture(t, 1000, 0, 1000)

	assert.Equal(t, engine.OutcomeAuthorized, authorize(t, f, "designer", "600").Outcome)

	result := authorize(t, f, "designer", "500")
	assert.Equal(t, engine.ReasonWeeklyCapExceeded, result.Reason)
}

func TestAuthorize_DeniedRequestsDoNotAccumulate(t *testing.T) {
	f := newFixture(t, 1000, 1000, 0)

	// Denied by the per-transaction cap; must not count against the day.
	assert.Equal(t, engine.OutcomeDenied, authorize(t, f, "designer", "1001").Outcome)

	assert.Equal(t, engine.OutcomeAuthorized, authorize(t, f, "designer", "1000").Outcome)
}

func TestAuthorize_ConcurrentRequestsRespectDailyCap(t *testing.T) {
	f := newFixture(t, 1000, 1000, 0)

	// 40 simultaneous requests of 100 against a daily cap of 1000: exactly
	// ten fit, no matter how the goroutines interleave.
	const requests = 40
	var wg sync.WaitGroup
	var authorized atomic.Int64
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.engine.Authorize(context.Background(), engine.Request{
				RecipientName: "designer",
				Amount:        "100",
				AgentAddress:  agentAddr,
			})
			if err == nil && result.Outcome == engine.OutcomeAuthorized {
				authorized.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, authorized.Load())
}

func TestAuthorize_ZeroCapsAreNotEnforced(t *testing.T) {
	f := newFixture(t, 1000, 0, 0)

	for i := 0; i < 5; i++ {
		assert.Equal(t, engine.OutcomeAuthorized, authorize(t, f, "designer", "1000").Outcome)
	}
}
