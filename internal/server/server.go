package server

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trustflow/trustflow-api/internal/book"
	"github.com/trustflow/trustflow-api/internal/chain"
	"github.com/trustflow/trustflow-api/internal/client/intent"
	"github.com/trustflow/trustflow-api/internal/engine"
	"github.com/trustflow/trustflow-api/internal/handlers"
	"github.com/trustflow/trustflow-api/internal/ledger"
	"github.com/trustflow/trustflow-api/internal/logger"
	"github.com/trustflow/trustflow-api/internal/policy"
	"github.com/trustflow/trustflow-api/internal/storage"
	"github.com/trustflow/trustflow-api/internal/vault"
)

// DefaultPolicyExecutor is the policy executor contract targeted when
// TRUSTFLOW_POLICY_EXECUTOR is not set.
const DefaultPolicyExecutor = "0xB7BdA0b6a477db6c370B6e83311Efe1092Ba6a08"

// Handler Definitions
var (
	addressBookHandler *handlers.AddressBookHandler
	policyHandler      *handlers.PolicyHandler
	paymentHandler     *handlers.PaymentHandler
	intentHandler      *handlers.IntentHandler
)

// InitializeHandlers wires the stores, resolver backend, engine, and
// handlers from the environment. Required values fail fast.
func InitializeHandlers() {
	dataDir := os.Getenv("TRUSTFLOW_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	docs, err := storage.NewFileStore(dataDir)
	if err != nil {
		logger.Fatal("Unable to create document store", zap.Error(err))
	}

	executorAddr := os.Getenv("TRUSTFLOW_POLICY_EXECUTOR")
	if executorAddr == "" {
		executorAddr = DefaultPolicyExecutor
	}
	if !common.IsHexAddress(executorAddr) {
		logger.Fatal("TRUSTFLOW_POLICY_EXECUTOR is not a valid address",
			zap.String("value", executorAddr))
	}
	executor := common.HexToAddress(executorAddr)

	books := book.NewStore(docs)
	policies := policy.NewStore(docs, books)

	resolver, err := buildResolver(books)
	if err != nil {
		logger.Fatal("Unable to configure recipient resolver", zap.Error(err))
	}

	eng := engine.New(resolver, policies, ledger.New(), executor)

	// The spend-state reader and intent parser are both optional; their
	// endpoints report unavailability instead of the server refusing to
	// start.
	var spendState *chain.SpendStateReader
	if rpcURL := os.Getenv("RPC_URL"); rpcURL != "" {
		spendState, err = chain.Dial(rpcURL, executor)
		if err != nil {
			logger.Fatal("Unable to connect to RPC endpoint", zap.Error(err))
		}
	} else {
		logger.Warn("RPC_URL not set, on-chain spend state endpoint disabled")
	}

	intentClient := intent.NewClient(os.Getenv("OPENAI_API_KEY"))
	if !intentClient.Configured() {
		logger.Warn("OPENAI_API_KEY not set, intent endpoint disabled")
	}

	commonServices := handlers.NewCommonServices(books, policies, eng, intentClient, spendState)

	// API Handler initialization
	addressBookHandler = handlers.NewAddressBookHandler(commonServices)
	policyHandler = handlers.NewPolicyHandler(commonServices)
	paymentHandler = handlers.NewPaymentHandler(commonServices)
	intentHandler = handlers.NewIntentHandler(commonServices)
}

// buildResolver selects the recipient resolver backend. The signed-book
// store is the default; TRUSTFLOW_RESOLVER=vault switches to the
// threshold-secret-store cluster.
func buildResolver(books *book.Store) (engine.RecipientResolver, error) {
	backend := strings.ToLower(os.Getenv("TRUSTFLOW_RESOLVER"))
	switch backend {
	case "", "book":
		return books, nil
	case "vault":
		nodes, err := parseVaultNodes(os.Getenv("TRUSTFLOW_VAULT_NODES"))
		if err != nil {
			return nil, err
		}

		minResponses := 1
		if raw := os.Getenv("TRUSTFLOW_VAULT_MIN_RESPONSES"); raw != "" {
			minResponses, err = strconv.Atoi(raw)
			if err != nil {
				return nil, errInvalidConfig("TRUSTFLOW_VAULT_MIN_RESPONSES", raw)
			}
		}

		return vault.NewResolver(vault.Config{
			Nodes:        nodes,
			AgentID:      os.Getenv("TRUSTFLOW_VAULT_AGENT_ID"),
			SchemaID:     os.Getenv("TRUSTFLOW_VAULT_SCHEMA_ID"),
			MinResponses: minResponses,
		}), nil
	default:
		return nil, errInvalidConfig("TRUSTFLOW_RESOLVER", backend)
	}
}

// parseVaultNodes parses a comma-separated list of name|url|jwt triples.
func parseVaultNodes(raw string) ([]vault.Node, error) {
	if raw == "" {
		return nil, errInvalidConfig("TRUSTFLOW_VAULT_NODES", raw)
	}

	var nodes []vault.Node
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Split(strings.TrimSpace(part), "|")
		if len(fields) != 3 {
			return nil, errInvalidConfig("TRUSTFLOW_VAULT_NODES", part)
		}
		nodes = append(nodes, vault.Node{
			Name: fields[0],
			URL:  fields[1],
			JWT:  fields[2],
		})
	}
	return nodes, nil
}

type configError struct {
	key   string
	value string
}

func (e configError) Error() string {
	return e.key + " has invalid value " + strconv.Quote(e.value)
}

func errInvalidConfig(key, value string) error {
	return configError{key: key, value: value}
}

// InitializeRoutes registers middleware and the API routes.
func InitializeRoutes(router *gin.Engine) {
	// Configure and apply CORS middleware
	router.Use(configureCORS())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// if we are not in production, log the request body
	if os.Getenv("GIN_MODE") != "release" {
		router.Use(handlers.LogRequest())
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		trustflow := v1.Group("/trustflow")
		{
			// Address book
			trustflow.POST("/addressbook", addressBookHandler.SaveAddressBook)
			trustflow.GET("/addressbook", addressBookHandler.GetAddressBook)
			trustflow.POST("/addressbook/canonicalize", addressBookHandler.Canonicalize)

			// Spending policies
			trustflow.POST("/policy", policyHandler.SavePolicy)
			trustflow.GET("/policy/:agent_address", policyHandler.GetPolicy)

			// Payment authorization
			trustflow.POST("/payments/authorize", paymentHandler.AuthorizePayment)
			trustflow.GET("/agents/:agent_address/spend-state", paymentHandler.GetSpendState)

			// Natural language intent
			trustflow.POST("/intent", intentHandler.ParseIntent)
		}
	}
}

// configureCORS returns a configured CORS middleware
func configureCORS() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()

	// Get allowed origins from environment variable
	originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS")
	if originsEnv == "" {
		// Default to localhost if not set
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	} else {
		// Split and trim the origins
		origins := strings.Split(originsEnv, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		corsConfig.AllowOrigins = origins
	}

	// Get allowed methods from environment variable
	methodsEnv := os.Getenv("CORS_ALLOWED_METHODS")
	if methodsEnv == "" {
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	} else {
		methods := strings.Split(methodsEnv, ",")
		for i, method := range methods {
			methods[i] = strings.TrimSpace(method)
		}
		corsConfig.AllowMethods = methods
	}

	// Get allowed headers from environment variable
	headersEnv := os.Getenv("CORS_ALLOWED_HEADERS")
	if headersEnv == "" {
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	} else {
		headers := strings.Split(headersEnv, ",")
		for i, header := range headers {
			headers[i] = strings.TrimSpace(header)
		}
		corsConfig.AllowHeaders = headers
	}

	// Set credentials allowed
	corsConfig.AllowCredentials = os.Getenv("CORS_ALLOW_CREDENTIALS") == "true"

	return cors.New(corsConfig)
}
