package handlers

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/trustflow/trustflow-api/internal/book"
	"github.com/trustflow/trustflow-api/internal/canonical"
	"github.com/trustflow/trustflow-api/internal/signature"
)

// AddressBookHandler serves the signed address book endpoints.
type AddressBookHandler struct {
	common *CommonServices
}

// NewAddressBookHandler creates a new AddressBookHandler
func NewAddressBookHandler(common *CommonServices) *AddressBookHandler {
	return &AddressBookHandler{common: common}
}

// SaveAddressBookRequest is the owner-signed address book submission.
// Signature is the 0x-prefixed hex of the 65-byte personal-message
// signature over the exact Message bytes.
type SaveAddressBookRequest struct {
	Owner     string `json:"owner"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// SaveAddressBookResponse echoes the verified owner back.
type SaveAddressBookResponse struct {
	Status string `json:"status"`
	Owner  string `json:"owner"`
}

// SaveAddressBook verifies and stores an owner-signed address book.
// The signature is checked over the exact submitted message string; a
// mismatch or unparseable signature leaves any previously stored book
// untouched.
func (h *AddressBookHandler) SaveAddressBook(c *gin.Context) {
	var req SaveAddressBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Owner == "" || req.Message == "" || req.Signature == "" {
		sendError(c, http.StatusBadRequest, "missing fields", nil)
		return
	}

	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		sendError(c, http.StatusBadRequest, "invalid signature format", err)
		return
	}

	container, err := h.common.books.Save(c.Request.Context(), req.Owner, req.Message, sig)
	if err != nil {
		switch {
		case errors.Is(err, signature.ErrInvalidSignatureFormat):
			sendError(c, http.StatusBadRequest, "invalid signature format", err)
		case errors.Is(err, book.ErrSignatureMismatch):
			sendError(c, http.StatusForbidden, "signature does not match owner", err)
		case errors.Is(err, book.ErrMalformedPayload):
			sendError(c, http.StatusBadRequest, "signed message is not a valid address book payload", err)
		default:
			sendError(c, http.StatusInternalServerError, "failed to save address book", err)
		}
		return
	}

	sendSuccess(c, http.StatusOK, SaveAddressBookResponse{
		Status: "verified",
		Owner:  container.Owner,
	})
}

// AddressBookMetadata describes the stored book without exposing anything
// beyond what the owner submitted.
type AddressBookMetadata struct {
	Owner     string   `json:"owner"`
	Names     []string `json:"names"`
	Timestamp int64    `json:"timestamp"`
}

// GetAddressBook returns metadata for the currently stored book.
func (h *AddressBookHandler) GetAddressBook(c *gin.Context) {
	container, err := h.common.books.Load(c.Request.Context())
	if err != nil {
		if errors.Is(err, book.ErrNotFound) {
			sendError(c, http.StatusNotFound, "address book not available or not signed", err)
			return
		}
		sendError(c, http.StatusInternalServerError, "failed to load address book", err)
		return
	}

	names := make([]string, 0, len(container.Entries))
	for name := range container.Entries {
		names = append(names, name)
	}

	sendSuccess(c, http.StatusOK, AddressBookMetadata{
		Owner:     container.Owner,
		Names:     names,
		Timestamp: container.Timestamp,
	})
}

// CanonicalizeRequest carries an arbitrary JSON document to canonicalize.
type CanonicalizeRequest struct {
	Document map[string]interface{} `json:"document"`
}

// CanonicalizeResponse is the byte-exact string the owner should sign.
type CanonicalizeResponse struct {
	Canonical string `json:"canonical"`
}

// Canonicalize returns the deterministic serialization of a document so
// signer and verifier agree on the exact bytes before a signature exists.
func (h *AddressBookHandler) Canonicalize(c *gin.Context) {
	var req CanonicalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Document == nil {
		sendError(c, http.StatusBadRequest, "missing fields", nil)
		return
	}

	out, err := canonical.Marshal(req.Document)
	if err != nil {
		sendError(c, http.StatusBadRequest, "document cannot be canonicalized", err)
		return
	}

	sendSuccess(c, http.StatusOK, CanonicalizeResponse{Canonical: out})
}
