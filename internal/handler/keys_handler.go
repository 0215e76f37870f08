package handler

import (
	"net/http"

	"parley/internal/keys"
	"parley/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// KeysHandler publishes the participant token verification key.
type KeysHandler struct {
	provider *keys.Provider
}

func NewKeysHandler(provider *keys.Provider) *KeysHandler {
	return &KeysHandler{provider: provider}
}

// JWKS serves the public key set at /.well-known/jwks.json. The body is the
// bare RFC 7517 document, not the response envelope, so stock JWT libraries
// can consume it.
func (h *KeysHandler) JWKS(c *gin.Context) {
	set, err := h.provider.JWKS()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("signing key not configured", "SERVICE_UNAVAILABLE"))
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, set)
}
