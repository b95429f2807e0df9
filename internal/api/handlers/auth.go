package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"phantomrecorder/backend/pkg/auth"
	"phantomrecorder/backend/pkg/response"
)

type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
	Client string `json:"client"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// IssueToken exchanges the API key for a bearer token.
func (h *Handlers) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Client == "" {
		req.Client = c.ClientIP()
	}

	token, err := h.Issuer.Exchange(req.Client, req.APIKey)
	if errors.Is(err, auth.ErrInvalidKey) {
		response.Unauthorized(c, "invalid api key")
		return
	}
	if err != nil {
		response.InternalServerError(c, "failed to issue token")
		return
	}

	response.SuccessWithMessage(c, "token issued", TokenResponse{Token: token})
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, response.Response{
		Code:    http.StatusOK,
		Message: "success",
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		},
	})
}
