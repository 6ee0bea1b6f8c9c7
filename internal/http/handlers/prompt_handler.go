package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// EnhancePromptRequest is the body of POST /enhance-prompt.
type EnhancePromptRequest struct {
	Prompt string `json:"prompt" binding:"required" example:"a cat on a roof"`
}

// EnhancePrompt godoc
// @ID          enhancePrompt
// @Summary     Rewrite a prompt for better images
// @Tags        Images
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.EnhancePromptRequest  true  "Prompt"
// @Success     200   {object}  services.Enhancement
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     502   {object}  handlers.ErrorResponse
// @Router      /enhance-prompt [post]
func (h *Handlers) EnhancePrompt(c *gin.Context) {
	var req EnhancePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt is required")
		return
	}
	res, err := h.prompts.Enhance(c.Request.Context(), req.Prompt)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
