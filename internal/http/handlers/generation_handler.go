package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/http/middleware"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
)

// HeaderReplayed marks a response served from an earlier request with the
// same Idempotency-Key.
const HeaderReplayed = "Idempotent-Replayed"

// GenerateRequest is the body of POST /create-image/generate.
type GenerateRequest struct {
	Prompt         string `json:"prompt" binding:"required" example:"a lighthouse at dusk, oil painting"`
	NegativePrompt string `json:"negative_prompt" example:"blurry"`
	AspectRatio    string `json:"aspect_ratio" example:"16:9"`
	OutputFormat   string `json:"output_format" example:"png"`
}

// UpscaleRequest is the body of POST /create-image/upscale.
type UpscaleRequest struct {
	ImageURL string `json:"image_url" binding:"required" example:"https://cdn.example.com/i.png"`
	Scale    int    `json:"scale" example:"2"`
}

// RemoveBackgroundRequest is the body of POST /create-image/remove-background.
type RemoveBackgroundRequest struct {
	ImageURL string `json:"image_url" binding:"required" example:"https://cdn.example.com/i.png"`
}

func caller(c *gin.Context) services.Caller {
	key, _ := middleware.GetIdempotencyKey(c)
	return services.Caller{UserID: middleware.UserID(c), Email: middleware.UserEmail(c), IdempotencyKey: key}
}

// writeGeneration answers 201 for a new generation and 200 for a replay. A
// replayed failure is reported the way the original request saw it.
func writeGeneration(c *gin.Context, g *domain.Generation, replayed bool, err error) {
	if err != nil {
		failErr(c, err)
		return
	}
	if !replayed {
		ok(c, http.StatusCreated, g)
		return
	}
	c.Header(HeaderReplayed, "true")
	if g.Status == domain.GenerationFailed {
		fail(c, http.StatusBadGateway, ErrCodeUpstream, services.ErrUpstream.Error())
		return
	}
	ok(c, http.StatusOK, g)
}

// Generate godoc
// @ID          generateImage
// @Summary     Text-to-image
// @Description Reserves credits, runs the job on the inference gateway and stores the image. Send Idempotency-Key to make retries safe.
// @Tags        Images
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string                    false  "Retry key"
// @Param       body             body      handlers.GenerateRequest  true   "Job"
// @Success     201              {object}  domain.Generation
// @Success     200              {object}  domain.Generation  "Replay"
// @Failure     400              {object}  handlers.ErrorResponse
// @Failure     403              {object}  handlers.ErrorResponse  "insufficient_credits"
// @Failure     409              {object}  handlers.ErrorResponse  "Same key still in progress"
// @Failure     429              {object}  handlers.ErrorResponse
// @Failure     502              {object}  handlers.ErrorResponse
// @Router      /create-image/generate [post]
func (h *Handlers) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt is required")
		return
	}
	g, replayed, err := h.gens.Generate(c.Request.Context(), caller(c), services.GenerateInput{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		OutputFormat:   req.OutputFormat,
	})
	writeGeneration(c, g, replayed, err)
}

// Upscale godoc
// @ID          upscaleImage
// @Summary     Upscale an image
// @Tags        Images
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string                   false  "Retry key"
// @Param       body             body      handlers.UpscaleRequest  true   "Job"
// @Success     201              {object}  domain.Generation
// @Failure     400              {object}  handlers.ErrorResponse
// @Failure     403              {object}  handlers.ErrorResponse
// @Failure     502              {object}  handlers.ErrorResponse
// @Router      /create-image/upscale [post]
func (h *Handlers) Upscale(c *gin.Context) {
	var req UpscaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_url is required")
		return
	}
	g, replayed, err := h.gens.Upscale(c.Request.Context(), caller(c), services.UpscaleInput{ImageURL: req.ImageURL, Scale: req.Scale})
	writeGeneration(c, g, replayed, err)
}

// RemoveBackground godoc
// @ID          removeBackground
// @Summary     Remove the background of an image
// @Tags        Images
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string                            false  "Retry key"
// @Param       body             body      handlers.RemoveBackgroundRequest  true   "Job"
// @Success     201              {object}  domain.Generation
// @Failure     400              {object}  handlers.ErrorResponse
// @Failure     403              {object}  handlers.ErrorResponse
// @Failure     502              {object}  handlers.ErrorResponse
// @Router      /create-image/remove-background [post]
func (h *Handlers) RemoveBackground(c *gin.Context) {
	var req RemoveBackgroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_url is required")
		return
	}
	g, replayed, err := h.gens.RemoveBackground(c.Request.Context(), caller(c), services.RemoveBackgroundInput{ImageURL: req.ImageURL})
	writeGeneration(c, g, replayed, err)
}
