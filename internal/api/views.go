package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/promptrelay/internal/provider"
	"github.com/goodtune/promptrelay/internal/quota"
	"github.com/rs/zerolog"
)

// Views handles the relay endpoints.
type Views struct {
	limiter   *quota.Limiter
	generator Generator
	logger    zerolog.Logger
}

// NewViews creates a new views instance.
func NewViews(limiter *quota.Limiter, generator Generator, logger zerolog.Logger) *Views {
	return &Views{
		limiter:   limiter,
		generator: generator,
		logger:    logger.With().Str("handler", "relay").Logger(),
	}
}

// HealthResponse is returned by GET /.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UsageResponse is returned by GET /usage.
type UsageResponse struct {
	IP        string     `json:"ip"`
	Usage     int        `json:"usage"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	ResetTime *time.Time `json:"reset_time"`
}

// GenerateRequest is the body of POST /generate. The prompts are pointers
// so an empty prompt is accepted while a missing one is rejected.
type GenerateRequest struct {
	Provider     *string `json:"provider" binding:"required"`
	SystemPrompt *string `json:"system_prompt" binding:"required"`
	UserPrompt   *string `json:"user_prompt" binding:"required"`
	APIKey       *string `json:"api_key"`
	IsPro        bool    `json:"is_pro"`
}

// GenerateResponse is returned by a successful POST /generate.
type GenerateResponse struct {
	Content string `json:"content"`
}

// Health reports that the service is up.
func (v *Views) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Message: "promptrelay is active",
	})
}

// Usage reports the caller's consumption in the current window.
func (v *Views) Usage(ctx *gin.Context) {
	report := v.limiter.Usage(clientID(ctx))

	resp := UsageResponse{
		IP:        report.ClientID,
		Usage:     report.Used,
		Limit:     report.Limit,
		Remaining: report.Remaining,
	}
	if !report.ResetTime.IsZero() {
		reset := report.ResetTime.UTC()
		resp.ResetTime = &reset
	}

	ctx.JSON(http.StatusOK, resp)
}

// Generate charges the caller's quota and relays the prompts. The quota is
// charged before the provider name or key is examined, so a request that
// later fails still consumes its slot.
func (v *Views) Generate(ctx *gin.Context) {
	var req GenerateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, &badRequestError{err: err})
		return
	}

	client := clientID(ctx)
	if v.limiter.CheckAndConsume(ctx.Request.Context(), client, req.IsPro) == quota.Denied {
		abortWithError(ctx, errQuotaExceeded)
		return
	}

	var apiKey string
	if req.APIKey != nil {
		apiKey = *req.APIKey
	}

	text, err := v.generator.Generate(ctx.Request.Context(), *req.Provider, *req.SystemPrompt, *req.UserPrompt, apiKey)
	if err != nil {
		status, _ := statusFor(err)
		var event *zerolog.Event
		if provider.IsClientError(err) {
			event = v.logger.Warn()
		} else {
			event = v.logger.Error()
		}
		event.Err(err).
			Str("client", client).
			Str("provider", *req.Provider).
			Int("status", status).
			Msg("Generation failed")
		abortWithError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, GenerateResponse{Content: text})
}
