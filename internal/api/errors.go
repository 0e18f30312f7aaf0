package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/promptrelay/internal/provider"
)

var (
	errQuotaExceeded = errors.New("daily free generation limit reached")
	errNotFound      = errors.New("not found")
)

// badRequestError marks malformed request bodies.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

// statusFor maps an error to its HTTP status and a short machine code.
func statusFor(err error) (int, string) {
	var (
		badRequest *badRequestError
		upstream   *provider.UpstreamError
	)

	switch {
	case errors.As(err, &badRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusBadRequest, "unsupported_provider"
	case errors.Is(err, provider.ErrMissingAPIKey):
		return http.StatusBadRequest, "missing_api_key"
	case errors.Is(err, provider.ErrUpstreamUnreachable):
		return http.StatusServiceUnavailable, "upstream_unreachable"
	case errors.Is(err, provider.ErrMalformedResponse):
		return http.StatusBadGateway, "upstream_malformed"
	case errors.As(err, &upstream):
		if upstream.StatusCode >= 400 && upstream.StatusCode <= 599 {
			return upstream.StatusCode, "upstream_error"
		}
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// messageFor returns the text shown to API callers.
func messageFor(err error) string {
	var upstream *provider.UpstreamError
	switch {
	case errors.As(err, &upstream):
		return upstream.Body
	case errors.Is(err, errQuotaExceeded):
		return "Daily free generation limit reached. Please upgrade to Pro."
	case errors.Is(err, provider.ErrUpstreamUnreachable):
		return "Failed to connect to AI provider."
	default:
		return err.Error()
	}
}

func abortWithError(ctx *gin.Context, err error) {
	status, code := statusFor(err)
	ctx.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": messageFor(err),
	})
}
