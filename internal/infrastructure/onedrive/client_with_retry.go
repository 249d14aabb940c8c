package onedrive

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/core/retry"
)

// statusError carries a retryable HTTP status between attempts
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("graph request failed (status: %d)", e.status)
}

// isRetryableError determines if an error should be retried. Transport
// failures and throttling/server statuses are; typed answers are final.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsDiscard(err) {
		return true
	}
	var se *statusError
	if stderrors.As(err, &se) {
		switch se.status {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// getJSON performs an idempotent GET with retry and decodes the body into out
func (c *Client) getJSON(ctx context.Context, storage *types.Storage, url string, out interface{}) error {
	err := retry.DoWithContextAndRetryable(ctx, func(ctx context.Context) error {
		req, err := c.request(ctx, storage)
		if err != nil {
			return err
		}

		resp, err := req.Get(url)
		if err != nil {
			c.logger.Warn("Graph request attempt failed", logger.String("url", url), logger.Error(err))
			return errors.Transport(ctx, err)
		}

		switch resp.StatusCode() {
		case http.StatusOK:
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return errors.ProviderError("malformed graph response").WithDetails("url", url)
			}
			return nil
		case http.StatusUnauthorized:
			return errors.Unauthorized("storage rejected the credentials")
		case http.StatusForbidden:
			return errors.Forbidden("access to item denied")
		case http.StatusNotFound:
			return errors.NewNotFoundError("item not found")
		default:
			c.logger.Warn("Graph request attempt failed",
				logger.String("url", url),
				logger.Int("status", resp.StatusCode()))
			return &statusError{status: resp.StatusCode()}
		}
	}, c.retryConfig, isRetryableError)

	var se *statusError
	if stderrors.As(err, &se) {
		return errors.ProviderError("graph request failed").WithDetails("status", se.status)
	}
	return err
}
