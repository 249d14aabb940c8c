// Package monitor reads the progress of asynchronous provider copies from the
// monitor URL handed out when the copy was accepted.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/core/logger"
)

// Provider status values reported by Graph copy monitors
const (
	StatusNotStarted = "notStarted"
	StatusInProgress = "inProgress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Progress is the decoded monitor response
type Progress struct {
	Status             string  `json:"status"`
	ResourceID         string  `json:"resourceId"`
	PercentageComplete float64 `json:"percentageComplete"`
	Operation          string  `json:"operation,omitempty"`
}

// Completed reports whether the copy finished
func (p *Progress) Completed() bool {
	return p.Status == StatusCompleted
}

// Failed reports whether the provider gave up on the copy
func (p *Progress) Failed() bool {
	return p.Status == StatusFailed
}

// Poller performs single unauthenticated GETs against monitor URLs. It never
// waits or loops; re-polling is left to the job scheduler.
type Poller struct {
	http   *resty.Client
	logger logger.Logger
}

// NewPoller creates a new Poller
func NewPoller(timeout time.Duration, log logger.Logger) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Poller{
		http:   resty.New().SetTimeout(timeout),
		logger: log,
	}
}

// Poll fetches the current progress behind url
func (p *Poller) Poll(ctx context.Context, url string) (*Progress, error) {
	if url == "" {
		return nil, errors.InvalidArgument("polling url is empty")
	}

	resp, err := p.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, errors.Transport(ctx, fmt.Errorf("polling request failed: %w", err))
	}

	// monitors answer 202 while running and 200 (or 303 followed) when done
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusAccepted:
	case http.StatusNotFound:
		return nil, errors.NewNotFoundError("copy monitor not found")
	default:
		return nil, errors.ProviderError("copy monitor request failed").
			WithDetails("status", resp.StatusCode())
	}

	var progress Progress
	if err := json.Unmarshal(resp.Body(), &progress); err != nil {
		return nil, errors.ProviderError("malformed copy monitor response")
	}

	p.logger.Debug("Copy progress",
		logger.String("status", progress.Status),
		logger.Any("percentage", progress.PercentageComplete))

	return &progress, nil
}
