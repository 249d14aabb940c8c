package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/core/logger"
)

func TestPoll(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		completed bool
		resource  string
		code      errors.ErrorCode
	}{
		{
			name:   "in progress",
			status: http.StatusAccepted,
			body:   `{"operation":"ItemCopy","percentageComplete":27.8,"status":"inProgress"}`,
		},
		{
			name:      "completed",
			status:    http.StatusAccepted,
			body:      `{"percentageComplete":100.0,"resourceId":"01MOWKYVJML57KN2ANMBA3JZJS2MBGC7KM","status":"completed"}`,
			completed: true,
			resource:  "01MOWKYVJML57KN2ANMBA3JZJS2MBGC7KM",
		},
		{name: "gone", status: http.StatusNotFound, code: errors.ErrNotFound},
		{name: "server error", status: http.StatusInternalServerError, code: errors.ErrProvider},
		{name: "malformed", status: http.StatusOK, body: `<html>`, code: errors.ErrProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Empty(t, r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			progress, err := NewPoller(time.Second, logger.Nop()).Poll(context.Background(), server.URL+"/monitor/1")
			if tt.code != "" {
				assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.completed, progress.Completed())
			assert.Equal(t, tt.resource, progress.ResourceID)
		})
	}
}

func TestPoll_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewPoller(time.Second, logger.Nop()).Poll(context.Background(), url)
	assert.True(t, errors.IsDiscard(err))
}

func TestPoll_EmptyURL(t *testing.T) {
	_, err := NewPoller(time.Second, logger.Nop()).Poll(context.Background(), "")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestPoll_CallerCancelled(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPoller(time.Second, logger.Nop()).Poll(ctx, server.URL)
	require.Error(t, err)
	assert.False(t, errors.IsDiscard(err))
	assert.ErrorIs(t, err, context.Canceled)
}
