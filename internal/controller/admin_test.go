package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lasercut/internal/testutil"
)

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	m := quietMock()
	c := newTestController(t, m, Options{})
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)

	tests := []struct {
		name           string
		req            *http.Request
		expectedStatus int
		bodyContains   string
	}{
		{
			name:           "valid POST with command",
			req:            testutil.PostForm("/debug/send-command-api", url.Values{"command": {"$H"}}),
			expectedStatus: http.StatusOK,
			bodyContains:   "$H",
		},
		{
			name:           "POST with whitespace-only command",
			req:            testutil.PostForm("/debug/send-command-api", url.Values{"command": {"  "}}),
			expectedStatus: http.StatusBadRequest,
			bodyContains:   "Missing command",
		},
		{
			name:           "GET method not allowed",
			req:            testutil.LocalHostRequest(http.MethodGet, "/debug/send-command-api", nil),
			expectedStatus: http.StatusMethodNotAllowed,
			bodyContains:   "Method not allowed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.Serve(mux, tt.req)
			testutil.AssertStatusCode(t, rec.Code, tt.expectedStatus)
			assert.Contains(t, rec.Body.String(), tt.bodyContains)
		})
	}

	waitIdle(t, c)
	assert.Equal(t, []string{"$H"}, m.Lines())
}

func TestAttachAdminRoutes_RealtimeAPI(t *testing.T) {
	m := quietMock()
	c := newTestController(t, m, Options{})
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)

	rec := testutil.Serve(mux, testutil.PostForm("/debug/realtime-api", url.Values{"command": {"pause"}}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	require.Eventually(t, m.FeedHeld, 2*time.Second, time.Millisecond)

	rec = testutil.Serve(mux, testutil.PostForm("/debug/realtime-api", url.Values{"command": {"cancel"}}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	require.Eventually(t, func() bool { return m.Resets() == 1 }, 2*time.Second, time.Millisecond)
}

func TestAttachAdminRoutes_Status(t *testing.T) {
	c := newTestController(t, quietMock(), Options{BufferSize: 64, Mode: ModeSync})
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)

	rec := testutil.Serve(mux, testutil.LocalHostRequest(http.MethodGet, "/debug/controller", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "sync", got.Mode)
	assert.Equal(t, 64, got.BufferSize)
	assert.False(t, got.Alive)
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	m := quietMock()
	c := newTestController(t, m, Options{})
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	req := testutil.LocalHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)

	done := make(chan string)
	go func() {
		rec := testutil.Serve(mux, req)
		done <- rec.Body.String()
	}()

	require.Eventually(t, func() bool {
		c.subscriberMu.Lock()
		defer c.subscriberMu.Unlock()
		return len(c.subscribers) == 1
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, c.Write("G0 X5\n"))
	waitIdle(t, c)
	time.Sleep(50 * time.Millisecond)
	cancel()

	body := <-done
	assert.True(t, strings.HasPrefix(body, ": ping"))
	assert.Contains(t, body, "event: send")
	assert.Contains(t, body, `G0 X5`)
}
