package services

import (
	"context"
	"testing"
	"time"

	"github.com/roundup-invest/receipt-review/config"
	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/internal/auth"
	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T, cfg config.SessionConfig) (*SessionService, map[string]auth.CredentialProvider) {
	t.Helper()
	resetSessionMetricsForTesting()
	creds := make(map[string]auth.CredentialProvider)
	svc := NewSessionService(cfg, func(id string, c auth.CredentialProvider) *workflow.Workflow {
		creds[id] = c
		return workflow.New(workflow.Options{Client: &stubClient{}})
	})
	t.Cleanup(svc.Stop)
	return svc, creds
}

func TestSessionService_Lifecycle(t *testing.T) {
	svc, creds := newTestSessions(t, config.SessionConfig{TTLMinutes: 30, MaxSessions: 10})

	session, err := svc.Create("token-1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, workflow.StateIdle, session.Workflow.State().Name())
	assert.Equal(t, 1, svc.Count())

	token, err := creds[session.ID].Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	got, err := svc.Get(session.ID, "token-2")
	require.NoError(t, err)
	assert.Same(t, session, got)
	token, err = creds[session.ID].Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token, "latest request token is used")

	_, err = svc.Get(session.ID, "")
	require.NoError(t, err)
	token, _ = creds[session.ID].Token(context.Background())
	assert.Equal(t, "token-2", token)

	require.NoError(t, svc.Delete(session.ID))
	assert.Equal(t, 0, svc.Count())

	_, err = svc.Get(session.ID, "")
	assert.True(t, errors.IsType(err, errors.NotFoundError))
	assert.True(t, errors.IsType(svc.Delete(session.ID), errors.NotFoundError))
}

func TestSessionService_Limit(t *testing.T) {
	svc, _ := newTestSessions(t, config.SessionConfig{MaxSessions: 2})

	_, err := svc.Create("a")
	require.NoError(t, err)
	_, err = svc.Create("b")
	require.NoError(t, err)

	_, err = svc.Create("c")
	require.Error(t, err)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 503, appErr.GetHTTPStatus())
	assert.Equal(t, 2, svc.Capacity())
}

func TestSessionService_Expire(t *testing.T) {
	svc, _ := newTestSessions(t, config.SessionConfig{TTLMinutes: 30})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	stale, err := svc.Create("a")
	require.NoError(t, err)
	now = now.Add(20 * time.Minute)
	fresh, err := svc.Create("b")
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	assert.Equal(t, 1, svc.expire())

	_, err = svc.Get(stale.ID, "")
	assert.True(t, errors.IsType(err, errors.NotFoundError))
	_, err = svc.Get(fresh.ID, "")
	assert.NoError(t, err)
}

func TestSessionService_JanitorStops(t *testing.T) {
	svc, _ := newTestSessions(t, config.SessionConfig{TTLMinutes: 1, JanitorIntervalSeconds: 1})
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	cancel()

	select {
	case <-svc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
