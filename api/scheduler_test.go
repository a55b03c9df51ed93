package api

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/client-ledger/ledger"
	"github.com/warp/client-ledger/storage"
)

func TestAuditScheduler_RunNowReportsDrift(t *testing.T) {
	// GIVEN: A client whose aggregate was overwritten behind the service's back
	backend := newTestBackend(t)
	svc := newTestService(t, backend)
	ctx := context.Background()
	id, err := svc.RegisterClient(ctx, ledger.ClientInput{
		FullName: "Ana", Address: "Calle 1", Email: "ana@example.com", Phone: "5550000",
	})
	require.NoError(t, err)
	_, err = backend.Exec(ctx, storage.ClientApplyAggregate,
		int64(999), int64(1), nil, "Regular", int64(0), "2025-03-15T10:30:00Z", int64(id))
	require.NoError(t, err)

	var logs bytes.Buffer
	s := NewAuditScheduler(svc, "", zerolog.New(&logs))

	// WHEN: An audit runs
	run := s.RunNow(ctx)

	// THEN: The drift is returned, logged and kept as the last run
	require.NoError(t, run.Err)
	require.Len(t, run.Drifts, 1)
	assert.Equal(t, id, run.Drifts[0].ClientID)
	assert.Contains(t, logs.String(), "audit found drift")
	require.NotNil(t, s.LastRun())
	assert.Len(t, s.LastRun().Drifts, 1)
}

func TestAuditScheduler_StartStop(t *testing.T) {
	svc := newTestService(t, newTestBackend(t))

	disabled := NewAuditScheduler(svc, "", zerolog.Nop())
	require.NoError(t, disabled.Start())
	assert.True(t, disabled.NextRun().IsZero())
	disabled.Stop()

	s := NewAuditScheduler(svc, "@every 1h", zerolog.Nop())
	require.NoError(t, s.Start())
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.NextRun(), time.Minute)
	s.Stop()
	assert.True(t, s.NextRun().IsZero())
	assert.Nil(t, s.LastRun())
}

func TestAuditScheduler_BadSpec(t *testing.T) {
	s := NewAuditScheduler(newTestService(t, newTestBackend(t)), "every day at noon", zerolog.Nop())

	err := s.Start()

	assert.ErrorContains(t, err, "every day at noon")
}
