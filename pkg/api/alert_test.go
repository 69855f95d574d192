package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAlertRejectsSecondActive(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	first, err := env.services.Alerts.Create(ctx, admin, "Water main break", "Avoid 5th street", AlertCritical)
	require.NoError(t, err)
	assert.True(t, first.IsActive)

	_, err = env.services.Alerts.Create(ctx, admin, "Another one", "", AlertInfo)
	assert.ErrorIs(t, err, ErrAlertActive)

	// Resolving frees the slot.
	_, err = env.services.Alerts.Resolve(ctx, admin, first.Id)
	require.NoError(t, err)

	_, err = env.services.Alerts.Create(ctx, admin, "Another one", "", AlertInfo)
	assert.NoError(t, err)
}

func TestConcurrentAlertCreatesAdmitExactlyOne(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	var created int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.services.Alerts.Create(ctx, admin, "Evacuation", "", AlertCritical)
			if err == nil {
				atomic.AddInt64(&created, 1)
				return
			}
			if !errors.Is(err, ErrAlertActive) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), created)

	active, err := env.services.Alerts.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestResolveAlertIsIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	alert, err := env.services.Alerts.Create(ctx, admin, "Road closure", "", AlertWarning)
	require.NoError(t, err)

	resolved, err := env.services.Alerts.Resolve(ctx, admin, alert.Id)
	require.NoError(t, err)
	assert.False(t, resolved.IsActive)
	require.NotNil(t, resolved.ResolvedAt)
	firstResolvedAt := *resolved.ResolvedAt

	again, err := env.services.Alerts.Resolve(ctx, admin, alert.Id)
	require.NoError(t, err)
	assert.Equal(t, firstResolvedAt, *again.ResolvedAt)

	// The no-op repeat does not push a second banner clear.
	assert.Len(t, env.recorder.byType(EventAlertResolved), 1)

	active, err := env.services.Alerts.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestListAlertsNewestFirst(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	older, err := env.services.Alerts.Create(ctx, admin, "Older", "", AlertInfo)
	require.NoError(t, err)
	_, err = env.services.Alerts.Resolve(ctx, admin, older.Id)
	require.NoError(t, err)
	newer, err := env.services.Alerts.Create(ctx, admin, "Newer", "", AlertInfo)
	require.NoError(t, err)

	// Pin distinct timestamps so the ordering is unambiguous.
	now := time.Now()
	env.store.mu.Lock()
	for i, a := range env.store.alerts {
		if a.Id == older.Id {
			env.store.alerts[i].CreatedAt = now.Add(-time.Hour)
		}
	}
	env.store.mu.Unlock()

	alerts, err := env.services.Alerts.List(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, newer.Id, alerts[0].Id)
	assert.Equal(t, older.Id, alerts[1].Id)
}

func TestCreateAlertValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	var verr *ValidationError
	_, err := env.services.Alerts.Create(ctx, admin, "", "msg", AlertInfo)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	_, err = env.services.Alerts.Create(ctx, admin, "Title", "", "severe")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "level", verr.Field)

	var ferr *ForbiddenError
	_, err = env.services.Alerts.Create(ctx, staff, "Title", "", AlertInfo)
	assert.ErrorAs(t, err, &ferr)
}

func TestDeleteActiveAlertClearsBanner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	alert, err := env.services.Alerts.Create(ctx, admin, "Flood watch", "", AlertWarning)
	require.NoError(t, err)

	require.NoError(t, env.services.Alerts.Delete(ctx, admin, alert.Id))

	cleared := env.recorder.byType(EventAlertCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, TopicAlerts, cleared[0].Topic)

	active, err := env.services.Alerts.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	// Deleting a resolved entry clears nothing.
	alert2, err := env.services.Alerts.Create(ctx, admin, "Next", "", AlertInfo)
	require.NoError(t, err)
	_, err = env.services.Alerts.Resolve(ctx, admin, alert2.Id)
	require.NoError(t, err)
	require.NoError(t, env.services.Alerts.Delete(ctx, admin, alert2.Id))
	assert.Len(t, env.recorder.byType(EventAlertCleared), 1)
}

func TestAlertLifecycleIsAudited(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	alert, err := env.services.Alerts.Create(ctx, admin, "Storm warning", "", AlertWarning)
	require.NoError(t, err)
	_, err = env.services.Alerts.Resolve(ctx, admin, alert.Id)
	require.NoError(t, err)

	logs, err := env.services.Audit.List(ctx, admin, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	actions := []string{logs[0].Action, logs[1].Action}
	assert.ElementsMatch(t, []string{"alert.create", "alert.resolve"}, actions)
}
