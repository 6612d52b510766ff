package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/storage"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

type fakeSender struct {
	mu    sync.Mutex
	sends []string // "session|text"
	fail  map[string]error
}

func (f *fakeSender) SendMessage(ctx context.Context, session, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, session+"|"+text)
	if f.fail != nil {
		if err, ok := f.fail[session]; ok {
			return err
		}
	}
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

func newTestScheduler(t *testing.T) (*Scheduler, *storage.Store, *fakeSender) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	store, err := storage.NewStore(t.TempDir(), log)
	require.NoError(t, err)
	sender := &fakeSender{}
	sched := NewScheduler(store, sender, nil, config.AgentConfig{DefaultCheckInterval: 15}, log)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(sched.Stop)
	return sched, store, sender
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduleMessageValidation(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := sched.ScheduleMessage(ctx, &v1.ScheduledMessage{Target: "x", DelayAmount: 1, DelayUnit: v1.DelayUnitSeconds})
	assert.Error(t, err)
	_, err = sched.ScheduleMessage(ctx, &v1.ScheduledMessage{Message: "hi", DelayAmount: 1, DelayUnit: v1.DelayUnitSeconds})
	assert.Error(t, err)
	_, err = sched.ScheduleMessage(ctx, &v1.ScheduledMessage{Message: "hi", Target: "x", DelayAmount: 0})
	assert.Error(t, err)
}

func TestOneShotFireDeliversAndDeactivates(t *testing.T) {
	sched, store, sender := newTestScheduler(t)
	ctx := context.Background()

	msg, err := sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name:        "once",
		Target:      "alpha-dev-a-12345678",
		Message:     "hello",
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitSeconds,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.NextRun)

	waitFor(t, func() bool { return len(sender.sent()) == 1 })
	assert.Equal(t, "alpha-dev-a-12345678|hello", sender.sent()[0])

	waitFor(t, func() bool {
		m, err := store.GetScheduledMessage(msg.ID)
		return err == nil && !m.Active
	})

	logs, err := store.GetDeliveryLogs()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, msg.ID, logs[0].ScheduledMessageID)
	assert.Equal(t, "alpha-dev-a-12345678", logs[0].SessionName)
}

func TestRecurringFireRearms(t *testing.T) {
	sched, store, sender := newTestScheduler(t)
	ctx := context.Background()

	msg, err := sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name:        "ping",
		Target:      "sess-1",
		Message:     "ping",
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitSeconds,
		Recurring:   true,
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(sender.sent()) >= 2 })

	m, err := store.GetScheduledMessage(msg.ID)
	require.NoError(t, err)
	assert.True(t, m.Active)
	require.NotNil(t, m.NextRun)
	require.NotNil(t, m.LastRun)
	assert.True(t, m.NextRun.After(*m.LastRun))
}

func TestTeamTargetFansOutToMemberSessions(t *testing.T) {
	sched, store, sender := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTeam(&v1.Team{
		ID:   "team-1",
		Name: "Alpha",
		Members: []v1.TeamMember{
			{ID: "m1", Name: "dev-A", Role: v1.RoleDeveloper, SessionName: "alpha-dev-a-11111111"},
			{ID: "m2", Name: "qa-B", Role: v1.RoleQA, SessionName: "alpha-qa-b-22222222"},
			{ID: "m3", Name: "idle-C", Role: v1.RoleDeveloper}, // no session
		},
	}))

	_, err := sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name:        "team ping",
		Target:      "team-1",
		Message:     "ping",
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitSeconds,
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(sender.sent()) == 2 })
	sent := sender.sent()
	assert.Contains(t, sent, "alpha-dev-a-11111111|ping")
	assert.Contains(t, sent, "alpha-qa-b-22222222|ping")

	logs, err := store.GetDeliveryLogs()
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestOrchestratorTargetResolvesToFixedSession(t *testing.T) {
	sched, _, sender := newTestScheduler(t)
	ctx := context.Background()

	_, err := sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name:        "orc",
		Target:      v1.TargetOrchestrator,
		Message:     "status",
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitSeconds,
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(sender.sent()) == 1 })
	assert.Equal(t, v1.OrchestratorSessionName+"|status", sender.sent()[0])
}

func TestFailedDeliveryIsLogged(t *testing.T) {
	sched, store, sender := newTestScheduler(t)
	sender.fail = map[string]error{"dead-session": context.DeadlineExceeded}
	ctx := context.Background()

	msg, err := sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name:        "doomed",
		Target:      "dead-session",
		Message:     "hi",
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitSeconds,
	})
	require.NoError(t, err)

	waitFor(t, func() bool {
		logs, _ := store.GetDeliveryLogs()
		return len(logs) == 1
	})
	logs, err := store.GetDeliveryLogs()
	require.NoError(t, err)
	assert.False(t, logs[0].Success)
	assert.NotEmpty(t, logs[0].Error)

	// A failed one-shot fire still deactivates the message.
	waitFor(t, func() bool {
		m, err := store.GetScheduledMessage(msg.ID)
		return err == nil && !m.Active
	})
}

func TestCancelMessageStopsFutureFires(t *testing.T) {
	sched, store, sender := newTestScheduler(t)
	ctx := context.Background()

	msg, err := sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name:        "cancel me",
		Target:      "sess-1",
		Message:     "hi",
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitHours,
	})
	require.NoError(t, err)
	require.NoError(t, sched.CancelMessage(ctx, msg.ID))

	m, err := store.GetScheduledMessage(msg.ID)
	require.NoError(t, err)
	assert.False(t, m.Active)
	assert.Nil(t, m.NextRun)
	assert.Empty(t, sender.sent())
}

func TestCancelAllChecksForSession(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTeam(&v1.Team{
		ID:      "team-1",
		Name:    "Alpha",
		Members: []v1.TeamMember{{ID: "m1", Name: "dev-A", Role: v1.RoleDeveloper, SessionName: "alpha-dev-a-11111111"}},
	}))

	// One literal-session message, one team message resolving to the same
	// session, one unrelated message.
	_, err := sched.ScheduleCheck(ctx, "alpha-dev-a-11111111", 60, "check")
	require.NoError(t, err)
	_, err = sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name: "team", Target: "team-1", Message: "hi", DelayAmount: 60, DelayUnit: v1.DelayUnitMinutes,
	})
	require.NoError(t, err)
	other, err := sched.ScheduleCheck(ctx, "other-session", 60, "check")
	require.NoError(t, err)

	cancelled, err := sched.CancelAllChecksForSession(ctx, "alpha-dev-a-11111111")
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)

	msgs, err := store.GetScheduledMessages()
	require.NoError(t, err)
	for _, m := range msgs {
		if m.ID == other {
			assert.True(t, m.Active)
		} else {
			assert.False(t, m.Active)
		}
	}
}

func TestCancelAllForTarget(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name: "a", Target: "team-1", Message: "hi", DelayAmount: 60, DelayUnit: v1.DelayUnitMinutes, Recurring: true,
	})
	require.NoError(t, err)
	_, err = sched.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name: "b", Target: "team-2", Message: "hi", DelayAmount: 60, DelayUnit: v1.DelayUnitMinutes,
	})
	require.NoError(t, err)

	cancelled, err := sched.CancelAllForTarget(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	msgs, err := store.GetScheduledMessages()
	require.NoError(t, err)
	for _, m := range msgs {
		if m.Target == "team-1" {
			assert.False(t, m.Active)
		} else {
			assert.True(t, m.Active)
		}
	}
}

func TestStartRearmsPersistedMessages(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	store, err := storage.NewStore(t.TempDir(), log)
	require.NoError(t, err)

	// Persisted active message whose nextRun is already in the past.
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.SaveScheduledMessage(&v1.ScheduledMessage{
		ID:          "persisted",
		Name:        "old",
		Target:      "sess-1",
		Message:     "catch up",
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitHours,
		Active:      true,
		NextRun:     &past,
	}))

	sender := &fakeSender{}
	sched := NewScheduler(store, sender, nil, config.AgentConfig{}, log)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(sched.Stop)

	waitFor(t, func() bool { return len(sender.sent()) == 1 })
	assert.Equal(t, "sess-1|catch up", sender.sent()[0])
}

// blockingSender parks inside SendMessage until released, so a test can hold
// a fire in flight.
type blockingSender struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSender) SendMessage(ctx context.Context, session, text string) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestStopWaitsForInFlightFire(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	store, err := storage.NewStore(t.TempDir(), log)
	require.NoError(t, err)
	sender := &blockingSender{entered: make(chan struct{}, 1), release: make(chan struct{})}
	sched := NewScheduler(store, sender, nil, config.AgentConfig{}, log)
	require.NoError(t, sched.Start(context.Background()))

	_, err = sched.ScheduleMessage(context.Background(), &v1.ScheduledMessage{
		Name:        "slow",
		Target:      "sess-1",
		Message:     "hi",
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitSeconds,
	})
	require.NoError(t, err)

	select {
	case <-sender.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never started")
	}

	stopped := make(chan struct{})
	go func() {
		sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(sender.release)
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after the delivery finished")
	}

	logs, err := store.GetDeliveryLogs()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
}

func TestScheduleDefaultCheckins(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	ctx := context.Background()

	id, err := sched.ScheduleDefaultCheckins(ctx, "alpha-dev-a-11111111")
	require.NoError(t, err)

	m, err := store.GetScheduledMessage(id)
	require.NoError(t, err)
	assert.True(t, m.Recurring)
	assert.Equal(t, 15, m.DelayAmount)
	assert.Equal(t, v1.DelayUnitMinutes, m.DelayUnit)
	assert.Equal(t, "alpha-dev-a-11111111", m.Target)
}
