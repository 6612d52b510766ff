// Package activity classifies what each live agent is doing. A periodic
// loop compares pane captures against the previous snapshot: changed
// output means in_progress, unchanged means idle, a vanished session
// demotes the member to inactive.
package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/storage"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// SessionReader is the slice of the session driver the monitor needs.
type SessionReader interface {
	Exists(ctx context.Context, sessionName string) bool
	CapturePane(ctx context.Context, sessionName string, lines int) (string, error)
}

// MemberLocker hands out the per-member mutex shared with the supervisor so
// concurrent polls and initializations never interleave on one member.
type MemberLocker interface {
	MemberLock(memberID string) *sync.Mutex
}

// Monitor polls active members and persists their working status.
type Monitor struct {
	store  *storage.Store
	reader SessionReader
	locks  MemberLocker
	bus    bus.EventBus
	logger *logger.Logger

	interval     time.Duration
	captureLines int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor from monitor configuration.
func NewMonitor(store *storage.Store, reader SessionReader, locks MemberLocker, eventBus bus.EventBus, cfg config.MonitorConfig, log *logger.Logger) *Monitor {
	interval := cfg.IntervalDuration()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	lines := cfg.CaptureLines
	if lines <= 0 {
		lines = 50
	}
	return &Monitor{
		store:        store,
		reader:       reader,
		locks:        locks,
		bus:          eventBus,
		logger:       log.WithFields(zap.String("component", "activity-monitor")),
		interval:     interval,
		captureLines: lines,
	}
}

// Start launches the poll loop. Stop terminates it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Poll(ctx)
			}
		}
	}()
	m.logger.Info("Activity monitor started", zap.Duration("interval", m.interval))
}

// Stop terminates the poll loop and waits for the current pass to finish.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("Activity monitor stopped")
}

// Poll runs one pass over every active member with a session.
func (m *Monitor) Poll(ctx context.Context) {
	teams, err := m.store.GetTeams()
	if err != nil {
		m.logger.Error("Failed to load teams", zap.Error(err))
		return
	}
	for i := range teams {
		for j := range teams[i].Members {
			member := &teams[i].Members[j]
			if member.AgentStatus != v1.AgentStatusActive || member.SessionName == "" {
				continue
			}
			m.pollMember(ctx, teams[i].ID, member.ID)
		}
	}
}

// pollMember re-reads the member under its lock, classifies its session
// activity, and persists the result. The pane inspection happens outside the
// snapshot lock; the write goes through Store.UpdateTeam so it can never
// clobber a concurrent mutation of another member.
func (m *Monitor) pollMember(ctx context.Context, teamID, memberID string) {
	lock := m.locks.MemberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	team, err := m.store.GetTeam(teamID)
	if err != nil {
		return
	}
	member := team.Member(memberID)
	if member == nil || member.AgentStatus != v1.AgentStatusActive || member.SessionName == "" {
		return
	}

	now := time.Now().UTC()
	session := member.SessionName

	if !m.reader.Exists(ctx, session) {
		_, err := m.store.UpdateTeam(teamID, func(team *v1.Team) error {
			member := team.Member(memberID)
			if member == nil || member.SessionName != session {
				return nil
			}
			member.SetAgentStatus(v1.AgentStatusInactive)
			member.WorkingStatus = v1.WorkingStatusIdle
			member.LastTerminalOutput = ""
			member.LastActivityCheck = &now
			member.UpdatedAt = now
			return nil
		})
		if err != nil {
			m.logger.Error("Failed to persist member status", zap.Error(err))
			return
		}
		m.publish(ctx, map[string]interface{}{
			"team_id":   teamID,
			"member_id": memberID,
			"session":   session,
			"status":    string(v1.AgentStatusInactive),
		})
		m.logger.Info("Session gone, member inactive",
			zap.String("member_id", memberID),
			zap.String("session", session))
		return
	}

	capture, err := m.reader.CapturePane(ctx, session, m.captureLines)
	if err != nil {
		return
	}

	working := v1.WorkingStatusIdle
	if capture != "" && capture != member.LastTerminalOutput {
		working = v1.WorkingStatusInProgress
	}

	changed := false
	_, err = m.store.UpdateTeam(teamID, func(team *v1.Team) error {
		member := team.Member(memberID)
		if member == nil || member.AgentStatus != v1.AgentStatusActive || member.SessionName != session {
			return nil
		}
		changed = member.WorkingStatus != working
		member.WorkingStatus = working
		member.LastTerminalOutput = capture
		member.LastActivityCheck = &now
		member.UpdatedAt = now
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to persist member activity", zap.Error(err))
		return
	}

	if changed {
		m.publish(ctx, map[string]interface{}{
			"team_id":        teamID,
			"member_id":      memberID,
			"session":        session,
			"working_status": string(working),
		})
	}
}

func (m *Monitor) publish(ctx context.Context, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, events.ActivityUpdated, bus.NewEvent(events.ActivityUpdated, "activity-monitor", data)); err != nil {
		m.logger.Debug("Failed to publish event", zap.Error(err))
	}
}
