// Package scheduler delivers delayed and recurring prompts to sessions.
// It is a single-process timer wheel keyed by scheduled-message id: one
// timer per active message, at most one in-flight fire per id, every
// delivery attempt logged to the append-only delivery log.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/config"
	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/storage"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// SessionSender is the slice of the session driver the scheduler needs.
type SessionSender interface {
	SendMessage(ctx context.Context, session, text string) error
}

// Scheduler arms one timer per active scheduled message and fires deliveries.
type Scheduler struct {
	store  *storage.Store
	sender SessionSender
	bus    bus.EventBus
	agent  config.AgentConfig
	logger *logger.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inFlight map[string]bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler. Call Start to arm persisted messages.
func NewScheduler(store *storage.Store, sender SessionSender, eventBus bus.EventBus, agent config.AgentConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		sender:   sender,
		bus:      eventBus,
		agent:    agent,
		logger:   log.WithFields(zap.String("component", "scheduler")),
		timers:   make(map[string]*time.Timer),
		inFlight: make(map[string]bool),
	}
}

// Start re-arms every active persisted message. A message whose nextRun has
// already passed fires immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	msgs, err := s.store.GetScheduledMessages()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range msgs {
		msg := msgs[i]
		if !msg.Active {
			continue
		}
		delay := msg.Delay()
		if msg.NextRun != nil {
			delay = msg.NextRun.Sub(now)
			if delay < 0 {
				delay = 0
			}
		}
		s.arm(msg.ID, delay)
	}
	s.logger.Info("Scheduler started", zap.Int("messages", len(msgs)))
	return nil
}

// Stop cancels every pending timer and waits for in-flight fires to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// ScheduleMessage persists the message, computes its first nextRun, and arms
// the timer. The id is assigned if empty.
func (s *Scheduler) ScheduleMessage(ctx context.Context, msg *v1.ScheduledMessage) (*v1.ScheduledMessage, error) {
	if msg.Message == "" {
		return nil, apperrors.InvalidInput("scheduled message body is required")
	}
	if msg.Target == "" {
		return nil, apperrors.InvalidInput("scheduled message target is required")
	}
	if msg.DelayAmount <= 0 {
		return nil, apperrors.InvalidInput("scheduled message delay must be positive")
	}

	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	msg.Active = true
	next := now.Add(msg.Delay())
	msg.NextRun = &next

	if err := s.store.SaveScheduledMessage(msg); err != nil {
		return nil, err
	}
	s.arm(msg.ID, msg.Delay())

	s.publish(ctx, events.MessageScheduled, map[string]interface{}{
		"message_id": msg.ID,
		"target":     msg.Target,
		"recurring":  msg.Recurring,
	})
	s.logger.Info("Scheduled message",
		zap.String("message_id", msg.ID),
		zap.String("target", msg.Target),
		zap.Bool("recurring", msg.Recurring))
	return msg, nil
}

// CancelMessage removes the pending timer and marks the message inactive.
// An in-flight fire completes but will not re-arm.
func (s *Scheduler) CancelMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	msg, err := s.store.GetScheduledMessage(id)
	if err != nil {
		return err
	}
	msg.Active = false
	msg.NextRun = nil
	msg.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveScheduledMessage(msg); err != nil {
		return err
	}

	s.publish(ctx, events.MessageCancelled, map[string]interface{}{"message_id": id})
	s.logger.Info("Cancelled message", zap.String("message_id", id))
	return nil
}

// ScheduleCheck arms a one-shot check-in for a session.
func (s *Scheduler) ScheduleCheck(ctx context.Context, session string, minutes int, text string) (string, error) {
	msg, err := s.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name:        fmt.Sprintf("check-in: %s", session),
		Target:      session,
		Message:     text,
		DelayAmount: minutes,
		DelayUnit:   v1.DelayUnitMinutes,
		Recurring:   false,
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// ScheduleRecurringCheck arms a recurring check-in for a session.
func (s *Scheduler) ScheduleRecurringCheck(ctx context.Context, session string, intervalMinutes int, text string) (string, error) {
	msg, err := s.ScheduleMessage(ctx, &v1.ScheduledMessage{
		Name:        fmt.Sprintf("recurring check-in: %s", session),
		Target:      session,
		Message:     text,
		DelayAmount: intervalMinutes,
		DelayUnit:   v1.DelayUnitMinutes,
		Recurring:   true,
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// ScheduleDefaultCheckins arms the standard progress check-in for a session
// at the configured default cadence.
func (s *Scheduler) ScheduleDefaultCheckins(ctx context.Context, session string) (string, error) {
	interval := s.agent.DefaultCheckInterval
	if interval <= 0 {
		interval = 15
	}
	return s.ScheduleRecurringCheck(ctx, session, interval,
		"STATUS CHECK: Reply with your current task, progress, and any blockers.")
}

// CancelAllChecksForSession cancels every active message whose resolved
// target set includes the session. Returns the number cancelled.
func (s *Scheduler) CancelAllChecksForSession(ctx context.Context, session string) (int, error) {
	msgs, err := s.store.GetScheduledMessages()
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for i := range msgs {
		if !msgs[i].Active {
			continue
		}
		targets, err := s.resolveTargets(&msgs[i])
		if err != nil {
			continue
		}
		for _, t := range targets {
			if t == session {
				if err := s.CancelMessage(ctx, msgs[i].ID); err == nil {
					cancelled++
				}
				break
			}
		}
	}
	return cancelled, nil
}

// CancelAllForTarget cancels every active message whose raw target matches,
// used when a team is stopped or deleted.
func (s *Scheduler) CancelAllForTarget(ctx context.Context, target string) (int, error) {
	msgs, err := s.store.GetScheduledMessages()
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for i := range msgs {
		if msgs[i].Active && msgs[i].Target == target {
			if err := s.CancelMessage(ctx, msgs[i].ID); err == nil {
				cancelled++
			}
		}
	}
	return cancelled, nil
}

// arm schedules a fire for the message id after delay, replacing any
// existing timer for that id.
func (s *Scheduler) arm(id string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.fire(id)
	})
}

// fire delivers one scheduled message to every resolved target. Re-entry for
// the same id is suppressed; the follow-up for a recurring message is armed
// only after the fire completes.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	if !s.started || s.inFlight[id] {
		s.mu.Unlock()
		return
	}
	s.inFlight[id] = true
	delete(s.timers, id)
	ctx := s.ctx
	// Join the wait group before releasing the lock so Stop cannot observe
	// an empty group while this fire is still about to run.
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, id)
		s.mu.Unlock()
	}()

	msg, err := s.store.GetScheduledMessage(id)
	if err != nil || !msg.Active {
		return
	}

	targets, err := s.resolveTargets(msg)
	if err != nil {
		s.logger.Warn("Failed to resolve message target",
			zap.String("message_id", id),
			zap.String("target", msg.Target),
			zap.Error(err))
		targets = nil
	}

	now := time.Now().UTC()
	delivered := 0
	for _, session := range targets {
		sendErr := s.sender.SendMessage(ctx, session, msg.Message)
		entry := &v1.MessageDeliveryLog{
			ID:                 uuid.New().String(),
			ScheduledMessageID: msg.ID,
			MessageName:        msg.Name,
			Target:             msg.Target,
			SessionName:        session,
			Message:            msg.Message,
			SentAt:             now,
			Success:            sendErr == nil,
		}
		if sendErr != nil {
			entry.Error = apperrors.DeliveryFailed(session, sendErr).Error()
			s.logger.Warn("Delivery failed",
				zap.String("message_id", msg.ID),
				zap.String("session", session),
				zap.Error(sendErr))
		} else {
			delivered++
		}
		if logErr := s.store.AppendDeliveryLog(entry); logErr != nil {
			s.logger.Error("Failed to append delivery log", zap.Error(logErr))
		}
	}

	msg.LastRun = &now
	if msg.Recurring {
		next := now.Add(msg.Delay())
		msg.NextRun = &next
	} else {
		msg.Active = false
		msg.NextRun = nil
	}
	msg.UpdatedAt = now
	if err := s.store.SaveScheduledMessage(msg); err != nil {
		s.logger.Error("Failed to persist message after fire", zap.Error(err))
	}

	if msg.Recurring && msg.Active {
		s.arm(msg.ID, msg.Delay())
	}

	s.publish(ctx, events.MessageDelivered, map[string]interface{}{
		"message_id": msg.ID,
		"target":     msg.Target,
		"sessions":   len(targets),
		"delivered":  delivered,
	})
}

// resolveTargets maps a message target to concrete session names:
// "orchestrator" to the fixed orchestrator session, a team id to every
// member session currently set, anything else to a literal session name.
func (s *Scheduler) resolveTargets(msg *v1.ScheduledMessage) ([]string, error) {
	if msg.Target == v1.TargetOrchestrator {
		return []string{v1.OrchestratorSessionName}, nil
	}
	team, err := s.store.GetTeam(msg.Target)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return []string{msg.Target}, nil
		}
		return nil, err
	}
	var sessions []string
	for _, m := range team.Members {
		if m.SessionName != "" {
			sessions = append(sessions, m.SessionName)
		}
	}
	return sessions, nil
}

func (s *Scheduler) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventType, bus.NewEvent(eventType, "scheduler", data)); err != nil {
		s.logger.Debug("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
