package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/common/logger"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestStore(t *testing.T) *Store {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	s, err := NewStore(t.TempDir(), log)
	require.NoError(t, err)
	return s
}

func TestTeamsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	teams, err := s.GetTeams()
	require.NoError(t, err)
	assert.Empty(t, teams)

	now := time.Now().UTC().Truncate(time.Second)
	team := &v1.Team{
		ID:   "t1",
		Name: "Alpha",
		Members: []v1.TeamMember{
			{ID: "m1", Name: "dev-A", Role: v1.RoleDeveloper, AgentStatus: v1.AgentStatusInactive, Status: v1.AgentStatusInactive, WorkingStatus: v1.WorkingStatusIdle, CreatedAt: now, UpdatedAt: now},
		},
		Status:    v1.TeamStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.SaveTeam(team))

	loaded, err := s.GetTeam("t1")
	require.NoError(t, err)
	assert.Equal(t, team, loaded)

	byName, err := s.GetTeamByName("Alpha")
	require.NoError(t, err)
	assert.Equal(t, "t1", byName.ID)

	// Upsert replaces, not duplicates.
	team.Description = "updated"
	require.NoError(t, s.SaveTeam(team))
	teams, err = s.GetTeams()
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "updated", teams[0].Description)

	require.NoError(t, s.DeleteTeam("t1"))
	_, err = s.GetTeam("t1")
	assert.Error(t, err)
}

func TestUpdateTeamSerializesConcurrentMemberWrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTeam(&v1.Team{
		ID:   "t1",
		Name: "Alpha",
		Members: []v1.TeamMember{
			{ID: "m1", Name: "dev-A", Role: v1.RoleDeveloper},
			{ID: "m2", Name: "qa-B", Role: v1.RoleQA},
		},
	}))

	// Two writers hammer different members of the same team. Every
	// read-modify-write must land; a lost update shows up as a short slice.
	var wg sync.WaitGroup
	for _, id := range []string{"m1", "m2"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := s.UpdateTeam("t1", func(team *v1.Team) error {
					m := team.Member(id)
					m.Capabilities = append(m.Capabilities, "x")
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	team, err := s.GetTeam("t1")
	require.NoError(t, err)
	assert.Len(t, team.Member("m1").Capabilities, 50)
	assert.Len(t, team.Member("m2").Capabilities, 50)
}

func TestUpdateTeamAbortsWithoutWriting(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTeam(&v1.Team{
		ID:      "t1",
		Name:    "Alpha",
		Members: []v1.TeamMember{{ID: "m1", Name: "dev-A", Role: v1.RoleDeveloper}},
	}))

	_, err := s.UpdateTeam("t1", func(team *v1.Team) error {
		team.Name = "mutated"
		return errors.New("nope")
	})
	require.Error(t, err)

	team, err := s.GetTeam("t1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", team.Name)

	_, err = s.UpdateTeam("missing", func(team *v1.Team) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestDeleteTeamNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteTeam("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestProjectsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	project := &v1.Project{
		ID:     "p1",
		Name:   "demo",
		Path:   "/tmp/demo",
		Teams:  map[string][]string{"developer": {"t1"}},
		Status: v1.ProjectStatusActive,
	}
	require.NoError(t, s.SaveProject(project))

	loaded, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, project, loaded)

	_, err = s.GetProject("missing")
	assert.Error(t, err)
}

func TestScheduledMessagesAndDeliveryLog(t *testing.T) {
	s := newTestStore(t)

	msg := &v1.ScheduledMessage{
		ID:          "sm1",
		Name:        "ping",
		Target:      "t1",
		Message:     "ping",
		DelayAmount: 2,
		DelayUnit:   v1.DelayUnitMinutes,
		Recurring:   true,
		Active:      true,
	}
	require.NoError(t, s.SaveScheduledMessage(msg))

	loaded, err := s.GetScheduledMessage("sm1")
	require.NoError(t, err)
	assert.Equal(t, msg, loaded)

	require.NoError(t, s.AppendDeliveryLog(&v1.MessageDeliveryLog{
		ID:                 "d1",
		ScheduledMessageID: "sm1",
		SessionName:        "alpha-dev-a-12345678",
		SentAt:             time.Now().UTC(),
		Success:            true,
	}))
	require.NoError(t, s.AppendDeliveryLog(&v1.MessageDeliveryLog{
		ID:                 "d2",
		ScheduledMessageID: "sm1",
		SentAt:             time.Now().UTC(),
		Success:            false,
		Error:              "session gone",
	}))

	logs, err := s.GetDeliveryLogs()
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "d1", logs[0].ID)
	assert.Equal(t, "d2", logs[1].ID)

	require.NoError(t, s.DeleteScheduledMessage("sm1"))
	_, err = s.GetScheduledMessage("sm1")
	assert.Error(t, err)
}

func TestRuntimeRecords(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetRuntimeRecord("developer")
	require.NoError(t, err)
	assert.Nil(t, rec)

	saved := &v1.RuntimeRecord{
		Role:         "developer",
		SessionID:    "alpha-dev-a-12345678",
		Status:       "active",
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveRuntimeRecord(saved))

	rec, err = s.GetRuntimeRecord("developer")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, saved, rec)
}

func TestOrchestratorStatusSingleton(t *testing.T) {
	s := newTestStore(t)

	status, err := s.GetOrchestratorStatus()
	require.NoError(t, err)
	assert.Nil(t, status)

	require.NoError(t, s.SaveOrchestratorStatus(&v1.OrchestratorStatus{
		SessionID:     v1.OrchestratorSessionName,
		AgentStatus:   v1.AgentStatusActive,
		Status:        v1.AgentStatusActive,
		WorkingStatus: v1.WorkingStatusIdle,
	}))

	status, err = s.GetOrchestratorStatus()
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, v1.OrchestratorSessionName, status.SessionID)
}

func TestInProgressTasksSnapshot(t *testing.T) {
	s := newTestStore(t)

	entries := []v1.InProgressTask{
		{ID: "e1", ProjectID: "p1", TaskFilePath: "/tmp/p/.agentmux/tasks/m0_x/in_progress/01_a.md", Status: v1.AssignmentStatusAssigned, Priority: v1.TaskPriorityMedium},
	}
	require.NoError(t, s.SaveInProgressTasks(entries))

	loaded, err := s.GetInProgressTasks()
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestCorruptSnapshotSurfacesStorageError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.HomeDir(), "teams.json"), []byte("{not json"), 0644))

	_, err := s.GetTeams()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_ERROR")
}

func TestGetTickets(t *testing.T) {
	s := newTestStore(t)
	project := t.TempDir()
	dir := filepath.Join(project, ".agentmux", "tasks", "m0_specs", "open")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01_foo_developer.md"), []byte("---\nid: x\ntitle: Foo\n---\nbody"), 0644))

	tickets, err := s.GetTickets(project, TicketFilter{Status: v1.TaskStatusOpen})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "x", tickets[0].ID)
	assert.Equal(t, "developer", tickets[0].TargetRole)
}
