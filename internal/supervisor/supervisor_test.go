package supervisor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/storage"
	"github.com/agentmux/agentmux/internal/tmux"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// fakeDriver records driver calls and serves scripted pane captures.
type fakeDriver struct {
	mu       sync.Mutex
	calls    []string // "op session"
	sessions map[string]bool
	capture  map[string]string
	onKey    func(key, session string)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{sessions: make(map[string]bool), capture: make(map[string]string)}
}

func (d *fakeDriver) record(op, session string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, op+" "+session)
}

func (d *fakeDriver) ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) Create(ctx context.Context, role, sessionName, projectPath string) error {
	d.record("create", sessionName)
	d.mu.Lock()
	d.sessions[sessionName] = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) CreateOrchestrator(ctx context.Context, sessionName, projectPath string) error {
	d.record("create-orc", sessionName)
	d.mu.Lock()
	d.sessions[sessionName] = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Exists(ctx context.Context, sessionName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[sessionName]
}

func (d *fakeDriver) Kill(ctx context.Context, sessionName string) (tmux.KillResult, error) {
	d.record("kill", sessionName)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.sessions[sessionName] {
		return tmux.KillResult{NotFound: true}, nil
	}
	delete(d.sessions, sessionName)
	return tmux.KillResult{Killed: true}, nil
}

func (d *fakeDriver) CapturePane(ctx context.Context, sessionName string, lines int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capture[sessionName], nil
}

func (d *fakeDriver) SendMessage(ctx context.Context, sessionName, text string) error {
	d.record("send", sessionName)
	return nil
}

func (d *fakeDriver) SendKey(ctx context.Context, sessionName, key string) error {
	d.record("key:"+key, sessionName)
	if d.onKey != nil {
		d.onKey(key, sessionName)
	}
	return nil
}

func (d *fakeDriver) setCapture(session, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capture[session] = text
}

func newTestSupervisor(t *testing.T, driver SessionDriver) (*Supervisor, *storage.Store) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	store, err := storage.NewStore(t.TempDir(), log)
	require.NoError(t, err)
	sup := NewSupervisor(store, driver, nil, config.AgentConfig{}, log)
	// Short windows so escalation completes within test time.
	sup.timeout = 600 * time.Millisecond
	sup.poll = 20 * time.Millisecond
	return sup, store
}

func seedTeam(t *testing.T, store *storage.Store) *v1.Team {
	team := &v1.Team{
		ID:   "team-1",
		Name: "Alpha",
		Members: []v1.TeamMember{
			{ID: "m1", Name: "dev-A", Role: v1.RoleDeveloper, AgentStatus: v1.AgentStatusInactive, Status: v1.AgentStatusInactive, WorkingStatus: v1.WorkingStatusIdle},
			{ID: "m2", Name: "qa-B", Role: v1.RoleQA, AgentStatus: v1.AgentStatusInactive, Status: v1.AgentStatusInactive, WorkingStatus: v1.WorkingStatusIdle},
			{ID: "m3", Name: "dev-C", Role: v1.RoleDeveloper, AgentStatus: v1.AgentStatusInactive, Status: v1.AgentStatusInactive, WorkingStatus: v1.WorkingStatusIdle},
		},
		Status: v1.TeamStatusIdle,
	}
	require.NoError(t, store.SaveTeam(team))
	return team
}

func TestInitializeMemberRegistersViaRuntimeRecord(t *testing.T) {
	driver := newFakeDriver()
	sup, store := newTestSupervisor(t, driver)
	seedTeam(t, store)

	// The agent pings the registration endpoint shortly after the prompt.
	go func() {
		time.Sleep(50 * time.Millisecond)
		team, _ := store.GetTeam("team-1")
		_ = store.SaveRuntimeRecord(&v1.RuntimeRecord{
			Role:         "developer",
			SessionID:    team.Member("m1").SessionName,
			MemberID:     "m1",
			Status:       "active",
			RegisteredAt: time.Now().UTC(),
		})
	}()

	member, message, err := sup.InitializeMember(context.Background(), "team-1", "m1", "/tmp/p")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusActive, member.AgentStatus)
	assert.Equal(t, "registered via direct prompt", message)

	saved, err := store.GetTeam("team-1")
	require.NoError(t, err)
	got := saved.Member("m1")
	assert.Equal(t, v1.AgentStatusActive, got.AgentStatus)
	assert.Equal(t, v1.AgentStatusActive, got.Status)
	assert.NotNil(t, got.ReadyAt)
	assert.Regexp(t, `^alpha-dev-a-[0-9a-f]{8}$`, got.SessionName)
}

func TestInitializeMemberRegistersViaPaneMarker(t *testing.T) {
	driver := newFakeDriver()
	sup, store := newTestSupervisor(t, driver)
	seedTeam(t, store)

	go func() {
		time.Sleep(50 * time.Millisecond)
		team, _ := store.GetTeam("team-1")
		driver.setCapture(team.Member("m1").SessionName, "booting...\n"+registrationMarker+"\n")
	}()

	member, message, err := sup.InitializeMember(context.Background(), "team-1", "m1", "/tmp/p")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusActive, member.AgentStatus)
	assert.Equal(t, "registered via direct prompt", message)
}

func TestInitializeMemberRegistersAfterCleanupAndReinit(t *testing.T) {
	driver := newFakeDriver()
	sup, store := newTestSupervisor(t, driver)
	seedTeam(t, store)

	// The agent stays silent through the first window and only comes up
	// once the cancel keys clear its stuck pane.
	driver.onKey = func(key, session string) {
		if key == "Escape" {
			driver.setCapture(session, registrationMarker)
		}
	}

	member, message, err := sup.InitializeMember(context.Background(), "team-1", "m1", "/tmp/p")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusActive, member.AgentStatus)
	assert.Equal(t, "registered via cleanup and reinit", message)

	// The second step recovers the existing session, it never recreates it.
	ops := driver.ops()
	joined := strings.Join(ops, "\n")
	assert.Contains(t, joined, "key:Escape ")
	assert.NotContains(t, joined, "kill ")
	creates := 0
	for _, op := range ops {
		if strings.HasPrefix(op, "create ") {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
}

func TestInitializeMemberEscalatesThenFails(t *testing.T) {
	driver := newFakeDriver()
	sup, store := newTestSupervisor(t, driver)
	seedTeam(t, store)

	_, _, err := sup.InitializeMember(context.Background(), "team-1", "m1", "/tmp/p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEOUT")

	saved, err := store.GetTeam("team-1")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusInactive, saved.Member("m1").AgentStatus)

	// All three escalation steps ran: create+prompt, cancel keys+prompt,
	// kill+recreate+prompt.
	ops := driver.ops()
	joined := strings.Join(ops, "\n")
	assert.Contains(t, joined, "create ")
	assert.Contains(t, joined, "key:Escape ")
	assert.Contains(t, joined, "key:C-c ")
	assert.Contains(t, joined, "kill ")
	creates := 0
	for _, op := range ops {
		if strings.HasPrefix(op, "create ") {
			creates++
		}
	}
	assert.Equal(t, 2, creates)
}

func TestInitializeMemberUnknownMember(t *testing.T) {
	driver := newFakeDriver()
	sup, store := newTestSupervisor(t, driver)
	seedTeam(t, store)

	_, _, err := sup.InitializeMember(context.Background(), "team-1", "nope", "/tmp/p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestStartTeamMembersAggregatesResults(t *testing.T) {
	driver := newFakeDriver()
	sup, store := newTestSupervisor(t, driver)
	sup.batchDelay = 10 * time.Millisecond
	seedTeam(t, store)

	// m1 and m3 register via pane marker as soon as their sessions appear;
	// m2 never registers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			team, err := store.GetTeam("team-1")
			if err == nil {
				for _, id := range []string{"m1", "m3"} {
					if s := team.Member(id).SessionName; s != "" {
						driver.setCapture(s, registrationMarker)
					}
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	results, err := sup.StartTeamMembers(context.Background(), "team-1", "/tmp/p", []string{"m1", "m2", "m3"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[string]v1.MemberStartResult)
	for _, r := range results {
		byID[r.MemberID] = r
	}
	assert.True(t, byID["m1"].Success)
	assert.True(t, byID["m3"].Success)
	assert.False(t, byID["m2"].Success)
	assert.NotEmpty(t, byID["m2"].Error)
	<-done
}

func TestStartOrchestratorSingleton(t *testing.T) {
	driver := newFakeDriver()
	sup, store := newTestSupervisor(t, driver)

	status, err := sup.StartOrchestrator(context.Background(), "/tmp/p")
	require.NoError(t, err)
	assert.Equal(t, v1.OrchestratorSessionName, status.SessionID)

	saved, err := store.GetOrchestratorStatus()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, v1.OrchestratorSessionName, saved.SessionID)

	// A second start while the session lives is refused.
	_, err = sup.StartOrchestrator(context.Background(), "/tmp/p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	require.NoError(t, sup.StopOrchestrator(context.Background()))
	_, err = sup.StartOrchestrator(context.Background(), "/tmp/p")
	assert.NoError(t, err)
}

func TestBuildSystemPromptContainsRegistration(t *testing.T) {
	prompt := buildSystemPrompt("developer", "/tmp/p", "alpha-dev-a-12345678")
	assert.Contains(t, prompt, "developer")
	assert.Contains(t, prompt, "/tmp/p")
	assert.Contains(t, prompt, "alpha-dev-a-12345678")
	assert.Contains(t, prompt, "/api/v1/register")
	assert.Contains(t, prompt, registrationMarker)
}
