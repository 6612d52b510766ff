// Package storage owns snapshot persistence for AgentMux. Every entity
// collection lives in one JSON file under the home directory; mutations are
// read-modify-write under a per-file mutex with an atomic replace, so a failed
// write leaves the previous snapshot intact.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Snapshot file names under the home directory.
const (
	teamsFile           = "teams.json"
	projectsFile        = "projects.json"
	scheduledFile       = "scheduled_messages.json"
	deliveryLogFile     = "delivery_log.json"
	inProgressTasksFile = "in_progress_tasks.json"
	runtimeFile         = "runtime.json"
	orchestratorFile    = "orchestrator.json"
)

// Store reads and writes the snapshot files. It is safe for concurrent use.
type Store struct {
	homeDir string
	logger  *logger.Logger

	fileMu map[string]*sync.Mutex
	mu     sync.Mutex
}

// NewStore creates a store rooted at homeDir, creating the directory if needed.
func NewStore(homeDir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(homeDir, 0755); err != nil {
		return nil, apperrors.StorageError("failed to create home directory", err)
	}
	return &Store{
		homeDir: homeDir,
		logger:  log.WithFields(zap.String("component", "storage")),
		fileMu:  make(map[string]*sync.Mutex),
	}, nil
}

// HomeDir returns the snapshot root.
func (s *Store) HomeDir() string {
	return s.homeDir
}

func (s *Store) lock(file string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.fileMu[file]
	if !ok {
		m = &sync.Mutex{}
		s.fileMu[file] = m
	}
	return m
}

// readJSON loads a snapshot file into out. A missing file is not an error;
// out keeps its zero value.
func (s *Store) readJSON(file string, out interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.homeDir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.StorageError(fmt.Sprintf("failed to read %s", file), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.StorageError(fmt.Sprintf("failed to parse %s", file), err)
	}
	return nil
}

// writeJSON atomically replaces a snapshot file: marshal, write a temp file in
// the same directory, then rename over the target.
func (s *Store) writeJSON(file string, in interface{}) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return apperrors.StorageError(fmt.Sprintf("failed to encode %s", file), err)
	}

	target := filepath.Join(s.homeDir, file)
	tmp, err := os.CreateTemp(s.homeDir, file+".tmp-*")
	if err != nil {
		return apperrors.StorageError(fmt.Sprintf("failed to stage %s", file), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.StorageError(fmt.Sprintf("failed to write %s", file), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.StorageError(fmt.Sprintf("failed to flush %s", file), err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return apperrors.StorageError(fmt.Sprintf("failed to replace %s", file), err)
	}
	return nil
}

// --- Teams ---

// GetTeams returns all teams, empty when the snapshot is absent.
func (s *Store) GetTeams() ([]v1.Team, error) {
	m := s.lock(teamsFile)
	m.Lock()
	defer m.Unlock()

	var teams []v1.Team
	if err := s.readJSON(teamsFile, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// GetTeam returns one team by id.
func (s *Store) GetTeam(teamID string) (*v1.Team, error) {
	teams, err := s.GetTeams()
	if err != nil {
		return nil, err
	}
	for i := range teams {
		if teams[i].ID == teamID {
			return &teams[i], nil
		}
	}
	return nil, apperrors.NotFound("team", teamID)
}

// GetTeamByName returns one team by its unique name.
func (s *Store) GetTeamByName(name string) (*v1.Team, error) {
	teams, err := s.GetTeams()
	if err != nil {
		return nil, err
	}
	for i := range teams {
		if teams[i].Name == name {
			return &teams[i], nil
		}
	}
	return nil, apperrors.NotFound("team", name)
}

// SaveTeam inserts or replaces a team by id.
func (s *Store) SaveTeam(team *v1.Team) error {
	m := s.lock(teamsFile)
	m.Lock()
	defer m.Unlock()

	var teams []v1.Team
	if err := s.readJSON(teamsFile, &teams); err != nil {
		return err
	}
	replaced := false
	for i := range teams {
		if teams[i].ID == team.ID {
			teams[i] = *team
			replaced = true
			break
		}
	}
	if !replaced {
		teams = append(teams, *team)
	}
	return s.writeJSON(teamsFile, teams)
}

// UpdateTeam applies fn to one team under the snapshot lock, so the whole
// read-modify-write cycle is atomic with respect to every other team
// mutation. fn returning an error aborts without writing.
func (s *Store) UpdateTeam(teamID string, fn func(team *v1.Team) error) (*v1.Team, error) {
	m := s.lock(teamsFile)
	m.Lock()
	defer m.Unlock()

	var teams []v1.Team
	if err := s.readJSON(teamsFile, &teams); err != nil {
		return nil, err
	}
	for i := range teams {
		if teams[i].ID == teamID {
			if err := fn(&teams[i]); err != nil {
				return nil, err
			}
			if err := s.writeJSON(teamsFile, teams); err != nil {
				return nil, err
			}
			team := teams[i]
			return &team, nil
		}
	}
	return nil, apperrors.NotFound("team", teamID)
}

// DeleteTeam removes a team by id.
func (s *Store) DeleteTeam(teamID string) error {
	m := s.lock(teamsFile)
	m.Lock()
	defer m.Unlock()

	var teams []v1.Team
	if err := s.readJSON(teamsFile, &teams); err != nil {
		return err
	}
	for i := range teams {
		if teams[i].ID == teamID {
			teams = append(teams[:i], teams[i+1:]...)
			return s.writeJSON(teamsFile, teams)
		}
	}
	return apperrors.NotFound("team", teamID)
}

// --- Projects ---

// GetProjects returns all projects.
func (s *Store) GetProjects() ([]v1.Project, error) {
	m := s.lock(projectsFile)
	m.Lock()
	defer m.Unlock()

	var projects []v1.Project
	if err := s.readJSON(projectsFile, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject returns one project by id.
func (s *Store) GetProject(projectID string) (*v1.Project, error) {
	projects, err := s.GetProjects()
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].ID == projectID {
			return &projects[i], nil
		}
	}
	return nil, apperrors.NotFound("project", projectID)
}

// SaveProject inserts or replaces a project by id.
func (s *Store) SaveProject(project *v1.Project) error {
	m := s.lock(projectsFile)
	m.Lock()
	defer m.Unlock()

	var projects []v1.Project
	if err := s.readJSON(projectsFile, &projects); err != nil {
		return err
	}
	replaced := false
	for i := range projects {
		if projects[i].ID == project.ID {
			projects[i] = *project
			replaced = true
			break
		}
	}
	if !replaced {
		projects = append(projects, *project)
	}
	return s.writeJSON(projectsFile, projects)
}

// DeleteProject removes a project by id.
func (s *Store) DeleteProject(projectID string) error {
	m := s.lock(projectsFile)
	m.Lock()
	defer m.Unlock()

	var projects []v1.Project
	if err := s.readJSON(projectsFile, &projects); err != nil {
		return err
	}
	for i := range projects {
		if projects[i].ID == projectID {
			projects = append(projects[:i], projects[i+1:]...)
			return s.writeJSON(projectsFile, projects)
		}
	}
	return apperrors.NotFound("project", projectID)
}

// --- Scheduled messages ---

// GetScheduledMessages returns all scheduled messages.
func (s *Store) GetScheduledMessages() ([]v1.ScheduledMessage, error) {
	m := s.lock(scheduledFile)
	m.Lock()
	defer m.Unlock()

	var msgs []v1.ScheduledMessage
	if err := s.readJSON(scheduledFile, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetScheduledMessage returns one scheduled message by id.
func (s *Store) GetScheduledMessage(id string) (*v1.ScheduledMessage, error) {
	msgs, err := s.GetScheduledMessages()
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ID == id {
			return &msgs[i], nil
		}
	}
	return nil, apperrors.NotFound("scheduled message", id)
}

// SaveScheduledMessage inserts or replaces a scheduled message by id.
func (s *Store) SaveScheduledMessage(msg *v1.ScheduledMessage) error {
	m := s.lock(scheduledFile)
	m.Lock()
	defer m.Unlock()

	var msgs []v1.ScheduledMessage
	if err := s.readJSON(scheduledFile, &msgs); err != nil {
		return err
	}
	replaced := false
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = *msg
			replaced = true
			break
		}
	}
	if !replaced {
		msgs = append(msgs, *msg)
	}
	return s.writeJSON(scheduledFile, msgs)
}

// DeleteScheduledMessage removes a scheduled message by id.
func (s *Store) DeleteScheduledMessage(id string) error {
	m := s.lock(scheduledFile)
	m.Lock()
	defer m.Unlock()

	var msgs []v1.ScheduledMessage
	if err := s.readJSON(scheduledFile, &msgs); err != nil {
		return err
	}
	for i := range msgs {
		if msgs[i].ID == id {
			msgs = append(msgs[:i], msgs[i+1:]...)
			return s.writeJSON(scheduledFile, msgs)
		}
	}
	return apperrors.NotFound("scheduled message", id)
}

// --- Delivery log ---

// AppendDeliveryLog appends one delivery attempt to the append-only log.
func (s *Store) AppendDeliveryLog(entry *v1.MessageDeliveryLog) error {
	m := s.lock(deliveryLogFile)
	m.Lock()
	defer m.Unlock()

	var entries []v1.MessageDeliveryLog
	if err := s.readJSON(deliveryLogFile, &entries); err != nil {
		return err
	}
	entries = append(entries, *entry)
	return s.writeJSON(deliveryLogFile, entries)
}

// GetDeliveryLogs returns the full delivery log.
func (s *Store) GetDeliveryLogs() ([]v1.MessageDeliveryLog, error) {
	m := s.lock(deliveryLogFile)
	m.Lock()
	defer m.Unlock()

	var entries []v1.MessageDeliveryLog
	if err := s.readJSON(deliveryLogFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// --- In-progress task registry snapshot ---

// GetInProgressTasks returns the persisted registry entries.
func (s *Store) GetInProgressTasks() ([]v1.InProgressTask, error) {
	m := s.lock(inProgressTasksFile)
	m.Lock()
	defer m.Unlock()

	var entries []v1.InProgressTask
	if err := s.readJSON(inProgressTasksFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveInProgressTasks replaces the persisted registry entries. The task
// registry owns the slice and flushes it here after every mutation.
func (s *Store) SaveInProgressTasks(entries []v1.InProgressTask) error {
	m := s.lock(inProgressTasksFile)
	m.Lock()
	defer m.Unlock()
	return s.writeJSON(inProgressTasksFile, entries)
}

// --- Runtime registration records ---

// GetRuntimeRecord returns the registration ping for a role, or nil when the
// role has never registered.
func (s *Store) GetRuntimeRecord(role string) (*v1.RuntimeRecord, error) {
	m := s.lock(runtimeFile)
	m.Lock()
	defer m.Unlock()

	records := make(map[string]v1.RuntimeRecord)
	if err := s.readJSON(runtimeFile, &records); err != nil {
		return nil, err
	}
	rec, ok := records[role]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// SaveRuntimeRecord upserts the registration ping for a role.
func (s *Store) SaveRuntimeRecord(rec *v1.RuntimeRecord) error {
	m := s.lock(runtimeFile)
	m.Lock()
	defer m.Unlock()

	records := make(map[string]v1.RuntimeRecord)
	if err := s.readJSON(runtimeFile, &records); err != nil {
		return err
	}
	records[rec.Role] = *rec
	return s.writeJSON(runtimeFile, records)
}

// --- Orchestrator status singleton ---

// GetOrchestratorStatus returns the orchestrator record, or nil when absent.
func (s *Store) GetOrchestratorStatus() (*v1.OrchestratorStatus, error) {
	m := s.lock(orchestratorFile)
	m.Lock()
	defer m.Unlock()

	var status v1.OrchestratorStatus
	if err := s.readJSON(orchestratorFile, &status); err != nil {
		return nil, err
	}
	if status.SessionID == "" {
		return nil, nil
	}
	return &status, nil
}

// SaveOrchestratorStatus replaces the orchestrator record.
func (s *Store) SaveOrchestratorStatus(status *v1.OrchestratorStatus) error {
	m := s.lock(orchestratorFile)
	m.Lock()
	defer m.Unlock()
	return s.writeJSON(orchestratorFile, status)
}
