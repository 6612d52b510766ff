// Package tmux drives terminal multiplexer sessions by shelling out to the
// tmux binary. All invocations carry a bounded timeout; session creation is
// limited by a concurrency gate so a large team start cannot exhaust the host.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// maxConcurrentCreates caps parallel new-session invocations.
const maxConcurrentCreates = 2

// SessionInfo describes one tmux session as reported by list-sessions.
type SessionInfo struct {
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Attached bool      `json:"attached"`
	Windows  int       `json:"windows"`
}

// KillResult reports the outcome of a kill. Killing a missing session is a
// success with NotFound set.
type KillResult struct {
	Killed   bool `json:"killed"`
	NotFound bool `json:"notFound"`
}

// runnerFunc executes a tmux invocation and returns combined stdout.
// Swapped out in tests.
type runnerFunc func(ctx context.Context, bin string, args ...string) (string, error)

// Client shells out to tmux. Sends to a single session are serialized so the
// core's submission order is the delivery order for that session.
type Client struct {
	bin            string
	commandTimeout time.Duration
	captureTimeout time.Duration
	captureLines   int

	createGate *semaphore.Weighted
	run        runnerFunc

	sessionMu map[string]*sync.Mutex
	mu        sync.Mutex

	logger *logger.Logger
}

// NewClient creates a tmux client from configuration.
func NewClient(cfg config.TmuxConfig, log *logger.Logger) *Client {
	return &Client{
		bin:            cfg.Binary,
		commandTimeout: cfg.CommandTimeoutDuration(),
		captureTimeout: cfg.CaptureTimeoutDuration(),
		captureLines:   cfg.CaptureLines,
		createGate:     semaphore.NewWeighted(maxConcurrentCreates),
		run:            runTmux,
		sessionMu:      make(map[string]*sync.Mutex),
		logger:         log.WithFields(zap.String("component", "tmux")),
	}
}

// runTmux executes tmux with a context deadline and returns stdout.
func runTmux(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.String(), fmt.Errorf("tmux %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

func (c *Client) lockSession(sessionName string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sessionMu[sessionName]
	if !ok {
		m = &sync.Mutex{}
		c.sessionMu[sessionName] = m
	}
	return m
}

func (c *Client) exec(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.run(ctx, c.bin, args...)
}

// Create creates a detached session for a role, rooted at the project path.
// An existing session with the same name is reused.
func (c *Client) Create(ctx context.Context, role, sessionName, projectPath string) error {
	if c.Exists(ctx, sessionName) {
		c.logger.Debug("Session already exists", zap.String("session", sessionName))
		return nil
	}

	if err := c.createGate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.createGate.Release(1)

	args := []string{"new-session", "-d", "-s", sessionName}
	if projectPath != "" {
		args = append(args, "-c", projectPath)
	}
	args = append(args,
		"-e", "TMUX_SESSION_NAME="+sessionName,
		"-e", "AGENTMUX_ROLE="+role,
	)

	if _, err := c.exec(ctx, c.commandTimeout, args...); err != nil {
		c.logger.Error("Failed to create session",
			zap.String("session", sessionName),
			zap.String("role", role),
			zap.Error(err))
		return err
	}

	c.logger.Info("Created session",
		zap.String("session", sessionName),
		zap.String("role", role),
		zap.String("project_path", projectPath))
	return nil
}

// CreateOrchestrator creates the singleton orchestrator session.
func (c *Client) CreateOrchestrator(ctx context.Context, sessionName, projectPath string) error {
	if sessionName == "" {
		sessionName = v1.OrchestratorSessionName
	}
	return c.Create(ctx, string(v1.RoleOrchestrator), sessionName, projectPath)
}

// Exists reports whether the named session is alive.
func (c *Client) Exists(ctx context.Context, sessionName string) bool {
	_, err := c.exec(ctx, c.commandTimeout, "has-session", "-t", sessionName)
	return err == nil
}

// List returns all live sessions.
func (c *Client) List(ctx context.Context) ([]SessionInfo, error) {
	out, err := c.exec(ctx, c.commandTimeout,
		"list-sessions", "-F", "#{session_name}|#{session_created}|#{session_attached}|#{session_windows}")
	if err != nil {
		// No server running means no sessions.
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	return parseSessionList(out), nil
}

func parseSessionList(out string) []SessionInfo {
	var sessions []SessionInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 4 {
			continue
		}
		info := SessionInfo{Name: parts[0]}
		if ts, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			info.Created = time.Unix(ts, 0)
		}
		info.Attached = parts[2] != "0"
		if n, err := strconv.Atoi(parts[3]); err == nil {
			info.Windows = n
		}
		sessions = append(sessions, info)
	}
	return sessions
}

// Kill tears down a session. A missing session is reported as success with
// NotFound set rather than an error.
func (c *Client) Kill(ctx context.Context, sessionName string) (KillResult, error) {
	_, err := c.exec(ctx, c.commandTimeout, "kill-session", "-t", sessionName)
	if err != nil {
		if isMissingSession(err) {
			return KillResult{NotFound: true}, nil
		}
		return KillResult{}, err
	}
	c.logger.Info("Killed session", zap.String("session", sessionName))
	return KillResult{Killed: true}, nil
}

func isMissingSession(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "session not found") ||
		strings.Contains(msg, "no server running")
}

// CapturePane returns the last lines of the session's pane. A missing session
// or an overrun capture returns an empty string, not an error.
func (c *Client) CapturePane(ctx context.Context, sessionName string, lines int) (string, error) {
	if lines <= 0 {
		lines = c.captureLines
	}
	out, err := c.exec(ctx, c.captureTimeout,
		"capture-pane", "-t", sessionName, "-p", "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", nil
	}
	return out, nil
}

// SendMessage types a literal text payload at the session's input prompt
// and commits it with Enter.
func (c *Client) SendMessage(ctx context.Context, sessionName, text string) error {
	m := c.lockSession(sessionName)
	m.Lock()
	defer m.Unlock()

	if _, err := c.exec(ctx, c.commandTimeout, "send-keys", "-t", sessionName, "-l", text); err != nil {
		c.logger.Warn("Failed to send message",
			zap.String("session", sessionName),
			zap.Error(err))
		return err
	}
	_, err := c.exec(ctx, c.commandTimeout, "send-keys", "-t", sessionName, "Enter")
	return err
}

// SendKey sends a single named key (e.g. "Enter", "Escape") to the session.
func (c *Client) SendKey(ctx context.Context, sessionName, key string) error {
	m := c.lockSession(sessionName)
	m.Lock()
	defer m.Unlock()

	_, err := c.exec(ctx, c.commandTimeout, "send-keys", "-t", sessionName, key)
	return err
}
