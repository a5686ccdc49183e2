// Package agent manages worker process lifecycle: spawning isolated
// workspaces, tracking the process table, assignment, and stuck detection.
package agent

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

// LaunchSpec describes the process to start for an agent.
type LaunchSpec struct {
	// AgentID identifies the agent; exported to the process environment.
	AgentID string
	// Workspace is the working directory (the agent's isolated clone).
	Workspace string
	// BriefingPath is the role-briefing file handed to the backend.
	BriefingPath string
	// MailDir is the mailbox directory the agent communicates through.
	MailDir string
	// Command and Args form the backend command line.
	Command string
	Args    []string
}

// Handle is a running agent process.
type Handle interface {
	// PID returns the OS process id, or 0 when unknown.
	PID() int
	// Wait blocks until the process exits and returns its error, if any.
	Wait() error
	// Signal sends a termination signal. Best-effort; signalling an
	// already-dead process is not an error.
	Signal() error
}

// Launcher starts agent processes. The exec implementation is used in
// production; tests substitute a stub so no processes are spawned.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Handle, error)
}

// ExecLauncher launches real OS processes.
type ExecLauncher struct{}

// Launch starts the backend command in the agent's workspace with the
// mailbox location and identity in its environment.
func (ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	args := append([]string{}, spec.Args...)
	if spec.BriefingPath != "" {
		args = append(args, spec.BriefingPath)
	}

	cmd := exec.CommandContext(ctx, spec.Command, args...)
	cmd.Dir = spec.Workspace
	cmd.Env = append(os.Environ(),
		"OVERSEER_AGENT_ID="+spec.AgentID,
		"OVERSEER_MAIL_DIR="+spec.MailDir,
	)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execHandle{cmd: cmd}, nil
}

type execHandle struct {
	cmd *exec.Cmd
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *execHandle) Signal() error {
	if h.cmd.Process == nil {
		return nil
	}
	err := h.cmd.Process.Signal(syscall.SIGTERM)
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}
