package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/webadb/droidgate/internal/gateway"
	"github.com/webadb/droidgate/internal/session"
)

// shellSession is one interactive device shell. The underlying process is
// `adb shell` on a PTY; input is accepted line by line and every line must
// pass the command gateway before it reaches the device.
type shellSession struct {
	ID         string
	Status     string
	ExitCode   int
	StartedAt  time.Time
	UpdatedAt  time.Time
	OutputTail string

	file   *os.File
	cmd    *exec.Cmd
	cancel context.CancelFunc

	mu      sync.Mutex
	pending string
}

func (server *daemonServer) createShellSession(serial string) (map[string]any, int, error) {
	snapshot := server.sessionManager.Snapshot()
	if snapshot.State != session.StateConnected {
		return nil, 409, fmt.Errorf("interactive shell requires a connected device session (state is %s)", snapshot.State)
	}

	shellCtx, cancel := context.WithCancel(context.Background())
	args := []string{"shell"}
	if strings.TrimSpace(serial) != "" {
		args = []string{"-s", strings.TrimSpace(serial), "shell"}
	}
	execCommand := exec.CommandContext(shellCtx, "adb", args...)

	ptyFile, startError := pty.Start(execCommand)
	if startError != nil {
		cancel()
		return nil, 500, fmt.Errorf("start device shell: %w", startError)
	}

	shell := &shellSession{
		ID:        "shell_" + uuid.NewString(),
		Status:    "running",
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
		file:      ptyFile,
		cmd:       execCommand,
		cancel:    cancel,
	}

	server.shellSessionsMutex.Lock()
	server.shellSessions[shell.ID] = shell
	server.shellSessionsMutex.Unlock()

	go server.consumeShellOutput(shell)
	return map[string]any{
		"session_id": shell.ID,
		"status":     shell.Status,
	}, 200, nil
}

// feedInput buffers raw keystrokes and releases only complete, validated
// lines to the device. Rejected lines are echoed back with the reason and
// never reach the channel.
func (shell *shellSession) feedInput(commandGateway *gateway.Gateway, data string, echo func(chunk string)) error {
	shell.mu.Lock()
	shell.pending += strings.ReplaceAll(data, "\r\n", "\n")
	buffered := shell.pending
	lines := []string{}
	for {
		newlineIndex := strings.IndexByte(buffered, '\n')
		if newlineIndex < 0 {
			break
		}
		lines = append(lines, buffered[:newlineIndex])
		buffered = buffered[newlineIndex+1:]
	}
	shell.pending = buffered
	shell.mu.Unlock()

	for _, line := range lines {
		trimmedLine := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if trimmedLine == "" {
			continue
		}
		outcome := commandGateway.ValidateTerminalCommand(trimmedLine)
		if !outcome.Accepted {
			echo(fmt.Sprintf("droidgate: rejected: %s\r\n", outcome.Reason))
			continue
		}
		shell.mu.Lock()
		_, writeError := shell.file.WriteString(outcome.NormalizedValue + "\n")
		shell.mu.Unlock()
		if writeError != nil {
			return writeError
		}
	}
	return nil
}

func (server *daemonServer) consumeShellOutput(shell *shellSession) {
	reader := bufio.NewReader(shell.file)
	buffer := make([]byte, 512)
	for {
		n, readError := reader.Read(buffer)
		if n > 0 {
			chunk := string(buffer[:n])
			shell.mu.Lock()
			shell.OutputTail = tailString(shell.OutputTail+chunk, 8000)
			shell.UpdatedAt = time.Now()
			shell.mu.Unlock()
			server.events.broadcast("shell_output", map[string]any{
				"session_id": shell.ID,
				"chunk":      chunk,
			})
		}
		if readError != nil {
			break
		}
	}

	exitCode := 0
	if waitError := shell.cmd.Wait(); waitError != nil {
		exitCode = 1
	}
	shell.mu.Lock()
	shell.ExitCode = exitCode
	if exitCode == 0 {
		shell.Status = "closed"
	} else {
		shell.Status = "failed"
	}
	shell.UpdatedAt = time.Now()
	_ = shell.file.Close()
	shell.mu.Unlock()
	server.events.broadcast("shell_closed", map[string]any{
		"session_id": shell.ID,
		"exit_code":  exitCode,
	})
}

// echoLocal surfaces daemon-side text (rejection notices) in the session
// transcript without touching the device.
func (server *daemonServer) echoLocal(shell *shellSession, chunk string) {
	shell.mu.Lock()
	shell.OutputTail = tailString(shell.OutputTail+chunk, 8000)
	shell.UpdatedAt = time.Now()
	shell.mu.Unlock()
	server.events.broadcast("shell_output", map[string]any{
		"session_id": shell.ID,
		"chunk":      chunk,
	})
}

func tailString(text string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if len(text) <= maxLength {
		return text
	}
	return text[len(text)-maxLength:]
}
