package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultStopTimeout is how long Close waits for a worker process to exit
// after its stdin is closed before killing it.
const DefaultStopTimeout = 2 * time.Second

// ProcessTransport runs a worker binary and speaks the stream protocol over
// its stdin and stdout. The worker's stderr is forwarded to the logger.
type ProcessTransport struct {
	*StreamTransport

	cmd         *exec.Cmd
	stdout      *os.File
	logger      *slog.Logger
	stopTimeout time.Duration
	exited      chan struct{}
	closeOnce   sync.Once
}

// StartProcess launches path with args and returns a transport to it.
func StartProcess(ctx context.Context, path string, args []string, logger *slog.Logger) (*ProcessTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	// Our own pipes: cmd.Wait closes the ones from StdoutPipe and StderrPipe,
	// dropping output the worker wrote just before exiting.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// The child holds its own copies; ours would keep the readers from
	// seeing EOF when it exits.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	p := &ProcessTransport{
		StreamTransport: NewStreamTransport(stdoutR, stdin, stdin),
		cmd:             cmd,
		stdout:          stdoutR,
		logger:          logger.With("worker_pid", cmd.Process.Pid),
		stopTimeout:     DefaultStopTimeout,
		exited:          make(chan struct{}),
	}

	go p.logStderr(stderrR)
	go p.wait()

	p.logger.Info("worker process started", "path", path)
	return p, nil
}

// Close closes the worker's stdin, waits for it to exit and kills it if it
// does not exit in time.
func (p *ProcessTransport) Close() error {
	p.closeOnce.Do(func() {
		_ = p.StreamTransport.Close()

		select {
		case <-p.exited:
		case <-time.After(p.stopTimeout):
			p.logger.Warn("worker process stop timeout, killing")
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.Error("failed to kill worker process", "error", err)
			}
			<-p.exited
		}
		_ = p.stdout.Close()
	})
	return nil
}

func (p *ProcessTransport) wait() {
	defer close(p.exited)

	if err := p.cmd.Wait(); err != nil {
		p.logger.Warn("worker process exited", "error", err)
		return
	}
	p.logger.Debug("worker process exited cleanly")
}

// logStderr forwards worker log lines, keeping their level where the line
// carries one.
func (p *ProcessTransport) logStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "level=ERROR"):
			p.logger.Error("worker", "log", line)
		case strings.Contains(line, "level=WARN"):
			p.logger.Warn("worker", "log", line)
		default:
			p.logger.Debug("worker", "log", line)
		}
	}
}
