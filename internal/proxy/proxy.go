// Package proxy is the data path: two independent byte pumps between
// the agent's stdio and the child MCP server, each teeing complete
// lines into the observation queue. Forwarding never waits on
// observation — the tee is a non-blocking enqueue.
package proxy

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/frame"
)

// Proxy launches the child process and runs the two pumps.
type Proxy struct {
	argv   []string
	queue  *event.TapQueue
	logger *zap.Logger

	// AgentIn and AgentOut are the agent-side streams, normally the
	// process's own stdio. Overridable for tests.
	AgentIn  io.Reader
	AgentOut io.Writer

	cmd        *exec.Cmd
	childStdin io.WriteCloser
	stdinOnce  sync.Once

	done chan struct{}
}

// New prepares a proxy for the given child argv.
func New(argv []string, queue *event.TapQueue, logger *zap.Logger) *Proxy {
	return &Proxy{
		argv:     argv,
		queue:    queue,
		logger:   logger,
		AgentIn:  os.Stdin,
		AgentOut: os.Stdout,
		done:     make(chan struct{}),
	}
}

// Start spawns the child with the caller's environment, child stderr
// passed through to Sentinel's own stderr, and launches both pumps.
func (p *Proxy) Start() error {
	if len(p.argv) == 0 {
		return fmt.Errorf("proxy: empty child command")
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Stderr = os.Stderr

	childStdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("proxy: open child stdin: %w", err)
	}
	childStdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("proxy: open child stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("proxy: spawn child: %w", err)
	}
	p.cmd = cmd
	p.childStdin = childStdin

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := p.pump(p.AgentIn, childStdin, event.Outbound); err != nil {
			p.logger.Warn("agent->server pump ended", zap.Error(err))
		}
		p.CloseChildStdin()
	}()

	go func() {
		defer wg.Done()
		if err := p.pump(childStdout, p.AgentOut, event.Inbound); err != nil {
			p.logger.Warn("server->agent pump ended", zap.Error(err))
		}
	}()

	go func() {
		wg.Wait()
		close(p.done)
	}()

	return nil
}

// Done is closed once both directions have closed.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

// CloseChildStdin signals EOF to the child. Safe to call repeatedly.
func (p *Proxy) CloseChildStdin() {
	p.stdinOnce.Do(func() {
		if p.childStdin != nil {
			p.childStdin.Close()
		}
	})
}

// SignalChild forwards a signal to the child process.
func (p *Proxy) SignalChild(sig os.Signal) {
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Signal(sig)
	}
}

// WaitChild reaps the child and returns its exit code.
func (p *Proxy) WaitChild() int {
	if p.cmd == nil {
		return 0
	}
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	p.logger.Warn("child wait failed", zap.Error(err))
	return 1
}

// pump copies src to dst, forwarding each chunk before the splitter
// sees it. A read or write error (or EOF) closes this direction only.
func (p *Proxy) pump(src io.Reader, dst io.Writer, dir event.Direction) error {
	split := frame.NewSplitter(0)
	emit := func(line []byte, oversized bool) {
		if len(line) == 0 && !oversized {
			return
		}
		p.queue.TrySend(event.Tap{
			Direction:  dir,
			Bytes:      line,
			Oversized:  oversized,
			ObservedAt: time.Now(),
		})
	}

	buf := make([]byte, 64*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				split.Close(emit)
				return fmt.Errorf("proxy: forward: %w", werr)
			}
			split.Feed(buf[:n], emit)
		}
		if rerr != nil {
			split.Close(emit)
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("proxy: read: %w", rerr)
		}
	}
}
