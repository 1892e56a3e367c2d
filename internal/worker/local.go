package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/longregen/clara/shared/id"
)

// LocalRuntime runs workers as plain child processes, for platforms without
// a container daemon. Labels live in memory, so reconciliation only sees
// workers started by this process.
type LocalRuntime struct {
	command string

	mu    sync.Mutex
	procs map[string]*localProc
}

type localProc struct {
	cmd    *exec.Cmd
	name   string
	labels map[string]string

	done     chan struct{}
	exitCode int
}

func NewLocalRuntime(command string) *LocalRuntime {
	return &LocalRuntime{command: command, procs: make(map[string]*localProc)}
}

func (l *LocalRuntime) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	parts := strings.Fields(l.command)
	if len(parts) == 0 {
		return "", fmt.Errorf("local worker command is empty")
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(), spec.Env...)

	proc := &localProc{cmd: cmd, name: spec.Name, labels: spec.Labels, done: make(chan struct{})}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start worker process: %w", err)
	}

	procID := id.NewWithLength("proc", 12)
	l.mu.Lock()
	l.procs[procID] = proc
	l.mu.Unlock()

	go func() {
		err := cmd.Wait()
		if exitErr, ok := err.(*exec.ExitError); ok {
			proc.exitCode = exitErr.ExitCode()
		}
		close(proc.done)
	}()
	return procID, nil
}

func (l *LocalRuntime) Stop(ctx context.Context, containerID string) error {
	l.mu.Lock()
	proc, ok := l.procs[containerID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker process %q", containerID)
	}

	proc.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-proc.done:
	case <-time.After(10 * time.Second):
		proc.cmd.Process.Kill()
		<-proc.done
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (l *LocalRuntime) Remove(ctx context.Context, containerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.procs, containerID)
	return nil
}

func (l *LocalRuntime) Inspect(ctx context.Context, containerID string) (*ContainerInfo, error) {
	l.mu.Lock()
	proc, ok := l.procs[containerID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown worker process %q", containerID)
	}

	running := true
	select {
	case <-proc.done:
		running = false
	default:
	}
	return &ContainerInfo{
		ID:       containerID,
		Name:     proc.name,
		Labels:   proc.labels,
		Running:  running,
		ExitCode: proc.exitCode,
	}, nil
}

func (l *LocalRuntime) ListByLabel(ctx context.Context, label string) ([]ContainerInfo, error) {
	key, value, hasValue := strings.Cut(label, "=")

	l.mu.Lock()
	defer l.mu.Unlock()
	var infos []ContainerInfo
	for procID, proc := range l.procs {
		v, ok := proc.labels[key]
		if !ok || (hasValue && v != value) {
			continue
		}
		running := true
		select {
		case <-proc.done:
			running = false
		default:
		}
		infos = append(infos, ContainerInfo{
			ID:       procID,
			Name:     proc.name,
			Labels:   proc.labels,
			Running:  running,
			ExitCode: proc.exitCode,
		})
	}
	return infos, nil
}
