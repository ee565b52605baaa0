//go:build linux

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"taskoracle/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const defaultFileSizeMB int64 = 16

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.StdoutStderrMaxBytes <= 0 {
		cfg.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroup is enabled")
	}
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Run(ctx context.Context, spec ExecSpec) (ExecResult, error) {
	if err := validateExecSpec(spec); err != nil {
		return ExecResult{}, err
	}

	cgroupPath := ""
	cgroupCleanup := func() {}
	if e.cfg.EnableCgroup {
		var err error
		cgroupPath, cgroupCleanup, err = createRunCgroup(e.cfg.CgroupRoot, spec.RunID)
		if err != nil {
			return ExecResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		if err := applyCgroupLimits(cgroupPath, spec.Limits); err != nil {
			cgroupCleanup()
			return ExecResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}
	defer cgroupCleanup()

	cmd := exec.Command(spec.Cmd[0], spec.Cmd[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = buildSysProcAttr(e.cfg.EnableNamespaces)
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	stdout := newCappedBuffer(e.cfg.StdoutStderrMaxBytes)
	stderr := newCappedBuffer(e.cfg.StdoutStderrMaxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ExecResult{}, fmt.Errorf("start process: %w", err)
	}
	pid := cmd.Process.Pid

	if e.cfg.EnablePrlimit {
		if err := applyRlimits(pid, spec.Limits); err != nil {
			logger.Warn(ctx, "apply rlimits failed", zap.Int("pid", pid), zap.Error(err))
		}
	}
	if e.cfg.EnableCgroup {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if spec.Limits.WallTime > 0 {
			timer := time.NewTimer(spec.Limits.WallTime)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			timedOut.Store(true)
			e.kill(pid, cgroupPath)
		case <-wallTimer:
			timedOut.Store(true)
			e.kill(pid, cgroupPath)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	res := ExecResult{
		ExitCode:        exitCodeFromErr(waitErr, cmd.ProcessState),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
		WallTimeMs:      time.Since(start).Milliseconds(),
		MemoryKB:        memoryPeakKB(cgroupPath, cmd.ProcessState),
		TimedOut:        timedOut.Load(),
		OomKilled:       wasOomKilled(cgroupPath),
	}
	if res.TimedOut && res.ExitCode == 0 {
		res.ExitCode = -1
	}
	return res, nil
}

func (e *linuxEngine) kill(pid int, cgroupPath string) {
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func validateExecSpec(spec ExecSpec) error {
	if len(spec.Cmd) == 0 || spec.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if spec.Dir == "" {
		return fmt.Errorf("work dir is required")
	}
	if spec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	return nil
}

func buildSysProcAttr(enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if enableNamespaces {
		attr.Cloneflags = syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWNET | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	}
	return attr
}

func applyRlimits(pid int, limits Limits) error {
	if limits.MemoryMB > 0 {
		memBytes := uint64(limits.MemoryMB) * 1024 * 1024
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &unix.Rlimit{Cur: memBytes, Max: memBytes}, nil); err != nil {
			return fmt.Errorf("RLIMIT_AS: %w", err)
		}
	}
	if err := unix.Prlimit(pid, unix.RLIMIT_CORE, &unix.Rlimit{}, nil); err != nil {
		return fmt.Errorf("RLIMIT_CORE: %w", err)
	}
	fsize := limits.FileSizeMB
	if fsize <= 0 {
		fsize = defaultFileSizeMB
	}
	fsizeBytes := uint64(fsize) * 1024 * 1024
	if err := unix.Prlimit(pid, unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: fsizeBytes, Max: fsizeBytes}, nil); err != nil {
		return fmt.Errorf("RLIMIT_FSIZE: %w", err)
	}
	return nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
