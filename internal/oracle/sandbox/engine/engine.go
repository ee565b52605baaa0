// Package engine runs one sandboxed process with wall-clock, memory and
// output limits.
package engine

import (
	"context"
	"time"
)

// Limits are hard limits enforced on a single process tree.
type Limits struct {
	WallTime time.Duration
	MemoryMB int64
	PIDs     int64
	// FileSizeMB bounds any single file the process writes.
	FileSizeMB int64
}

// ExecSpec describes one process execution.
type ExecSpec struct {
	RunID  string
	Dir    string
	Cmd    []string
	Env    []string
	Stdin  []byte
	Limits Limits
}

// ExecResult is the raw outcome of an execution. Timeouts and memory kills
// are reported here, never as errors.
type ExecResult struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	WallTimeMs      int64
	MemoryKB        int64
	TimedOut        bool
	OomKilled       bool
}

// Engine executes an ExecSpec inside the sandbox.
type Engine interface {
	Run(ctx context.Context, spec ExecSpec) (ExecResult, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	CgroupRoot           string `yaml:"cgroupRoot"`
	StdoutStderrMaxBytes int64  `yaml:"stdoutStderrMaxBytes"`
	EnableCgroup         bool   `yaml:"enableCgroup"`
	EnableNamespaces     bool   `yaml:"enableNamespaces"`
	EnablePrlimit        bool   `yaml:"enablePrlimit"`
}

const defaultStdoutStderrMaxBytes int64 = 8 * 1024
