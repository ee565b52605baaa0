//go:build !linux

package engine

import (
	"context"
	"fmt"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, spec ExecSpec) (ExecResult, error) {
	return ExecResult{}, fmt.Errorf("sandbox engine is only supported on linux")
}
