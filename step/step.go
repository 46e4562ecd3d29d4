// Package step defines the contract a pipeline step exposes to the run
// engine: three phase functions (load, core, save) operating against a
// RunContext, replacing the reference implementation's decorator-marked
// module functions with a plain Go interface.
package step

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Step is the three-phase contract a pipeline step implements.
type Step interface {
	// Load reads inputs from rc.InputDir keyed by logical name and
	// returns a mapping consumed by Core.
	Load(ctx context.Context, rc *RunContext) (map[string]any, error)

	// Core is a pure transformation over the loaded inputs, returning a
	// mapping whose values Save consumes.
	Core(ctx context.Context, rc *RunContext, loaded map[string]any) (map[string]any, error)

	// Save writes to rc.OutputDir; its top-level entries become the
	// run's outputs.
	Save(ctx context.Context, rc *RunContext, results map[string]any) error
}

// DefaultParams is an optional interface a Step may implement to declare
// parameter defaults. Precedence resolution (CLI > env > config >
// defaults) is an external collaborator's responsibility; the run engine
// only ever sees the already-resolved effective parameter map.
type DefaultParams interface {
	DefaultParams() map[string]any
}

// Funcs adapts three bare function values into a Step, mirroring the
// reference implementation's @load/@core/@save markers without inventing a
// dynamic module loader.
type Funcs struct {
	LoadFunc func(ctx context.Context, rc *RunContext) (map[string]any, error)
	CoreFunc func(ctx context.Context, rc *RunContext, loaded map[string]any) (map[string]any, error)
	SaveFunc func(ctx context.Context, rc *RunContext, results map[string]any) error
}

func (f Funcs) Load(ctx context.Context, rc *RunContext) (map[string]any, error) {
	return f.LoadFunc(ctx, rc)
}

func (f Funcs) Core(ctx context.Context, rc *RunContext, loaded map[string]any) (map[string]any, error) {
	return f.CoreFunc(ctx, rc, loaded)
}

func (f Funcs) Save(ctx context.Context, rc *RunContext, results map[string]any) error {
	return f.SaveFunc(ctx, rc, results)
}

// RunContext is the container passed to a step's three phases.
type RunContext struct {
	// RunDir is the working folder for this run (contains "in" and
	// "out").
	RunDir string
	// InputDir is where inputs are materialized, RunDir/in.
	InputDir string
	// OutputDir is where a step writes outputs; its top-level entries
	// are collected as outputs, RunDir/out.
	OutputDir string
	// Params is the effective parameter mapping.
	Params map[string]any
	// Env is the environment summary.
	Env map[string]any
}

// OutputPath returns a path inside OutputDir for logicalName, creating
// parent directories as needed.
func (rc *RunContext) OutputPath(logicalName string) (string, error) {
	p := filepath.Join(rc.OutputDir, logicalName)
	if err := os.MkdirAll(filepath.Dir(p), 0o777); err != nil {
		return "", fmt.Errorf("step: output path %s: %w", logicalName, err)
	}
	return p, nil
}

// InputPath returns a path inside InputDir for logicalName, useful for
// directory inputs.
func (rc *RunContext) InputPath(logicalName string) string {
	return filepath.Join(rc.InputDir, logicalName)
}

// OpenInput opens a file inside InputDir by logical name.
func (rc *RunContext) OpenInput(logicalName string) (*os.File, error) {
	return os.Open(rc.InputPath(logicalName))
}
