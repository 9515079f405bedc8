// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the YAML run configuration.
//
// A configuration file declares the benchmark commands to profile and the
// valgrind tools to run them under. The package holds no process-wide
// state: Load takes an explicit path and returns an explicit value, and
// environment handling stays with the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/benchgrind/pkg/compare"
	"github.com/AleutianAI/benchgrind/pkg/regression"
	"github.com/AleutianAI/benchgrind/pkg/summary"
	"github.com/AleutianAI/benchgrind/pkg/valgrind"
)

// configValidate is the validator instance for configuration structs.
// Initialized in init() with the custom validators.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("tool", validateTool)
	_ = configValidate.RegisterValidation("baselinename", validateBaselineName)
	_ = configValidate.RegisterValidation("enventry", validateEnvEntry)
	_ = configValidate.RegisterValidation("exitwith", validateExitWith)
}

// validateTool accepts any valgrind tool identifier ParseTool knows.
func validateTool(fl validator.FieldLevel) bool {
	_, err := valgrind.ParseTool(fl.Field().String())
	return err == nil
}

// validateBaselineName enforces the shared baseline naming rule.
func validateBaselineName(fl validator.FieldLevel) bool {
	return valgrind.ValidateBaselineName(fl.Field().String()) == nil
}

// validateEnvEntry accepts "KEY=VALUE" assignments and bare "KEY" names,
// which pass the variable through from the parent environment.
func validateEnvEntry(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s != "" && !strings.HasPrefix(s, "=")
}

// validateExitWith accepts "success", "failure" or an exit code.
func validateExitWith(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "success" || s == "failure" {
		return true
	}
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0 && n <= 255
}

// Config is the run configuration, usually loaded from benchgrind.yaml.
//
// A zero value is not runnable; start from Default and overlay a file with
// Load, or fill the fields directly in code.
type Config struct {
	// ProjectRoot anchors relative paths recorded in summaries.
	// Empty means the caller's working directory.
	ProjectRoot string `yaml:"project_root"`

	// OutputDir is the directory tree for tool outputs and summaries,
	// one subdirectory per benchmark.
	OutputDir string `yaml:"output_dir" validate:"required"`

	// SummaryFormat selects the summary.json encoding.
	SummaryFormat string `yaml:"summary_format" validate:"oneof=json pretty-json"`

	// Tolerance is the display tolerance in percent. Differences at or
	// below it render as unchanged. Regression limits always see the raw
	// difference regardless of this setting.
	Tolerance float64 `yaml:"tolerance" validate:"gte=0"`

	// FailFast stops the benchmark loop after the first regressed
	// benchmark and stops rule evaluation after the first fired rule.
	FailFast bool `yaml:"fail_fast"`

	// Baseline compares runs against the named baseline instead of the
	// previous run. Mutually exclusive with SaveBaseline.
	Baseline string `yaml:"baseline" validate:"omitempty,baselinename"`

	// SaveBaseline saves each run under the name and compares against the
	// name's previous content. Mutually exclusive with Baseline.
	SaveBaseline string `yaml:"save_baseline" validate:"omitempty,baselinename"`

	// Tools lists the valgrind tools each benchmark runs under.
	// Empty selects callgrind.
	Tools []Tool `yaml:"tools" validate:"omitempty,dive"`

	// Benchmarks lists the commands to profile.
	Benchmarks []Benchmark `yaml:"benchmarks" validate:"required,min=1,dive"`
}

// Tool configures one valgrind tool for the run.
type Tool struct {
	// Name is the valgrind tool identifier, e.g. "callgrind" or "dhat".
	Name string `yaml:"name" validate:"required,tool"`

	// Args are extra valgrind arguments for this tool. Output file
	// options are owned by the runner and must not appear here.
	Args []string `yaml:"args"`

	// Limits is the regression limit expression for this tool, e.g.
	// "ir=10%" or "@default=10%,estimatedcycles=1000000". Empty applies
	// the tool's default limits.
	Limits string `yaml:"limits"`

	// Flamegraph folds the tool's output into flamegraph stacks after
	// each run. Only meaningful for callgrind.
	Flamegraph bool `yaml:"flamegraph"`

	// EntryPoint is a glob matched against function names to pick the
	// flamegraph root. Empty picks the costliest uncalled frame.
	EntryPoint string `yaml:"entry_point"`
}

// Benchmark configures one command to profile.
type Benchmark struct {
	// Name identifies the benchmark in summaries and file names.
	Name string `yaml:"name" validate:"required"`

	// Kind is "library" or "binary". Empty means binary.
	Kind string `yaml:"kind" validate:"omitempty,oneof=library binary"`

	// Command is the executable to run under valgrind.
	Command string `yaml:"command" validate:"required"`

	// Args are passed to the command.
	Args []string `yaml:"args"`

	// Env entries are "KEY=VALUE" assignments or bare "KEY" names passed
	// through from the parent environment. The benchmark does not inherit
	// anything else.
	Env []string `yaml:"env" validate:"omitempty,dive,enventry"`

	// ExitWith is the exit the command is expected to produce: "success"
	// (the default), "failure" for any non-zero code, or one specific
	// code. Anything else fails the run.
	ExitWith string `yaml:"exit_with" validate:"omitempty,exitwith"`

	// Module, Function and ID name the benchmark the way its harness
	// does, recorded verbatim in summaries.
	Module   string `yaml:"module"`
	Function string `yaml:"function"`
	ID       string `yaml:"id"`

	// Details is a free-text description recorded in summaries.
	Details string `yaml:"details"`
}

// Default returns the runnable defaults: callgrind only, JSON summaries,
// the standard display tolerance. Benchmarks must still be filled in.
func Default() Config {
	return Config{
		OutputDir:     "target/benchgrind",
		SummaryFormat: "json",
		Tolerance:     compare.DefaultTolerance,
		Tools:         DefaultTools(),
	}
}

// DefaultTools returns the tool selection used when the configuration
// names none.
func DefaultTools() []Tool {
	return []Tool{{Name: valgrind.Callgrind.ID()}}
}

// Load reads the configuration file at path over the defaults and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file '%s': %w", path, err)
	}
	if len(cfg.Tools) == 0 {
		cfg.Tools = DefaultTools()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config '%s': %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the struct tags and the rules the tags cannot express:
// unique names, baseline exclusivity and statically checkable limits.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return err
	}
	if c.Baseline != "" && c.SaveBaseline != "" {
		return fmt.Errorf("baseline and save_baseline are mutually exclusive")
	}

	names := make(map[string]bool, len(c.Benchmarks))
	for _, b := range c.Benchmarks {
		if names[b.Name] {
			return fmt.Errorf("duplicate benchmark name '%s'", b.Name)
		}
		names[b.Name] = true
	}

	tools := make(map[string]bool, len(c.Tools))
	for _, t := range c.Tools {
		if tools[t.Name] {
			return fmt.Errorf("duplicate tool '%s'", t.Name)
		}
		tools[t.Name] = true
		// Limit expressions are checked here so a typo fails the load,
		// not the run.
		if _, err := t.Regression(); err != nil {
			return err
		}
	}
	return nil
}

// BaselineKind returns what runs compare against: the named baseline when
// one is configured, the previous run otherwise.
func (c *Config) BaselineKind() valgrind.BaselineKind {
	switch {
	case c.SaveBaseline != "":
		return valgrind.CompareToBaseline(c.SaveBaseline)
	case c.Baseline != "":
		return valgrind.CompareToBaseline(c.Baseline)
	default:
		return valgrind.CompareToOld()
	}
}

// SavesBaseline reports whether runs are stored under a baseline name.
func (c *Config) SavesBaseline() bool {
	return c.SaveBaseline != ""
}

// Format returns the configured summary encoding.
func (c *Config) Format() summary.Format {
	var f summary.Format
	// The oneof tag has already constrained the value.
	_ = f.UnmarshalText([]byte(c.SummaryFormat))
	return f
}

// Tool resolves the valgrind tool this entry configures.
func (t Tool) Tool() (valgrind.Tool, error) {
	return valgrind.ParseTool(t.Name)
}

// Regression resolves the tool's limit expression: the tool's default
// limits when empty, the parsed expression otherwise. Tools without a
// metric namespace accept no limits.
func (t Tool) Regression() (regression.Config, error) {
	tool, err := t.Tool()
	if err != nil {
		return regression.Config{}, err
	}
	ns, ok := tool.Namespace()
	if !ok {
		if t.Limits != "" {
			return regression.Config{}, fmt.Errorf(
				"tool '%s' produces no metrics, limits cannot apply", tool.ID())
		}
		return regression.Config{}, nil
	}
	if t.Limits == "" {
		return regression.Default(ns), nil
	}
	cfg, err := regression.ParseLimits(ns, t.Limits)
	if err != nil {
		return regression.Config{}, fmt.Errorf("invalid limits for tool '%s': %w", tool.ID(), err)
	}
	return cfg, nil
}

// BenchmarkKind returns the summary kind for this benchmark.
func (b Benchmark) BenchmarkKind() summary.BenchmarkKind {
	if b.Kind == "library" {
		return summary.LibraryBenchmark
	}
	return summary.BinaryBenchmark
}
