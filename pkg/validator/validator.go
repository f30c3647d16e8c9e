// Package validator checks step-definition flows before execution.
// It parses every file upfront, resolves definition references and reports
// all problems at once instead of failing mid-run.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/devicelab-dev/tapresolver/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Flows are the parsed flows that passed the tag filters, in file order.
	Flows []*flow.Flow
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Err joins the errors into one, or returns nil.
func (r *Result) Err() error {
	if r.IsValid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%d validation error(s):\n  %s", len(r.Errors), strings.Join(msgs, "\n  "))
}

// Validator validates flow files.
type Validator struct {
	includeTags []string
	excludeTags []string
	known       map[string]bool
}

// New creates a new Validator. known lists definition IDs that refs may
// name without the flow declaring them, such as ones already stored.
func New(includeTags, excludeTags []string, known ...string) *Validator {
	k := make(map[string]bool, len(known))
	for _, id := range known {
		k[id] = true
	}
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
		known:       k,
	}
}

// Validate validates files and directories.
func (v *Validator) Validate(paths ...string) *Result {
	result := &Result{}

	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("cannot access: %v", err),
			})
			continue
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := collectFlowFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			continue
		}
		files = append(files, found...)
	}

	// Definitions are shared between flows through the repository, so one
	// ID must mean one definition everywhere.
	defined := make(map[string]definedAt)
	for _, file := range files {
		f, err := flow.ParseFile(file)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    file,
				Message: fmt.Sprintf("parse error: %v", err),
			})
			continue
		}
		if !flow.ShouldIncludeFlow(f, v.includeTags, v.excludeTags) {
			continue
		}
		errs := v.validateFlow(f, defined)
		result.Errors = append(result.Errors, errs...)
		if len(errs) == 0 {
			result.Flows = append(result.Flows, f)
		}
	}

	return result
}

type definedAt struct {
	file string
	def  flow.Definition
}

func (v *Validator) validateFlow(f *flow.Flow, defined map[string]definedAt) []error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, &ValidationError{File: f.SourcePath, Message: fmt.Sprintf(format, args...)})
	}

	local := make(map[string]bool, len(f.Definitions))
	for _, d := range f.Definitions {
		local[d.ID] = true
		if err := checkDefinition(&d); err != nil {
			fail("definition %q: %v", d.ID, err)
		}
		if prev, ok := defined[d.ID]; ok && !reflect.DeepEqual(prev.def, d) {
			fail("definition %q differs from the one in %s", d.ID, prev.file)
			continue
		}
		defined[d.ID] = definedAt{file: f.SourcePath, def: d}
	}

	if err := checkBatch(f.Config.Batch); err != nil {
		fail("batch: %v", err)
	}

	for i, step := range f.Steps {
		for _, t := range targets(step) {
			if t.Ref != "" {
				if !local[t.Ref] && !v.known[t.Ref] {
					fail("step %d (%s): unknown definition %q", i+1, step.Describe(), t.Ref)
				}
				continue
			}
			if err := checkDefinition(&t.Definition); err != nil {
				fail("step %d (%s): %v", i+1, step.Describe(), err)
			}
		}
		if b, ok := step.(*flow.BatchTapOnStep); ok {
			if err := checkBatch(b.Batch); err != nil {
				fail("step %d (%s): batch: %v", i+1, step.Describe(), err)
			}
		}
	}
	return errs
}

// targets returns the resolution targets a step uses.
func targets(step flow.Step) []*flow.Target {
	switch s := step.(type) {
	case *flow.TapOnStep:
		return []*flow.Target{&s.Target}
	case *flow.LongPressOnStep:
		return []*flow.Target{&s.Target}
	case *flow.BatchTapOnStep:
		return []*flow.Target{&s.Target}
	case *flow.InputTextStep:
		if s.Into != nil {
			return []*flow.Target{s.Into}
		}
	}
	return nil
}

func checkDefinition(d *flow.Definition) error {
	if d.Plan == nil {
		return nil
	}
	if err := d.Plan.Validate(); err != nil {
		return err
	}
	for _, vr := range d.Plan.Variants {
		if bt, ok := vr.(*flow.BoundsTap); ok && bt.Bounds == nil && d.Evidence.Bounds == nil {
			return fmt.Errorf("variant %s has no rectangle and the evidence records none", vr.Kind())
		}
	}
	return nil
}

func checkBatch(b *flow.BatchConfig) error {
	if b == nil {
		return nil
	}
	if b.MaxIterations < 0 || b.Interval < 0 || b.Jitter < 0 || b.Cooldown < 0 || b.CooldownEvery < 0 {
		return fmt.Errorf("values must not be negative")
	}
	return nil
}

// collectFlowFiles finds all .yaml/.yml files in a directory.
func collectFlowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}
