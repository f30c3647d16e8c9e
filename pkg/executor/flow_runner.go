package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/tapresolver/pkg/batch"
	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// FlowRunner executes a single flow on the runner's device.
type FlowRunner struct {
	runner  *Runner
	flow    *flow.Flow
	flowIdx int
	total   int
	log     *logrus.Entry
}

// Run executes the flow and returns the result.
func (fr *FlowRunner) Run(ctx context.Context) *core.FlowResult {
	r := fr.runner
	result := &core.FlowResult{
		Name:         fr.flow.Config.Name,
		FilePath:     fr.flow.SourcePath,
		SessionID:    uuid.Must(uuid.NewV7()).String(),
		PlatformInfo: r.dev.GetPlatformInfo(),
		StartTime:    time.Now(),
	}
	deviceID := ""
	if result.PlatformInfo != nil {
		deviceID = result.PlatformInfo.DeviceID
	}
	fr.log = logger.With(logger.Fields{"session": result.SessionID, "device": deviceID})

	if r.config.OnFlowStart != nil {
		r.config.OnFlowStart(fr.flowIdx, fr.total, result.Name, deviceID)
	}
	fr.log.Infof("flow %q: %d steps", result.Name, len(fr.flow.Steps))

	defer func() {
		result.Duration = time.Since(result.StartTime)
		result.ComputeSummary()
		if r.config.OnFlowEnd != nil {
			r.config.OnFlowEnd(result)
		}
		fr.log.Infof("flow %q %s: %d passed, %d failed, %d skipped",
			result.Name, result.Status, result.PassedSteps, result.FailedSteps, result.SkippedSteps)
	}()

	if err := r.repo.PutAll(ctx, fr.flow.Definitions); err != nil {
		result.Status = core.StatusErrored
		result.Error = fmt.Sprintf("register definitions: %v", err)
		return result
	}

	stopped := ""
	for i, step := range fr.flow.Steps {
		if stopped == "" && ctx.Err() != nil {
			stopped = "execution cancelled"
		}
		if stopped != "" {
			result.Steps = append(result.Steps, core.StepResult{
				Index:   i,
				Action:  string(step.Type()),
				Status:  core.StatusSkipped,
				Message: stopped,
			})
			continue
		}

		sr := fr.executeStep(ctx, i, step)
		result.Steps = append(result.Steps, sr)
		if r.config.OnStepComplete != nil {
			r.config.OnStepComplete(i, step.Describe(), &sr)
		}
		if (sr.Status == core.StatusFailed || sr.Status == core.StatusErrored) && result.Error == "" {
			result.Error = fmt.Sprintf("step %d (%s): %s", i+1, step.Describe(), sr.Error)
			stopped = "previous step failed"
		}
	}

	result.Status = result.AggregateStatus()
	if stopped == "execution cancelled" && result.Status == core.StatusPassed {
		result.Status = core.StatusSkipped
		result.Error = stopped
	}
	return result
}

// executeStep runs one step and classifies its outcome.
func (fr *FlowRunner) executeStep(ctx context.Context, idx int, step flow.Step) core.StepResult {
	sr := core.StepResult{
		Index:     idx,
		Action:    string(step.Type()),
		StartTime: time.Now(),
	}
	fr.log.Debugf("step %d: %s", idx+1, step.Describe())

	var err error
	switch s := step.(type) {
	case *flow.TapOnStep:
		err = fr.resolveAndAct(ctx, &sr, &s.Target, func(p core.Point) error {
			return fr.runner.dev.Tap(ctx, p)
		})
	case *flow.LongPressOnStep:
		d := DefaultLongPress
		if s.DurationMs > 0 {
			d = time.Duration(s.DurationMs) * time.Millisecond
		}
		err = fr.resolveAndAct(ctx, &sr, &s.Target, func(p core.Point) error {
			return fr.runner.dev.LongPress(ctx, p, d)
		})
	case *flow.InputTextStep:
		err = fr.inputText(ctx, &sr, s)
	case *flow.PressKeyStep:
		if e := fr.runner.dev.InjectKey(ctx, s.Code); e != nil {
			err = core.ErrExecutionFailed.WithCause(e)
		}
	case *flow.WaitStep:
		err = fr.runner.config.Sleep(ctx, time.Duration(s.DurationMs)*time.Millisecond)
	case *flow.BatchTapOnStep:
		err = fr.batchTap(ctx, &sr, s)
	default:
		err = fmt.Errorf("unsupported step %s", step.Type())
	}

	sr.Duration = time.Since(sr.StartTime)
	classify(&sr, step, err)
	return sr
}

func classify(sr *core.StepResult, step flow.Step, err error) {
	if err == nil {
		sr.Status = core.StatusPassed
		return
	}
	sr.Error = err.Error()
	sr.Failure = core.FailureKindOf(err)
	switch {
	case step.IsOptional():
		sr.Status = core.StatusSkipped
		sr.Message = "optional step failed"
	case sr.Failure == core.FailureAcquisition, sr.Failure == core.FailureConfig,
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sr.Status = core.StatusErrored
	default:
		sr.Status = core.StatusFailed
	}
}

// resolveAndAct resolves target on a fresh snapshot and runs act at the
// resolved point.
func (fr *FlowRunner) resolveAndAct(ctx context.Context, sr *core.StepResult, target *flow.Target, act func(core.Point) error) error {
	def, err := fr.definition(target)
	if err != nil {
		return err
	}
	sr.StepID = def.ID

	res, err := fr.resolve(ctx, def)
	sr.Resolution = res
	if err != nil {
		return err
	}
	if err := act(res.Point); err != nil {
		return core.ErrExecutionFailed.WithCause(err)
	}
	return nil
}

func (fr *FlowRunner) inputText(ctx context.Context, sr *core.StepResult, s *flow.InputTextStep) error {
	if s.Into != nil {
		err := fr.resolveAndAct(ctx, sr, s.Into, func(p core.Point) error {
			return fr.runner.dev.Tap(ctx, p)
		})
		if err != nil {
			return err
		}
	}
	if err := fr.runner.dev.InjectText(ctx, s.Text); err != nil {
		return core.ErrExecutionFailed.WithCause(err)
	}
	return nil
}

func (fr *FlowRunner) batchTap(ctx context.Context, sr *core.StepResult, s *flow.BatchTapOnStep) error {
	def, err := fr.definition(&s.Target)
	if err != nil {
		return err
	}
	sr.StepID = def.ID

	summary := fr.runner.batch.Run(ctx, batch.Request{
		Evidence: &def.Evidence,
		Plan:     def.Plan,
		Config:   s.Batch.Merge(fr.flow.Config.Batch).Merge(fr.runner.config.Batch),
	})
	sr.Batch = summary
	sr.Message = fmt.Sprintf("%d attempted, %d succeeded, %d failed, %d skipped (%s)",
		summary.Attempted, summary.Succeeded, summary.Failed, summary.Skipped, summary.StopReason)

	if summary.State == core.BatchAborted {
		if summary.StopReason == core.StopCancelled {
			return ctx.Err()
		}
		if n := len(summary.Iterations); n > 0 && summary.Iterations[n-1].Failure == core.FailureAcquisition {
			return core.ErrAcquisitionFailed.WithMessage(summary.Error)
		}
		return fmt.Errorf("batch aborted: %s", summary.Error)
	}
	return nil
}

// definition returns the stored or inline definition a target names, with
// the flow plan defaults applied.
func (fr *FlowRunner) definition(t *flow.Target) (flow.Definition, error) {
	def := t.Definition
	if t.Ref != "" {
		e, ok := fr.runner.repo.Get(t.Ref)
		if !ok {
			return def, core.ErrInvalidPlan.WithMessagef("unknown definition %q", t.Ref)
		}
		def = e.Definition
	}
	def.Plan = def.Plan.Merge(fr.flow.Config.Plan)
	return def, nil
}

// resolve captures a fresh snapshot and resolves def against it. A
// structural success is remembered as the definition's confirmed rectangle.
func (fr *FlowRunner) resolve(ctx context.Context, def flow.Definition) (*core.Resolution, error) {
	r := fr.runner
	h, err := snapshot.Acquire(ctx, r.dev, r.cache, r.config.Acquire)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	req := resolver.Request{
		Snapshot: h.Snapshot(),
		Evidence: &def.Evidence,
		Plan:     def.Plan,
		Screen:   r.dev.GetPlatformInfo().ScreenBounds(),
	}
	if def.ID != "" {
		req.ConfirmedBounds = r.repo.Confirmed(def.ID)
	}

	res, err := r.resolver.Resolve(ctx, req)
	if err != nil {
		fr.log.Warnf("resolve %s: %v", def.Evidence.Describe(), err)
		return nil, err
	}
	res.Snapshot = h.Hash()
	fr.log.Infof("resolved %s via %s at (%d,%d), confidence %.2f",
		def.Evidence.Describe(), res.Strategy, res.Point.X, res.Point.Y, res.Confidence)

	if res.NodeIndex >= 0 && def.ID != "" {
		if _, ok := r.repo.Get(def.ID); ok {
			if err := r.repo.MarkConfirmed(ctx, def.ID, res.Bounds); err != nil {
				fr.log.Warnf("remember bounds for %s: %v", def.ID, err)
			}
		}
	}
	return res, nil
}
