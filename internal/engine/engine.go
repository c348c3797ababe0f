package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lockstep-ci/lockstep/internal/artifact"
	"github.com/lockstep-ci/lockstep/internal/config"
	"github.com/lockstep-ci/lockstep/internal/credential"
	"github.com/lockstep-ci/lockstep/internal/event"
	"github.com/lockstep-ci/lockstep/internal/gate"
	"github.com/lockstep-ci/lockstep/internal/record"
	"github.com/lockstep-ci/lockstep/internal/tool"
)

const defaultStageTimeout = 10 * time.Minute

// Engine drives pipeline runs: it schedules stages over their dependency
// graph, invokes tools, evaluates gates, and records every transition
// before acting on it.
type Engine struct {
	tools    *tool.Adapter
	store    *artifact.Store
	broker   credential.Broker
	recorder *record.Recorder
	events   event.Publisher
	log      zerolog.Logger
}

// New assembles an engine from its collaborators.
func New(tools *tool.Adapter, store *artifact.Store, broker credential.Broker, recorder *record.Recorder, events event.Publisher, log zerolog.Logger) *Engine {
	return &Engine{
		tools:    tools,
		store:    store,
		broker:   broker,
		recorder: recorder,
		events:   events,
		log:      log,
	}
}

// stageDone carries a finished stage back to the scheduling loop. fatal is
// non-nil only for failures that must stop the whole run, such as an
// unavailable artifact store.
type stageDone struct {
	res   *StageResult
	fatal error
}

// Run executes one pipeline run to a terminal status. Cancelling ctx aborts
// the run: in-flight stages are killed, unstarted stages are skipped, and
// the run finishes as Aborted. The returned RunResult is always populated;
// a non-nil error means the run could not be driven at all (definition or
// recorder failure).
func (e *Engine) Run(ctx context.Context, cfg *config.PipelineConfig) (*RunResult, error) {
	p := cfg.Pipeline

	number, err := e.recorder.CreateRun(p.Name)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	run := &RunResult{
		Pipeline:  p.Name,
		Number:    number,
		Status:    RunPending,
		StartedAt: time.Now(),
	}
	results := make(map[string]*StageResult, len(p.Stages))
	for _, st := range p.Stages {
		res := &StageResult{Stage: st.Name, Status: StagePending}
		results[st.Name] = res
		run.Stages = append(run.Stages, res)
	}

	if verrs := config.Validate(cfg); len(verrs) > 0 {
		derr := &DefinitionError{Errors: verrs}
		_ = e.recorder.LogEvent(p.Name, number, "", "definition_error", derr.Error())
		run.Reason = derr.Error()
		return run, derr
	}

	if err := e.recorder.StartRun(p.Name, number); err != nil {
		return run, fmt.Errorf("record run start: %w", err)
	}
	run.Status = RunRunning
	e.publish(event.RunStarted, p.Name, number, "", "")
	e.log.Info().Str("pipeline", p.Name).Int("run", number).Msg("run started")

	stages := make(map[string]config.Stage, len(p.Stages))
	waiting := make(map[string]int, len(p.Stages))
	dependents := make(map[string][]string)
	var ready []string
	for _, st := range p.Stages {
		stages[st.Name] = st
		waiting[st.Name] = len(st.DependsOn)
		for _, dep := range st.DependsOn {
			dependents[dep] = append(dependents[dep], st.Name)
		}
		if len(st.DependsOn) == 0 {
			ready = append(ready, st.Name)
		}
	}

	maxParallel := p.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	done := make(chan stageDone)
	inFlight := 0
	aborted := false
	var fatal error

	launch := func(name string) {
		st := stages[name]
		res := results[name]
		res.Status = StageRunning
		res.StartedAt = time.Now()
		if err := e.recorder.LogStage(p.Name, number, name, string(StageRunning), 0, "", ""); err != nil && fatal == nil {
			fatal = err
		}
		e.publish(event.StageStarted, p.Name, number, name, "")
		e.log.Info().Str("pipeline", p.Name).Int("run", number).Str("stage", name).Msg("stage started")
		inFlight++
		go func() {
			ferr := e.runStage(ctx, p, st, number, res)
			done <- stageDone{res: res, fatal: ferr}
		}()
	}

	skip := func(name, reason string) {
		res := results[name]
		if res.Status != StagePending {
			return
		}
		now := time.Now()
		res.Status = StageSkipped
		res.Reason = reason
		res.StartedAt = now
		res.FinishedAt = now
		if err := e.recorder.LogStage(p.Name, number, name, string(StageSkipped), 0, reason, ""); err != nil && fatal == nil {
			fatal = err
		}
		e.publish(event.StageSkipped, p.Name, number, name, reason)
	}

	// cascade skips every pending transitive dependent of a stage that
	// failed or was itself skipped.
	var cascade func(name string)
	cascade = func(name string) {
		reason := fmt.Sprintf("dependency %q %s", name, strings.ToLower(string(results[name].Status)))
		for _, dep := range dependents[name] {
			if results[dep].Status != StagePending {
				continue
			}
			skip(dep, reason)
			cascade(dep)
		}
	}

	handle := func(sd stageDone) {
		inFlight--
		res := sd.res
		if err := e.recordStageOutcome(p.Name, number, res); err != nil && fatal == nil {
			fatal = err
		}
		if sd.fatal != nil && fatal == nil {
			fatal = sd.fatal
		}

		if res.Status == StageFailed {
			e.publish(event.StageFailed, p.Name, number, res.Stage, res.Reason)
			e.log.Warn().Str("pipeline", p.Name).Int("run", number).Str("stage", res.Stage).Str("reason", res.Reason).Msg("stage failed")
			if !aborted {
				cascade(res.Stage)
			}
			return
		}

		e.publish(event.StagePassed, p.Name, number, res.Stage, res.Reason)
		e.log.Info().Str("pipeline", p.Name).Int("run", number).Str("stage", res.Stage).Msg("stage passed")
		for _, dep := range dependents[res.Stage] {
			waiting[dep]--
			if waiting[dep] == 0 && results[dep].Status == StagePending {
				ready = append(ready, dep)
			}
		}
	}

	for inFlight > 0 || (!aborted && fatal == nil && len(ready) > 0) {
		for !aborted && fatal == nil && inFlight < maxParallel && len(ready) > 0 {
			next := ready[0]
			ready = ready[1:]
			launch(next)
		}
		if inFlight == 0 {
			continue
		}
		if aborted || fatal != nil {
			// Stop scheduling; drain what is already in flight.
			handle(<-done)
			continue
		}
		select {
		case sd := <-done:
			// A cancelled context wins over whatever the stage reported.
			if ctx.Err() != nil {
				aborted = true
			}
			handle(sd)
		case <-ctx.Done():
			aborted = true
		}
	}

	// Anything still pending was never eligible to run.
	for _, st := range p.Stages {
		switch {
		case results[st.Name].Status != StagePending:
		case aborted:
			skip(st.Name, "run aborted")
		case fatal != nil:
			skip(st.Name, fatal.Error())
		default:
			skip(st.Name, "not reached")
		}
	}

	run.FinishedAt = time.Now()
	switch {
	case aborted:
		run.Status = RunAborted
		run.Reason = "abort requested"
	case fatal != nil:
		run.Status = RunFailed
		run.Reason = fatal.Error()
	default:
		run.Status = RunSucceeded
		for _, st := range p.Stages {
			res := results[st.Name]
			if res.Status == StageFailed && !st.ContinueOnFailure {
				run.Status = RunFailed
				run.Reason = fmt.Sprintf("stage %q failed: %s", st.Name, res.Reason)
				break
			}
		}
	}

	if err := e.recorder.FinishRun(p.Name, number, string(run.Status), run.Reason); err != nil {
		return run, fmt.Errorf("record run finish: %w", err)
	}
	if aborted {
		e.publish(event.RunAborted, p.Name, number, "", run.Reason)
	} else {
		e.publish(event.RunFinished, p.Name, number, "", string(run.Status))
	}
	e.log.Info().Str("pipeline", p.Name).Int("run", number).Str("status", string(run.Status)).Msg("run finished")
	return run, nil
}

// recordStageOutcome persists a terminal stage transition and its gate
// results, and announces stored artifacts. Recording happens before the
// scheduler acts on the outcome.
func (e *Engine) recordStageOutcome(pipeline string, number int, res *StageResult) error {
	for _, g := range res.Gates {
		if err := e.recorder.LogGate(pipeline, number, res.Stage, g.Policy, g.Passed, g.Reason); err != nil {
			return err
		}
		e.publish(event.GateEvaluated, pipeline, number, res.Stage, fmt.Sprintf("%s: %s", g.Policy, g.Reason))
	}
	for _, art := range res.Artifacts {
		e.publish(event.ArtifactStored, pipeline, number, res.Stage, fmt.Sprintf("%s %s", art.Hash[:12], art.Name))
	}
	return e.recorder.LogStage(pipeline, number, res.Stage, string(res.Status), res.ExitCode, res.Reason, res.OutputRef)
}

// runStage executes one stage end to end: lease credentials, invoke the
// tool, capture evidence, evaluate gates. The returned error is non-nil
// only for run-fatal conditions.
func (e *Engine) runStage(ctx context.Context, p config.Pipeline, st config.Stage, number int, res *StageResult) error {
	defer func() { res.FinishedAt = time.Now() }()

	timeout := parseDuration(st.Timeout, defaultStageTimeout)

	env := []string{
		"LOCKSTEP_PIPELINE=" + p.Name,
		fmt.Sprintf("LOCKSTEP_RUN=%d", number),
		"LOCKSTEP_STAGE=" + st.Name,
	}
	env = append(env, sortedEnv(p.Env)...)
	env = append(env, sortedEnv(st.Env)...)

	if st.Credentials != "" {
		cred, err := e.broker.Lease(ctx, st.Credentials, timeout+time.Minute)
		if err != nil {
			res.Status = StageFailed
			res.ExitCode = -1
			res.Reason = err.Error()
			return nil
		}
		defer e.broker.Revoke(cred.LeaseID)
		env = append(env, sortedEnv(cred.Env)...)
	}

	result, report, invokeErr := e.tools.Invoke(ctx, tool.InvokeOpts{
		Command: st.Command,
		Dir:     p.Workdir,
		Env:     env,
		Timeout: timeout,
		Parser:  st.Parser,
		Report:  st.Report,
	})
	if result != nil {
		res.ExitCode = result.ExitCode
	}

	// Evidence is captured no matter how the invocation ended.
	if err := e.captureArtifacts(p, st, number, res, result); err != nil {
		res.Status = StageFailed
		res.Reason = err.Error()
		if errors.Is(err, artifact.ErrStoreUnavailable) {
			return err
		}
		return nil
	}

	if invokeErr != nil {
		res.Status = StageFailed
		switch {
		case errors.Is(invokeErr, tool.ErrTimeout):
			res.Reason = invokeErr.Error()
		case errors.Is(invokeErr, context.Canceled) || errors.Is(invokeErr, context.DeadlineExceeded):
			res.Reason = "aborted"
		default:
			res.Reason = invokeErr.Error()
		}
		return nil
	}

	var reasons []string
	if result.ExitCode != 0 {
		res.Status = StageFailed
		reasons = append(reasons, fmt.Sprintf("exit code %d", result.ExitCode))
	}

	if len(st.Policies) > 0 {
		gates, passed := gate.EvaluateAll(p.Policies, st.Policies, report)
		res.Gates = gates
		if !passed {
			res.Status = StageFailed
			for _, g := range gates {
				if !g.Passed {
					reasons = append(reasons, fmt.Sprintf("gate %s: %s", g.Policy, g.Reason))
				}
			}
		}
	}

	if res.Status == StageFailed {
		res.Reason = strings.Join(reasons, "; ")
		return nil
	}

	res.Status = StagePassed
	if report != nil {
		res.Reason = report.Summary
	}
	return nil
}

// captureArtifacts stores the combined tool output and the stage's declared
// output files. A storage failure wraps ErrStoreUnavailable and is fatal to
// the run; an unreadable declared output fails only the stage.
func (e *Engine) captureArtifacts(p config.Pipeline, st config.Stage, number int, res *StageResult, result *tool.Result) error {
	if result != nil && (result.Stdout != "" || result.Stderr != "") {
		combined := result.Stdout
		if result.Stderr != "" {
			if combined != "" {
				combined += "\n"
			}
			combined += result.Stderr
		}
		art, err := e.store.Put(p.Name, number, st.Name, st.Name+".log", []byte(combined), "text/plain", artifact.RetentionEphemeral)
		if err != nil {
			return err
		}
		res.OutputRef = art.Hash
		res.Artifacts = append(res.Artifacts, *art)
	}

	for _, out := range st.Outputs {
		matches, err := filepath.Glob(filepath.Join(p.Workdir, out.Pattern))
		if err != nil {
			return fmt.Errorf("output pattern %q: %w", out.Pattern, err)
		}
		sort.Strings(matches)
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			data, err := os.ReadFile(match)
			if err != nil {
				return fmt.Errorf("read output %s: %w", match, err)
			}
			mediaType := out.MediaType
			if mediaType == "" {
				mediaType = "application/octet-stream"
			}
			retention := out.Retention
			if retention == "" {
				// Unclassified evidence keeps the longest retention.
				retention = artifact.RetentionCompliance
			}
			art, err := e.store.Put(p.Name, number, st.Name, filepath.Base(match), data, mediaType, retention)
			if err != nil {
				return err
			}
			res.Artifacts = append(res.Artifacts, *art)
		}
	}
	return nil
}

func (e *Engine) publish(typ, pipeline string, number int, stage, detail string) {
	e.events.Publish(event.Event{
		Type:      typ,
		Pipeline:  pipeline,
		Run:       number,
		Stage:     stage,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func sortedEnv(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+m[k])
	}
	return env
}
