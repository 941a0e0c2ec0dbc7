package toolstream

import (
	"context"
	"log/slog"
	"slices"
)

// StopCondition decides from the step history whether the tool loop should stop.
// A condition that returns an error is treated as satisfied.
type StopCondition func(ctx context.Context, steps []StepResult) (bool, error)

// StepCountIs stops once n steps have run.
func StepCountIs(n int) StopCondition {
	return func(_ context.Context, steps []StepResult) (bool, error) {
		return len(steps) == n, nil
	}
}

// HasToolCall stops when the last step called the named tool.
func HasToolCall(name string) StopCondition {
	return func(_ context.Context, steps []StepResult) (bool, error) {
		if len(steps) == 0 {
			return false, nil
		}
		for _, c := range steps[len(steps)-1].ToolCalls() {
			if c.ToolName == name {
				return true, nil
			}
		}
		return false, nil
	}
}

// shouldStop evaluates conds concurrently and reports true as soon as one of them holds.
// Conditions still running are cancelled through ctx.
func shouldStop(ctx context.Context, conds []StopCondition, steps []StepResult, logger *slog.Logger) bool {
	if len(conds) == 0 {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan bool, len(conds))
	for i, cond := range conds {
		history := slices.Clone(steps)
		go func() {
			ok, err := evalStopCondition(ctx, cond, history)
			if err != nil {
				logger.Warn("stop condition failed, stopping", "condition", i, "error", err)
				ok = true
			}
			results <- ok
		}()
	}
	for range conds {
		if <-results {
			return true
		}
	}
	return false
}

func evalStopCondition(ctx context.Context, cond StopCondition, steps []StepResult) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok, err = true, &panicError{p: p}
		}
	}()
	return cond(ctx, steps)
}
