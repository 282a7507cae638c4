package transfersaga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SleepFunc delays for d or returns early with the context's error. Runs use
// a real timer by default; tests inject a fake so backoff windows are
// observable without wall-clock waits.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// activityGateway is the façade the state machine calls remote operations
// through. It looks up the retry policy for the activity's category, retries
// transient failures with exponential backoff, and propagates business
// failures immediately.
type activityGateway struct {
	acts     Activities
	policies *PolicyTable
	sleep    SleepFunc
	log      *zap.Logger
}

func newActivityGateway(acts Activities, policies *PolicyTable, sleep SleepFunc, log *zap.Logger) *activityGateway {
	if sleep == nil {
		sleep = sleepWithContext
	}
	return &activityGateway{
		acts:     acts,
		policies: policies,
		sleep:    sleep,
		log:      log,
	}
}

// invoke runs one activity under the category's retry policy. The last error
// is surfaced after the attempt budget is exhausted.
func (g *activityGateway) invoke(ctx context.Context, category Category, activity string, fn func(context.Context) error) error {
	policy, err := g.policies.Get(category)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaximumAttempts; attempt++ {
		g.log.Debug("activity start",
			zap.String("activity", activity),
			zap.String("category", string(category)),
			zap.Int("attempt", attempt))

		err := fn(ctx)
		if err == nil {
			g.log.Debug("activity done",
				zap.String("activity", activity),
				zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || policy.nonRetryable(err) {
			g.log.Warn("activity failed, not retryable",
				zap.String("activity", activity),
				zap.Error(err))
			return fmt.Errorf("%s: %w", activity, err)
		}
		if attempt == policy.MaximumAttempts {
			break
		}

		delay := policy.backoff(attempt)
		g.log.Debug("activity retry",
			zap.String("activity", activity),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%s: %w", activity, sleepErr)
		}
	}

	g.log.Warn("activity failed, retries exhausted",
		zap.String("activity", activity),
		zap.Int("attempts", policy.MaximumAttempts),
		zap.Error(lastErr))
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", activity, policy.MaximumAttempts, lastErr)
}
