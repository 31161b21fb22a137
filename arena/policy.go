package arena

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
	"go.uber.org/zap"

	"github.com/lanearena/memarena/handle"
	"github.com/lanearena/memarena/oneway"
)

// errDestinationExhausted is the internal signal used to make a
// recoverable "destination out of capacity" migration result count as
// a breaker failure, without it ever reaching callers as an error.
var errDestinationExhausted = errors.New("arena: migration destination exhausted")

// migrationRateKey is the single token-bucket key this arena's
// migration channel is rate-limited under. There is exactly one
// FastLane-to-SlowLane migration path per Arena, unlike the reference
// gossip manager's per-peer keys, so one fixed key suffices.
const migrationRateKey = "fastlane-to-slowlane"

// breakerMigrator wraps a *oneway.Lane with two complementary guards
// against paying for doomed or excessive migration attempts every
// maintenance cycle:
//
//   - a token-bucket rate limiter caps how many migrations the policy
//     engine may attempt per second, so a pathological run of
//     Cold/Old-hinted FastLane entries cannot flood SlowLane.Allocate
//     with attempts faster than the system can usefully absorb them;
//   - a circuit breaker trips after a run of destination exhaustions,
//     so once SlowLane is genuinely out of room the engine stops
//     probing it every cycle until the breaker's cooldown elapses.
//
// Correctness never depends on either guard's state, only on the
// number and pacing of attempts.
type breakerMigrator struct {
	lane    *oneway.Lane
	breaker *gobreaker.CircuitBreaker
	rate    *limiter.TokenBucket
	log     *zap.Logger
}

func newBreakerMigrator(lane *oneway.Lane, rateLimit float64, burst int, log *zap.Logger) *breakerMigrator {
	if log == nil {
		log = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "fastlane-migration",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Debug("migration breaker state change", zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	}

	var rate *limiter.TokenBucket
	if rateLimit > 0 {
		rateStore := store.NewMemoryStore(time.Minute)
		rate, _ = limiter.NewTokenBucket(
			limiter.Config{
				Rate:     int64(rateLimit),
				Duration: time.Second,
				Burst:    int64(burst),
			},
			rateStore,
		)
	}

	return &breakerMigrator{lane: lane, breaker: gobreaker.NewCircuitBreaker(settings), rate: rate, log: log}
}

// MoveFromFastToSlow satisfies fastlane.Migrator.
func (m *breakerMigrator) MoveFromFastToSlow(h handle.Handle) (bool, error) {
	if m.rate != nil && !m.rate.Allow(migrationRateKey) {
		m.log.Debug("migration rate limited", zap.Int64("id", h.ID))
		return false, nil
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		ok, err := m.lane.MoveFromFastToSlow(h)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errDestinationExhausted
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, errDestinationExhausted) {
			m.log.Debug("migration skipped", zap.Int64("id", h.ID), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return result.(bool), nil
}

// runPolicy implements the policy engine of spec section 4.5. It is a
// pure function of current metrics: re-running it without intervening
// allocations is idempotent, since both triggers are threshold
// comparisons against metrics that Compact/Allocate are the only way
// to change.
func (a *Arena) runPolicy() {
	if !a.config.EnableAutoCompaction {
		return
	}
	// CompactionThreshold is the global maintenance gate: below it,
	// neither lane is worth the cost of evaluating the more specific
	// per-lane triggers below.
	if a.fast.UsageRatio() < a.config.CompactionThreshold && a.slow.UsageRatio() < a.config.CompactionThreshold {
		return
	}

	if a.fast.UsageRatio() > a.config.FastLaneUsageThreshold {
		a.log.Debug("fastlane compaction trigger", zap.Float64("usage_ratio", a.fast.UsageRatio()))
		a.fast.Compact()
	}

	if a.slow.UsageRatio() > a.config.SlowLaneUsageThreshold {
		if a.slowCompactionIsSafe() {
			a.log.Debug("slowlane compaction trigger", zap.Float64("usage_ratio", a.slow.UsageRatio()))
			a.slow.Compact()
		} else {
			a.log.Debug("slowlane compaction skipped, predicted free ratio below safety margin")
		}
	}
}

// slowCompactionIsSafe computes the predicted free ratio after
// compaction (current free bytes, which compaction does not change,
// plus nothing reclaimed since SlowLane holds no stubs to drop) against
// SlowLaneSafetyMargin; compaction only ever helps fragmentation, never
// total free bytes, so this is equivalent to checking the margin holds
// at the current free ratio.
func (a *Arena) slowCompactionIsSafe() bool {
	capacity := a.slow.Capacity()
	if capacity == 0 {
		return false
	}
	predictedFreeRatio := float64(a.slow.FreeSpace()) / float64(capacity)
	return predictedFreeRatio >= a.config.SlowLaneSafetyMargin
}
