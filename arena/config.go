package arena

import (
	"time"

	"go.uber.org/zap"

	"github.com/lanearena/memarena/arenaerr"
	"github.com/lanearena/memarena/region"
)

// Config is the plain configuration value the spec's section 6 table
// describes. It is validated once, as a unit, by New; there is no
// env/file loading layer in core scope.
type Config struct {
	FastLaneSize int
	SlowLaneSize int
	BufferSize   int

	// Threshold is the routing cutoff: allocations of this size or
	// smaller go to FastLane first.
	Threshold int

	FastLaneUsageThreshold      float64
	FastLaneLargeEntryThreshold int
	SlowLaneUsageThreshold      float64
	SlowLaneSafetyMargin        float64
	CompactionThreshold         float64
	PolicyCheckInterval         time.Duration
	EnableAutoCompaction        bool

	// MigrationRateLimit caps how many FastLane-to-SlowLane migrations
	// the policy engine may attempt per second; zero disables the
	// limiter (every migration candidate is attempted, subject only to
	// the circuit breaker). MigrationBurst is the token bucket's burst
	// capacity.
	MigrationRateLimit float64
	MigrationBurst     int

	// Logger is optional; a no-op logger is used when unset.
	Logger *zap.Logger
	// Observer is optional; a no-op observer is used when unset.
	Observer region.Observer
}

// DefaultConfig returns the configuration defaults from spec section 6.
func DefaultConfig() Config {
	return Config{
		FastLaneSize:                1 << 20, // 1 MiB
		SlowLaneSize:                8 << 20, // 8 MiB
		BufferSize:                  256 << 10,
		Threshold:                   256 << 10,
		FastLaneUsageThreshold:      0.90,
		FastLaneLargeEntryThreshold: 4 << 10,
		SlowLaneUsageThreshold:      0.85,
		SlowLaneSafetyMargin:        0.10,
		CompactionThreshold:         0.80,
		PolicyCheckInterval:         time.Second,
		EnableAutoCompaction:        true,
		MigrationRateLimit:          50,
		MigrationBurst:              20,
	}
}

// validate rejects a Config that violates an invariant spec section 7
// names: negative sizes, a scratch buffer larger than either lane, or
// a threshold larger than FastLane's capacity.
func (c Config) validate() error {
	switch {
	case c.FastLaneSize < 0:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.FastLaneSize")
	case c.SlowLaneSize < 0:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.SlowLaneSize")
	case c.BufferSize < 0:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.BufferSize")
	case c.Threshold < 0:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.Threshold")
	case c.BufferSize > c.FastLaneSize || c.BufferSize > c.SlowLaneSize:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.BufferSize")
	case c.Threshold > c.FastLaneSize:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.Threshold")
	case c.SlowLaneSafetyMargin < 0 || c.SlowLaneSafetyMargin >= 1:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.SlowLaneSafetyMargin")
	case c.FastLaneUsageThreshold <= 0 || c.FastLaneUsageThreshold > 1:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.FastLaneUsageThreshold")
	case c.SlowLaneUsageThreshold <= 0 || c.SlowLaneUsageThreshold > 1:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.SlowLaneUsageThreshold")
	case c.CompactionThreshold <= 0 || c.CompactionThreshold > 1:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.CompactionThreshold")
	case c.FastLaneLargeEntryThreshold < 0:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.FastLaneLargeEntryThreshold")
	case c.PolicyCheckInterval < 0:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.PolicyCheckInterval")
	case c.MigrationRateLimit < 0:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.MigrationRateLimit")
	case c.MigrationBurst < 0:
		return arenaerr.New(arenaerr.KindInvalidConfig, "Config.MigrationBurst")
	}
	return nil
}
