package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "500ms",
// "2s" and so on.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ABR holds the tunable constants of the quality selection policy. The
// algorithm treats all of these as configuration, not fixed law.
type ABR struct {
	// SafetyFactor discounts the throughput estimate to leave headroom
	// against estimation error. Must be in (0, 1].
	SafetyFactor float64 `yaml:"safetyFactor"`
	// LowWater is the occupancy below which the policy clamps to the
	// lowest representation to protect against rebuffering.
	LowWater Duration `yaml:"lowWater"`
	// HighWater is the occupancy above which the policy may step up one
	// tier per decision.
	HighWater Duration `yaml:"highWater"`
}

// Fetch holds the segment fetch scheduler settings.
type Fetch struct {
	// Concurrency bounds the number of in-flight segment fetches.
	Concurrency int `yaml:"concurrency"`
	// MaxAttempts bounds retries per segment, including the first try.
	MaxAttempts int `yaml:"maxAttempts"`
	// AttemptTimeout applies per fetch attempt.
	AttemptTimeout Duration `yaml:"attemptTimeout"`
	// BackoffBase and BackoffCap shape the exponential retry backoff.
	BackoffBase Duration `yaml:"backoffBase"`
	BackoffCap  Duration `yaml:"backoffCap"`
}

// Decode holds the decode pipeline settings.
type Decode struct {
	// Workers bounds the decode worker pool.
	Workers int `yaml:"workers"`
}

// Playback holds the buffering and pacing settings.
type Playback struct {
	// BufferTarget is how much decoded content the player tries to keep
	// queued. Fetch issuance pauses once occupancy reaches it.
	BufferTarget Duration `yaml:"bufferTarget"`
	// ThroughputWindow is the number of recent fetch samples the
	// throughput estimator averages over.
	ThroughputWindow int `yaml:"throughputWindow"`
}

// Player is the fully processed application configuration.
type Player struct {
	UserAgent string   `yaml:"userAgent"`
	ABR       ABR      `yaml:"abr"`
	Fetch     Fetch    `yaml:"fetch"`
	Decode    Decode   `yaml:"decode"`
	Playback  Playback `yaml:"playback"`
}

// Default returns the configuration used when no file is given.
func Default() *Player {
	return &Player{
		ABR: ABR{
			SafetyFactor: 0.9,
			LowWater:     Duration(2 * time.Second),
			HighWater:    Duration(6 * time.Second),
		},
		Fetch: Fetch{
			Concurrency:    2,
			MaxAttempts:    4,
			AttemptTimeout: Duration(5 * time.Second),
			BackoffBase:    Duration(200 * time.Millisecond),
			BackoffCap:     Duration(3 * time.Second),
		},
		Decode: Decode{
			Workers: 2,
		},
		Playback: Playback{
			BufferTarget:     Duration(8 * time.Second),
			ThroughputWindow: 8,
		},
	}
}

// Load reads and parses the configuration file from the given path,
// filling in defaults for anything unset and validating the result.
func Load(path string) (*Player, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Player) Validate() error {
	if c.ABR.SafetyFactor <= 0 || c.ABR.SafetyFactor > 1 {
		return fmt.Errorf("abr.safetyFactor must be in (0, 1], got %v", c.ABR.SafetyFactor)
	}
	if c.ABR.LowWater < 0 || c.ABR.HighWater < 0 {
		return fmt.Errorf("abr water marks must not be negative")
	}
	if c.ABR.HighWater < c.ABR.LowWater {
		return fmt.Errorf("abr.highWater (%v) must not be below abr.lowWater (%v)",
			c.ABR.HighWater.Std(), c.ABR.LowWater.Std())
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got %d", c.Fetch.Concurrency)
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.maxAttempts must be at least 1, got %d", c.Fetch.MaxAttempts)
	}
	if c.Fetch.AttemptTimeout <= 0 {
		return fmt.Errorf("fetch.attemptTimeout must be positive, got %v", c.Fetch.AttemptTimeout.Std())
	}
	if c.Decode.Workers < 1 {
		return fmt.Errorf("decode.workers must be at least 1, got %d", c.Decode.Workers)
	}
	if c.Playback.BufferTarget <= 0 {
		return fmt.Errorf("playback.bufferTarget must be positive, got %v", c.Playback.BufferTarget.Std())
	}
	if c.Playback.ThroughputWindow < 1 {
		return fmt.Errorf("playback.throughputWindow must be at least 1, got %d", c.Playback.ThroughputWindow)
	}
	return nil
}
