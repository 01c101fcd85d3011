package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/cascade/core/boundary"
	"github.com/adalundhe/cascade/core/criticality"
	"github.com/adalundhe/cascade/core/diffusion"
	"github.com/adalundhe/cascade/core/entity"
	"github.com/adalundhe/cascade/core/traversal"
	"github.com/adalundhe/cascade/core/workmem"
)

// Config is the full engine configuration, composed of the per-subsystem
// configs plus the tick scheduler and persistence settings.
type Config struct {
	Diffusion   diffusion.Config       `yaml:"diffusion"`
	Criticality criticality.Config     `yaml:"criticality"`
	Aggregation entity.Config          `yaml:"aggregation"`
	Lifecycle   entity.LifecycleConfig `yaml:"lifecycle"`
	Traversal   traversal.Config       `yaml:"traversal"`
	Boundary    boundary.Config        `yaml:"boundary"`
	WorkMem     workmem.Config         `yaml:"working_memory"`
	Scheduler   SchedulerConfig        `yaml:"scheduler"`

	// MembershipLearnEvery and MembershipLearnRate govern the slow
	// membership-weight updates.
	MembershipLearnEvery uint64  `yaml:"membership_learn_every"`
	MembershipLearnRate  float64 `yaml:"membership_learn_rate"`

	// LogWeightLearnRate is the per-tick step for entity importance
	// learning.
	LogWeightLearnRate float64 `yaml:"log_weight_learn_rate"`

	// SnapshotEvery persists a full snapshot every N ticks; zero disables
	// persistence.
	SnapshotEvery uint64 `yaml:"snapshot_every"`

	// SnapshotPath is the SQLite file snapshots are written to.
	SnapshotPath string `yaml:"snapshot_path"`

	// GoalEmbeddingPath, when set, is watched for goal-vector updates.
	GoalEmbeddingPath string `yaml:"goal_embedding_path"`
}

// SchedulerConfig governs the adaptive tick interval.
type SchedulerConfig struct {
	// BaseInterval is the idle tick interval.
	BaseInterval time.Duration `yaml:"base_interval"`

	// MinInterval is the fastest the loop may run under load.
	MinInterval time.Duration `yaml:"min_interval"`

	// MaxInterval is the slowest the loop may idle down to.
	MaxInterval time.Duration `yaml:"max_interval"`

	// Gain scales how strongly activity accelerates the loop.
	Gain float64 `yaml:"gain"`

	// ActivityHalfLife smooths the activity signal, in seconds.
	ActivityHalfLife float64 `yaml:"activity_half_life"`
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		Diffusion:            diffusion.DefaultConfig(),
		Criticality:          criticality.DefaultConfig(),
		Aggregation:          entity.DefaultConfig(),
		Lifecycle:            entity.DefaultLifecycleConfig(),
		Traversal:            traversal.DefaultConfig(),
		Boundary:             boundary.DefaultConfig(),
		WorkMem:              workmem.DefaultConfig(),
		Scheduler:            DefaultSchedulerConfig(),
		MembershipLearnEvery: 25,
		MembershipLearnRate:  0.1,
		LogWeightLearnRate:   0.05,
		SnapshotEvery:        0,
		SnapshotPath:         "cascade.db",
	}
}

// DefaultSchedulerConfig returns scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseInterval:     250 * time.Millisecond,
		MinInterval:      50 * time.Millisecond,
		MaxInterval:      2 * time.Second,
		Gain:             4.0,
		ActivityHalfLife: 10,
	}
}

// Validate checks the full configuration tree.
func (c Config) Validate() error {
	if err := c.Diffusion.Validate(); err != nil {
		return err
	}
	if err := c.Criticality.Validate(); err != nil {
		return err
	}
	if err := c.Aggregation.Validate(); err != nil {
		return err
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return err
	}
	if err := c.Traversal.Validate(); err != nil {
		return err
	}
	if err := c.Boundary.Validate(); err != nil {
		return err
	}
	if err := c.WorkMem.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if c.MembershipLearnRate < 0 || c.MembershipLearnRate > 1 {
		return fmt.Errorf("engine config: MembershipLearnRate must be in [0, 1], got %g", c.MembershipLearnRate)
	}
	if c.LogWeightLearnRate < 0 || c.LogWeightLearnRate > 1 {
		return fmt.Errorf("engine config: LogWeightLearnRate must be in [0, 1], got %g", c.LogWeightLearnRate)
	}
	if c.SnapshotEvery > 0 && c.SnapshotPath == "" {
		return fmt.Errorf("engine config: SnapshotPath required when SnapshotEvery > 0")
	}
	return nil
}

// Validate checks the scheduler values.
func (c SchedulerConfig) Validate() error {
	if c.BaseInterval <= 0 {
		return fmt.Errorf("scheduler config: BaseInterval must be > 0, got %s", c.BaseInterval)
	}
	if c.MinInterval <= 0 || c.MinInterval > c.BaseInterval {
		return fmt.Errorf("scheduler config: MinInterval must be in (0, BaseInterval], got %s", c.MinInterval)
	}
	if c.MaxInterval < c.BaseInterval {
		return fmt.Errorf("scheduler config: MaxInterval must be >= BaseInterval, got %s", c.MaxInterval)
	}
	return nil
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
