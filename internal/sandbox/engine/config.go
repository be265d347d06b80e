package engine

import "time"

const (
	DefaultOutputLimitBytes int64 = 1 << 20
	defaultWaitDelay              = 500 * time.Millisecond
)

// Config controls engine behavior.
type Config struct {
	// HelperPath is the sandbox-init binary. Empty runs commands directly.
	HelperPath     string `yaml:"helperPath"`
	SeccompProfile string `yaml:"seccompProfile"`
	EnableSeccomp  bool   `yaml:"enableSeccomp"`
	CgroupRoot     string `yaml:"cgroupRoot"`
	EnableCgroup   bool   `yaml:"enableCgroup"`
	// OutputLimitBytes caps captured stdout+stderr; excess is discarded.
	OutputLimitBytes int64 `yaml:"outputLimitBytes"`
	// WaitDelay bounds how long Wait keeps draining output after the leader exits.
	WaitDelay time.Duration `yaml:"waitDelay"`
}

func (c *Config) applyDefaults() {
	if c.OutputLimitBytes <= 0 {
		c.OutputLimitBytes = DefaultOutputLimitBytes
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = defaultWaitDelay
	}
}
