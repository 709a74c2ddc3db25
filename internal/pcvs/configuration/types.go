// Package configuration holds the typed run profile loaded at startup. The
// profile is produced and validated upstream; this package only describes
// the parts the orchestration core consumes.
package configuration

// Config is the top-level run profile.
type Config struct {
	Machine    MachineConfig    `yaml:"machine"`
	Validation ValidationConfig `yaml:"validation"`
	// MetricsPort exposes the Prometheus endpoint when non-zero.
	MetricsPort int `yaml:"metricsPort"`
	// OutputDir is the root of the build/result tree.
	OutputDir string `yaml:"outputDir"`
}

// MachineConfig describes the target machine and how to reach its resource
// manager.
type MachineConfig struct {
	// Dims are the resource dimensions, most-significant first,
	// conventionally [nodes, coresPerNode].
	Dims []int `yaml:"dims"`
	// ConcurrentRun is the number of runner workers.
	ConcurrentRun int `yaml:"concurrentRun"`
	// JobManager configures the wrapper command per execution mode.
	JobManager JobManagerConfig `yaml:"jobManager"`
}

// JobManagerConfig carries one wrapper configuration per remote execution
// mode.
type JobManagerConfig struct {
	Allocate WrapperConfig `yaml:"allocate"`
	Remote   WrapperConfig `yaml:"remote"`
	Batch    WrapperConfig `yaml:"batch"`
}

// WrapperConfig describes the resource-manager wrapper script invoked to run
// a Set out of process.
type WrapperConfig struct {
	Wrapper string `yaml:"wrapper"`
	Program string `yaml:"program"`
	Args    string `yaml:"args"`
}

// ValidationConfig carries run-wide validation settings.
type ValidationConfig struct {
	// RunFilter maps tag names to allow/deny.
	RunFilter map[string]bool `yaml:"runFilter"`
	// SoftTimeout and HardTimeout are the default per-job limits in
	// seconds, used when the descriptor does not set its own.
	SoftTimeout int `yaml:"softTimeout"`
	HardTimeout int `yaml:"hardTimeout"`
	// Parallel is the parallelism handed to remote runners.
	Parallel int `yaml:"parallel"`
	// FailOnFailure makes the run exit non-zero when any job fails.
	FailOnFailure bool `yaml:"failOnFailure"`
}

// Defaulted fills in the zero values that have sane defaults.
func (c *Config) Defaulted() {
	if len(c.Machine.Dims) == 0 {
		c.Machine.Dims = []int{1, 1}
	}
	if c.Machine.ConcurrentRun < 1 {
		c.Machine.ConcurrentRun = 1
	}
	if c.Validation.Parallel < 1 {
		c.Validation.Parallel = 1
	}
	if c.OutputDir == "" {
		c.OutputDir = ".pcvs"
	}
}
