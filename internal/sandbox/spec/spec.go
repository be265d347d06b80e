// Package spec defines the execution specification and resource limits of one stage subprocess.
package spec

// Stage names a pipeline step.
type Stage string

const (
	StageBuild   Stage = "build"
	StageExecute Stage = "execute"
)

// ResourceLimit describes hard limits enforced by the sandbox. Zero means unlimited.
type ResourceLimit struct {
	CPUTimeMs  int64 `yaml:"cpuTimeMs"`
	WallTimeMs int64 `yaml:"wallTimeMs"`
	MemoryMB   int64 `yaml:"memoryMB"`
	StackMB    int64 `yaml:"stackMB"`
	OutputMB   int64 `yaml:"outputMB"`
	PIDs       int64 `yaml:"pids"`
	OpenFiles  int64 `yaml:"openFiles"`
}

// RunSpec is the unified execution specification for one stage subprocess.
type RunSpec struct {
	RunID   string
	Stage   Stage
	WorkDir string
	Cmd     []string
	Env     []string
	Limits  ResourceLimit
}

// InitRequest is what the engine hands sandbox-init on its stdin.
type InitRequest struct {
	RunSpec        RunSpec
	SeccompProfile string
}

// HelperExitCode is the status sandbox-init exits with when it could not set up
// or exec the command. Helper diagnostics start with HelperPrefix.
const (
	HelperExitCode = 125
	HelperPrefix   = "sandbox-init:"
)
