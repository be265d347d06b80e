package outcome

// Static diagnostics used when a stage produced no usable output of its own.
const (
	MsgBuildStart    = "Failed to compile"
	MsgBuildFailed   = "Compilation failed"
	MsgBuildTimeout  = "Compilation timed out"
	MsgExecStart     = "Failed to execute"
	MsgTimeout       = "Execution timed out"
	MsgRuntime       = "Runtime error"
	MsgFileCreation  = "Failed to create temporary file"
	TruncationSuffix = "\n... (output truncated)"
)
