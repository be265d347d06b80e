//go:build !linux

package main

import (
	"fmt"
	"os"

	"coderunner/internal/sandbox/spec"
)

func main() {
	_, _ = fmt.Fprintf(os.Stderr, "%s only supported on linux\n", spec.HelperPrefix)
	os.Exit(spec.HelperExitCode)
}
