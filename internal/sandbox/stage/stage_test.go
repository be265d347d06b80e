package stage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"coderunner/internal/sandbox/engine"
	"coderunner/internal/sandbox/outcome"
	"coderunner/internal/sandbox/spec"
	"coderunner/internal/sandbox/workspace"
	appErr "coderunner/pkg/errors"
)

type fakeEngine struct {
	results  []engine.RunResult
	errs     []error
	runSpecs []spec.RunSpec
}

func (f *fakeEngine) Run(ctx context.Context, runSpec spec.RunSpec) (engine.RunResult, error) {
	f.runSpecs = append(f.runSpecs, runSpec)
	idx := len(f.runSpecs) - 1
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if idx < len(f.results) {
		return f.results[idx], err
	}
	return engine.RunResult{}, err
}

func completed(code int, output string) engine.RunResult {
	return engine.RunResult{
		Process: outcome.Classify(outcome.RawStatus{Exited: true, ExitCode: code}),
		Output:  []byte(output),
		Elapsed: 10 * time.Millisecond,
	}
}

func testWorkspace() *workspace.Workspace {
	return &workspace.Workspace{
		ID:         "ws-1",
		Dir:        "/work/ws 1",
		SourcePath: "/work/ws 1/main.cpp",
		BinaryPath: "/work/ws 1/main",
	}
}

func TestBuilderRunSpec(t *testing.T) {
	eng := &fakeEngine{results: []engine.RunResult{completed(0, "")}}
	b, err := NewBuilder(eng, BuildConfig{Timeout: 10 * time.Second, Limits: spec.ResourceLimit{MemoryMB: 512}})
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	out := b.Build(context.Background(), testWorkspace())
	if !out.Clean() {
		t.Fatalf("expected clean build, got %+v", out)
	}
	if len(eng.runSpecs) != 1 {
		t.Fatalf("expected 1 run spec, got %d", len(eng.runSpecs))
	}
	rs := eng.runSpecs[0]
	wantCmd := []string{"g++", "-o", "/work/ws 1/main", "/work/ws 1/main.cpp"}
	if !reflect.DeepEqual(rs.Cmd, wantCmd) {
		t.Fatalf("unexpected command: %q", rs.Cmd)
	}
	if rs.Stage != spec.StageBuild || rs.WorkDir != "/work/ws 1" || rs.RunID != "ws-1" {
		t.Fatalf("unexpected run spec: %+v", rs)
	}
	if rs.Limits.WallTimeMs != 10000 || rs.Limits.MemoryMB != 512 {
		t.Fatalf("unexpected limits: %+v", rs.Limits)
	}
}

func TestBuilderOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		result   engine.RunResult
		err      error
		wantKind outcome.Kind
		wantOut  string
	}{
		{
			name:     "clean_keeps_warnings",
			result:   completed(0, "main.cpp:1: warning: unused variable\n"),
			wantKind: outcome.KindClean,
			wantOut:  "main.cpp:1: warning: unused variable\n",
		},
		{
			name:     "diagnostic_verbatim",
			result:   completed(1, "main.cpp:1:1: error: expected ';'\n"),
			wantKind: outcome.KindNonzero,
			wantOut:  "main.cpp:1:1: error: expected ';'\n",
		},
		{
			name:     "empty_diagnostic_falls_back",
			result:   completed(1, ""),
			wantKind: outcome.KindNonzero,
			wantOut:  outcome.MsgBuildFailed,
		},
		{
			name:     "compiler_missing",
			result:   engine.RunResult{Process: outcome.Classify(outcome.RawStatus{StartErr: errors.New("not found")})},
			wantKind: outcome.KindFailedToStart,
			wantOut:  outcome.MsgBuildStart,
		},
		{
			name:     "compile_timeout",
			result:   engine.RunResult{Process: outcome.Classify(outcome.RawStatus{DeadlineHit: true}), Output: []byte("partial")},
			wantKind: outcome.KindTimedOut,
			wantOut:  outcome.MsgBuildTimeout,
		},
		{
			name:     "engine_rejects_spec",
			err:      errors.New("work dir is required"),
			wantKind: outcome.KindFailedToStart,
			wantOut:  outcome.MsgBuildStart,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{results: []engine.RunResult{tc.result}, errs: []error{tc.err}}
			b, err := NewBuilder(eng, BuildConfig{})
			if err != nil {
				t.Fatalf("new builder: %v", err)
			}
			out := b.Build(context.Background(), testWorkspace())
			if out.Kind != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, out.Kind)
			}
			if out.Output != tc.wantOut {
				t.Fatalf("expected output %q, got %q", tc.wantOut, out.Output)
			}
		})
	}
}

func TestExecutorOutcomes(t *testing.T) {
	cases := []struct {
		name          string
		result        engine.RunResult
		wantKind      outcome.Kind
		wantOut       string
		wantTruncated bool
	}{
		{
			name:     "clean",
			result:   completed(0, "Hello\n"),
			wantKind: outcome.KindClean,
			wantOut:  "Hello\n",
		},
		{
			name: "clean_truncated",
			result: engine.RunResult{
				Process:   outcome.Classify(outcome.RawStatus{Exited: true}),
				Output:    []byte("yyyy"),
				Truncated: true,
			},
			wantKind:      outcome.KindClean,
			wantOut:       "yyyy",
			wantTruncated: true,
		},
		{
			name:     "nonzero_with_output",
			result:   completed(2, "bad input\n"),
			wantKind: outcome.KindNonzero,
			wantOut:  "bad input\n",
		},
		{
			name:     "nonzero_silent",
			result:   completed(2, ""),
			wantKind: outcome.KindNonzero,
			wantOut:  outcome.MsgRuntime,
		},
		{
			name:     "signaled_silent",
			result:   engine.RunResult{Process: outcome.Classify(outcome.RawStatus{Signaled: true, Signal: 11})},
			wantKind: outcome.KindNonzero,
			wantOut:  outcome.MsgRuntime,
		},
		{
			name: "timeout_discards_output",
			result: engine.RunResult{
				Process:   outcome.Classify(outcome.RawStatus{DeadlineHit: true, Signaled: true, Signal: 9}),
				Output:    []byte("loop loop loop"),
				Truncated: true,
			},
			wantKind: outcome.KindTimedOut,
			wantOut:  outcome.MsgTimeout,
		},
		{
			name:     "cannot_start",
			result:   engine.RunResult{Process: outcome.Classify(outcome.RawStatus{StartErr: errors.New("permission denied")})},
			wantKind: outcome.KindFailedToStart,
			wantOut:  outcome.MsgExecStart,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{results: []engine.RunResult{tc.result}}
			e, err := NewExecutor(eng, ExecConfig{})
			if err != nil {
				t.Fatalf("new executor: %v", err)
			}
			out := e.Execute(context.Background(), testWorkspace())
			if out.Kind != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, out.Kind)
			}
			if out.Output != tc.wantOut {
				t.Fatalf("expected output %q, got %q", tc.wantOut, out.Output)
			}
			if out.Truncated != tc.wantTruncated {
				t.Fatalf("expected truncated=%v, got %v", tc.wantTruncated, out.Truncated)
			}
		})
	}
}

func TestExecutorDefaults(t *testing.T) {
	eng := &fakeEngine{results: []engine.RunResult{completed(0, "")}}
	e, err := NewExecutor(eng, ExecConfig{})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	if e.Deadline() != DefaultDeadline {
		t.Fatalf("expected default deadline, got %s", e.Deadline())
	}
	e.Execute(context.Background(), testWorkspace())

	rs := eng.runSpecs[0]
	if !reflect.DeepEqual(rs.Cmd, []string{"/work/ws 1/main"}) {
		t.Fatalf("unexpected command: %q", rs.Cmd)
	}
	if rs.Stage != spec.StageExecute || rs.Limits.WallTimeMs != 5000 {
		t.Fatalf("unexpected run spec: %+v", rs)
	}
}

func TestParseTemplate(t *testing.T) {
	cases := []struct {
		name    string
		tpl     string
		wantErr bool
		want    []string
	}{
		{name: "quoted", tpl: `clang++ -std=c++17 -D NAME="a b" -o {bin} {src}`, want: []string{"clang++", "-std=c++17", "-D", "NAME=a b", "-o", "/work/ws 1/main", "/work/ws 1/main.cpp"}},
		{name: "dir", tpl: "make -C {dir}", want: []string{"make", "-C", "/work/ws 1"}},
		{name: "blank", tpl: "   ", wantErr: true},
		{name: "unterminated", tpl: `g++ "-o {bin}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := parseTemplate(tc.tpl)
			if tc.wantErr {
				if !appErr.Is(err, appErr.InvalidTemplate) {
					t.Fatalf("expected InvalidTemplate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := cmd.expand(testWorkspace()); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("unexpected expansion: %q", got)
			}
		})
	}
}
