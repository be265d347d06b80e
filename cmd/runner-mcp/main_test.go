package main

import (
	"context"
	"testing"

	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"

	"github.com/mark3labs/mcp-go/mcp"
)

type fakeExecutor struct {
	res      result.ExecutionResult
	err      error
	src      string
	language string
}

func (f *fakeExecutor) Execute(ctx context.Context, language string, src []byte) (result.ExecutionResult, error) {
	f.src = string(src)
	f.language = language
	return f.res, f.err
}

func callTool(t *testing.T, h *codeRunHandler, args any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Name = "code_run"
	req.Params.Arguments = args
	res, err := h.handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	return res
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected one content item, got %d", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestCodeRunSuccess(t *testing.T) {
	exec := &fakeExecutor{res: result.ExecutionResult{Stdout: "42\n", ExecutionTime: "0.050s", Status: result.StatusSuccess}}
	res := callTool(t, newCodeRunHandler(exec), map[string]any{"code": "int main(){}"})

	if res.IsError {
		t.Fatalf("successful run must not be an error")
	}
	want := `{"stdout":"42\n","stderr":"","executionTime":"0.050s","status":"success"}` + "\n"
	if got := textOf(t, res); got != want {
		t.Fatalf("unexpected text %q", got)
	}
	if exec.src != "int main(){}" {
		t.Fatalf("unexpected source %q", exec.src)
	}
}

func TestCodeRunFailureRecord(t *testing.T) {
	exec := &fakeExecutor{res: result.ExecutionResult{Stderr: "Execution timed out", ExecutionTime: "5.001s", Status: result.StatusFailure}}
	res := callTool(t, newCodeRunHandler(exec), map[string]any{"code": "int main(){for(;;);}"})
	if !res.IsError {
		t.Fatalf("failed run must be flagged")
	}
	decoded, err := result.Unmarshal([]byte(textOf(t, res)))
	if err != nil || decoded.Stderr != "Execution timed out" {
		t.Fatalf("unexpected record %+v %v", decoded, err)
	}
}

func TestCodeRunRejected(t *testing.T) {
	exec := &fakeExecutor{err: appErr.New(appErr.ExecutorBusy)}
	res := callTool(t, newCodeRunHandler(exec), map[string]any{"code": "x"})
	if !res.IsError {
		t.Fatalf("rejected run must be flagged")
	}

	res = callTool(t, newCodeRunHandler(exec), map[string]any{})
	if !res.IsError || textOf(t, res) != "error: 'code' is required" {
		t.Fatalf("missing code must be rejected")
	}
}

func TestCodeRunLanguageArgument(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{name: "default", args: map[string]any{"code": "x"}, want: ""},
		{name: "python", args: map[string]any{"code": "x", "language": "python"}, want: "python"},
		{name: "wrong type", args: map[string]any{"code": "x", "language": 3}, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &fakeExecutor{res: result.ExecutionResult{ExecutionTime: "0.001s", Status: result.StatusSuccess}}
			callTool(t, newCodeRunHandler(exec), tc.args)
			if exec.language != tc.want {
				t.Fatalf("language = %q, want %q", exec.language, tc.want)
			}
		})
	}
}

func TestCodeRunUnsupportedLanguage(t *testing.T) {
	exec := &fakeExecutor{err: appErr.New(appErr.UnsupportedLanguage)}
	res := callTool(t, newCodeRunHandler(exec), map[string]any{"code": "x", "language": "cobol"})
	if !res.IsError || textOf(t, res) != "error: Unsupported language" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCodeRunToolSchema(t *testing.T) {
	tool := codeRunTool([]string{"cpp", "python"})
	if tool.Name != "code_run" || len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "code" {
		t.Fatalf("unexpected tool: %+v", tool)
	}
	lang, ok := tool.InputSchema.Properties["language"].(map[string]any)
	if !ok {
		t.Fatalf("language property missing")
	}
	if enum, _ := lang["enum"].([]string); len(enum) != 2 || enum[1] != "python" {
		t.Fatalf("unexpected language enum %v", lang["enum"])
	}
}
