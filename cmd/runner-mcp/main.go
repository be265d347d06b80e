// Command runner-mcp serves the compile-execute pipeline as the MCP tool
// code_run over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"coderunner/internal/runner/service"
	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/setup"
	"coderunner/pkg/utils/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the MCP server configuration.
type AppConfig struct {
	Logger  logger.Config         `yaml:"logger"`
	Sandbox setup.Config          `yaml:"sandbox"`
	Execute service.ExecuteConfig `yaml:"execute"`
}

func main() {
	configPath := flag.String("config", "", "Path to optional config file")
	flag.Parse()

	var appCfg AppConfig
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read config file failed: %v\n", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &appCfg); err != nil {
			fmt.Fprintf(os.Stderr, "parse config file failed: %v\n", err)
			os.Exit(1)
		}
	}
	// stdout is the MCP transport.
	appCfg.Logger.OutputPath = "stderr"
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	execService, err := newExecuteService(appCfg)
	if err != nil {
		logger.Error(context.Background(), "init execute service failed", zap.Error(err))
		os.Exit(1)
	}

	s := server.NewMCPServer("coderunner", "0.1.0")
	s.AddTool(codeRunTool(execService.Languages()), newCodeRunHandler(execService).handle)

	if err := server.ServeStdio(s); err != nil {
		logger.Error(context.Background(), "mcp server stopped", zap.Error(err))
	}
}

// newExecuteService serves every configured language profile.
func newExecuteService(appCfg AppConfig) (*service.ExecuteService, error) {
	pipes, err := setup.NewPipelines(appCfg.Sandbox)
	if err != nil {
		return nil, err
	}
	def, _ := pipes.Get("")
	opts := make([]service.ExecuteOption, 0, len(pipes.Languages()))
	for _, lang := range pipes.Languages() {
		p, _ := pipes.Get(lang)
		opts = append(opts, service.WithRunner(lang, p))
	}
	appCfg.Execute.DefaultLanguage = pipes.Default
	return service.NewExecuteService(def, appCfg.Execute, opts...)
}

func codeRunTool(languages []string) mcp.Tool {
	return mcp.Tool{
		Name:        "code_run",
		Description: "Compile a single source file and run it in a sandbox. Returns a JSON record with stdout, stderr, executionTime and status.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to compile and execute",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Language of the source; omitted means the default language",
					"enum":        languages,
				},
			},
			Required: []string{"code"},
		},
	}
}

type executor interface {
	Execute(ctx context.Context, language string, src []byte) (result.ExecutionResult, error)
}

type codeRunHandler struct {
	exec executor
}

func newCodeRunHandler(exec executor) *codeRunHandler {
	return &codeRunHandler{exec: exec}
}

func (h *codeRunHandler) handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	code, ok := args["code"].(string)
	if !ok {
		return errResult("error: 'code' is required"), nil
	}

	language, _ := args["language"].(string)

	res, err := h.exec.Execute(ctx, language, []byte(code))
	if err != nil && res.Status == "" {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(result.Marshal(res))}},
		IsError: !res.Succeeded(),
	}, nil
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
