// Package setup wires the sandbox components into ready pipelines from one
// configuration block shared by every binary.
package setup

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"coderunner/internal/sandbox/engine"
	"coderunner/internal/sandbox/observer"
	"coderunner/internal/sandbox/pipeline"
	"coderunner/internal/sandbox/stage"
	"coderunner/internal/sandbox/workspace"
)

// DefaultLanguage names the top-level profile when Config.Language is empty.
const DefaultLanguage = "cpp"

// Config holds sandbox settings. The top-level workspace, build and exec
// blocks form the profile named by Language; Languages adds more.
type Config struct {
	Language  string                    `yaml:"language"`
	Workspace workspace.Config          `yaml:"workspace"`
	Engine    engine.Config             `yaml:"engine"`
	Build     stage.BuildConfig         `yaml:"build"`
	Exec      stage.ExecConfig          `yaml:"exec"`
	Languages map[string]LanguageConfig `yaml:"languages"`
	LogStages bool                      `yaml:"logStages"`
}

// LanguageConfig is one extra language profile. It shares the workspace root
// and engine of the top-level profile. A nil Build runs the source directly.
type LanguageConfig struct {
	SourceFile string             `yaml:"sourceFile"`
	BinaryFile string             `yaml:"binaryFile"`
	Build      *stage.BuildConfig `yaml:"build"`
	Exec       stage.ExecConfig   `yaml:"exec"`
}

// Pipelines holds one pipeline per configured language.
type Pipelines struct {
	// Default is the language used when a request names none.
	Default string
	// Workspaces is the default profile's manager, used to sweep stale
	// workspaces under the shared root.
	Workspaces *workspace.Manager

	byLanguage map[string]*pipeline.Pipeline
}

// Get returns the pipeline for language, or the default one when language is empty.
func (p *Pipelines) Get(language string) (*pipeline.Pipeline, bool) {
	language = NormalizeLanguage(language)
	if language == "" {
		language = p.Default
	}
	pipe, ok := p.byLanguage[language]
	return pipe, ok
}

// Languages returns the configured language names in sorted order.
func (p *Pipelines) Languages() []string {
	names := make([]string, 0, len(p.byLanguage))
	for name := range p.byLanguage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeLanguage lower-cases and trims a language name.
func NormalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

// NewPipelines builds the engine once and a pipeline for every profile in cfg.
func NewPipelines(cfg Config) (*Pipelines, error) {
	defaultLang := NormalizeLanguage(cfg.Language)
	if defaultLang == "" {
		defaultLang = DefaultLanguage
	}
	eng, err := engine.NewEngine(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("init sandbox engine: %w", err)
	}

	var recorder observer.MetricsRecorder = observer.NoopRecorder{}
	if cfg.LogStages {
		recorder = observer.LogRecorder{}
	}

	workspaces, err := workspace.NewManager(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("init workspace manager: %w", err)
	}
	build := cfg.Build
	pipe, err := newPipeline(eng, workspaces, &build, cfg.Exec, recorder)
	if err != nil {
		return nil, err
	}
	out := &Pipelines{
		Default:    defaultLang,
		Workspaces: workspaces,
		byLanguage: map[string]*pipeline.Pipeline{defaultLang: pipe},
	}

	for name, lang := range cfg.Languages {
		name = NormalizeLanguage(name)
		if name == "" {
			return nil, fmt.Errorf("language name is required")
		}
		if _, dup := out.byLanguage[name]; dup {
			return nil, fmt.Errorf("language %q is configured twice", name)
		}
		wsCfg := cfg.Workspace
		wsCfg.Root = workspaces.Root()
		if wsCfg.Shared {
			// A shared directory is owned by one profile.
			wsCfg.Root = filepath.Join(wsCfg.Root, name)
		}
		wsCfg.SourceFile = lang.SourceFile
		wsCfg.BinaryFile = lang.BinaryFile
		langWorkspaces, err := workspace.NewManager(wsCfg)
		if err != nil {
			return nil, fmt.Errorf("init %s workspace manager: %w", name, err)
		}
		pipe, err := newPipeline(eng, langWorkspaces, lang.Build, lang.Exec, recorder)
		if err != nil {
			return nil, fmt.Errorf("init %s pipeline: %w", name, err)
		}
		out.byLanguage[name] = pipe
	}
	return out, nil
}

func newPipeline(eng engine.Engine, workspaces *workspace.Manager, build *stage.BuildConfig, exec stage.ExecConfig, recorder observer.MetricsRecorder) (*pipeline.Pipeline, error) {
	var builder pipeline.BuildStage
	if build != nil {
		b, err := stage.NewBuilder(eng, *build)
		if err != nil {
			return nil, fmt.Errorf("init build stage: %w", err)
		}
		builder = b
	}
	executor, err := stage.NewExecutor(eng, exec)
	if err != nil {
		return nil, fmt.Errorf("init execute stage: %w", err)
	}
	return pipeline.New(workspaces, builder, executor, pipeline.WithRecorder(recorder)), nil
}
