package stage

import (
	"strings"

	"coderunner/internal/sandbox/workspace"
	"coderunner/pkg/errors"

	"github.com/google/shlex"
)

// commandTemplate is a pre-split command line whose fields may contain the
// placeholders {src}, {bin} and {dir}.
type commandTemplate []string

// parseTemplate splits tpl into fields. Splitting happens before expansion, so
// workspace paths containing spaces stay single arguments.
func parseTemplate(tpl string) (commandTemplate, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, errors.New(errors.InvalidTemplate).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidTemplate, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, errors.New(errors.InvalidTemplate).WithMessage("command is empty after parsing")
	}
	return fields, nil
}

func (t commandTemplate) expand(ws *workspace.Workspace) []string {
	replacer := strings.NewReplacer(
		"{src}", ws.SourcePath,
		"{bin}", ws.BinaryPath,
		"{dir}", ws.Dir,
	)
	out := make([]string, len(t))
	for i, field := range t {
		out[i] = replacer.Replace(field)
	}
	return out
}
