package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fentz26/cfagents/internal/connectors"
)

// DefaultInterpreter runs ETL scripts when a task names none.
const DefaultInterpreter = "python3"

// CommandAction returns an action that runs an allow-listed script through
// the connector. Parameters:
//
//	script  required, first argument passed to the interpreter
//	command optional interpreter, defaults to python3
//	args    optional list of extra arguments
//
// A non-zero exit fails the task.
func CommandAction(conn connectors.Connector) ActionFunc {
	return func(ctx context.Context, req ActionRequest) (ActionOutput, error) {
		script, _ := req.Parameters["script"].(string)
		if script == "" {
			return ActionOutput{}, fmt.Errorf("%w: script", ErrMissingParameter)
		}
		cmd, _ := req.Parameters["command"].(string)
		if cmd == "" {
			cmd = DefaultInterpreter
		}

		args := []string{script}
		if extra, ok := req.Parameters["args"].([]any); ok {
			for _, a := range extra {
				args = append(args, fmt.Sprint(a))
			}
		}

		res, err := conn.Execute(ctx, cmd, args)
		if err != nil {
			return ActionOutput{}, err
		}
		data := map[string]any{
			"exit_code": res.ExitCode,
			"stderr":    res.Stderr,
			"connector": conn.Name(),
		}
		if !res.Succeeded() {
			return ActionOutput{Data: data}, fmt.Errorf("%s exited with %d: %s", script, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		return ActionOutput{Output: strings.TrimSpace(res.Stdout), Data: data}, nil
	}
}
