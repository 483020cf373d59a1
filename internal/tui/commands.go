package tui

import (
	"fmt"
	"strings"
)

// command is a parsed command-bar entry.
type command struct {
	name string
	args []string
}

var commandArity = map[string]int{
	"attach":   2,
	"detach":   2,
	"reset":    1,
	"delegate": 3,
	"run":      0,
	"refresh":  0,
}

// parseCommand splits input into a known command and its arguments. A
// leading "/" and "@" markers from autocomplete are ignored.
func parseCommand(input string) (command, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(input), "/"))
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	name := strings.ToLower(fields[0])
	want, ok := commandArity[name]
	if !ok {
		return command{}, fmt.Errorf("unknown command %q", fields[0])
	}
	args := fields[1:]
	for i, a := range args {
		args[i] = strings.TrimPrefix(a, "@")
	}
	if len(args) != want {
		return command{}, fmt.Errorf("%s takes %d argument(s), got %d", name, want, len(args))
	}
	return command{name: name, args: args}, nil
}
