package runner

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand splits a configured command line into program and arguments
// without going through a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	return args, nil
}

// ValidateExtraArgs rejects shell metacharacters in operator-supplied ffmpeg
// arguments. exec never interprets them, so their presence means a misconfiguration.
func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		if arg == "-i" || arg == "-y" {
			return fmt.Errorf("argument %s is managed by the pipeline", arg)
		}
	}
	return nil
}
