package postgres

import (
	"strings"

	"github.com/nexpostgres/nexpostgres/internal/sshexec"
)

// rule matches a command (or piped stdin) substring to a canned response.
type rule struct {
	match  string
	result sshexec.Result
	err    error
}

// fakeRunner is a scripted Runner. The first rule whose match substring
// appears in the command or its stdin wins; unmatched commands succeed with
// empty output. Every executed command is recorded in order.
type fakeRunner struct {
	rules    []rule
	commands []string
	inputs   []string
}

func (f *fakeRunner) on(match string, result sshexec.Result) *fakeRunner {
	f.rules = append(f.rules, rule{match: match, result: result})
	return f
}

func (f *fakeRunner) onErr(match string, err error) *fakeRunner {
	f.rules = append(f.rules, rule{match: match, err: err})
	return f
}

func (f *fakeRunner) lookup(command, input string) (sshexec.Result, error) {
	for _, r := range f.rules {
		if strings.Contains(command, r.match) || (input != "" && strings.Contains(input, r.match)) {
			return r.result, r.err
		}
	}
	return sshexec.Result{}, nil
}

func (f *fakeRunner) Run(command string) (sshexec.Result, error) {
	f.commands = append(f.commands, command)
	f.inputs = append(f.inputs, "")
	return f.lookup(command, "")
}

func (f *fakeRunner) RunInput(command, input string) (sshexec.Result, error) {
	f.commands = append(f.commands, command)
	f.inputs = append(f.inputs, input)
	return f.lookup(command, input)
}

// commandIndex returns the position of the first recorded command containing
// substr, or -1.
func (f *fakeRunner) commandIndex(substr string) int {
	for i, c := range f.commands {
		if strings.Contains(c, substr) || strings.Contains(f.inputs[i], substr) {
			return i
		}
	}
	return -1
}
