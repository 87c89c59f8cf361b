package postgres

import "github.com/nexpostgres/nexpostgres/internal/sshexec"

// Runner executes shell commands on the managed host. *sshexec.Client
// satisfies it; tests substitute a scripted fake.
type Runner interface {
	Run(command string) (sshexec.Result, error)
	RunInput(command, input string) (sshexec.Result, error)
}
