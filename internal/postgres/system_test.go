package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexpostgres/nexpostgres/internal/sshexec"
)

func TestDetectOSFromOSRelease(t *testing.T) {
	runner := (&fakeRunner{}).
		on("cat /etc/os-release", sshexec.Result{Stdout: "NAME=\"Ubuntu\"\nID=ubuntu\nID_LIKE=debian\n"})
	s := NewSystem(runner)

	assert.Equal(t, osDebian, s.DetectOS())
}

func TestDetectOSFallsThroughProbes(t *testing.T) {
	runner := (&fakeRunner{}).
		on("cat /etc/os-release", sshexec.Result{ExitCode: 1}).
		on("lsb_release", sshexec.Result{ExitCode: 127}).
		on("uname -a", sshexec.Result{Stdout: "Linux host 5.14.0 #1 SMP x86_64 Rocky Linux\n"})
	s := NewSystem(runner)

	assert.Equal(t, osRHEL, s.DetectOS())
}

func TestDetectOSCaches(t *testing.T) {
	runner := (&fakeRunner{}).
		on("cat /etc/os-release", sshexec.Result{Stdout: "ID=debian\n"})
	s := NewSystem(runner)

	s.DetectOS()
	calls := len(runner.commands)
	s.DetectOS()
	assert.Equal(t, calls, len(runner.commands))
}

func TestDetectOSUnknown(t *testing.T) {
	runner := (&fakeRunner{}).
		on("cat /etc/os-release", sshexec.Result{Stdout: "ID=plan9\n"}).
		on("lsb_release", sshexec.Result{ExitCode: 1}).
		on("uname -a", sshexec.Result{Stdout: "Plan 9\n"})
	s := NewSystem(runner)

	assert.Equal(t, osUnknown, s.DetectOS())
}

func TestExecSQLPipesScriptOverStdin(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSystem(runner)

	_, err := s.ExecSQL("SELECT 1;", "orders")
	require.NoError(t, err)

	require.Len(t, runner.commands, 1)
	assert.Contains(t, runner.commands[0], "psql -qAt -v ON_ERROR_STOP=1 -d 'orders'")
	assert.Equal(t, "SELECT 1;", runner.inputs[0])
}

func TestServiceCtlNonZeroExitIsCommandError(t *testing.T) {
	runner := (&fakeRunner{}).
		on("systemctl restart", sshexec.Result{ExitCode: 5, Stderr: "Unit not found."})
	s := NewSystem(runner)

	err := s.RestartService("postgresql")
	require.Error(t, err)
	assert.Equal(t, KindCommand, KindOf(err))
	assert.Contains(t, err.Error(), "Unit not found.")
}

func TestRunAsPostgresQuotesCommand(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSystem(runner)

	_, err := s.RunAsPostgres("echo $HOME")
	require.NoError(t, err)
	assert.Equal(t, "sudo -u postgres bash -c 'echo $HOME'", runner.commands[0])
}
