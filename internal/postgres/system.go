package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/sshexec"
)

// Recognized operating system families, used to pick package manager
// commands and candidate config paths.
const (
	osDebian  = "debian"
	osRHEL    = "rhel"
	osUnknown = "unknown"
)

var osPatterns = map[string][]string{
	osDebian: {"debian", "ubuntu", "mint"},
	osRHEL:   {"rhel", "centos", "fedora", "red hat", "rocky", "almalinux"},
}

// pkgCommands are the package manager invocations for one OS family.
type pkgCommands struct {
	Update  string
	Install string
}

// System provides host-level operations: OS detection, service control and
// running commands as the postgres user. Detection results are cached for
// the lifetime of the instance.
type System struct {
	runner Runner
	osType string
}

// NewSystem creates a System bound to one remote host.
func NewSystem(runner Runner) *System {
	return &System{runner: runner}
}

// DetectOS identifies the remote OS family. /etc/os-release is checked
// first, then lsb_release, then uname.
func (s *System) DetectOS() string {
	if s.osType != "" {
		return s.osType
	}

	probes := []string{"cat /etc/os-release", "lsb_release -i", "uname -a"}
	for _, probe := range probes {
		result, err := s.runner.Run(probe)
		if err != nil || result.ExitCode != 0 {
			continue
		}
		info := strings.ToLower(result.Stdout)
		for osType, patterns := range osPatterns {
			for _, p := range patterns {
				if strings.Contains(info, p) {
					s.osType = osType
					log.Debug().Str("os", osType).Str("probe", probe).Msg("Detected remote OS")
					return s.osType
				}
			}
		}
	}

	s.osType = osUnknown
	return s.osType
}

// packageManager returns install/update commands for the detected OS, or
// false for unsupported systems.
func (s *System) packageManager() (pkgCommands, bool) {
	switch s.DetectOS() {
	case osDebian:
		return pkgCommands{Update: "sudo apt-get update", Install: "sudo apt-get install -y"}, true
	case osRHEL:
		return pkgCommands{Update: "sudo yum update -y", Install: "sudo yum install -y"}, true
	}
	return pkgCommands{}, false
}

// ServiceRunning reports whether a systemd unit is active.
func (s *System) ServiceRunning(name string) bool {
	result, err := s.runner.Run("sudo systemctl is-active " + shellQuote(name))
	return err == nil && result.ExitCode == 0 && strings.TrimSpace(result.Stdout) == "active"
}

func (s *System) serviceCtl(action, name string) error {
	result, err := s.runner.Run(fmt.Sprintf("sudo systemctl %s %s", action, shellQuote(name)))
	if err != nil {
		return wrapOpError(KindConnection, err, "%s %s: %v", action, name, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindCommand, "failed to %s %s: %s", action, name, firstError(result))
	}
	return nil
}

// StartService starts a systemd unit.
func (s *System) StartService(name string) error { return s.serviceCtl("start", name) }

// StopService stops a systemd unit.
func (s *System) StopService(name string) error { return s.serviceCtl("stop", name) }

// RestartService restarts a systemd unit.
func (s *System) RestartService(name string) error { return s.serviceCtl("restart", name) }

// RunAsPostgres executes a shell command as the postgres system user.
func (s *System) RunAsPostgres(command string) (sshexec.Result, error) {
	return s.runner.Run("sudo -u postgres bash -c " + shellQuote(command))
}

// ExecSQL runs a SQL script through psql on the given database (empty for
// the default). The script travels over stdin, never through the shell, so
// statement content needs no shell escaping.
func (s *System) ExecSQL(script, dbName string) (sshexec.Result, error) {
	cmd := "sudo -u postgres psql -qAt -v ON_ERROR_STOP=1"
	if dbName != "" {
		cmd += " -d " + shellQuote(dbName)
	}
	return s.runner.RunInput(cmd, script)
}

// QueryValue runs a single-value query and returns the trimmed output.
func (s *System) QueryValue(query, dbName string) (string, error) {
	result, err := s.ExecSQL(query, dbName)
	if err != nil {
		return "", wrapOpError(KindConnection, err, "query failed: %v", err)
	}
	if result.ExitCode != 0 {
		return "", opErrorf(KindCommand, "query failed: %s", firstError(result))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// BackupFile copies a remote file aside with a timestamp suffix before it is
// edited in place. Returns the backup path.
func (s *System) BackupFile(path string) (string, error) {
	backupPath := fmt.Sprintf("%s.bak.%s", path, time.Now().UTC().Format("20060102150405"))
	result, err := s.runner.Run(fmt.Sprintf("sudo cp %s %s", shellQuote(path), shellQuote(backupPath)))
	if err != nil {
		return "", wrapOpError(KindConnection, err, "backup %s: %v", path, err)
	}
	if result.ExitCode != 0 {
		return "", opErrorf(KindCommand, "backup %s: %s", path, firstError(result))
	}
	return backupPath, nil
}

// FileExists checks for a regular file on the remote host.
func (s *System) FileExists(path string) bool {
	result, err := s.runner.Run("test -f " + shellQuote(path))
	return err == nil && result.ExitCode == 0
}

// DirExists checks for a directory on the remote host.
func (s *System) DirExists(path string) bool {
	result, err := s.runner.Run("test -d " + shellQuote(path))
	return err == nil && result.ExitCode == 0
}

// firstError picks the most useful diagnostic from a command result.
func firstError(r sshexec.Result) string {
	if msg := strings.TrimSpace(r.Stderr); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(r.Stdout); msg != "" {
		return msg
	}
	return "unknown error"
}
