package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexpostgres/nexpostgres/internal/sshexec"
)

func TestMainConfigPrefersLiveQuery(t *testing.T) {
	runner := (&fakeRunner{}).
		on("SHOW config_file;", sshexec.Result{Stdout: "/etc/postgresql/16/main/postgresql.conf\n"})
	c := NewConfigFiles(NewSystem(runner))

	path, err := c.MainConfig()
	require.NoError(t, err)
	assert.Equal(t, "/etc/postgresql/16/main/postgresql.conf", path)
	assert.Equal(t, -1, runner.commandIndex("ls /etc/postgresql"))
}

func TestMainConfigFallsBackToCandidatePaths(t *testing.T) {
	runner := (&fakeRunner{}).
		on("SHOW config_file;", sshexec.Result{ExitCode: 2, Stderr: "psql: could not connect"}).
		on("cat /etc/os-release", sshexec.Result{Stdout: `ID=ubuntu`}).
		on("ls /etc/postgresql", sshexec.Result{Stdout: "/etc/postgresql/16/main/postgresql.conf\n"})
	c := NewConfigFiles(NewSystem(runner))

	path, err := c.MainConfig()
	require.NoError(t, err)
	assert.Equal(t, "/etc/postgresql/16/main/postgresql.conf", path)
}

func TestMainConfigCachesResolution(t *testing.T) {
	runner := (&fakeRunner{}).
		on("SHOW config_file;", sshexec.Result{Stdout: "/etc/pg.conf\n"})
	c := NewConfigFiles(NewSystem(runner))

	_, err := c.MainConfig()
	require.NoError(t, err)
	calls := len(runner.commands)

	_, err = c.MainConfig()
	require.NoError(t, err)
	assert.Equal(t, calls, len(runner.commands))
}

func TestMainConfigExhaustedStrategies(t *testing.T) {
	runner := (&fakeRunner{}).
		on("SHOW config_file;", sshexec.Result{ExitCode: 2}).
		on("ls ", sshexec.Result{ExitCode: 1}).
		on("ps aux", sshexec.Result{ExitCode: 1})
	c := NewConfigFiles(NewSystem(runner))

	_, err := c.MainConfig()
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestMainConfigFromProcessCommandLine(t *testing.T) {
	runner := (&fakeRunner{}).
		on("SHOW config_file;", sshexec.Result{ExitCode: 2}).
		on("ls ", sshexec.Result{ExitCode: 1}).
		on("ps aux", sshexec.Result{Stdout: "postgres 1234 /usr/lib/postgresql/16/bin/postgres -D /data config_file=/custom/postgresql.conf\n"})
	c := NewConfigFiles(NewSystem(runner))

	path, err := c.MainConfig()
	require.NoError(t, err)
	assert.Equal(t, "/custom/postgresql.conf", path)
}

func TestDataDirectoryFallsBackToConfigFile(t *testing.T) {
	runner := (&fakeRunner{}).
		on("SHOW data_directory;", sshexec.Result{ExitCode: 2}).
		on("SHOW config_file;", sshexec.Result{ExitCode: 2}).
		on("ls /etc/postgresql", sshexec.Result{Stdout: "/etc/postgresql/16/main/postgresql.conf\n"}).
		on("grep", sshexec.Result{Stdout: "data_directory = '/var/lib/postgresql/16/main'  # comment\n"})
	c := NewConfigFiles(NewSystem(runner))

	dir, err := c.DataDirectory()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/postgresql/16/main", dir)
}

func TestUpdateSettingBacksUpBeforeEditing(t *testing.T) {
	runner := (&fakeRunner{}).
		on("SHOW config_file;", sshexec.Result{Stdout: "/etc/pg.conf\n"})
	c := NewConfigFiles(NewSystem(runner))

	require.NoError(t, c.UpdateSetting("archive_mode", "on"))

	backup := runner.commandIndex("cp '/etc/pg.conf'")
	edit := runner.commandIndex("sed -i")
	require.GreaterOrEqual(t, backup, 0)
	require.GreaterOrEqual(t, edit, 0)
	assert.Less(t, backup, edit)
	assert.Equal(t, -1, runner.commandIndex("systemctl restart"))
}

func TestUpdateSettingRejectsInvalidName(t *testing.T) {
	c := NewConfigFiles(NewSystem(&fakeRunner{}))
	err := c.UpdateSetting("archive_mode; DROP TABLE x", "on")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUpdateSettingQuotedValueStaysOneSedWord(t *testing.T) {
	runner := (&fakeRunner{}).
		on("SHOW config_file;", sshexec.Result{Stdout: "/etc/pg.conf\n"})
	c := NewConfigFiles(NewSystem(runner))

	// archive_command-style values carry single quotes and ampersands; the
	// sed program must survive them as a single shell word or the in-place
	// edit branch never runs and every call appends a duplicate line.
	require.NoError(t, c.UpdateSetting("archive_command", `'. /etc/wal-g/orders.env && wal-g wal-push %p'`))

	edit := runner.commandIndex("sed -i")
	require.GreaterOrEqual(t, edit, 0)
	assert.Equal(t,
		`sudo grep -qE '^[[:space:]]*#?[[:space:]]*archive_command[[:space:]]*=' '/etc/pg.conf' && sudo sed -i -E 's|^[[:space:]]*#?[[:space:]]*archive_command[[:space:]]*=.*|archive_command = '"'"'. /etc/wal-g/orders.env \&\& wal-g wal-push %p'"'"'|' '/etc/pg.conf' || echo 'archive_command = '"'"'. /etc/wal-g/orders.env && wal-g wal-push %p'"'"'' | sudo tee -a '/etc/pg.conf' > /dev/null`,
		runner.commands[edit])
}

func TestGetSettingEmptyLiveAnswerFallsBack(t *testing.T) {
	runner := (&fakeRunner{}).
		on(`SHOW "archive_timeout";`, sshexec.Result{Stdout: "\n"}).
		on("SHOW config_file;", sshexec.Result{Stdout: "/etc/pg.conf\n"}).
		on("grep", sshexec.Result{Stdout: "archive_timeout = 60\n"})
	c := NewConfigFiles(NewSystem(runner))

	value, err := c.GetSetting("archive_timeout")
	require.NoError(t, err)
	assert.Equal(t, "60", value)
}

func TestGetSettingParsesQuotedValue(t *testing.T) {
	runner := (&fakeRunner{}).
		on(`SHOW "wal_level";`, sshexec.Result{ExitCode: 2}).
		on("SHOW config_file;", sshexec.Result{Stdout: "/etc/pg.conf\n"}).
		on("grep", sshexec.Result{Stdout: "wal_level = 'replica'\n"})
	c := NewConfigFiles(NewSystem(runner))

	value, err := c.GetSetting("wal_level")
	require.NoError(t, err)
	assert.Equal(t, "replica", value)
}
