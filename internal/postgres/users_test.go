package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/sshexec"
)

func mustSet(t *testing.T, name string) models.PermissionSet {
	t.Helper()
	p, ok := models.CombinationSet(name)
	require.True(t, ok)
	return p
}

func TestGrantStatementsRevokeBeforeGrant(t *testing.T) {
	stmts := grantStatements("app", "orders", mustSet(t, models.CombinationReadWrite))

	lastRevoke, firstGrant := -1, -1
	for i, s := range stmts {
		if strings.HasPrefix(s, "REVOKE") || strings.Contains(s, "REVOKE ALL ON") {
			lastRevoke = i
		}
		if firstGrant == -1 && strings.HasPrefix(s, "GRANT") {
			firstGrant = i
		}
	}
	require.GreaterOrEqual(t, firstGrant, 0)
	assert.Less(t, lastRevoke, firstGrant)
}

func TestGrantStatementsReadWrite(t *testing.T) {
	joined := strings.Join(grantStatements("app", "orders", mustSet(t, models.CombinationReadWrite)), "\n")

	assert.Contains(t, joined, `GRANT CONNECT ON DATABASE "orders" TO "app";`)
	assert.Contains(t, joined, `GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO "app";`)
	assert.Contains(t, joined, `ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO "app";`)
	assert.Contains(t, joined, `GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO "app";`)
	assert.NotContains(t, joined, "GRANT CREATE")
}

func TestGrantStatementsNoAccess(t *testing.T) {
	joined := strings.Join(grantStatements("app", "orders", mustSet(t, models.CombinationNoAccess)), "\n")

	assert.Contains(t, joined, `GRANT CONNECT ON DATABASE "orders" TO "app";`)
	assert.NotContains(t, joined, "ON ALL TABLES IN SCHEMA public TO")
	assert.NotContains(t, joined, "GRANT CREATE")
}

func TestGrantStatementsAll(t *testing.T) {
	joined := strings.Join(grantStatements("app", "orders", mustSet(t, models.CombinationAll)), "\n")

	assert.Contains(t, joined, `GRANT CREATE ON SCHEMA public TO "app";`)
}

func TestGrantRejectsInvalidInput(t *testing.T) {
	u := NewUsers(NewSystem(&fakeRunner{}))

	err := u.Grant("app;--", "orders", mustSet(t, models.CombinationReadOnly))
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	err = u.Grant("app", "orders", models.PermissionSet{Select: true})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestGrantRunsOnTargetDatabase(t *testing.T) {
	runner := &fakeRunner{}
	u := NewUsers(NewSystem(runner))

	require.NoError(t, u.Grant("app", "orders", mustSet(t, models.CombinationReadOnly)))
	idx := runner.commandIndex("-d 'orders'")
	assert.GreaterOrEqual(t, idx, 0)
}

func TestEnsureUserSQLFailureIsPermissionError(t *testing.T) {
	runner := (&fakeRunner{}).on("CREATE ROLE", sshexec.Result{ExitCode: 3, Stderr: "permission denied"})
	u := NewUsers(NewSystem(runner))

	err := u.EnsureUser("app", "s3cret")
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))
}

func TestUserExists(t *testing.T) {
	runner := (&fakeRunner{}).on("pg_roles", sshexec.Result{Stdout: "t\n"})
	u := NewUsers(NewSystem(runner))

	exists, err := u.UserExists("app")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDetectPermissionsRoundTrip(t *testing.T) {
	// Effective privileges of a read_write grant read back as read_write.
	runner := (&fakeRunner{}).
		on("has_database_privilege", sshexec.Result{Stdout: "t\nt\nt\nt\nt\nf\n"})
	u := NewUsers(NewSystem(runner))

	p, err := u.DetectPermissions("app", "orders")
	require.NoError(t, err)
	assert.Equal(t, models.CombinationReadWrite, models.DetectCombination(p))
}

func TestDetectPermissionsUnexpectedOutput(t *testing.T) {
	runner := (&fakeRunner{}).
		on("has_database_privilege", sshexec.Result{Stdout: "t\nt\n"})
	u := NewUsers(NewSystem(runner))

	_, err := u.DetectPermissions("app", "orders")
	require.Error(t, err)
}
