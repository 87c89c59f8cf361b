package postgres

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/models"
)

// Users manages PostgreSQL login roles and their privileges on a remote
// cluster. All statements travel over psql stdin; identifiers are validated
// and quoted, never interpolated raw.
type Users struct {
	system *System
}

// NewUsers creates a Users sharing the run's System.
func NewUsers(system *System) *Users {
	return &Users{system: system}
}

// UserExists reports whether a login role exists.
func (u *Users) UserExists(username string) (bool, error) {
	if !ValidIdent(username) {
		return false, opErrorf(KindValidation, "invalid role name %q", username)
	}
	value, err := u.system.QueryValue(
		fmt.Sprintf("SELECT EXISTS (SELECT FROM pg_roles WHERE rolname = %s);", quoteLiteral(username)), "")
	if err != nil {
		return false, err
	}
	return value == "t", nil
}

// EnsureUser creates a login role with the given password, or resets the
// password when the role already exists.
func (u *Users) EnsureUser(username, password string) error {
	if !ValidIdent(username) {
		return opErrorf(KindValidation, "invalid role name %q", username)
	}

	script := fmt.Sprintf(`DO $$
BEGIN
    IF NOT EXISTS (SELECT FROM pg_roles WHERE rolname = %s) THEN
        CREATE ROLE %s WITH LOGIN PASSWORD %s;
    ELSE
        ALTER ROLE %s WITH LOGIN PASSWORD %s;
    END IF;
END
$$;`, quoteLiteral(username), quoteIdent(username), quoteLiteral(password),
		quoteIdent(username), quoteLiteral(password))

	result, err := u.system.ExecSQL(script, "")
	if err != nil {
		return wrapOpError(KindConnection, err, "ensure role %s: %v", username, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindPermission, "ensure role %s: %s", username, firstError(result))
	}
	return nil
}

// DeleteUser drops a login role after handing its objects to the current
// superuser so the drop cannot fail on ownership.
func (u *Users) DeleteUser(username string) error {
	if !ValidIdent(username) {
		return opErrorf(KindValidation, "invalid role name %q", username)
	}

	script := fmt.Sprintf(`DO $$
BEGIN
    IF EXISTS (SELECT FROM pg_roles WHERE rolname = %s) THEN
        EXECUTE format('REASSIGN OWNED BY %%I TO CURRENT_USER', %s);
        EXECUTE format('DROP OWNED BY %%I', %s);
    END IF;
END
$$;
DROP ROLE IF EXISTS %s;`, quoteLiteral(username), quoteLiteral(username),
		quoteLiteral(username), quoteIdent(username))

	result, err := u.system.ExecSQL(script, "")
	if err != nil {
		return wrapOpError(KindConnection, err, "drop role %s: %v", username, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindPermission, "drop role %s: %s", username, firstError(result))
	}
	return nil
}

// grantStatements renders the statement list for one PermissionSet. Pure,
// so the revoke-first and default-privilege rules are directly testable.
func grantStatements(username, database string, p models.PermissionSet) []string {
	role := quoteIdent(username)
	db := quoteIdent(database)

	// Revocation first: repeated grants converge to exactly the requested
	// set instead of accumulating a union of past requests.
	stmts := []string{
		fmt.Sprintf("REVOKE ALL PRIVILEGES ON DATABASE %s FROM %s;", db, role),
		fmt.Sprintf("REVOKE ALL PRIVILEGES ON ALL TABLES IN SCHEMA public FROM %s;", role),
		fmt.Sprintf("REVOKE ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA public FROM %s;", role),
		fmt.Sprintf("REVOKE ALL PRIVILEGES ON SCHEMA public FROM %s;", role),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public REVOKE ALL ON TABLES FROM %s;", role),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public REVOKE ALL ON SEQUENCES FROM %s;", role),
	}

	if p.Connect {
		stmts = append(stmts,
			fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s;", db, role),
			fmt.Sprintf("GRANT USAGE ON SCHEMA public TO %s;", role))
	}

	var tablePrivs []string
	if p.Select {
		tablePrivs = append(tablePrivs, "SELECT")
	}
	if p.Insert {
		tablePrivs = append(tablePrivs, "INSERT")
	}
	if p.Update {
		tablePrivs = append(tablePrivs, "UPDATE")
	}
	if p.Delete {
		tablePrivs = append(tablePrivs, "DELETE")
	}
	if len(tablePrivs) > 0 {
		privs := strings.Join(tablePrivs, ", ")
		stmts = append(stmts,
			fmt.Sprintf("GRANT %s ON ALL TABLES IN SCHEMA public TO %s;", privs, role),
			// Default privileges so the grant also covers tables created
			// later; without this a freshly restored empty database loses
			// permissions the moment its first table appears.
			fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT %s ON TABLES TO %s;", privs, role))
	}
	if p.Insert || p.Update {
		stmts = append(stmts,
			fmt.Sprintf("GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO %s;", role),
			fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT USAGE, SELECT ON SEQUENCES TO %s;", role))
	}
	if p.Create {
		stmts = append(stmts, fmt.Sprintf("GRANT CREATE ON SCHEMA public TO %s;", role))
	}
	return stmts
}

// Grant reconciles a role's privileges on a database to exactly the given
// set. Always revokes everything first, so Grant is idempotent.
func (u *Users) Grant(username, database string, p models.PermissionSet) error {
	if !ValidIdent(username) {
		return opErrorf(KindValidation, "invalid role name %q", username)
	}
	if !ValidIdent(database) {
		return opErrorf(KindValidation, "invalid database name %q", database)
	}
	if err := p.Validate(); err != nil {
		return wrapOpError(KindValidation, err, "invalid permission set: %v", err)
	}

	script := strings.Join(grantStatements(username, database, p), "\n")
	result, err := u.system.ExecSQL(script, database)
	if err != nil {
		return wrapOpError(KindConnection, err, "grant on %s to %s: %v", database, username, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindPermission, "grant on %s to %s: %s", database, username, firstError(result))
	}

	log.Info().Str("database", database).Str("role", username).
		Str("combination", models.DetectCombination(p)).Msg("Privileges reconciled")
	return nil
}

// aclLetters maps a table privilege to its letter in an aclitem string.
var aclLetters = map[string]string{
	"SELECT": "r",
	"INSERT": "a",
	"UPDATE": "w",
	"DELETE": "d",
}

// tablePrivQuery builds one boolean expression for a table privilege. When
// the database has tables the privilege must hold on all of them; when it
// is empty (the usual state right after a restore) the default ACLs are
// consulted instead.
func tablePrivQuery(username, priv string) string {
	user := quoteLiteral(username)
	return fmt.Sprintf(`SELECT CASE
    WHEN EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public')
    THEN (SELECT COALESCE(bool_and(has_table_privilege(%s, quote_ident(schemaname) || '.' || quote_ident(tablename), %s)), false)
          FROM pg_tables WHERE schemaname = 'public')
    ELSE EXISTS (SELECT FROM pg_default_acl d
                 JOIN pg_namespace n ON n.oid = d.defaclnamespace
                 WHERE n.nspname = 'public' AND d.defaclobjtype = 'r'
                   AND array_to_string(d.defaclacl, ',') ~ (%s || '=[rawd]*%s'))
END;`, user, quoteLiteral(priv), user, aclLetters[priv])
}

// DetectPermissions reads a role's effective privileges on a database back
// into a PermissionSet.
func (u *Users) DetectPermissions(username, database string) (models.PermissionSet, error) {
	var p models.PermissionSet
	if !ValidIdent(username) {
		return p, opErrorf(KindValidation, "invalid role name %q", username)
	}
	if !ValidIdent(database) {
		return p, opErrorf(KindValidation, "invalid database name %q", database)
	}

	user := quoteLiteral(username)
	queries := []string{
		fmt.Sprintf("SELECT has_database_privilege(%s, %s, 'CONNECT');", user, quoteLiteral(database)),
		tablePrivQuery(username, "SELECT"),
		tablePrivQuery(username, "INSERT"),
		tablePrivQuery(username, "UPDATE"),
		tablePrivQuery(username, "DELETE"),
		fmt.Sprintf("SELECT has_schema_privilege(%s, 'public', 'CREATE');", user),
	}

	result, err := u.system.ExecSQL(strings.Join(queries, "\n"), database)
	if err != nil {
		return p, wrapOpError(KindConnection, err, "detect privileges of %s on %s: %v", username, database, err)
	}
	if result.ExitCode != 0 {
		return p, opErrorf(KindPermission, "detect privileges of %s on %s: %s", username, database, firstError(result))
	}

	lines := strings.Fields(strings.TrimSpace(result.Stdout))
	if len(lines) != 6 {
		return p, opErrorf(KindCommand, "detect privileges of %s on %s: expected 6 values, got %d", username, database, len(lines))
	}

	flags := make([]bool, 6)
	for i, line := range lines {
		flags[i] = line == "t"
	}
	p = models.PermissionSet{
		Connect: flags[0],
		Select:  flags[1],
		Insert:  flags[2],
		Update:  flags[3],
		Delete:  flags[4],
		Create:  flags[5],
	}
	return p, nil
}
