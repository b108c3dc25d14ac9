package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The schema foreign keys carry
// the same cascade policy; the delete transactions here make the ordering
// explicit so the store works identically on engines without enforcement.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Projects(context.Context) ProjectStore                { return &pgProjects{db: s.db} }
func (s *PGStore) Environments(context.Context) EnvironmentStore        { return &pgEnvironments{db: s.db} }
func (s *PGStore) Scopes(context.Context) ScopeStore                    { return &pgScopes{db: s.db} }
func (s *PGStore) ServiceAccounts(context.Context) ServiceAccountStore  { return &pgAccounts{db: s.db} }
func (s *PGStore) Accesses(context.Context) AccessStore                 { return &pgAccesses{db: s.db} }
func (s *PGStore) ServerKeys(context.Context) ServerKeyStore            { return &pgServerKeys{db: s.db} }
func (s *PGStore) Tokens(context.Context) TokenStore                    { return &pgTokens{db: s.db} }

// storeErr normalizes driver errors into the engine's taxonomy. Context
// failures surface as the retryable ErrStorageUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrAlreadyExists
		case "23503": // foreign_key_violation
			return ErrNotFound
		}
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Projects -------------------------------------------------------------------

type pgProjects struct{ db *sql.DB }

func (s *pgProjects) Create(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx,
		`insert into projects(id, name, description, enabled, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6)`,
		p.ID, p.Name, p.Description, p.Enabled, p.CreatedAt, p.UpdatedAt,
	)
	return storeErr(err)
}

func (s *pgProjects) Find(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, description, enabled, created_at, updated_at from projects where id=$1`, id)
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, storeErr(err)
	}
	return &p, nil
}

func (s *pgProjects) List(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, enabled, created_at, updated_at from projects order by created_at`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *pgProjects) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`update projects set enabled=$2, updated_at=now() where id=$1`, id, enabled)
	if err != nil {
		return storeErr(err)
	}
	return requireRow(res)
}

func (s *pgProjects) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`delete from access_tokens where project_access_id in (
			select pa.id from project_accesses pa
			join environments e on pa.environment_id = e.id where e.project_id=$1)`,
		`delete from project_access_scopes where project_access_id in (
			select pa.id from project_accesses pa
			join environments e on pa.environment_id = e.id where e.project_id=$1)`,
		`delete from project_access_scopes where project_scope_id in (
			select id from project_scopes where project_id=$1)`,
		`delete from project_accesses where environment_id in (
			select id from environments where project_id=$1)`,
		`delete from server_keys where environment_id in (
			select id from environments where project_id=$1)`,
		`delete from environments where project_id=$1`,
		`delete from project_scopes where project_id=$1`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return storeErr(err)
		}
	}
	res, err := tx.ExecContext(ctx, `delete from projects where id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

// Environments ---------------------------------------------------------------

type pgEnvironments struct{ db *sql.DB }

func (s *pgEnvironments) Create(ctx context.Context, e *Environment) error {
	_, err := s.db.ExecContext(ctx,
		`insert into environments(id, project_id, name, description, enabled, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.ProjectID, e.Name, e.Description, e.Enabled, e.CreatedAt, e.UpdatedAt,
	)
	return storeErr(err)
}

func (s *pgEnvironments) Find(ctx context.Context, id string) (*Environment, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, project_id, name, description, enabled, created_at, updated_at
		 from environments where id=$1`, id)
	var e Environment
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Description, &e.Enabled, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, storeErr(err)
	}
	return &e, nil
}

func (s *pgEnvironments) ListByProject(ctx context.Context, projectID string) ([]*Environment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, project_id, name, description, enabled, created_at, updated_at
		 from environments where project_id=$1 order by created_at`, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Description, &e.Enabled, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *pgEnvironments) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`update environments set enabled=$2, updated_at=now() where id=$1`, id, enabled)
	if err != nil {
		return storeErr(err)
	}
	return requireRow(res)
}

func (s *pgEnvironments) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`delete from access_tokens where project_access_id in (
			select id from project_accesses where environment_id=$1)`,
		`delete from project_access_scopes where project_access_id in (
			select id from project_accesses where environment_id=$1)`,
		`delete from project_accesses where environment_id=$1`,
		`delete from server_keys where environment_id=$1`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return storeErr(err)
		}
	}
	res, err := tx.ExecContext(ctx, `delete from environments where id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

// Scopes ---------------------------------------------------------------------

type pgScopes struct{ db *sql.DB }

func (s *pgScopes) Create(ctx context.Context, sc *ProjectScope) error {
	_, err := s.db.ExecContext(ctx,
		`insert into project_scopes(id, project_id, name, description, enabled, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		sc.ID, sc.ProjectID, sc.Name, sc.Description, sc.Enabled, sc.CreatedAt, sc.UpdatedAt,
	)
	return storeErr(err)
}

func (s *pgScopes) Find(ctx context.Context, id string) (*ProjectScope, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, project_id, name, description, enabled, created_at, updated_at
		 from project_scopes where id=$1`, id)
	var sc ProjectScope
	if err := row.Scan(&sc.ID, &sc.ProjectID, &sc.Name, &sc.Description, &sc.Enabled, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, storeErr(err)
	}
	return &sc, nil
}

func (s *pgScopes) ListByProject(ctx context.Context, projectID string) ([]*ProjectScope, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, project_id, name, description, enabled, created_at, updated_at
		 from project_scopes where project_id=$1 order by name`, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*ProjectScope
	for rows.Next() {
		var sc ProjectScope
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.Name, &sc.Description, &sc.Enabled, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

func (s *pgScopes) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`update project_scopes set enabled=$2, updated_at=now() where id=$1`, id, enabled)
	if err != nil {
		return storeErr(err)
	}
	return requireRow(res)
}

func (s *pgScopes) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from project_access_scopes where project_scope_id=$1`, id); err != nil {
		return storeErr(err)
	}
	res, err := tx.ExecContext(ctx, `delete from project_scopes where id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

func (s *pgScopes) Grant(ctx context.Context, accessID, scopeID string) error {
	res, err := s.db.ExecContext(ctx,
		`insert into project_access_scopes(project_access_id, project_scope_id)
		 select pa.id, ps.id from project_accesses pa, project_scopes ps
		 where pa.id=$1 and ps.id=$2
		 on conflict do nothing`,
		accessID, scopeID,
	)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either a referenced row is missing or the grant already exists;
		// distinguish so callers get the right failure.
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from project_access_scopes
			 where project_access_id=$1 and project_scope_id=$2)`,
			accessID, scopeID,
		).Scan(&exists)
		if err != nil {
			return storeErr(err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *pgScopes) Revoke(ctx context.Context, accessID, scopeID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from project_access_scopes where project_access_id=$1 and project_scope_id=$2`,
		accessID, scopeID,
	)
	if err != nil {
		return storeErr(err)
	}
	return requireRow(res)
}

func (s *pgScopes) ForAccess(ctx context.Context, accessID string) ([]*ProjectScope, error) {
	rows, err := s.db.QueryContext(ctx,
		`select ps.id, ps.project_id, ps.name, ps.description, ps.enabled, ps.created_at, ps.updated_at
		 from project_scopes ps
		 join project_access_scopes pas on pas.project_scope_id = ps.id
		 where pas.project_access_id=$1 order by ps.name`, accessID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*ProjectScope
	for rows.Next() {
		var sc ProjectScope
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.Name, &sc.Description, &sc.Enabled, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// Service accounts -----------------------------------------------------------

type pgAccounts struct{ db *sql.DB }

func (s *pgAccounts) Create(ctx context.Context, a *ServiceAccount) error {
	_, err := s.db.ExecContext(ctx,
		`insert into service_accounts(id, email, username, secret_hash, enabled, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.Email, a.Username, a.SecretHash, a.Enabled, a.CreatedAt, a.UpdatedAt,
	)
	return storeErr(err)
}

func (s *pgAccounts) Find(ctx context.Context, id string) (*ServiceAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, username, secret_hash, enabled, created_at, updated_at
		 from service_accounts where id=$1`, id)
	var a ServiceAccount
	if err := row.Scan(&a.ID, &a.Email, &a.Username, &a.SecretHash, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, storeErr(err)
	}
	return &a, nil
}

func (s *pgAccounts) FindByEmail(ctx context.Context, email string) (*ServiceAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, username, secret_hash, enabled, created_at, updated_at
		 from service_accounts where email=$1`, email)
	var a ServiceAccount
	if err := row.Scan(&a.ID, &a.Email, &a.Username, &a.SecretHash, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, storeErr(err)
	}
	return &a, nil
}

func (s *pgAccounts) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`update service_accounts set enabled=$2, updated_at=now() where id=$1`, id, enabled)
	if err != nil {
		return storeErr(err)
	}
	return requireRow(res)
}

func (s *pgAccounts) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from service_account_keys where service_account_id=$1`, id); err != nil {
		return storeErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		`update project_accesses set service_account_id=null where service_account_id=$1`, id); err != nil {
		return storeErr(err)
	}
	res, err := tx.ExecContext(ctx, `delete from service_accounts where id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

func (s *pgAccounts) CreateKey(ctx context.Context, k *ServiceAccountKey) error {
	_, err := s.db.ExecContext(ctx,
		`insert into service_account_keys(id, service_account_id, algorithm, material, expires_at, enabled, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		k.ID, k.ServiceAccountID, string(k.Algorithm), k.Material, k.ExpiresAt, k.Enabled, k.CreatedAt,
	)
	return storeErr(err)
}

func (s *pgAccounts) Keys(ctx context.Context, accountID string) ([]*ServiceAccountKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, service_account_id, algorithm, material, expires_at, enabled, created_at
		 from service_account_keys where service_account_id=$1 order by created_at`, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*ServiceAccountKey
	for rows.Next() {
		var (
			k   ServiceAccountKey
			alg string
		)
		if err := rows.Scan(&k.ID, &k.ServiceAccountID, &alg, &k.Material, &k.ExpiresAt, &k.Enabled, &k.CreatedAt); err != nil {
			return nil, err
		}
		k.Algorithm = Algorithm(alg)
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (s *pgAccounts) DisableKey(ctx context.Context, keyID string) error {
	res, err := s.db.ExecContext(ctx,
		`update service_account_keys set enabled=false where id=$1`, keyID)
	if err != nil {
		return storeErr(err)
	}
	return requireRow(res)
}

// Accesses -------------------------------------------------------------------

type pgAccesses struct{ db *sql.DB }

func (s *pgAccesses) Create(ctx context.Context, a *ProjectAccess) error {
	_, err := s.db.ExecContext(ctx,
		`insert into project_accesses(id, environment_id, service_account_id, name, enabled, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.EnvironmentID, a.ServiceAccountID, a.Name, a.Enabled, a.CreatedAt, a.UpdatedAt,
	)
	return storeErr(err)
}

func (s *pgAccesses) Find(ctx context.Context, id string) (*ProjectAccess, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, environment_id, service_account_id, name, enabled, created_at, updated_at
		 from project_accesses where id=$1`, id)
	var a ProjectAccess
	if err := row.Scan(&a.ID, &a.EnvironmentID, &a.ServiceAccountID, &a.Name, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, storeErr(err)
	}
	return &a, nil
}

func (s *pgAccesses) ListByEnvironment(ctx context.Context, environmentID string) ([]*ProjectAccess, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, environment_id, service_account_id, name, enabled, created_at, updated_at
		 from project_accesses where environment_id=$1 order by created_at`, environmentID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*ProjectAccess
	for rows.Next() {
		var a ProjectAccess
		if err := rows.Scan(&a.ID, &a.EnvironmentID, &a.ServiceAccountID, &a.Name, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *pgAccesses) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`update project_accesses set enabled=$2, updated_at=now() where id=$1`, id, enabled)
	if err != nil {
		return storeErr(err)
	}
	return requireRow(res)
}

func (s *pgAccesses) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from access_tokens where project_access_id=$1`, id); err != nil {
		return storeErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from project_access_scopes where project_access_id=$1`, id); err != nil {
		return storeErr(err)
	}
	res, err := tx.ExecContext(ctx, `delete from project_accesses where id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

// Server keys ----------------------------------------------------------------

type pgServerKeys struct{ db *sql.DB }

const serverKeyColumns = `id, environment_id, algorithm, secret, private_pem, public_pem, status, created_at, retires_at`

func scanServerKey(row interface{ Scan(...any) error }) (*ServerKey, error) {
	var (
		k   ServerKey
		alg string
	)
	if err := row.Scan(&k.ID, &k.EnvironmentID, &alg, &k.Secret, &k.PrivatePEM, &k.PublicPEM, &k.Status, &k.CreatedAt, &k.RetiresAt); err != nil {
		return nil, err
	}
	k.Algorithm = Algorithm(alg)
	return &k, nil
}

func (s *pgServerKeys) Current(ctx context.Context, environmentID string, alg Algorithm) (*ServerKey, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+serverKeyColumns+` from server_keys
		 where environment_id=$1 and algorithm=$2 and status='current'`,
		environmentID, string(alg))
	key, err := scanServerKey(row)
	if err != nil {
		return nil, storeErr(err)
	}
	return key, nil
}

func (s *pgServerKeys) Verification(ctx context.Context, environmentID string, alg Algorithm, now time.Time) ([]*ServerKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+serverKeyColumns+` from server_keys
		 where environment_id=$1 and algorithm=$2
		   and (status='current' or (status='retired' and retires_at > $3))
		 order by case status when 'current' then 0 else 1 end, created_at desc`,
		environmentID, string(alg), now)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*ServerKey
	for rows.Next() {
		key, err := scanServerKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *pgServerKeys) Swap(ctx context.Context, next *ServerKey, retireAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update server_keys set status='retired', retires_at=$3
		 where environment_id=$1 and algorithm=$2 and status='current'`,
		next.EnvironmentID, string(next.Algorithm), retireAt); err != nil {
		return storeErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		`insert into server_keys(`+serverKeyColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		next.ID, next.EnvironmentID, string(next.Algorithm), next.Secret,
		next.PrivatePEM, next.PublicPEM, next.Status, next.CreatedAt, next.RetiresAt); err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit())
}

// Tokens ---------------------------------------------------------------------

type pgTokens struct{ db *sql.DB }

func (s *pgTokens) Create(ctx context.Context, t *AccessToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into access_tokens(id, project_access_id, key_id, algorithm, token, expires_at, created_at, enabled)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.ProjectAccessID, t.KeyID, string(t.Algorithm), t.Token, t.ExpiresAt, t.CreatedAt, t.Enabled,
	)
	return storeErr(err)
}

func (s *pgTokens) Find(ctx context.Context, id string) (*AccessToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, project_access_id, key_id, algorithm, token, expires_at, created_at, enabled
		 from access_tokens where id=$1`, id)
	var (
		t   AccessToken
		alg string
	)
	if err := row.Scan(&t.ID, &t.ProjectAccessID, &t.KeyID, &alg, &t.Token, &t.ExpiresAt, &t.CreatedAt, &t.Enabled); err != nil {
		return nil, storeErr(err)
	}
	t.Algorithm = Algorithm(alg)
	return &t, nil
}

func (s *pgTokens) ListByAccess(ctx context.Context, accessID string) ([]*AccessToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, project_access_id, key_id, algorithm, token, expires_at, created_at, enabled
		 from access_tokens where project_access_id=$1 order by created_at`, accessID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*AccessToken
	for rows.Next() {
		var (
			t   AccessToken
			alg string
		)
		if err := rows.Scan(&t.ID, &t.ProjectAccessID, &t.KeyID, &alg, &t.Token, &t.ExpiresAt, &t.CreatedAt, &t.Enabled); err != nil {
			return nil, err
		}
		t.Algorithm = Algorithm(alg)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *pgTokens) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update access_tokens set enabled=false where id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	return requireRow(res)
}
