package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uniauth/identity-core/pkg/tenant"
	"golang.org/x/exp/slog"
)

// PostgresIdentityRepository implements Repository for a single user pool
// backed by one PostgreSQL database. Every compound mutation runs in one
// transaction at repeatable read, locking the touched cluster rows in
// canonical id order.
type PostgresIdentityRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresIdentityRepository creates a new PostgreSQL identity repository
func NewPostgresIdentityRepository(pool *pgxpool.Pool) *PostgresIdentityRepository {
	return &PostgresIdentityRepository{pool: pool}
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (r *PostgresIdentityRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		if isSerializationError(err) {
			return ErrTransactionConflict
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationError(err) {
			return ErrTransactionConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// loadUser assembles a cluster from its rows, in link order
func (r *PostgresIdentityRepository) loadUser(ctx context.Context, q querier, app tenant.AppIdentifier, clusterID string) (User, error) {
	app = app.Normalize()
	rows, err := q.Query(ctx, `
		SELECT m.recipe_user_id, m.recipe_id, m.email, m.phone_number,
		       m.third_party_id, m.third_party_user_id, m.verified, m.time_joined,
		       c.is_primary
		FROM login_method m
		JOIN user_cluster c
		  ON c.conn_uri_domain = m.conn_uri_domain AND c.app_id = m.app_id AND c.cluster_id = m.cluster_id
		WHERE m.conn_uri_domain = $1 AND m.app_id = $2 AND m.cluster_id = $3
		ORDER BY m.link_order`,
		app.ConnectionURIDomain, app.AppID, clusterID)
	if err != nil {
		return User{}, fmt.Errorf("failed to load cluster %s: %w", clusterID, err)
	}
	defer rows.Close()

	user := User{ID: clusterID}
	for rows.Next() {
		var m LoginMethod
		var email, phone, tpID, tpUserID sql.NullString
		if err := rows.Scan(&m.RecipeUserID, &m.RecipeID, &email, &phone, &tpID, &tpUserID,
			&m.Verified, &m.TimeJoined, &user.IsPrimaryUser); err != nil {
			return User{}, fmt.Errorf("failed to scan login method: %w", err)
		}
		m.Email = email.String
		m.PhoneNumber = phone.String
		if tpID.Valid {
			m.ThirdParty = &ThirdParty{ID: tpID.String, UserID: tpUserID.String}
		}
		user.LoginMethods = append(user.LoginMethods, m)
		if user.TimeJoined == 0 || m.TimeJoined < user.TimeJoined {
			user.TimeJoined = m.TimeJoined
		}
	}
	if err := rows.Err(); err != nil {
		return User{}, err
	}
	if len(user.LoginMethods) == 0 {
		return User{}, ErrUserNotFound
	}

	tenantRows, err := q.Query(ctx, `
		SELECT recipe_user_id, tenant_id FROM login_method_tenant
		WHERE conn_uri_domain = $1 AND app_id = $2 AND recipe_user_id = ANY($3)
		ORDER BY tenant_id`,
		app.ConnectionURIDomain, app.AppID, memberIDs(user))
	if err != nil {
		return User{}, fmt.Errorf("failed to load tenant associations: %w", err)
	}
	defer tenantRows.Close()

	tenants := make(map[string][]string)
	for tenantRows.Next() {
		var recipeUserID, tenantID string
		if err := tenantRows.Scan(&recipeUserID, &tenantID); err != nil {
			return User{}, err
		}
		tenants[recipeUserID] = append(tenants[recipeUserID], tenantID)
	}
	if err := tenantRows.Err(); err != nil {
		return User{}, err
	}
	for i := range user.LoginMethods {
		user.LoginMethods[i].TenantIDs = tenants[user.LoginMethods[i].RecipeUserID]
	}
	return user, nil
}

func memberIDs(u User) []string {
	ids := make([]string, len(u.LoginMethods))
	for i, m := range u.LoginMethods {
		ids[i] = m.RecipeUserID
	}
	return ids
}

// CreateLoginMethod allocates a fresh id and creates a single-method cluster
func (r *PostgresIdentityRepository) CreateLoginMethod(ctx context.Context, t tenant.TenantIdentifier, draft LoginMethodDraft) (LoginMethod, error) {
	if !draft.RecipeID.IsValid() {
		return LoginMethod{}, ErrInvalidDraft{Reason: "unknown recipe id: " + string(draft.RecipeID)}
	}
	info := AccountInfo{Email: draft.Email, PhoneNumber: draft.PhoneNumber, ThirdParty: draft.ThirdParty}.Normalize()
	if info.IsEmpty() {
		return LoginMethod{}, ErrInvalidDraft{Reason: "at least one identifier is required"}
	}

	t = t.Normalize()
	app := t.ToAppIdentifier()
	method := LoginMethod{
		RecipeUserID: uuid.NewString(),
		RecipeID:     draft.RecipeID,
		Email:        info.Email,
		PhoneNumber:  info.PhoneNumber,
		ThirdParty:   info.ThirdParty,
		Verified:     draft.Verified,
		TimeJoined:   draft.TimeJoined,
		TenantIDs:    []string{t.TenantID},
	}

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_cluster (conn_uri_domain, app_id, cluster_id, is_primary, time_joined)
			VALUES ($1, $2, $3, FALSE, $4)`,
			app.ConnectionURIDomain, app.AppID, method.RecipeUserID, method.TimeJoined); err != nil {
			return fmt.Errorf("failed to insert cluster: %w", err)
		}
		var tpID, tpUserID interface{}
		if method.ThirdParty != nil {
			tpID, tpUserID = method.ThirdParty.ID, method.ThirdParty.UserID
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO login_method (conn_uri_domain, app_id, recipe_user_id, cluster_id, link_order,
			                          recipe_id, email, phone_number, third_party_id, third_party_user_id,
			                          verified, time_joined)
			VALUES ($1, $2, $3, $3, 0, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)`,
			app.ConnectionURIDomain, app.AppID, method.RecipeUserID, method.RecipeID,
			method.Email, method.PhoneNumber, tpID, tpUserID, method.Verified, method.TimeJoined); err != nil {
			return fmt.Errorf("failed to insert login method: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO login_method_tenant (conn_uri_domain, app_id, recipe_user_id, tenant_id)
			VALUES ($1, $2, $3, $4)`,
			app.ConnectionURIDomain, app.AppID, method.RecipeUserID, t.TenantID); err != nil {
			return fmt.Errorf("failed to insert tenant association: %w", err)
		}
		return nil
	})
	if err != nil {
		return LoginMethod{}, err
	}
	return method, nil
}

func (r *PostgresIdentityRepository) clusterIDOf(ctx context.Context, q querier, app tenant.AppIdentifier, recipeUserID string) (string, error) {
	app = app.Normalize()
	var clusterID string
	err := q.QueryRow(ctx, `
		SELECT cluster_id FROM login_method
		WHERE conn_uri_domain = $1 AND app_id = $2 AND recipe_user_id = $3`,
		app.ConnectionURIDomain, app.AppID, recipeUserID).Scan(&clusterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve cluster: %w", err)
	}
	return clusterID, nil
}

// GetUserByRecipeUserID returns the cluster owning the id
func (r *PostgresIdentityRepository) GetUserByRecipeUserID(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (User, error) {
	clusterID, err := r.clusterIDOf(ctx, r.pool, app, recipeUserID)
	if err != nil {
		return User{}, err
	}
	return r.loadUser(ctx, r.pool, app, clusterID)
}

// GetUserByAccountInfo is the recipe-specific uniqueness probe
func (r *PostgresIdentityRepository) GetUserByAccountInfo(ctx context.Context, t tenant.TenantIdentifier, recipe RecipeID, info AccountInfo) (User, error) {
	t = t.Normalize()
	app := t.ToAppIdentifier()
	info = info.Normalize()

	base := `
		SELECT m.cluster_id FROM login_method m
		JOIN login_method_tenant lt
		  ON lt.conn_uri_domain = m.conn_uri_domain AND lt.app_id = m.app_id AND lt.recipe_user_id = m.recipe_user_id
		WHERE m.conn_uri_domain = $1 AND m.app_id = $2 AND lt.tenant_id = $3 AND m.recipe_id = $4`
	args := []interface{}{app.ConnectionURIDomain, app.AppID, t.TenantID, recipe}

	switch recipe {
	case RecipeEmailPassword:
		if info.Email == "" {
			return User{}, ErrUserNotFound
		}
		base += " AND m.email = $5"
		args = append(args, info.Email)
	case RecipePasswordless:
		switch {
		case info.Email != "":
			base += " AND m.email = $5"
			args = append(args, info.Email)
		case info.PhoneNumber != "":
			base += " AND m.phone_number = $5"
			args = append(args, info.PhoneNumber)
		default:
			return User{}, ErrUserNotFound
		}
	case RecipeThirdParty:
		if info.ThirdParty == nil {
			return User{}, ErrUserNotFound
		}
		base += " AND m.third_party_id = $5 AND m.third_party_user_id = $6"
		args = append(args, info.ThirdParty.ID, info.ThirdParty.UserID)
	default:
		return User{}, ErrUserNotFound
	}

	var clusterID string
	err := r.pool.QueryRow(ctx, base+" LIMIT 1", args...).Scan(&clusterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("account info probe failed: %w", err)
	}
	return r.loadUser(ctx, r.pool, app, clusterID)
}

// ListPrimaryUsersByAccountInfo returns primary clusters claiming any of the
// given identifiers
func (r *PostgresIdentityRepository) ListPrimaryUsersByAccountInfo(ctx context.Context, app tenant.AppIdentifier, info AccountInfo) ([]User, error) {
	app = app.Normalize()
	info = info.Normalize()
	if info.IsEmpty() {
		return nil, nil
	}

	var conds []string
	args := []interface{}{app.ConnectionURIDomain, app.AppID}
	if info.Email != "" {
		args = append(args, info.Email)
		conds = append(conds, fmt.Sprintf("m.email = $%d", len(args)))
	}
	if info.PhoneNumber != "" {
		args = append(args, info.PhoneNumber)
		conds = append(conds, fmt.Sprintf("m.phone_number = $%d", len(args)))
	}
	if info.ThirdParty != nil {
		args = append(args, info.ThirdParty.ID, info.ThirdParty.UserID)
		conds = append(conds, fmt.Sprintf("(m.third_party_id = $%d AND m.third_party_user_id = $%d)", len(args)-1, len(args)))
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT m.cluster_id FROM login_method m
		JOIN user_cluster c
		  ON c.conn_uri_domain = m.conn_uri_domain AND c.app_id = m.app_id AND c.cluster_id = m.cluster_id
		WHERE m.conn_uri_domain = $1 AND m.app_id = $2 AND c.is_primary AND (%s)`,
		strings.Join(conds, " OR "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("primary conflict probe failed: %w", err)
	}
	defer rows.Close()

	var clusterIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		clusterIDs = append(clusterIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]User, 0, len(clusterIDs))
	for _, id := range clusterIDs {
		user, err := r.loadUser(ctx, r.pool, app, id)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// DoesUserIDExist reports whether any cluster owns the id
func (r *PostgresIdentityRepository) DoesUserIDExist(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error) {
	app = app.Normalize()
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM login_method
			WHERE conn_uri_domain = $1 AND app_id = $2 AND recipe_user_id = $3
		)`,
		app.ConnectionURIDomain, app.AppID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user id: %w", err)
	}
	return exists, nil
}

// lockCluster locks one cluster row and returns its primary flag
func (r *PostgresIdentityRepository) lockCluster(ctx context.Context, tx pgx.Tx, app tenant.AppIdentifier, clusterID string) (isPrimary bool, err error) {
	app = app.Normalize()
	err = tx.QueryRow(ctx, `
		SELECT is_primary FROM user_cluster
		WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3
		FOR UPDATE`,
		app.ConnectionURIDomain, app.AppID, clusterID).Scan(&isPrimary)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrUserNotFound
	}
	return isPrimary, err
}

// checkConflictGuard locks every login method row sharing an identifier with
// the given methods and runs the guard against the primary clusters among
// their owners. Locking the non-primary rows too forces concurrent promotions
// over a shared identifier to serialize on them: the loser's FOR UPDATE hits
// a row version the winner wrote and fails with a serialization error, so it
// retries on a fresh snapshot and sees the new claimant.
func (r *PostgresIdentityRepository) checkConflictGuard(ctx context.Context, tx pgx.Tx, app tenant.AppIdentifier, methods []LoginMethod, guard ConflictGuard, exclude ...string) error {
	if guard == nil {
		return nil
	}
	app = app.Normalize()
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	for _, method := range methods {
		info := method.AccountInfo()
		if info.IsEmpty() {
			continue
		}
		var conds []string
		args := []interface{}{app.ConnectionURIDomain, app.AppID}
		if info.Email != "" {
			args = append(args, info.Email)
			conds = append(conds, fmt.Sprintf("m.email = $%d", len(args)))
		}
		if info.PhoneNumber != "" {
			args = append(args, info.PhoneNumber)
			conds = append(conds, fmt.Sprintf("m.phone_number = $%d", len(args)))
		}
		if info.ThirdParty != nil {
			args = append(args, info.ThirdParty.ID, info.ThirdParty.UserID)
			conds = append(conds, fmt.Sprintf("(m.third_party_id = $%d AND m.third_party_user_id = $%d)", len(args)-1, len(args)))
		}

		rows, err := tx.Query(ctx, fmt.Sprintf(`
			SELECT m.cluster_id FROM login_method m
			WHERE m.conn_uri_domain = $1 AND m.app_id = $2 AND (%s)
			ORDER BY m.recipe_user_id
			FOR UPDATE`, strings.Join(conds, " OR ")), args...)
		if err != nil {
			return fmt.Errorf("conflict probe failed: %w", err)
		}
		var clusterIDs []string
		seen := make(map[string]bool)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if !excluded[id] && !seen[id] {
				seen[id] = true
				clusterIDs = append(clusterIDs, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, clusterID := range clusterIDs {
			var isPrimary bool
			err := tx.QueryRow(ctx, `
				SELECT is_primary FROM user_cluster
				WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
				app.ConnectionURIDomain, app.AppID, clusterID).Scan(&isPrimary)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			if !isPrimary {
				continue
			}
			claimant, err := r.loadUser(ctx, tx, app, clusterID)
			if err != nil {
				return err
			}
			if !guard(method, claimant) {
				return ErrAccountInfoConflict{PrimaryUserID: clusterID}
			}
		}
	}
	return nil
}

// MakePrimary promotes a single-method non-primary cluster
func (r *PostgresIdentityRepository) MakePrimary(ctx context.Context, app tenant.AppIdentifier, recipeUserID string, guard ConflictGuard) (User, error) {
	app = app.Normalize()
	var user User
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		clusterID, err := r.clusterIDOf(ctx, tx, app, recipeUserID)
		if err != nil {
			return err
		}
		isPrimary, err := r.lockCluster(ctx, tx, app, clusterID)
		if err != nil {
			return err
		}
		if isPrimary || clusterID != recipeUserID {
			return ErrAlreadyPrimary{RecipeUserID: recipeUserID, PrimaryUserID: clusterID}
		}
		user, err = r.loadUser(ctx, tx, app, clusterID)
		if err != nil {
			return err
		}
		if err := r.checkConflictGuard(ctx, tx, app, user.LoginMethods, guard, clusterID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE user_cluster SET is_primary = TRUE
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, clusterID); err != nil {
			return fmt.Errorf("failed to promote cluster: %w", err)
		}
		// write the member rows too: a concurrent probe blocked on them must
		// fail its repeatable-read lock instead of proceeding on a snapshot
		// that predates this promotion
		if _, err := tx.Exec(ctx, `
			UPDATE login_method SET cluster_id = $3
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, clusterID); err != nil {
			return fmt.Errorf("failed to stamp promoted methods: %w", err)
		}
		user.IsPrimaryUser = true
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// LinkClusters atomically re-parents the source cluster's methods into the
// target primary cluster
func (r *PostgresIdentityRepository) LinkClusters(ctx context.Context, app tenant.AppIdentifier, sourceClusterID, targetPrimaryID string, guard ConflictGuard) (User, error) {
	app = app.Normalize()
	var user User
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		// lock both cluster rows in canonical order to avoid deadlocks
		// between concurrent links touching overlapping clusters
		ordered := []string{sourceClusterID, targetPrimaryID}
		if ordered[1] < ordered[0] {
			ordered[0], ordered[1] = ordered[1], ordered[0]
		}
		primaries := make(map[string]bool, 2)
		for _, id := range ordered {
			isPrimary, err := r.lockCluster(ctx, tx, app, id)
			if err != nil {
				return err
			}
			primaries[id] = isPrimary
		}
		if !primaries[targetPrimaryID] {
			return ErrNotPrimary{UserID: targetPrimaryID}
		}
		sourceUser, err := r.loadUser(ctx, tx, app, sourceClusterID)
		if err != nil {
			return err
		}
		if primaries[sourceClusterID] && len(sourceUser.LoginMethods) > 1 {
			return ErrSourceHasMultipleMethods{UserID: sourceClusterID, Methods: len(sourceUser.LoginMethods)}
		}
		if err := r.checkConflictGuard(ctx, tx, app, sourceUser.LoginMethods, guard, sourceClusterID, targetPrimaryID); err != nil {
			return err
		}

		// re-parent in place; no delete-then-insert window
		if _, err := tx.Exec(ctx, `
			UPDATE login_method
			SET cluster_id = $4,
			    link_order = link_order + (
			        SELECT COALESCE(MAX(link_order), -1) + 1 FROM login_method
			        WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $4
			    )
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, sourceClusterID, targetPrimaryID); err != nil {
			return fmt.Errorf("failed to re-parent login methods: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE user_cluster c SET time_joined = (
				SELECT MIN(time_joined) FROM login_method m
				WHERE m.conn_uri_domain = c.conn_uri_domain AND m.app_id = c.app_id AND m.cluster_id = c.cluster_id
			)
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, targetPrimaryID); err != nil {
			return fmt.Errorf("failed to refresh cluster time joined: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM user_cluster
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, sourceClusterID); err != nil {
			return fmt.Errorf("failed to absorb source cluster: %w", err)
		}

		user, err = r.loadUser(ctx, tx, app, targetPrimaryID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// rekeyCluster moves the surviving members of clusterID under the successor
// address. Insert-update-delete within the transaction, so the rows are never
// orphaned.
func (r *PostgresIdentityRepository) rekeyCluster(ctx context.Context, tx pgx.Tx, app tenant.AppIdentifier, oldID, newID string) error {
	app = app.Normalize()
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_cluster (conn_uri_domain, app_id, cluster_id, is_primary, time_joined)
		SELECT conn_uri_domain, app_id, $4, is_primary, time_joined FROM user_cluster
		WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
		app.ConnectionURIDomain, app.AppID, oldID, newID); err != nil {
		return fmt.Errorf("failed to insert successor cluster: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE login_method SET cluster_id = $4
		WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
		app.ConnectionURIDomain, app.AppID, oldID, newID); err != nil {
		return fmt.Errorf("failed to re-parent to successor: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM user_cluster
		WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
		app.ConnectionURIDomain, app.AppID, oldID); err != nil {
		return fmt.Errorf("failed to drop old cluster address: %w", err)
	}
	return nil
}

// detach removes one method from its cluster inside the transaction and
// applies the successor rule. Returns the surviving cluster id, "" when the
// cluster ceased to exist.
func (r *PostgresIdentityRepository) detach(ctx context.Context, tx pgx.Tx, app tenant.AppIdentifier, recipeUserID string) (clusterID, survivorID string, err error) {
	app = app.Normalize()
	clusterID, err = r.clusterIDOf(ctx, tx, app, recipeUserID)
	if err != nil {
		return "", "", err
	}
	if _, err := r.lockCluster(ctx, tx, app, clusterID); err != nil {
		return "", "", err
	}

	var successor sql.NullString
	err = tx.QueryRow(ctx, `
		SELECT recipe_user_id FROM login_method
		WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3 AND recipe_user_id <> $4
		ORDER BY time_joined, recipe_user_id
		LIMIT 1`,
		app.ConnectionURIDomain, app.AppID, clusterID, recipeUserID).Scan(&successor)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", "", err
	}

	if !successor.Valid {
		// sole member; the cluster goes away with it
		return clusterID, "", nil
	}
	survivorID = clusterID
	if clusterID == recipeUserID {
		if err := r.rekeyCluster(ctx, tx, app, clusterID, successor.String); err != nil {
			return "", "", err
		}
		survivorID = successor.String
	}
	return clusterID, survivorID, nil
}

// UnlinkMethod detaches one method into its own non-primary cluster
func (r *PostgresIdentityRepository) UnlinkMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (UnlinkOutcome, error) {
	app = app.Normalize()
	var outcome UnlinkOutcome
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		clusterID, survivorID, err := r.detach(ctx, tx, app, recipeUserID)
		if err != nil {
			return err
		}
		outcome.WasClusterID = clusterID == recipeUserID

		if survivorID == "" {
			// demote in place: the method stays the address of its own,
			// now non-primary, cluster
			if _, err := tx.Exec(ctx, `
				UPDATE user_cluster SET is_primary = FALSE
				WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
				app.ConnectionURIDomain, app.AppID, clusterID); err != nil {
				return fmt.Errorf("failed to demote cluster: %w", err)
			}
		} else {
			// split the method out into a fresh single-method cluster
			var timeJoined int64
			if err := tx.QueryRow(ctx, `
				SELECT time_joined FROM login_method
				WHERE conn_uri_domain = $1 AND app_id = $2 AND recipe_user_id = $3`,
				app.ConnectionURIDomain, app.AppID, recipeUserID).Scan(&timeJoined); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_cluster (conn_uri_domain, app_id, cluster_id, is_primary, time_joined)
				VALUES ($1, $2, $3, FALSE, $4)`,
				app.ConnectionURIDomain, app.AppID, recipeUserID, timeJoined); err != nil {
				return fmt.Errorf("failed to create detached cluster: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE login_method SET cluster_id = $3, link_order = 0
				WHERE conn_uri_domain = $1 AND app_id = $2 AND recipe_user_id = $3`,
				app.ConnectionURIDomain, app.AppID, recipeUserID); err != nil {
				return fmt.Errorf("failed to detach login method: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE user_cluster c SET time_joined = (
					SELECT MIN(time_joined) FROM login_method m
					WHERE m.conn_uri_domain = c.conn_uri_domain AND m.app_id = c.app_id AND m.cluster_id = c.cluster_id
				)
				WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
				app.ConnectionURIDomain, app.AppID, survivorID); err != nil {
				return fmt.Errorf("failed to refresh cluster time joined: %w", err)
			}
			outcome.HasRemaining = true
			outcome.RemainingUser, err = r.loadUser(ctx, tx, app, survivorID)
			if err != nil {
				return err
			}
		}

		var err2 error
		outcome.DetachedUser, err2 = r.loadUser(ctx, tx, app, recipeUserID)
		return err2
	})
	if err != nil {
		return UnlinkOutcome{}, err
	}
	return outcome, nil
}

// RemoveLoginMethod deletes a single method outright
func (r *PostgresIdentityRepository) RemoveLoginMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (RemoveOutcome, error) {
	app = app.Normalize()
	var outcome RemoveOutcome
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		_, survivorID, err := r.detach(ctx, tx, app, recipeUserID)
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		outcome.Existed = true

		if _, err := tx.Exec(ctx, `
			DELETE FROM login_method
			WHERE conn_uri_domain = $1 AND app_id = $2 AND recipe_user_id = $3`,
			app.ConnectionURIDomain, app.AppID, recipeUserID); err != nil {
			return fmt.Errorf("failed to delete login method: %w", err)
		}
		if survivorID == "" {
			if _, err := tx.Exec(ctx, `
				DELETE FROM user_cluster
				WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
				app.ConnectionURIDomain, app.AppID, recipeUserID); err != nil {
				return fmt.Errorf("failed to delete cluster: %w", err)
			}
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE user_cluster c SET time_joined = (
				SELECT MIN(time_joined) FROM login_method m
				WHERE m.conn_uri_domain = c.conn_uri_domain AND m.app_id = c.app_id AND m.cluster_id = c.cluster_id
			)
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, survivorID); err != nil {
			return fmt.Errorf("failed to refresh cluster time joined: %w", err)
		}
		outcome.HasRemaining = true
		outcome.RemainingUser, err = r.loadUser(ctx, tx, app, survivorID)
		return err
	})
	if err != nil {
		return RemoveOutcome{}, err
	}
	return outcome, nil
}

// DeleteCluster deletes the cluster addressed by the id with all methods
func (r *PostgresIdentityRepository) DeleteCluster(ctx context.Context, app tenant.AppIdentifier, clusterID string) (DeleteOutcome, error) {
	app = app.Normalize()
	var outcome DeleteOutcome
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		_, err := r.lockCluster(ctx, tx, app, clusterID)
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		outcome.Existed = true

		rows, err := tx.Query(ctx, `
			SELECT recipe_user_id FROM login_method
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, clusterID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			outcome.RecipeUserIDs = append(outcome.RecipeUserIDs, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM login_method
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, clusterID); err != nil {
			return fmt.Errorf("failed to delete login methods: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM user_cluster
			WHERE conn_uri_domain = $1 AND app_id = $2 AND cluster_id = $3`,
			app.ConnectionURIDomain, app.AppID, clusterID); err != nil {
			return fmt.Errorf("failed to delete cluster: %w", err)
		}
		return nil
	})
	if err != nil {
		return DeleteOutcome{}, err
	}
	return outcome, nil
}

// buildFilterSQL appends the shared filter conditions of ListUsers and
// CountUsers to the arg list and returns the WHERE fragments
func buildFilterSQL(t tenant.TenantIdentifier, allTenants bool, recipes []RecipeID, search SearchFilter, args *[]interface{}) []string {
	var conds []string

	if !allTenants {
		*args = append(*args, t.TenantID)
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM login_method m JOIN login_method_tenant lt
			  ON lt.conn_uri_domain = m.conn_uri_domain AND lt.app_id = m.app_id AND lt.recipe_user_id = m.recipe_user_id
			WHERE m.conn_uri_domain = c.conn_uri_domain AND m.app_id = c.app_id AND m.cluster_id = c.cluster_id
			  AND lt.tenant_id = $%d)`, len(*args)))
	}

	if len(recipes) > 0 {
		names := make([]string, len(recipes))
		for i, recipe := range recipes {
			names[i] = string(recipe)
		}
		*args = append(*args, names)
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM login_method m
			WHERE m.conn_uri_domain = c.conn_uri_domain AND m.app_id = c.app_id AND m.cluster_id = c.cluster_id
			  AND m.recipe_id = ANY($%d))`, len(*args)))
	}

	addSearch := func(column string, terms []string) {
		if len(terms) == 0 {
			return
		}
		var ors []string
		for _, term := range terms {
			*args = append(*args, "%"+strings.ToLower(term)+"%")
			ors = append(ors, fmt.Sprintf("m.%s ILIKE $%d", column, len(*args)))
		}
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM login_method m
			WHERE m.conn_uri_domain = c.conn_uri_domain AND m.app_id = c.app_id AND m.cluster_id = c.cluster_id
			  AND (%s))`, strings.Join(ors, " OR ")))
	}
	addSearch("email", search.Emails)
	addSearch("phone_number", search.Phones)
	addSearch("third_party_id", search.Providers)

	return conds
}

// ListUsers fetches one ordered page of clusters
func (r *PostgresIdentityRepository) ListUsers(ctx context.Context, params ListParams) ([]User, error) {
	t := params.Tenant.Normalize()
	app := t.ToAppIdentifier()

	args := []interface{}{app.ConnectionURIDomain, app.AppID}
	conds := []string{"c.conn_uri_domain = $1", "c.app_id = $2"}
	conds = append(conds, buildFilterSQL(t, params.AllTenants, params.Recipes, params.Search, &args)...)

	dir := "DESC"
	cmp := "<"
	if params.Ascending {
		dir = "ASC"
		cmp = ">"
	}
	if params.Watermark != nil {
		args = append(args, params.Watermark.TimeJoined, params.Watermark.TimeJoined, params.Watermark.RecipeUserID)
		conds = append(conds, fmt.Sprintf("(c.time_joined %s $%d OR (c.time_joined = $%d AND c.cluster_id %s $%d))",
			cmp, len(args)-2, len(args)-1, cmp, len(args)))
	}

	args = append(args, params.Limit)
	query := fmt.Sprintf(`
		SELECT c.cluster_id FROM user_cluster c
		WHERE %s
		ORDER BY c.time_joined %s, c.cluster_id %s
		LIMIT $%d`,
		strings.Join(conds, " AND "), dir, dir, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var clusterIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		clusterIDs = append(clusterIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]User, 0, len(clusterIDs))
	for _, id := range clusterIDs {
		user, err := r.loadUser(ctx, r.pool, app, id)
		if err != nil {
			slog.Error("Failed to load cluster while listing", "clusterId", id, "err", err)
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// CountUsers counts clusters under the same filters
func (r *PostgresIdentityRepository) CountUsers(ctx context.Context, params CountParams) (int64, error) {
	t := params.Tenant.Normalize()
	app := t.ToAppIdentifier()

	args := []interface{}{app.ConnectionURIDomain, app.AppID}
	conds := []string{"c.conn_uri_domain = $1", "c.app_id = $2"}
	conds = append(conds, buildFilterSQL(t, params.AllTenants, params.Recipes, params.Search, &args)...)

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM user_cluster c WHERE %s", strings.Join(conds, " AND "))
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
