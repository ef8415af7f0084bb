// Package registry is the SQLite-backed store for tenants, principals,
// plans, subscription profiles, the payment-event ledger and the content
// catalog.
package registry

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/titanfed/titan/internal/roles"
	"github.com/titanfed/titan/internal/tenants"
	_ "modernc.org/sqlite"
)

// Registry provides CRUD operations for engine records backed by SQLite.
type Registry struct {
	db *sql.DB
}

// Open opens (or creates) the registry database in dir.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "titan.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS federations (
		id    TEXT PRIMARY KEY,
		name  TEXT NOT NULL DEFAULT '',
		sigla TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS academies (
		id            TEXT PRIMARY KEY,
		federation_id TEXT NOT NULL,
		name          TEXT NOT NULL DEFAULT '',
		sigla         TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_academies_federation ON academies(federation_id);
	CREATE TABLE IF NOT EXISTS principals (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		role          TEXT NOT NULL DEFAULT 'atleta',
		federation_id TEXT NOT NULL DEFAULT '',
		academy_id    TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_principals_role ON principals(role);
	CREATE TABLE IF NOT EXISTS plans (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL DEFAULT '',
		federation_id    TEXT NOT NULL DEFAULT '',
		academy_id       TEXT NOT NULL DEFAULT '',
		price_cents      INTEGER NOT NULL DEFAULT 0,
		frequency        TEXT NOT NULL DEFAULT 'monthly',
		external_plan_id TEXT NOT NULL DEFAULT '',
		featured         INTEGER NOT NULL DEFAULT 0,
		sort_order       INTEGER NOT NULL DEFAULT 0,
		active           INTEGER NOT NULL DEFAULT 1,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS subscription_profiles (
		id              TEXT PRIMARY KEY,
		principal_id    TEXT NOT NULL,
		plan_id         TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'none',
		expires_at      INTEGER NOT NULL DEFAULT 0,
		subscription_id TEXT NOT NULL UNIQUE,
		cycle_number    INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_status ON subscription_profiles(status);
	CREATE INDEX IF NOT EXISTS idx_profiles_principal ON subscription_profiles(principal_id);
	CREATE TABLE IF NOT EXISTS payment_events (
		subscription_id TEXT NOT NULL,
		transaction_id  TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		email           TEXT NOT NULL DEFAULT '',
		amount_cents    INTEGER NOT NULL DEFAULT 0,
		paid            INTEGER NOT NULL DEFAULT 0,
		due_date        INTEGER NOT NULL DEFAULT 0,
		received_at     INTEGER NOT NULL,
		outcome         TEXT NOT NULL DEFAULT 'received',
		PRIMARY KEY (subscription_id, transaction_id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_outcome ON payment_events(outcome);
	CREATE TABLE IF NOT EXISTS content (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		scope_tag  TEXT,
		active     INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS stats (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("init registry schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (r *Registry) Ping() error {
	return r.db.Ping()
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// --- federations / academies (tenants.Directory) ---

// CreateFederation inserts a federation record.
func (r *Registry) CreateFederation(f *tenants.Federation) error {
	if f == nil {
		return fmt.Errorf("federation is nil")
	}
	_, err := r.db.Exec(`INSERT INTO federations (id, name, sigla) VALUES (?, ?, ?)`,
		f.ID, f.Name, f.Sigla)
	if err != nil {
		return fmt.Errorf("create federation: %w", err)
	}
	return nil
}

// FederationByID retrieves a federation, nil when absent.
func (r *Registry) FederationByID(id string) (*tenants.Federation, error) {
	row := r.db.QueryRow(`SELECT id, name, sigla FROM federations WHERE id = ?`, id)
	var f tenants.Federation
	if err := row.Scan(&f.ID, &f.Name, &f.Sigla); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan federation: %w", err)
	}
	return &f, nil
}

// CreateAcademy inserts an academy record.
func (r *Registry) CreateAcademy(a *tenants.Academy) error {
	if a == nil {
		return fmt.Errorf("academy is nil")
	}
	if a.FederationID == "" {
		return fmt.Errorf("academy %q has no federation", a.ID)
	}
	_, err := r.db.Exec(`INSERT INTO academies (id, federation_id, name, sigla) VALUES (?, ?, ?, ?)`,
		a.ID, a.FederationID, a.Name, a.Sigla)
	if err != nil {
		return fmt.Errorf("create academy: %w", err)
	}
	return nil
}

// AcademyByID retrieves an academy, nil when absent.
func (r *Registry) AcademyByID(id string) (*tenants.Academy, error) {
	row := r.db.QueryRow(`SELECT id, federation_id, name, sigla FROM academies WHERE id = ?`, id)
	var a tenants.Academy
	if err := row.Scan(&a.ID, &a.FederationID, &a.Name, &a.Sigla); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan academy: %w", err)
	}
	return &a, nil
}

// --- principals (roles.Store) ---

// CreatePrincipal inserts a new principal record.
func (r *Registry) CreatePrincipal(p *Principal) error {
	if p == nil {
		return fmt.Errorf("principal is nil")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := r.db.Exec(`
		INSERT INTO principals (id, email, role, federation_id, academy_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, string(p.Role), p.Scope.FederationID, p.Scope.AcademyID,
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create principal: %w", err)
	}
	return nil
}

const principalColumns = `id, email, role, federation_id, academy_id, created_at, updated_at`

// Principal retrieves a principal by ID, nil when absent.
func (r *Registry) Principal(id string) (*Principal, error) {
	row := r.db.QueryRow(`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	return scanPrincipal(row)
}

// PrincipalByEmail retrieves a principal by email, nil when absent.
func (r *Registry) PrincipalByEmail(email string) (*Principal, error) {
	row := r.db.QueryRow(`SELECT `+principalColumns+` FROM principals WHERE email = ?`, email)
	return scanPrincipal(row)
}

// Assignment implements roles.Store.
func (r *Registry) Assignment(principalID string) (roles.Assignment, bool, error) {
	p, err := r.Principal(principalID)
	if err != nil {
		return roles.Assignment{}, false, err
	}
	if p == nil {
		return roles.Assignment{}, false, nil
	}
	return p.Assignment(), true, nil
}

// SaveAssignment implements roles.Store: replaces the principal's single
// active assignment.
func (r *Registry) SaveAssignment(principalID string, a roles.Assignment) error {
	res, err := r.db.Exec(`
		UPDATE principals SET role = ?, federation_id = ?, academy_id = ?, updated_at = ?
		WHERE id = ?`,
		string(a.Role), a.Scope.FederationID, a.Scope.AcademyID, time.Now().UTC().Unix(), principalID,
	)
	if err != nil {
		return fmt.Errorf("save assignment: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("principal %q not found", principalID)
	}
	return nil
}

// ListManaged executes a ManagedQuery: principals whose role is in allowed
// (computed from the hierarchy by the caller), restricted to the query's
// scope subtree.
func (r *Registry) ListManaged(q roles.ManagedQuery) ([]*Principal, error) {
	var allowed []any
	for _, info := range roles.Catalog() {
		if info.Level > q.MinLevelExclusive {
			allowed = append(allowed, string(info.Role))
		}
	}
	if len(allowed) == 0 {
		return nil, nil
	}

	query := `SELECT ` + principalColumns + ` FROM principals WHERE role IN (?` +
		strings.Repeat(",?", len(allowed)-1) + `)`
	args := allowed

	switch {
	case q.Scope.AcademyID != "":
		query += ` AND academy_id = ?`
		args = append(args, q.Scope.AcademyID)
	case q.Scope.FederationID != "":
		query += ` AND (federation_id = ? OR academy_id IN (SELECT id FROM academies WHERE federation_id = ?))`
		args = append(args, q.Scope.FederationID, q.Scope.FederationID)
	}
	query += ` ORDER BY email`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list managed principals: %w", err)
	}
	defer rows.Close()
	return scanPrincipals(rows)
}

// --- plans ---

// CreatePlan inserts a plan record.
func (r *Registry) CreatePlan(p *Plan) error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := r.db.Exec(`
		INSERT INTO plans (id, name, federation_id, academy_id, price_cents, frequency,
			external_plan_id, featured, sort_order, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.FederationID, p.AcademyID, p.PriceCents, string(p.Frequency),
		p.ExternalPlanID, boolToInt(p.Featured), p.SortOrder, boolToInt(p.Active),
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

const planColumns = `id, name, federation_id, academy_id, price_cents, frequency,
	external_plan_id, featured, sort_order, active, created_at, updated_at`

// PlanByID retrieves a plan, nil when absent.
func (r *Registry) PlanByID(id string) (*Plan, error) {
	row := r.db.QueryRow(`SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

// PlanByExternalID retrieves a plan by its gateway plan id, nil when absent.
func (r *Registry) PlanByExternalID(externalID string) (*Plan, error) {
	if externalID == "" {
		return nil, nil
	}
	row := r.db.QueryRow(`SELECT `+planColumns+` FROM plans WHERE external_plan_id = ?`, externalID)
	return scanPlan(row)
}

// PlanFilter narrows ListPlans.
type PlanFilter struct {
	FederationID string
	AcademyID    string
	OnlyActive   bool
}

// ListPlans returns plans ordered featured-first then by explicit sort order.
func (r *Registry) ListPlans(f PlanFilter) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE 1=1`
	var args []any
	if f.FederationID != "" {
		query += ` AND federation_id = ?`
		args = append(args, f.FederationID)
	}
	if f.AcademyID != "" {
		query += ` AND academy_id = ?`
		args = append(args, f.AcademyID)
	}
	if f.OnlyActive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY featured DESC, sort_order ASC, created_at ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// --- subscription profiles ---

const profileColumns = `id, principal_id, plan_id, status, expires_at, subscription_id,
	cycle_number, created_at, updated_at`

// CreateProfile inserts a new subscription profile.
func (r *Registry) CreateProfile(p *SubscriptionProfile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := r.db.Exec(`
		INSERT INTO subscription_profiles (id, principal_id, plan_id, status, expires_at,
			subscription_id, cycle_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PrincipalID, p.PlanID, string(p.Status), unixOrZero(p.ExpiresAt),
		p.SubscriptionID, p.CycleNumber, p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// UpdateProfile modifies an existing subscription profile.
func (r *Registry) UpdateProfile(p *SubscriptionProfile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	p.UpdatedAt = time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE subscription_profiles SET plan_id = ?, status = ?, expires_at = ?,
			cycle_number = ?, updated_at = ?
		WHERE id = ?`,
		p.PlanID, string(p.Status), unixOrZero(p.ExpiresAt), p.CycleNumber,
		p.UpdatedAt.Unix(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("profile %q not found", p.ID)
	}
	return nil
}

// AdvanceProfileCycle applies a paid created/renewed event to a live
// (active or past_due) profile in one conditional statement: status
// returns to active, expiry only ever moves forward, the cycle counter
// increments. With requireAdvance the write only lands when due is
// strictly beyond the stored expiry. Returns false when no row matched,
// which callers treat as a stale transition: concurrent writers for the
// same subscription id resolve here, at the storage layer, not under an
// application lock.
func (r *Registry) AdvanceProfileCycle(id string, due time.Time, requireAdvance bool) (bool, error) {
	query := `
		UPDATE subscription_profiles
		SET status = ?, expires_at = MAX(expires_at, ?), cycle_number = cycle_number + 1,
			updated_at = ?
		WHERE id = ? AND status IN (?, ?)`
	args := []any{string(StatusActive), unixOrZero(due), time.Now().UTC().Unix(),
		id, string(StatusActive), string(StatusPastDue)}
	if requireAdvance {
		query += ` AND expires_at < ?`
		args = append(args, unixOrZero(due))
	}
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("advance profile cycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance profile cycle: %w", err)
	}
	return n > 0, nil
}

// RestartProfileLineage reactivates a lapsed (none or expired) profile
// from a paid event: expiry must move strictly forward and the cycle
// counter restarts at 1. Returns false when the profile is no longer
// lapsed or the expiry would not advance.
func (r *Registry) RestartProfileLineage(id string, due time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE subscription_profiles
		SET status = ?, expires_at = ?, cycle_number = 1, updated_at = ?
		WHERE id = ? AND status IN (?, ?) AND expires_at < ?`,
		string(StatusActive), unixOrZero(due), time.Now().UTC().Unix(),
		id, string(StatusNone), string(StatusExpired), unixOrZero(due))
	if err != nil {
		return false, fmt.Errorf("restart profile lineage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("restart profile lineage: %w", err)
	}
	return n > 0, nil
}

// SetProfileStatus moves a profile to status only while its current
// status is one of from, leaving expiry and cycle untouched. Returns
// false when the profile was concurrently moved out of from (or does not
// exist).
func (r *Registry) SetProfileStatus(id string, to SubscriptionStatus, from ...SubscriptionStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("set profile status: no source statuses")
	}
	args := []any{string(to), time.Now().UTC().Unix(), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	res, err := r.db.Exec(`
		UPDATE subscription_profiles SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?`+strings.Repeat(",?", len(from)-1)+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("set profile status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set profile status: %w", err)
	}
	return n > 0, nil
}

// ExpireLapsedProfiles settles every active/past_due profile whose expiry
// elapsed before now to expired in one statement. Re-checking the expiry
// inside the UPDATE means a renewal landing between a sweep's listing and
// its write cannot be clobbered. Returns the number of profiles expired.
func (r *Registry) ExpireLapsedProfiles(now time.Time) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE subscription_profiles SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND expires_at > 0 AND expires_at < ?`,
		string(StatusExpired), now.UTC().Unix(),
		string(StatusActive), string(StatusPastDue), now.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("expire lapsed profiles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire lapsed profiles: %w", err)
	}
	return n, nil
}

// ProfileBySubscriptionID retrieves a profile by external subscription id,
// nil when absent.
func (r *Registry) ProfileBySubscriptionID(subscriptionID string) (*SubscriptionProfile, error) {
	row := r.db.QueryRow(`SELECT `+profileColumns+` FROM subscription_profiles WHERE subscription_id = ?`,
		subscriptionID)
	return scanProfile(row)
}

// ProfilesByPrincipal returns every profile lineage for a principal, newest
// first.
func (r *Registry) ProfilesByPrincipal(principalID string) ([]*SubscriptionProfile, error) {
	rows, err := r.db.Query(`SELECT `+profileColumns+` FROM subscription_profiles
		WHERE principal_id = ? ORDER BY created_at DESC`, principalID)
	if err != nil {
		return nil, fmt.Errorf("list profiles by principal: %w", err)
	}
	defer rows.Close()
	return scanProfiles(rows)
}

// ListProfilesByStatus returns profiles in any of the given statuses.
func (r *Registry) ListProfilesByStatus(statuses ...SubscriptionStatus) ([]*SubscriptionProfile, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	rows, err := r.db.Query(`SELECT `+profileColumns+` FROM subscription_profiles
		WHERE status IN (?`+strings.Repeat(",?", len(statuses)-1)+`) ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles by status: %w", err)
	}
	defer rows.Close()
	return scanProfiles(rows)
}

// ListLapsedProfiles returns active/past_due profiles whose expiry has
// elapsed at now.
func (r *Registry) ListLapsedProfiles(now time.Time) ([]*SubscriptionProfile, error) {
	rows, err := r.db.Query(`SELECT `+profileColumns+` FROM subscription_profiles
		WHERE status IN (?, ?) AND expires_at > 0 AND expires_at < ?`,
		string(StatusActive), string(StatusPastDue), now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list lapsed profiles: %w", err)
	}
	defer rows.Close()
	return scanProfiles(rows)
}

// CountProfilesByStatus returns a map of status -> count.
func (r *Registry) CountProfilesByStatus() (map[SubscriptionStatus]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM subscription_profiles GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count profiles by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[SubscriptionStatus(status)] = count
	}
	return counts, rows.Err()
}

// --- content ---

// CreateContent inserts a content record.
func (r *Registry) CreateContent(c *Content) error {
	if c == nil {
		return fmt.Errorf("content is nil")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	tag := any(c.ScopeTag)
	if c.ScopeTagNull {
		tag = nil
	}
	_, err := r.db.Exec(`INSERT INTO content (id, title, scope_tag, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Title, tag, boolToInt(c.Active), c.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create content: %w", err)
	}
	return nil
}

// ListContent returns content rows, optionally active-only.
func (r *Registry) ListContent(onlyActive bool) ([]*Content, error) {
	query := `SELECT id, title, scope_tag, active, created_at FROM content`
	if onlyActive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at ASC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var out []*Content
	for rows.Next() {
		var c Content
		var tag sql.NullString
		var active int
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.Title, &tag, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		if tag.Valid {
			c.ScopeTag = tag.String
		} else {
			c.ScopeTagNull = true
		}
		c.Active = active != 0
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// --- stats ---

// SetStat upserts a cached aggregate.
func (r *Registry) SetStat(key string, value int64) error {
	_, err := r.db.Exec(`INSERT INTO stats (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set stat %q: %w", key, err)
	}
	return nil
}

// AddStat atomically increments a cached aggregate.
func (r *Registry) AddStat(key string, delta int64) error {
	_, err := r.db.Exec(`INSERT INTO stats (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = value + excluded.value`, key, delta)
	if err != nil {
		return fmt.Errorf("add stat %q: %w", key, err)
	}
	return nil
}

// Stat reads a cached aggregate; absent keys read as zero.
func (r *Registry) Stat(key string) (int64, error) {
	row := r.db.QueryRow(`SELECT value FROM stats WHERE key = ?`, key)
	var v int64
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("read stat %q: %w", key, err)
	}
	return v, nil
}

// --- scan helpers ---

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(s scanner) (*Principal, error) {
	var p Principal
	var role string
	var createdAt, updatedAt int64
	err := s.Scan(&p.ID, &p.Email, &role, &p.Scope.FederationID, &p.Scope.AcademyID,
		&createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}
	p.Role = roles.Role(role)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

func scanPrincipals(rows *sql.Rows) ([]*Principal, error) {
	var out []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlan(s scanner) (*Plan, error) {
	var p Plan
	var frequency string
	var featured, active int
	var createdAt, updatedAt int64
	err := s.Scan(&p.ID, &p.Name, &p.FederationID, &p.AcademyID, &p.PriceCents, &frequency,
		&p.ExternalPlanID, &featured, &p.SortOrder, &active, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	p.Frequency = PlanFrequency(frequency)
	p.Featured = featured != 0
	p.Active = active != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

func scanProfile(s scanner) (*SubscriptionProfile, error) {
	var p SubscriptionProfile
	var status string
	var expiresAt, createdAt, updatedAt int64
	err := s.Scan(&p.ID, &p.PrincipalID, &p.PlanID, &status, &expiresAt,
		&p.SubscriptionID, &p.CycleNumber, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.Status = SubscriptionStatus(status)
	if expiresAt > 0 {
		p.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

func scanProfiles(rows *sql.Rows) ([]*SubscriptionProfile, error) {
	var out []*SubscriptionProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
