// Package postgres implements the consolidation store on PostgreSQL.
// Change sets commit in a single SERIALIZABLE transaction; write-write
// conflicts between concurrent submissions surface as
// store.ErrWriteConflict for the caller to retry.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/planhub/internal/models"
	"github.com/wolfeidau/planhub/internal/store"
)

// ConsolidationStore implements store.ConsolidationStore using
// PostgreSQL.
type ConsolidationStore struct {
	pool *pgxpool.Pool
}

// NewConsolidationStore connects to PostgreSQL, optionally runs
// migrations, and returns a ready store.
func NewConsolidationStore(ctx context.Context, cfg *Config) (*ConsolidationStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Second
	poolConfig.MaxConnIdleTime = time.Duration(cfg.MaxConnIdleTime) * time.Second
	poolConfig.HealthCheckPeriod = 1 * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("database", poolConfig.ConnConfig.Database).
		Str("host", poolConfig.ConnConfig.Host).
		Int32("max_conns", cfg.MaxConns).
		Msg("Connected to PostgreSQL")

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &ConsolidationStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *ConsolidationStore) Close() {
	s.pool.Close()
}

// GetUnit looks up an organizational unit by code.
func (s *ConsolidationStore) GetUnit(ctx context.Context, orgCode, code string) (*models.OrganizationalUnit, error) {
	query := `
		SELECT unit_id, org_code, code, name, parent_code, created_at, updated_at
		FROM units
		WHERE org_code = $1 AND code = $2
	`

	var unit models.OrganizationalUnit
	err := s.pool.QueryRow(ctx, query, orgCode, code).Scan(
		&unit.UnitID,
		&unit.OrgCode,
		&unit.Code,
		&unit.Name,
		&unit.ParentCode,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get unit: %w", mapPostgresError(err))
	}

	return &unit, nil
}

// GetParticipant looks up a participant by registration.
func (s *ConsolidationStore) GetParticipant(ctx context.Context, orgCode, registration string) (*models.Participant, error) {
	query := `
		SELECT participant_id, org_code, registration, unit_code, weekly_hours,
		       situation, modality, created_at, updated_at
		FROM participants
		WHERE org_code = $1 AND registration = $2
	`

	var part models.Participant
	err := s.pool.QueryRow(ctx, query, orgCode, registration).Scan(
		&part.ParticipantID,
		&part.OrgCode,
		&part.Registration,
		&part.UnitCode,
		&part.WeeklyHours,
		&part.Situation,
		&part.Modality,
		&part.CreatedAt,
		&part.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", mapPostgresError(err))
	}

	return &part, nil
}

// GetWorkPlan looks up a work plan by its external ID.
func (s *ConsolidationStore) GetWorkPlan(ctx context.Context, orgCode, planID string) (*models.WorkPlan, error) {
	query := `
		SELECT plan_id, org_code, id, participant_reg, start_date, end_date,
		       status, created_at, updated_at
		FROM work_plans
		WHERE org_code = $1 AND id = $2
	`

	plan, err := scanWorkPlan(s.pool.QueryRow(ctx, query, orgCode, planID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get work plan: %w", mapPostgresError(err))
	}

	return plan, nil
}

// ListActivities returns all activities under a work plan, ordered by
// (date, type).
func (s *ConsolidationStore) ListActivities(ctx context.Context, orgCode, planID string) ([]*models.Activity, error) {
	query := `
		SELECT activity_id, org_code, work_plan_id, date, type, hours, created_at, updated_at
		FROM activities
		WHERE org_code = $1 AND work_plan_id = $2
		ORDER BY date, type
	`

	rows, err := s.pool.Query(ctx, query, orgCode, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var result []*models.Activity
	for rows.Next() {
		var act models.Activity
		var day time.Time
		err := rows.Scan(
			&act.ActivityID,
			&act.OrgCode,
			&act.WorkPlanID,
			&day,
			&act.Type,
			&act.Hours,
			&act.CreatedAt,
			&act.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		act.Date = models.NewDate(day.Year(), day.Month(), day.Day())
		result = append(result, &act)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", mapPostgresError(err))
	}

	return result, nil
}

// ListActivePlansOverlapping returns the participant's stored active
// plans whose range intersects [from, to].
func (s *ConsolidationStore) ListActivePlansOverlapping(ctx context.Context, orgCode, registration string, from, to models.Date) ([]*models.WorkPlan, error) {
	query := `
		SELECT plan_id, org_code, id, participant_reg, start_date, end_date,
		       status, created_at, updated_at
		FROM work_plans
		WHERE org_code = $1 AND participant_reg = $2 AND status = 'active'
		  AND start_date <= $4 AND end_date >= $3
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, orgCode, registration, from.Time, to.Time)
	if err != nil {
		return nil, fmt.Errorf("failed to list overlapping plans: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var result []*models.WorkPlan
	for rows.Next() {
		plan, err := scanWorkPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work plan: %w", err)
		}
		result = append(result, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work plans: %w", mapPostgresError(err))
	}

	return result, nil
}

// Apply commits a change set in one SERIALIZABLE transaction. The
// coordinator fixed each record's intent before calling: a zero
// created_at means insert, anything else means update of the row with
// that surrogate ID. A record whose intent no longer matches the table
// lost a race with a concurrent submission and the whole change set
// rolls back with store.ErrWriteConflict. Correction plans have their
// activity set deleted and reinserted inside the same transaction;
// cascades are always explicit.
func (s *ConsolidationStore) Apply(ctx context.Context, orgCode string, cs *store.ChangeSet) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	now := time.Now()

	for _, unit := range cs.UpsertUnits {
		var tag pgconn.CommandTag
		if unit.CreatedAt.IsZero() {
			tag, err = tx.Exec(ctx, `
				INSERT INTO units (unit_id, org_code, code, name, parent_code, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $6)
				ON CONFLICT (org_code, code) DO NOTHING
			`, unit.UnitID, orgCode, unit.Code, unit.Name, unit.ParentCode, now)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE units SET name = $4, parent_code = $5, updated_at = $6
				WHERE org_code = $1 AND code = $2 AND unit_id = $3
			`, orgCode, unit.Code, unit.UnitID, unit.Name, unit.ParentCode, now)
		}
		if err != nil {
			return fmt.Errorf("failed to upsert unit %q: %w", unit.Code, mapPostgresError(err))
		}
		if tag.RowsAffected() == 0 {
			return store.ErrWriteConflict
		}
	}

	for _, part := range cs.UpsertParticipants {
		var tag pgconn.CommandTag
		if part.CreatedAt.IsZero() {
			tag, err = tx.Exec(ctx, `
				INSERT INTO participants (participant_id, org_code, registration, unit_code,
					weekly_hours, situation, modality, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
				ON CONFLICT (org_code, registration) DO NOTHING
			`, part.ParticipantID, orgCode, part.Registration, part.UnitCode,
				part.WeeklyHours, part.Situation, part.Modality, now)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE participants SET unit_code = $4, weekly_hours = $5,
					situation = $6, modality = $7, updated_at = $8
				WHERE org_code = $1 AND registration = $2 AND participant_id = $3
			`, orgCode, part.Registration, part.ParticipantID, part.UnitCode,
				part.WeeklyHours, part.Situation, part.Modality, now)
		}
		if err != nil {
			return fmt.Errorf("failed to upsert participant %q: %w", part.Registration, mapPostgresError(err))
		}
		if tag.RowsAffected() == 0 {
			return store.ErrWriteConflict
		}
	}

	for _, plan := range cs.UpsertWorkPlans {
		var tag pgconn.CommandTag
		if plan.CreatedAt.IsZero() {
			tag, err = tx.Exec(ctx, `
				INSERT INTO work_plans (plan_id, org_code, id, participant_reg,
					start_date, end_date, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
				ON CONFLICT (org_code, id) DO NOTHING
			`, plan.PlanID, orgCode, plan.ID, plan.ParticipantReg,
				plan.Start.Time, plan.End.Time, plan.Status, now)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE work_plans SET participant_reg = $4, start_date = $5,
					end_date = $6, status = $7, updated_at = $8
				WHERE org_code = $1 AND id = $2 AND plan_id = $3
			`, orgCode, plan.ID, plan.PlanID, plan.ParticipantReg,
				plan.Start.Time, plan.End.Time, plan.Status, now)
		}
		if err != nil {
			return fmt.Errorf("failed to upsert work plan %q: %w", plan.ID, mapPostgresError(err))
		}
		if tag.RowsAffected() == 0 {
			return store.ErrWriteConflict
		}
	}

	for planID, acts := range cs.ReplacePlanActivities {
		_, err := tx.Exec(ctx, `
			DELETE FROM activities WHERE org_code = $1 AND work_plan_id = $2
		`, orgCode, planID)
		if err != nil {
			return fmt.Errorf("failed to clear activities for plan %q: %w", planID, mapPostgresError(err))
		}

		for _, act := range acts {
			if err := insertActivity(ctx, tx, orgCode, act, now); err != nil {
				return err
			}
		}
	}

	for _, act := range cs.UpsertActivities {
		var tag pgconn.CommandTag
		if act.CreatedAt.IsZero() {
			tag, err = tx.Exec(ctx, `
				INSERT INTO activities (activity_id, org_code, work_plan_id, date, type, hours, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
				ON CONFLICT (org_code, work_plan_id, date, type) DO NOTHING
			`, act.ActivityID, orgCode, act.WorkPlanID, act.Date.Time, act.Type, act.Hours, now)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE activities SET hours = $6, updated_at = $7
				WHERE org_code = $1 AND work_plan_id = $2 AND date = $3 AND type = $4 AND activity_id = $5
			`, orgCode, act.WorkPlanID, act.Date.Time, act.Type, act.ActivityID, act.Hours, now)
		}
		if err != nil {
			return fmt.Errorf("failed to upsert activity: %w", mapPostgresError(err))
		}
		if tag.RowsAffected() == 0 {
			return store.ErrWriteConflict
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit change set: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_code", orgCode).
		Int("units", len(cs.UpsertUnits)).
		Int("participants", len(cs.UpsertParticipants)).
		Int("work_plans", len(cs.UpsertWorkPlans)).
		Int("activities", len(cs.UpsertActivities)).
		Int("replaced_plans", len(cs.ReplacePlanActivities)).
		Msg("Applied change set")

	return nil
}

// DeleteWorkPlan removes a work plan and all activities under it in
// one transaction.
func (s *ConsolidationStore) DeleteWorkPlan(ctx context.Context, orgCode, planID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	_, err = tx.Exec(ctx, `
		DELETE FROM activities WHERE org_code = $1 AND work_plan_id = $2
	`, orgCode, planID)
	if err != nil {
		return fmt.Errorf("failed to delete activities: %w", mapPostgresError(err))
	}

	result, err := tx.Exec(ctx, `
		DELETE FROM work_plans WHERE org_code = $1 AND id = $2
	`, orgCode, planID)
	if err != nil {
		return fmt.Errorf("failed to delete work plan: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", mapPostgresError(err))
	}

	log.Info().
		Str("org_code", orgCode).
		Str("plan_id", planID).
		Msg("Deleted work plan (and cascade-deleted its activities)")

	return nil
}

func insertActivity(ctx context.Context, tx pgx.Tx, orgCode string, act *models.Activity, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO activities (activity_id, org_code, work_plan_id, date, type, hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, act.ActivityID, orgCode, act.WorkPlanID, act.Date.Time, act.Type, act.Hours, now)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", mapPostgresError(err))
	}
	return nil
}

func scanWorkPlan(row pgx.Row) (*models.WorkPlan, error) {
	var plan models.WorkPlan
	var start, end time.Time
	err := row.Scan(
		&plan.PlanID,
		&plan.OrgCode,
		&plan.ID,
		&plan.ParticipantReg,
		&start,
		&end,
		&plan.Status,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plan.Start = models.NewDate(start.Year(), start.Month(), start.Day())
	plan.End = models.NewDate(end.Year(), end.Month(), end.Day())
	return &plan, nil
}
