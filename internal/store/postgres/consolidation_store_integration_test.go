//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wolfeidau/planhub/internal/models"
	"github.com/wolfeidau/planhub/internal/store"
)

const testOrg = "org-1"

func setupPostgresContainer(t *testing.T, ctx context.Context) (*ConsolidationStore, func()) {
	// Start postgres container
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &Config{
		ConnString:  connString,
		AutoMigrate: true, // Enable migrations for tests
	}

	st, err := NewConsolidationStore(ctx, cfg)
	require.NoError(t, err)

	cleanup := func() {
		st.Close()
		_ = container.Terminate(ctx)
	}

	return st, cleanup
}

func seedChangeSet() *store.ChangeSet {
	parent := "u1"
	return &store.ChangeSet{
		UpsertUnits: []*models.OrganizationalUnit{
			{UnitID: uuid.Must(uuid.NewV7()), Code: "u1", Name: "Diretoria"},
			{UnitID: uuid.Must(uuid.NewV7()), Code: "u2", Name: "Coordenacao", ParentCode: &parent},
		},
		UpsertParticipants: []*models.Participant{
			{
				ParticipantID: uuid.Must(uuid.NewV7()),
				Registration:  "r1",
				UnitCode:      "u2",
				WeeklyHours:   40,
				Situation:     models.SituationActive,
				Modality:      models.ModalityHybrid,
			},
		},
		UpsertWorkPlans: []*models.WorkPlan{
			{
				PlanID:         uuid.Must(uuid.NewV7()),
				ID:             "wp-1",
				ParticipantReg: "r1",
				Start:          models.NewDate(2026, 1, 1),
				End:            models.NewDate(2026, 1, 31),
				Status:         models.PlanActive,
			},
		},
		UpsertActivities: []*models.Activity{
			{
				ActivityID: uuid.Must(uuid.NewV7()),
				WorkPlanID: "wp-1",
				Date:       models.NewDate(2026, 1, 10),
				Type:       "report",
				Hours:      4,
			},
		},
	}
}

func TestIntegration_ApplyAndReadBack(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	require.NoError(t, st.Apply(ctx, testOrg, seedChangeSet()))

	t.Run("read unit", func(t *testing.T) {
		unit, err := st.GetUnit(ctx, testOrg, "u2")
		require.NoError(t, err)
		require.Equal(t, "Coordenacao", unit.Name)
		require.NotNil(t, unit.ParentCode)
		require.Equal(t, "u1", *unit.ParentCode)
		require.False(t, unit.CreatedAt.IsZero())
	})

	t.Run("read participant", func(t *testing.T) {
		part, err := st.GetParticipant(ctx, testOrg, "r1")
		require.NoError(t, err)
		require.Equal(t, 40, part.WeeklyHours)
		require.Equal(t, models.ModalityHybrid, part.Modality)
	})

	t.Run("read work plan and activities", func(t *testing.T) {
		plan, err := st.GetWorkPlan(ctx, testOrg, "wp-1")
		require.NoError(t, err)
		require.Equal(t, models.NewDate(2026, 1, 1), plan.Start)
		require.Equal(t, models.PlanActive, plan.Status)

		acts, err := st.ListActivities(ctx, testOrg, "wp-1")
		require.NoError(t, err)
		require.Len(t, acts, 1)
		require.Equal(t, models.NewDate(2026, 1, 10), acts[0].Date)
	})

	t.Run("tenant isolation", func(t *testing.T) {
		_, err := st.GetUnit(ctx, "another-org", "u1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestIntegration_UpdatePreservesIdentity(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	require.NoError(t, st.Apply(ctx, testOrg, seedChangeSet()))

	stored, err := st.GetWorkPlan(ctx, testOrg, "wp-1")
	require.NoError(t, err)

	update := *stored
	update.Status = models.PlanClosed
	require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
		UpsertWorkPlans: []*models.WorkPlan{&update},
	}))

	after, err := st.GetWorkPlan(ctx, testOrg, "wp-1")
	require.NoError(t, err)
	require.Equal(t, models.PlanClosed, after.Status)
	require.Equal(t, stored.PlanID, after.PlanID)
	require.True(t, after.CreatedAt.Equal(stored.CreatedAt))
}

func TestIntegration_InsertConflict(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	require.NoError(t, st.Apply(ctx, testOrg, seedChangeSet()))

	// A concurrent coordinator that never saw the stored row inserts
	// the same natural key with its own surrogate ID.
	dupe := &models.OrganizationalUnit{
		UnitID: uuid.Must(uuid.NewV7()),
		Code:   "u1",
		Name:   "Raced",
	}
	err := st.Apply(ctx, testOrg, &store.ChangeSet{
		UpsertUnits: []*models.OrganizationalUnit{dupe},
	})
	require.ErrorIs(t, err, store.ErrWriteConflict)

	// The stored row is untouched.
	unit, err := st.GetUnit(ctx, testOrg, "u1")
	require.NoError(t, err)
	require.Equal(t, "Diretoria", unit.Name)
}

func TestIntegration_ReplacePlanActivities(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	require.NoError(t, st.Apply(ctx, testOrg, seedChangeSet()))

	require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
		ReplacePlanActivities: map[string][]*models.Activity{
			"wp-1": {
				{
					ActivityID: uuid.Must(uuid.NewV7()),
					WorkPlanID: "wp-1",
					Date:       models.NewDate(2026, 1, 20),
					Type:       "rework",
					Hours:      6,
				},
			},
		},
	}))

	acts, err := st.ListActivities(ctx, testOrg, "wp-1")
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, "rework", acts[0].Type)
}

func TestIntegration_OverlapQueryAndDelete(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	require.NoError(t, st.Apply(ctx, testOrg, seedChangeSet()))

	plans, err := st.ListActivePlansOverlapping(ctx, testOrg, "r1",
		models.NewDate(2026, 1, 15), models.NewDate(2026, 2, 15))
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, "wp-1", plans[0].ID)

	require.NoError(t, st.DeleteWorkPlan(ctx, testOrg, "wp-1"))

	_, err = st.GetWorkPlan(ctx, testOrg, "wp-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	acts, err := st.ListActivities(ctx, testOrg, "wp-1")
	require.NoError(t, err)
	require.Empty(t, acts)

	require.ErrorIs(t, st.DeleteWorkPlan(ctx, testOrg, "wp-1"), store.ErrNotFound)
}
