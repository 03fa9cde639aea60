package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/planhub/internal/models"
	"github.com/wolfeidau/planhub/internal/store"
)

const testOrg = "org-1"

func newUnit(code string) *models.OrganizationalUnit {
	return &models.OrganizationalUnit{
		UnitID: uuid.Must(uuid.NewV7()),
		Code:   code,
		Name:   "Unit " + code,
	}
}

func newPlan(id, reg string, start, end models.Date) *models.WorkPlan {
	return &models.WorkPlan{
		PlanID:         uuid.Must(uuid.NewV7()),
		ID:             id,
		ParticipantReg: reg,
		Start:          start,
		End:            end,
		Status:         models.PlanActive,
	}
}

func newActivity(planID string, day models.Date, typ string, hours int) *models.Activity {
	return &models.Activity{
		ActivityID: uuid.Must(uuid.NewV7()),
		WorkPlanID: planID,
		Date:       day,
		Type:       typ,
		Hours:      hours,
	}
}

func TestConsolidationStoreApply(t *testing.T) {
	ctx := context.Background()

	t.Run("insert then read back", func(t *testing.T) {
		st := NewConsolidationStore()

		unit := newUnit("u1")
		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertUnits: []*models.OrganizationalUnit{unit},
		}))

		got, err := st.GetUnit(ctx, testOrg, "u1")
		require.NoError(t, err)
		require.Equal(t, unit.UnitID, got.UnitID)
		require.Equal(t, testOrg, got.OrgCode)
		require.False(t, got.CreatedAt.IsZero())
	})

	t.Run("update keeps created_at", func(t *testing.T) {
		st := NewConsolidationStore()

		unit := newUnit("u1")
		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertUnits: []*models.OrganizationalUnit{unit},
		}))
		first, err := st.GetUnit(ctx, testOrg, "u1")
		require.NoError(t, err)

		updated := *first
		updated.Name = "Renamed"
		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertUnits: []*models.OrganizationalUnit{&updated},
		}))

		got, err := st.GetUnit(ctx, testOrg, "u1")
		require.NoError(t, err)
		require.Equal(t, "Renamed", got.Name)
		require.Equal(t, first.UnitID, got.UnitID)
		require.True(t, got.CreatedAt.Equal(first.CreatedAt))
	})

	t.Run("organizations are isolated", func(t *testing.T) {
		st := NewConsolidationStore()

		require.NoError(t, st.Apply(ctx, "org-a", &store.ChangeSet{
			UpsertUnits: []*models.OrganizationalUnit{newUnit("u1")},
		}))

		_, err := st.GetUnit(ctx, "org-b", "u1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestConsolidationStoreConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("insert landing on an occupied key", func(t *testing.T) {
		st := NewConsolidationStore()

		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertUnits: []*models.OrganizationalUnit{newUnit("u1")},
		}))

		// A second coordinator that diffed before the first commit also
		// decided to insert, with its own surrogate ID.
		err := st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertUnits: []*models.OrganizationalUnit{newUnit("u1")},
		})
		require.ErrorIs(t, err, store.ErrWriteConflict)
	})

	t.Run("update whose row vanished", func(t *testing.T) {
		st := NewConsolidationStore()

		plan := newPlan("wp-1", "r1", models.NewDate(2026, 1, 1), models.NewDate(2026, 1, 31))
		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertWorkPlans: []*models.WorkPlan{plan},
		}))
		stored, err := st.GetWorkPlan(ctx, testOrg, "wp-1")
		require.NoError(t, err)

		require.NoError(t, st.DeleteWorkPlan(ctx, testOrg, "wp-1"))

		update := *stored
		update.Status = models.PlanClosed
		err = st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertWorkPlans: []*models.WorkPlan{&update},
		})
		require.ErrorIs(t, err, store.ErrWriteConflict)
	})

	t.Run("conflict leaves nothing applied", func(t *testing.T) {
		st := NewConsolidationStore()

		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertUnits: []*models.OrganizationalUnit{newUnit("u1")},
		}))

		err := st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertUnits: []*models.OrganizationalUnit{newUnit("u2"), newUnit("u1")},
		})
		require.ErrorIs(t, err, store.ErrWriteConflict)

		_, err = st.GetUnit(ctx, testOrg, "u2")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestConsolidationStoreActivities(t *testing.T) {
	ctx := context.Background()

	t.Run("list is ordered by date then type", func(t *testing.T) {
		st := NewConsolidationStore()

		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertWorkPlans: []*models.WorkPlan{
				newPlan("wp-1", "r1", models.NewDate(2026, 1, 1), models.NewDate(2026, 1, 31)),
			},
			UpsertActivities: []*models.Activity{
				newActivity("wp-1", models.NewDate(2026, 1, 12), "report", 2),
				newActivity("wp-1", models.NewDate(2026, 1, 10), "review", 2),
				newActivity("wp-1", models.NewDate(2026, 1, 10), "meeting", 1),
			},
		}))

		acts, err := st.ListActivities(ctx, testOrg, "wp-1")
		require.NoError(t, err)
		require.Len(t, acts, 3)
		require.Equal(t, "meeting", acts[0].Type)
		require.Equal(t, "review", acts[1].Type)
		require.Equal(t, models.NewDate(2026, 1, 12), acts[2].Date)
	})

	t.Run("replace swaps the whole set", func(t *testing.T) {
		st := NewConsolidationStore()

		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertWorkPlans: []*models.WorkPlan{
				newPlan("wp-1", "r1", models.NewDate(2026, 1, 1), models.NewDate(2026, 1, 31)),
			},
			UpsertActivities: []*models.Activity{
				newActivity("wp-1", models.NewDate(2026, 1, 10), "report", 2),
				newActivity("wp-1", models.NewDate(2026, 1, 11), "report", 2),
			},
		}))

		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			ReplacePlanActivities: map[string][]*models.Activity{
				"wp-1": {newActivity("wp-1", models.NewDate(2026, 1, 12), "meeting", 3)},
			},
		}))

		acts, err := st.ListActivities(ctx, testOrg, "wp-1")
		require.NoError(t, err)
		require.Len(t, acts, 1)
		require.Equal(t, "meeting", acts[0].Type)
	})

	t.Run("replace with empty set clears the plan", func(t *testing.T) {
		st := NewConsolidationStore()

		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			UpsertWorkPlans: []*models.WorkPlan{
				newPlan("wp-1", "r1", models.NewDate(2026, 1, 1), models.NewDate(2026, 1, 31)),
			},
			UpsertActivities: []*models.Activity{
				newActivity("wp-1", models.NewDate(2026, 1, 10), "report", 2),
			},
		}))

		require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
			ReplacePlanActivities: map[string][]*models.Activity{"wp-1": nil},
		}))

		acts, err := st.ListActivities(ctx, testOrg, "wp-1")
		require.NoError(t, err)
		require.Empty(t, acts)
	})
}

func TestConsolidationStoreOverlapQuery(t *testing.T) {
	ctx := context.Background()
	st := NewConsolidationStore()

	closed := newPlan("wp-closed", "r1", models.NewDate(2026, 1, 1), models.NewDate(2026, 1, 31))
	closed.Status = models.PlanClosed

	require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
		UpsertWorkPlans: []*models.WorkPlan{
			newPlan("wp-jan", "r1", models.NewDate(2026, 1, 1), models.NewDate(2026, 1, 31)),
			newPlan("wp-mar", "r1", models.NewDate(2026, 3, 1), models.NewDate(2026, 3, 31)),
			newPlan("wp-other", "r2", models.NewDate(2026, 1, 1), models.NewDate(2026, 1, 31)),
			closed,
		},
	}))

	plans, err := st.ListActivePlansOverlapping(ctx, testOrg, "r1",
		models.NewDate(2026, 1, 15), models.NewDate(2026, 2, 15))
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, "wp-jan", plans[0].ID)
}

func TestConsolidationStoreDeleteWorkPlan(t *testing.T) {
	ctx := context.Background()
	st := NewConsolidationStore()

	require.NoError(t, st.Apply(ctx, testOrg, &store.ChangeSet{
		UpsertWorkPlans: []*models.WorkPlan{
			newPlan("wp-1", "r1", models.NewDate(2026, 1, 1), models.NewDate(2026, 1, 31)),
			newPlan("wp-2", "r1", models.NewDate(2026, 3, 1), models.NewDate(2026, 3, 31)),
		},
		UpsertActivities: []*models.Activity{
			newActivity("wp-1", models.NewDate(2026, 1, 10), "report", 2),
			newActivity("wp-2", models.NewDate(2026, 3, 10), "report", 2),
		},
	}))

	require.NoError(t, st.DeleteWorkPlan(ctx, testOrg, "wp-1"))

	_, err := st.GetWorkPlan(ctx, testOrg, "wp-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	acts, err := st.ListActivities(ctx, testOrg, "wp-1")
	require.NoError(t, err)
	require.Empty(t, acts)

	// The sibling plan is untouched.
	acts, err = st.ListActivities(ctx, testOrg, "wp-2")
	require.NoError(t, err)
	require.Len(t, acts, 1)

	require.ErrorIs(t, st.DeleteWorkPlan(ctx, testOrg, "wp-1"), store.ErrNotFound)
}
