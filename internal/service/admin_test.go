package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drillhub/training-registry/internal/model"
	"github.com/drillhub/training-registry/internal/repository"
)

func createRequest() model.CreateSessionRequest {
	return model.CreateSessionRequest{
		Title:    "Land Navigation",
		StartAt:  testStart.Add(24 * time.Hour),
		EndAt:    testStart.Add(28 * time.Hour),
		Capacity: 10,
		Location: model.LabeledRef{Label: "Training Area C"},
		Instructor: model.LabeledRef{
			Name:   "SSG Harmon",
			Detail: "3rd Platoon",
		},
		Tags: []string{"field", "field", " navigation ", ""},
	}
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("persists a valid session", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.admin.CreateSession(ctx, createRequest())
		require.NoError(t, err)
		require.NotEmpty(t, s.ID)
		require.Equal(t, 0, s.Registered)
		require.Equal(t, []string{"field", "navigation"}, s.Tags)

		stored, err := f.store.GetByID(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, s.Title, stored.Title)
	})

	t.Run("rejects missing title", func(t *testing.T) {
		f := newFixture(t)
		req := createRequest()
		req.Title = "   "
		_, err := f.admin.CreateSession(ctx, req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects inverted window", func(t *testing.T) {
		f := newFixture(t)
		req := createRequest()
		req.StartAt, req.EndAt = req.EndAt, req.StartAt
		_, err := f.admin.CreateSession(ctx, req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "window", verr.Field)
	})

	t.Run("rejects zero-length window", func(t *testing.T) {
		f := newFixture(t)
		req := createRequest()
		req.EndAt = req.StartAt
		_, err := f.admin.CreateSession(ctx, req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects non-positive capacity", func(t *testing.T) {
		f := newFixture(t)
		req := createRequest()
		req.Capacity = 0
		_, err := f.admin.CreateSession(ctx, req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestUpdateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("applies a partial patch", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.admin.CreateSession(ctx, createRequest())
		require.NoError(t, err)

		title := "Advanced Land Navigation"
		capacity := 15
		updated, err := f.admin.UpdateSession(ctx, s.ID, model.UpdateSessionRequest{
			Title:    &title,
			Capacity: &capacity,
		})
		require.NoError(t, err)
		require.Equal(t, title, updated.Title)
		require.Equal(t, capacity, updated.Capacity)
		// Untouched fields survive.
		require.Equal(t, s.StartAt, updated.StartAt)
		require.Equal(t, s.Location, updated.Location)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		title := "x"
		_, err := f.admin.UpdateSession(ctx, "nope", model.UpdateSessionRequest{Title: &title})
		require.ErrorIs(t, err, repository.ErrSessionNotFound)
	})

	t.Run("capacity reduction below active count is refused", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.admin.CreateSession(ctx, createRequest()) // capacity 10
		require.NoError(t, err)
		for _, p := range []string{"a", "b", "c", "d", "e"} {
			_, err := f.reg.Register(ctx, s.ID, p)
			require.NoError(t, err)
		}

		capacity := 3
		_, err = f.admin.UpdateSession(ctx, s.ID, model.UpdateSessionRequest{Capacity: &capacity})
		var conflict *repository.CapacityConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, 3, conflict.Requested)
		require.Equal(t, 5, conflict.Active)

		// Nothing was persisted.
		stored, err := f.store.GetByID(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, 10, stored.Capacity)
	})

	t.Run("capacity reduction down to the active count is allowed", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.admin.CreateSession(ctx, createRequest())
		require.NoError(t, err)
		for _, p := range []string{"a", "b", "c"} {
			_, err := f.reg.Register(ctx, s.ID, p)
			require.NoError(t, err)
		}

		capacity := 3
		updated, err := f.admin.UpdateSession(ctx, s.ID, model.UpdateSessionRequest{Capacity: &capacity})
		require.NoError(t, err)
		require.Equal(t, 3, updated.Capacity)
		require.True(t, updated.IsFull())
	})

	t.Run("capacity reduction racing registrations never undercuts the active count", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.admin.CreateSession(ctx, createRequest()) // capacity 10
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = f.reg.Register(ctx, s.ID, participantID(i))
			}(i)
		}
		for _, c := range []int{7, 5, 3} {
			wg.Add(1)
			go func(capacity int) {
				defer wg.Done()
				_, _ = f.admin.UpdateSession(ctx, s.ID, model.UpdateSessionRequest{Capacity: &capacity})
			}(c)
		}
		wg.Wait()

		// Whatever interleaving won, a reduced capacity can never sit below
		// the number of participants actively registered.
		stored, err := f.store.GetByID(ctx, s.ID)
		require.NoError(t, err)
		active, err := f.store.CountActive(ctx, s.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, stored.Capacity, active)
		require.Equal(t, active, stored.Registered)
	})

	t.Run("window patch must stay ordered", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.admin.CreateSession(ctx, createRequest())
		require.NoError(t, err)

		badStart := s.EndAt.Add(time.Hour)
		_, err = f.admin.UpdateSession(ctx, s.ID, model.UpdateSessionRequest{StartAt: &badStart})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}
