package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func stagedSource(externalID, tenantID string) *models.StagedSource {
	return &models.StagedSource{
		SourceType: "zendesk",
		ExternalID: externalID,
		LibraryID:  "lib-1",
		TenantID:   tenantID,
		Title:      "Ticket " + externalID,
		Content:    "body",
		Preview:    "body",
		Metadata:   datatypes.JSON(`{"status":"open"}`),
		StagedAt:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		StagedBy:   "system",
	}
}

func TestStagedSourceRepository_UniqueIdentity(t *testing.T) {
	repo := NewStagedSourceRepository(SetupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, stagedSource("101", "")))
	require.NoError(t, repo.Create(ctx, stagedSource("101", "tenant-a")), "tenant is part of the identity")

	err := repo.Create(ctx, stagedSource("101", ""))
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestStagedSourceRepository_FindAndUpdate(t *testing.T) {
	repo := NewStagedSourceRepository(SetupTestDB(t))
	ctx := context.Background()

	src := stagedSource("7", "tenant-a")
	require.NoError(t, repo.Create(ctx, src))
	require.NotEmpty(t, src.ID)

	_, err := repo.FindByKey(ctx, models.StagedSourceKey{SourceType: "zendesk", ExternalID: "7", LibraryID: "lib-1"})
	assert.ErrorIs(t, err, models.ErrNotFound, "tenant mismatch")

	found, err := repo.FindByKey(ctx, src.Key())
	require.NoError(t, err)
	assert.Equal(t, src.ID, found.ID)

	found.Title = "Renamed"
	found.StagedAt = found.StagedAt.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, found))

	again, err := repo.FindByKey(ctx, src.Key())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", again.Title)
	assert.True(t, again.StagedAt.Equal(src.StagedAt.Add(time.Hour)))

	err = repo.Update(ctx, &models.StagedSource{ID: "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStagedSourceRepository_BulkOperations(t *testing.T) {
	repo := NewStagedSourceRepository(SetupTestDB(t))
	ctx := context.Background()

	a, b, c := stagedSource("1", ""), stagedSource("2", ""), stagedSource("3", "")
	c.SourceType = "slack"
	for _, src := range []*models.StagedSource{a, b, c} {
		require.NoError(t, repo.Create(ctx, src))
	}

	counts, err := repo.CountBySourceType(ctx, "lib-1", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"zendesk": 2, "slack": 1}, counts)

	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	touched, err := repo.Touch(ctx, []string{a.ID, "nope"}, "alice", at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), touched)

	got, err := repo.GetByIDs(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID, "ordered by staged_at")
	assert.Equal(t, "alice", got[1].StagedBy)

	deleted, err := repo.Delete(ctx, []string{a.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	counts, err = repo.CountBySourceType(ctx, "lib-1", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"zendesk": 1}, counts)
}
