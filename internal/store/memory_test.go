package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
)

func record(startedAt time.Time) estimate.RunRecord {
	return estimate.RunRecord{
		Summary: estimate.RunSummary{ID: uuid.New(), StartedAt: startedAt},
	}
}

func TestMemoryStoreEmpty(t *testing.T) {
	s := NewMemoryStore(0, 0)

	_, err := s.GetLatest()
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRun(uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ListRuns(time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreLatestAndGet(t *testing.T) {
	s := NewMemoryStore(0, 0)
	now := time.Now().UTC()

	first := record(now.Add(-time.Minute))
	second := record(now)
	s.SaveRun(first)
	s.SaveRun(second)

	latest, err := s.GetLatest()
	require.NoError(t, err)
	assert.Equal(t, second.Summary.ID, latest.Summary.ID)

	got, err := s.GetRun(first.Summary.ID.String())
	require.NoError(t, err)
	assert.Equal(t, first.Summary.ID, got.Summary.ID)
}

func TestMemoryStoreRetentionByCount(t *testing.T) {
	s := NewMemoryStore(2, 0)
	now := time.Now().UTC()

	recs := []estimate.RunRecord{
		record(now.Add(-3 * time.Minute)),
		record(now.Add(-2 * time.Minute)),
		record(now.Add(-time.Minute)),
	}
	for _, r := range recs {
		s.SaveRun(r)
	}

	runs, err := s.ListRuns(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, recs[1].Summary.ID, runs[0].ID)
	assert.Equal(t, recs[2].Summary.ID, runs[1].ID)

	_, err = s.GetRun(recs[0].Summary.ID.String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRetentionByAgeKeepsNewest(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	old := record(time.Now().Add(-3 * time.Hour))
	older := record(time.Now().Add(-2 * time.Hour))

	s.SaveRun(old)
	s.SaveRun(older)

	runs, err := s.ListRuns(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, older.Summary.ID, runs[0].ID)
}

func TestMemoryStoreListRange(t *testing.T) {
	s := NewMemoryStore(0, 0)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := range 4 {
		s.SaveRun(record(base.Add(time.Duration(i) * time.Hour)))
	}

	runs, err := s.ListRuns(base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(base.Add(3*time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = s.ListRuns(base.Add(5*time.Hour), time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}
