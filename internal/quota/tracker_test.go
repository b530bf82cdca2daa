package quota

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"inreach/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(day string) func() time.Time {
	ts, _ := time.Parse(types.DateLayout, day)
	return func() time.Time { return ts.Add(10 * time.Hour) }
}

func TestTracker_RemainingFreshStore(t *testing.T) {
	store := NewMemoryStore(types.QuotaRecord{})
	tr := NewTracker(store, 25, WithClock(fixedClock("2024-05-01")))

	left, err := tr.Remaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, left)
	assert.Equal(t, "2024-05-01", store.Record().Date, "rollover persisted on first access")
}

func TestTracker_RollsOverOnNewDay(t *testing.T) {
	store := NewMemoryStore(types.QuotaRecord{Date: "2024-04-30", SentCount: 25})
	tr := NewTracker(store, 25, WithClock(fixedClock("2024-05-01")))

	left, err := tr.Remaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, left)
	assert.Equal(t, types.QuotaRecord{Date: "2024-05-01", SentCount: 0, DailyLimit: 25}, store.Record())
}

func TestTracker_IncrementPersistsEveryCall(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(types.QuotaRecord{Date: "2024-05-01", SentCount: 3})
	tr := NewTracker(store, 5, WithClock(fixedClock("2024-05-01")))

	rec, err := tr.Increment(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.SentCount)
	assert.Equal(t, 4, store.Record().SentCount)

	_, err = tr.Increment(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Persists())

	_, err = tr.Increment(ctx)
	assert.ErrorIs(t, err, types.ErrQuotaExhausted)
	assert.Equal(t, 5, store.Record().SentCount)

	left, err := tr.Remaining(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestTracker_LimitLoweredBelowCount(t *testing.T) {
	store := NewMemoryStore(types.QuotaRecord{Date: "2024-05-01", SentCount: 20})
	tr := NewTracker(store, 10, WithClock(fixedClock("2024-05-01")))
	left, err := tr.Remaining(context.Background())
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestTracker_ConcurrentIncrementsNeverExceedLimit(t *testing.T) {
	store := NewMemoryStore(types.QuotaRecord{})
	tr := NewTracker(store, 25, WithClock(fixedClock("2024-05-01")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		exhausted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Increment(context.Background())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, types.ErrQuotaExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, ok)
	assert.Equal(t, 75, exhausted)
	assert.Equal(t, 25, store.Record().SentCount)
}

func TestTracker_PersistFailure(t *testing.T) {
	store := NewMemoryStore(types.QuotaRecord{Date: "2024-05-01"})
	store.FailPersist(errors.New("disk full"))
	tr := NewTracker(store, 25, WithClock(fixedClock("2024-05-01")))

	_, err := tr.Increment(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, store.Record().SentCount)
}

// =============================================================================
// FILE STORE
// =============================================================================

func TestFileStore_RoundTripAcrossTrackers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "quota.json")
	clock := WithClock(fixedClock("2024-05-01"))

	first := NewTracker(NewFileStore(path), 25, clock)
	_, err := first.Increment(ctx)
	require.NoError(t, err)
	_, err = first.Increment(ctx)
	require.NoError(t, err)

	// A new process sees the persisted count.
	second := NewTracker(NewFileStore(path), 25, clock)
	left, err := second.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 23, left)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date": "2024-05-01"`)
	assert.Contains(t, string(data), `"sent": 2`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_MissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	rec, err := NewFileStore(filepath.Join(dir, "absent.json")).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.QuotaRecord{}, rec)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = NewFileStore(bad).Load(ctx)
	assert.Error(t, err)
}

func TestFileStore_ReadsLegacyRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"date": "2024-05-01", "sent": 7}`), 0644))

	tr := NewTracker(NewFileStore(path), 25, WithClock(fixedClock("2024-05-01")))
	rec, err := tr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, rec.SentCount)
	assert.Equal(t, 18, rec.Remaining())
}
