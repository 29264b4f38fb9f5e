package breaker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() map[string]Record {
	tripped := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	reset := tripped.Add(15 * time.Minute)
	return map[string]Record{
		"daily_loss": {Type: TypeDailyLoss, Status: StatusOpen, Reason: "limit", TrippedAt: tripped},
		"execution_failure:BTCUSDT": {
			Type: TypeExecution, Scope: "BTCUSDT", Status: StatusRestricted,
			Reason: "fills", TrippedAt: tripped, AutoResetAt: &reset,
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "breakers.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, store.Save(context.Background(), sampleRecords()))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), loaded)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status": "RESTRICTED"`)
	assert.Contains(t, string(raw), `"type": "execution_failure"`)
	assert.Contains(t, string(raw), `"auto_reset_at": "2024-03-04T10:15:00Z"`)

	backup, err := store.Backup()
	require.NoError(t, err)
	assert.FileExists(t, backup)
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breakers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"system": {"type": "nope"}}`), 0644))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err)

	// A breaker on a corrupt store starts empty instead of failing.
	cb := New(Options{Store: store})
	assert.Empty(t, cb.Snapshot())
}

func TestBreakerSurvivesRestartWithFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breakers.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	cb := New(Options{Store: store})
	cb.Trip(TypeSystem, "halt")

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	restarted := New(Options{Store: reopened})
	allowed, status := restarted.Check("")
	assert.False(t, allowed)
	assert.Equal(t, StatusOpen, status)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save writes the full set", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisStore(db, "")

		data, err := json.Marshal(sampleRecords())
		require.NoError(t, err)
		mock.ExpectSet(DefaultRedisKey, data, 0).SetVal("OK")

		require.NoError(t, store.Save(ctx, sampleRecords()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("load decodes records", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisStore(db, "risk:test")

		data, err := json.Marshal(sampleRecords())
		require.NoError(t, err)
		mock.ExpectGet("risk:test").SetVal(string(data))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, sampleRecords(), loaded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing key is empty state", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisStore(db, "risk:test")
		mock.ExpectGet("risk:test").RedisNil()

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("write failure is returned", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisStore(db, "risk:test")
		mock.ExpectSet("risk:test", []byte("{}"), 0).SetErr(redis.TxFailedErr)

		assert.Error(t, store.Save(ctx, nil))
	})
}

func TestUndeclaredStatusTripsOpen(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "breakers.json"))
	require.NoError(t, err)
	cb, _ := newTestBreaker(t, store, nil)

	rec := cb.Trip(TypeManual, "bad input", WithStatus(Status(7)))
	assert.Equal(t, StatusOpen, rec.Status)
	rec = cb.Trip(TypeStrategy, "closed is not a trip", WithScope("ma-cross"), WithStatus(StatusClosed))
	assert.Equal(t, StatusOpen, rec.Status)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, StatusOpen, loaded["manual"].Status)
	assert.Equal(t, StatusOpen, loaded["strategy:ma-cross"].Status)
}
