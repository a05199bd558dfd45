package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAppendAndCount(t *testing.T) {
	db := openTemp(t)

	n, err := db.Count()
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, db.Append(Entry{
		Timestamp:      time.Now(),
		Variant:        "categorical",
		Verdict:        map[string]string{"slot_0": "car"},
		ProvenanceHash: "abc123",
		ClientCount:    3,
	}))

	n, err = db.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestLastHashChains(t *testing.T) {
	db := openTemp(t)

	hash, err := db.LastHash()
	require.NoError(t, err)
	require.Empty(t, hash)

	require.NoError(t, db.Append(Entry{
		Timestamp:      time.Now(),
		ProvenanceHash: "first-hash",
	}))
	hash, err = db.LastHash()
	require.NoError(t, err)
	require.Equal(t, "first-hash", hash)

	require.NoError(t, db.Append(Entry{
		Timestamp:      time.Now().Add(time.Second),
		ProvenanceHash: "second-hash",
		ParentHash:     "first-hash",
	}))
	hash, err = db.LastHash()
	require.NoError(t, err)
	require.Equal(t, "second-hash", hash)
}

func TestReadRecentNewestFirst(t *testing.T) {
	db := openTemp(t)

	base := time.Now()
	require.NoError(t, db.Append(Entry{Timestamp: base, ProvenanceHash: "one"}))
	require.NoError(t, db.Append(Entry{Timestamp: base.Add(time.Minute), ProvenanceHash: "two"}))
	require.NoError(t, db.Append(Entry{Timestamp: base.Add(2 * time.Minute), ProvenanceHash: "three"}))

	entries, err := db.ReadRecent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "three", entries[0].ProvenanceHash)
	require.Equal(t, "two", entries[1].ProvenanceHash)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Append(Entry{Timestamp: time.Now(), ProvenanceHash: "persisted"}))
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	hash, err := reopened.LastHash()
	require.NoError(t, err)
	require.Equal(t, "persisted", hash)
}
