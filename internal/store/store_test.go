package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gnssd.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBBaselinesFreshSchema(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion(migrationSourceFS())
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)
}

func TestRecordAndFetchHuntLock(t *testing.T) {
	db := openTestDB(t)
	now := time.Unix(1700000000, 0).UTC()

	got, err := db.LastHuntLock("/dev/ttyUSB0")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, db.RecordHuntLock("/dev/ttyUSB0", "ubx", 38400, 1, now))
	require.NoError(t, db.RecordHuntLock("/dev/ttyUSB0", "ubx", 115200, 1, now.Add(time.Minute)))

	got, err = db.LastHuntLock("/dev/ttyUSB0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 115200, got.BaudRate)
	assert.Equal(t, "ubx", got.DriverName)
}

func TestPPSRejectionCounting(t *testing.T) {
	db := openTestDB(t)
	base := time.Unix(1700000000, 0).UTC()

	require.NoError(t, db.RecordPPSRejection("/dev/pps0", "cycle out of range", base))
	require.NoError(t, db.RecordPPSRejection("/dev/pps0", "already published", base.Add(time.Second)))
	require.NoError(t, db.RecordPPSRejection("/dev/pps0", "in-band fix too stale", base.Add(2*time.Second)))

	count, err := db.PPSRejectionCount("/dev/pps0", base)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = db.PPSRejectionCount("/dev/pps0", base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	recent, err := db.RecentPPSRejections("/dev/pps0", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"in-band fix too stale", "already published"}, recent)
}

func TestBackupNowProducesFile(t *testing.T) {
	db := openTestDB(t)
	path, err := db.BackupNow()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	t.Cleanup(func() { os.Remove(path) })
}
