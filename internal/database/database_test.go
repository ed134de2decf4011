package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkhub/internal/config"
)

func openTestDB(t *testing.T, schema Schema) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), schema, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDB_MigrationsAreIdempotent(t *testing.T) {
	logger := zerolog.New(io.Discard)
	path := filepath.Join(t.TempDir(), "nested", "booking.db")

	db, err := NewDB(path, BookingSchema, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// second open re-runs every statement, including ADD COLUMN
	db, err = NewDB(path, BookingSchema, &logger)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`SELECT released_at FROM bookings`)
	assert.NoError(t, err)
	assert.Equal(t, path, db.Path())
}

func TestBookingSchema_ActiveSpotIndex(t *testing.T) {
	db := openTestDB(t, BookingSchema)
	now := time.Now().UTC()
	insert := `INSERT INTO bookings (user_id, lot_id, requested_spot_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := db.Exec(insert, 1, "L1", "A1", "pending", now, now)
	require.NoError(t, err)
	_, err = db.Exec(insert, 2, "L1", "A1", "pending", now, now)
	assert.Error(t, err, "second active booking for the same spot")

	_, err = db.Exec(`UPDATE bookings SET status = 'cancelled' WHERE user_id = 1`)
	require.NoError(t, err)
	_, err = db.Exec(insert, 2, "L1", "A1", "pending", now, now)
	assert.NoError(t, err, "spot is free once the first booking is cancelled")

	_, err = db.Exec(insert, 3, "L1", nil, "pending", now, now)
	assert.NoError(t, err)
	_, err = db.Exec(insert, 4, "L1", nil, "pending", now, now)
	assert.NoError(t, err, "bookings without a requested spot never collide")
}

func TestInventorySchema_SpotInvariant(t *testing.T) {
	db := openTestDB(t, InventorySchema)
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT INTO spots (lot_id, spot_number, status, booking_id, updated_at) VALUES ('L1', 'A1', 'reserved', NULL, ?)`, now)
	assert.Error(t, err, "reserved spot must reference a booking")

	_, err = db.Exec(`INSERT INTO spots (lot_id, spot_number, status, booking_id, updated_at) VALUES ('L1', 'A1', 'available', 5, ?)`, now)
	assert.Error(t, err, "available spot must not reference a booking")

	_, err = db.Exec(`INSERT INTO spots (lot_id, spot_number, updated_at) VALUES ('L1', 'A1', ?)`, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO spots (lot_id, spot_number, updated_at) VALUES ('L1', 'A1', ?)`, now)
	assert.Error(t, err, "spot numbers are unique per lot")
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t, InventorySchema)
	ctx := context.Background()
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO spots (lot_id, spot_number, updated_at) VALUES ('L1', 'A1', ?)`, now); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM spots`).Scan(&count))
	assert.Equal(t, 0, count, "rolled back")

	require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO spots (lot_id, spot_number, updated_at) VALUES ('L1', 'A1', ?)`, now)
		return err
	}))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM spots`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestBackupService(t *testing.T) {
	db := openTestDB(t, BookingSchema)
	logger := zerolog.New(io.Discard)
	dir := filepath.Join(t.TempDir(), "backups")

	svc := NewBackupService(db, config.BackupConfig{Enabled: true, Path: dir, RetentionDays: 7}, "booking", &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	snapshot, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer snapshot.Close()
	_, err = snapshot.Exec(`SELECT id FROM bookings`)
	assert.NoError(t, err)

	old := filepath.Join(dir, "booking_20000101_000000.000.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(unrelated, past, past))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	assert.NoFileExists(t, old)
	assert.FileExists(t, unrelated)
	assert.FileExists(t, path)
}
