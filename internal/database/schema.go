package database

const outboxTable = `CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	booking_id INTEGER NOT NULL,
	payload BLOB NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	next_attempt_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	sent_at DATETIME
)`

const outboxIndex = `CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_attempt_at)`

// BookingSchema holds the booking store and its outbox.
var BookingSchema = Schema{
	Name: "booking",
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			lot_id TEXT NOT NULL,
			spot_id TEXT,
			requested_spot_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'confirmed', 'cancelled', 'failed')),
			failure_reason TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status, updated_at)`,
		// at most one active booking may request a given spot
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_spot
			ON bookings(lot_id, requested_spot_id)
			WHERE requested_spot_id IS NOT NULL AND status IN ('pending', 'confirmed')`,
		`ALTER TABLE bookings ADD COLUMN released_at DATETIME`,
		outboxTable,
		outboxIndex,
	},
}

// InventorySchema holds spots, per-booking reservation records and the outbox.
var InventorySchema = Schema{
	Name: "inventory",
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS spots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lot_id TEXT NOT NULL,
			spot_number TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'available'
				CHECK (status IN ('available', 'reserved')),
			booking_id INTEGER,
			updated_at DATETIME NOT NULL,
			UNIQUE (lot_id, spot_number),
			CHECK ((status = 'reserved') = (booking_id IS NOT NULL))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_spots_booking ON spots(booking_id) WHERE booking_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS reservations (
			booking_id INTEGER PRIMARY KEY,
			lot_id TEXT NOT NULL,
			spot_number TEXT,
			state TEXT NOT NULL CHECK (state IN ('reserved', 'released', 'failed')),
			reason TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		outboxTable,
		outboxIndex,
	},
}
