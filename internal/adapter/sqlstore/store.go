package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver registered as "pgx"
	_ "modernc.org/sqlite"             // Pure-Go SQLite driver
)

const selectColumns = "time, sensor_id, sensor_name, unit, value"

// Store is the time-series store for measurements. Inserts are plain
// appends; no uniqueness is enforced on (sensor_id, time).
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open prepares a handle for driver ("sqlite" or "postgres"). No connection
// is made until first use, so Open succeeds while the database is still
// starting; use Probe to wait for it.
func Open(driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite performs best with a single write connection. WAL enables concurrent readers.
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, dialect: d}, nil
}

// Probe opens a dedicated connection and closes it again.
func (s *Store) Probe(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Migrate applies connection setup and creates the schema if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range slices.Concat(s.dialect.setup, s.dialect.schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx executes fn within a database transaction. The transaction is
// committed if fn returns nil, rolled back otherwise.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// InsertMeasurements appends rows in a single transaction.
func (s *Store) InsertMeasurements(ctx context.Context, rows []domain.Measurement) error {
	if len(rows) == 0 {
		return nil
	}
	query := s.dialect.rebind(`INSERT INTO measurements (` + selectColumns + `) VALUES (?, ?, ?, ?, ?)`)
	return s.Tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, m := range rows {
			_, err := stmt.ExecContext(ctx,
				s.dialect.encodeTime(m.Time), m.SensorID, nullString(m.SensorName), nullString(m.Unit), m.Value)
			if err != nil {
				return fmt.Errorf("insert measurement %s@%s: %w", m.SensorID, m.Time, err)
			}
		}
		return nil
	})
}

// RecentMeasurements returns the limit most recent rows for sensorID,
// oldest first.
func (s *Store) RecentMeasurements(ctx context.Context, sensorID string, limit int) ([]domain.Measurement, error) {
	query := s.dialect.rebind(`SELECT ` + selectColumns + ` FROM measurements
		WHERE sensor_id = ? ORDER BY time DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent measurements: %w", err)
	}
	out, err := scanMeasurements(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// LatestMeasurement returns the most recent row for sensorID. The boolean
// is false when the sensor has no rows yet.
func (s *Store) LatestMeasurement(ctx context.Context, sensorID string) (domain.Measurement, bool, error) {
	got, err := s.RecentMeasurements(ctx, sensorID, 1)
	if err != nil {
		return domain.Measurement{}, false, err
	}
	if len(got) == 0 {
		return domain.Measurement{}, false, nil
	}
	return got[0], true, nil
}

// Sensors lists the distinct named sensors present in the store.
func (s *Store) Sensors(ctx context.Context) ([]domain.SensorInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sensor_id, MAX(sensor_name), MAX(unit)
		FROM measurements
		WHERE sensor_name IS NOT NULL
		GROUP BY sensor_id
		ORDER BY MAX(sensor_name)
		LIMIT 50`)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	var out []domain.SensorInfo
	for rows.Next() {
		var info domain.SensorInfo
		var name, unit sql.NullString
		if err := rows.Scan(&info.ID, &name, &unit); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		info.Name, info.Unit = name.String, unit.String
		out = append(out, info)
	}
	return out, rows.Err()
}

func scanMeasurements(rows *sql.Rows) ([]domain.Measurement, error) {
	defer rows.Close()

	var out []domain.Measurement
	for rows.Next() {
		var (
			m          domain.Measurement
			rawTime    any
			name, unit sql.NullString
		)
		if err := rows.Scan(&rawTime, &m.SensorID, &name, &unit, &m.Value); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		ts, err := decodeTime(rawTime)
		if err != nil {
			return nil, err
		}
		m.Time, m.SensorName, m.Unit = ts, name.String, unit.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate measurements: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
