// Package flightlog records published poses, setpoints and range readings
// into a SQLite file, one session per process run.
package flightlog

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vision-nav/internal/monitoring"
	"vision-nav/internal/pose"
	"vision-nav/internal/rangefinder"
)

//go:embed schema.sql
var schemaSQL string

type Recorder struct {
	db      *sql.DB
	session string
}

// Summary is the per-session row count of each table.
type Summary struct {
	Session string         `json:"session"`
	Poses   map[string]int `json:"poses"`
	Twists  map[string]int `json:"twists"`
	Ranges  int            `json:"ranges"`
}

func Open(path, notes string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("flightlog: open %s: %w", path, err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("flightlog: schema: %w", err)
	}

	r := &Recorder{db: db, session: uuid.NewString()}
	if _, err := db.Exec(`INSERT INTO sessions (id, started_ns, notes) VALUES (?, ?, ?)`,
		r.session, time.Now().UnixNano(), notes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("flightlog: start session: %w", err)
	}
	monitoring.Logf("flightlog: recording session %s to %s", r.session, path)
	return r, nil
}

func (r *Recorder) Session() string {
	if r == nil {
		return ""
	}
	return r.session
}

func (r *Recorder) RecordPose(kind string, p pose.Pose) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("flightlog: recorder is closed")
	}
	_, err := r.db.Exec(`
		INSERT INTO poses (session_id, kind, stamp_ns, frame_id, x, y, z, qx, qy, qz, qw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.session, kind, p.Stamp.UnixNano(), p.FrameID,
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.X, p.Orientation.Y, p.Orientation.Z, p.Orientation.W)
	if err != nil {
		return fmt.Errorf("flightlog: insert pose: %w", err)
	}
	return nil
}

func (r *Recorder) RecordTwist(kind string, t pose.TwistStamped) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("flightlog: recorder is closed")
	}
	_, err := r.db.Exec(`
		INSERT INTO twists (session_id, kind, stamp_ns, frame_id, vx, vy, vz, wz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.session, kind, t.Stamp.UnixNano(), t.FrameID,
		t.Twist.Linear.X, t.Twist.Linear.Y, t.Twist.Linear.Z, t.Twist.Angular.Z)
	if err != nil {
		return fmt.Errorf("flightlog: insert twist: %w", err)
	}
	return nil
}

// PublishRange records a range reading; it lets the recorder sit among the
// rangefinder sinks.
func (r *Recorder) PublishRange(rd rangefinder.Reading) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("flightlog: recorder is closed")
	}
	_, err := r.db.Exec(`INSERT INTO ranges (session_id, sensor_id, stamp_ns, range_m) VALUES (?, ?, ?, ?)`,
		r.session, rd.ID, rd.Stamp.UnixNano(), rd.RangeM)
	if err != nil {
		return fmt.Errorf("flightlog: insert range: %w", err)
	}
	return nil
}

func (r *Recorder) Summary() (Summary, error) {
	if r == nil || r.db == nil {
		return Summary{}, fmt.Errorf("flightlog: recorder is closed")
	}
	s := Summary{Session: r.session, Poses: map[string]int{}, Twists: map[string]int{}}
	if err := countByKind(r.db, "poses", r.session, s.Poses); err != nil {
		return Summary{}, err
	}
	if err := countByKind(r.db, "twists", r.session, s.Twists); err != nil {
		return Summary{}, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM ranges WHERE session_id = ?`, r.session).Scan(&s.Ranges); err != nil {
		return Summary{}, fmt.Errorf("flightlog: count ranges: %w", err)
	}
	return s, nil
}

func countByKind(db *sql.DB, table, session string, out map[string]int) error {
	// table is one of two fixed names, never user input.
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM `+table+` WHERE session_id = ? GROUP BY kind`, session)
	if err != nil {
		return fmt.Errorf("flightlog: count %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return fmt.Errorf("flightlog: count %s: %w", table, err)
		}
		out[kind] = n
	}
	return rows.Err()
}

// Close ends the session and closes the database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	_, endErr := r.db.Exec(`UPDATE sessions SET ended_ns = ? WHERE id = ?`, time.Now().UnixNano(), r.session)
	err := r.db.Close()
	r.db = nil
	if endErr != nil {
		return fmt.Errorf("flightlog: end session: %w", endErr)
	}
	return err
}
