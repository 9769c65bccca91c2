package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"daladala.dev/tracker/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/tracker.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS route (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stop (
    id INTEGER PRIMARY KEY,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    ref TEXT NOT NULL,
    lat REAL NOT NULL,
    lng REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS subline (
    id INTEGER PRIMARY KEY,
    route_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    direction TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS subline_route ON subline (route_id);

CREATE TABLE IF NOT EXISTS subline_stop (
    subline_id INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    stop_id INTEGER NOT NULL,
PRIMARY KEY (subline_id, seq)
);

CREATE INDEX IF NOT EXISTS subline_stop_stop ON subline_stop (stop_id);
`)
	if err != nil {
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) SublineStops(ctx context.Context, mainRouteID int64) (map[int64][]model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sl.id, st.id, st.code, st.name, st.ref, st.lat, st.lng
FROM subline sl
JOIN subline_stop ss ON ss.subline_id = sl.id
JOIN stop st ON st.id = ss.stop_id
WHERE sl.route_id = ?
ORDER BY sl.id ASC, ss.seq ASC`, mainRouteID)
	if err != nil {
		return nil, fmt.Errorf("querying subline stops: %w", err)
	}
	defer rows.Close()

	result := map[int64][]model.Stop{}
	for rows.Next() {
		var sublineID int64
		var stop model.Stop
		err = rows.Scan(&sublineID, &stop.ID, &stop.Code, &stop.Name, &stop.Ref, &stop.Lat, &stop.Lng)
		if err != nil {
			return nil, fmt.Errorf("scanning subline stop: %w", err)
		}
		result[sublineID] = append(result[sublineID], stop)
	}

	// Sublines without stops still count as sublines of the
	// route.
	slRows, err := s.db.QueryContext(ctx, `SELECT id FROM subline WHERE route_id = ?`, mainRouteID)
	if err != nil {
		return nil, fmt.Errorf("querying sublines: %w", err)
	}
	defer slRows.Close()
	for slRows.Next() {
		var id int64
		if err := slRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning subline: %w", err)
		}
		if _, found := result[id]; !found {
			result[id] = []model.Stop{}
		}
	}

	return result, nil
}

func (s *SQLiteStorage) RouteOfSubline(ctx context.Context, sublineID int64) (int64, error) {
	var routeID int64
	err := s.db.QueryRowContext(
		ctx, `SELECT route_id FROM subline WHERE id = ?`, sublineID,
	).Scan(&routeID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying subline route: %w", err)
	}
	return routeID, nil
}

func (s *SQLiteStorage) SublinesServingStop(ctx context.Context, stopID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT subline_id FROM subline_stop WHERE stop_id = ? ORDER BY subline_id ASC`, stopID)
	if err != nil {
		return nil, fmt.Errorf("querying sublines serving stop: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning subline id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *SQLiteStorage) Routes(ctx context.Context) ([]model.MainRoute, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM route ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []model.MainRoute{}
	for rows.Next() {
		var r model.MainRoute
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (s *SQLiteStorage) Sublines(ctx context.Context, mainRouteID int64) ([]model.Subline, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, route_id, name, direction FROM subline WHERE route_id = ? ORDER BY id ASC`, mainRouteID)
	if err != nil {
		return nil, fmt.Errorf("querying sublines: %w", err)
	}
	defer rows.Close()

	sublines := []model.Subline{}
	for rows.Next() {
		var sl model.Subline
		if err := rows.Scan(&sl.ID, &sl.MainRouteID, &sl.Name, &sl.Direction); err != nil {
			return nil, fmt.Errorf("scanning subline: %w", err)
		}
		sublines = append(sublines, sl)
	}
	return sublines, nil
}

func (s *SQLiteStorage) Stops(ctx context.Context) ([]model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, ref, lat, lng FROM stop ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []model.Stop{}
	for rows.Next() {
		var stop model.Stop
		err = rows.Scan(&stop.ID, &stop.Code, &stop.Name, &stop.Ref, &stop.Lat, &stop.Lng)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, stop)
	}
	return stops, nil
}

func (s *SQLiteStorage) Stop(ctx context.Context, stopID int64) (model.Stop, error) {
	var stop model.Stop
	err := s.db.QueryRowContext(
		ctx, `SELECT id, code, name, ref, lat, lng FROM stop WHERE id = ?`, stopID,
	).Scan(&stop.ID, &stop.Code, &stop.Name, &stop.Ref, &stop.Lat, &stop.Lng)
	if err == sql.ErrNoRows {
		return model.Stop{}, ErrNotFound
	}
	if err != nil {
		return model.Stop{}, fmt.Errorf("querying stop: %w", err)
	}
	return stop, nil
}

func (s *SQLiteStorage) WriteRoute(ctx context.Context, route model.MainRoute) error {
	_, err := s.db.ExecContext(
		ctx, `INSERT OR REPLACE INTO route (id, name) VALUES (?, ?)`,
		route.ID, route.Name,
	)
	if err != nil {
		return fmt.Errorf("writing route: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) WriteStop(ctx context.Context, stop model.Stop) error {
	_, err := s.db.ExecContext(
		ctx, `INSERT OR REPLACE INTO stop (id, code, name, ref, lat, lng) VALUES (?, ?, ?, ?, ?, ?)`,
		stop.ID, stop.Code, stop.Name, stop.Ref, stop.Lat, stop.Lng,
	)
	if err != nil {
		return fmt.Errorf("writing stop: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) WriteSubline(ctx context.Context, subline model.Subline) error {
	_, err := s.db.ExecContext(
		ctx, `INSERT OR REPLACE INTO subline (id, route_id, name, direction) VALUES (?, ?, ?, ?)`,
		subline.ID, subline.MainRouteID, subline.Name, subline.Direction,
	)
	if err != nil {
		return fmt.Errorf("writing subline: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) WriteSublineStops(ctx context.Context, sublineID int64, stopIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM subline_stop WHERE subline_id = ?`, sublineID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing subline stops: %w", err)
	}

	for seq, stopID := range stopIDs {
		_, err = tx.ExecContext(
			ctx, `INSERT INTO subline_stop (subline_id, seq, stop_id) VALUES (?, ?, ?)`,
			sublineID, seq, stopID,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("writing subline stop: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing subline stops: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
