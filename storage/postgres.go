package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"daladala.dev/tracker/model"
)

type PSQLStorage struct {
	db *sql.DB
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS route;
DROP TABLE IF EXISTS stop;
DROP TABLE IF EXISTS subline;
DROP TABLE IF EXISTS subline_stop;
`)
		if err != nil {
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS route (
    id BIGINT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stop (
    id BIGINT PRIMARY KEY,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    ref TEXT NOT NULL,
    lat DOUBLE PRECISION NOT NULL,
    lng DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS subline (
    id BIGINT PRIMARY KEY,
    route_id BIGINT NOT NULL,
    name TEXT NOT NULL,
    direction TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS subline_route ON subline (route_id);

CREATE TABLE IF NOT EXISTS subline_stop (
    subline_id BIGINT NOT NULL,
    seq INTEGER NOT NULL,
    stop_id BIGINT NOT NULL,
PRIMARY KEY (subline_id, seq)
);

CREATE INDEX IF NOT EXISTS subline_stop_stop ON subline_stop (stop_id);
`)
	if err != nil {
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &PSQLStorage{db: db}, nil
}

func (s *PSQLStorage) SublineStops(ctx context.Context, mainRouteID int64) (map[int64][]model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sl.id, st.id, st.code, st.name, st.ref, st.lat, st.lng
FROM subline sl
JOIN subline_stop ss ON ss.subline_id = sl.id
JOIN stop st ON st.id = ss.stop_id
WHERE sl.route_id = $1
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

	slRows, err := s.db.QueryContext(ctx, `SELECT id FROM subline WHERE route_id = $1`, mainRouteID)
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

func (s *PSQLStorage) RouteOfSubline(ctx context.Context, sublineID int64) (int64, error) {
	var routeID int64
	err := s.db.QueryRowContext(
		ctx, `SELECT route_id FROM subline WHERE id = $1`, sublineID,
	).Scan(&routeID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying subline route: %w", err)
	}
	return routeID, nil
}

func (s *PSQLStorage) SublinesServingStop(ctx context.Context, stopID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT subline_id FROM subline_stop WHERE stop_id = $1 ORDER BY subline_id ASC`, stopID)
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

func (s *PSQLStorage) Routes(ctx context.Context) ([]model.MainRoute, error) {
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

func (s *PSQLStorage) Sublines(ctx context.Context, mainRouteID int64) ([]model.Subline, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, route_id, name, direction FROM subline WHERE route_id = $1 ORDER BY id ASC`, mainRouteID)
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

func (s *PSQLStorage) Stops(ctx context.Context) ([]model.Stop, error) {
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

func (s *PSQLStorage) Stop(ctx context.Context, stopID int64) (model.Stop, error) {
	var stop model.Stop
	err := s.db.QueryRowContext(
		ctx, `SELECT id, code, name, ref, lat, lng FROM stop WHERE id = $1`, stopID,
	).Scan(&stop.ID, &stop.Code, &stop.Name, &stop.Ref, &stop.Lat, &stop.Lng)
	if err == sql.ErrNoRows {
		return model.Stop{}, ErrNotFound
	}
	if err != nil {
		return model.Stop{}, fmt.Errorf("querying stop: %w", err)
	}
	return stop, nil
}

func (s *PSQLStorage) WriteRoute(ctx context.Context, route model.MainRoute) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO route (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		route.ID, route.Name,
	)
	if err != nil {
		return fmt.Errorf("writing route: %w", err)
	}
	return nil
}

func (s *PSQLStorage) WriteStop(ctx context.Context, stop model.Stop) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stop (id, code, name, ref, lat, lng) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    code = EXCLUDED.code, name = EXCLUDED.name, ref = EXCLUDED.ref,
    lat = EXCLUDED.lat, lng = EXCLUDED.lng`,
		stop.ID, stop.Code, stop.Name, stop.Ref, stop.Lat, stop.Lng,
	)
	if err != nil {
		return fmt.Errorf("writing stop: %w", err)
	}
	return nil
}

func (s *PSQLStorage) WriteSubline(ctx context.Context, subline model.Subline) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO subline (id, route_id, name, direction) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    route_id = EXCLUDED.route_id, name = EXCLUDED.name, direction = EXCLUDED.direction`,
		subline.ID, subline.MainRouteID, subline.Name, subline.Direction,
	)
	if err != nil {
		return fmt.Errorf("writing subline: %w", err)
	}
	return nil
}

func (s *PSQLStorage) WriteSublineStops(ctx context.Context, sublineID int64, stopIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM subline_stop WHERE subline_id = $1`, sublineID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing subline stops: %w", err)
	}

	for seq, stopID := range stopIDs {
		_, err = tx.ExecContext(
			ctx, `INSERT INTO subline_stop (subline_id, seq, stop_id) VALUES ($1, $2, $3)`,
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

func (s *PSQLStorage) Close() error {
	return s.db.Close()
}
