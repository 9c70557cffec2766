package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"telegram-sink/internal/topology"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PointsTable holds trackside point metadata: region_id, point_id, name and
// either lat/lon columns or a PostGIS loc column.
const PointsTable = "reporting_points"

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchPoints loads point metadata per region from PointsTable.
func FetchPoints(ctx context.Context, db *sql.DB) (map[int]map[int]topology.PointMeta, error) {
	q, err := pointsQuery(ctx, db)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", PointsTable, err)
	}
	defer rows.Close()

	out := make(map[int]map[int]topology.PointMeta)
	for rows.Next() {
		var region, point int
		var m topology.PointMeta
		if err := rows.Scan(&region, &point, &m.Name, &m.Lat, &m.Lon); err != nil {
			return nil, err
		}
		pts, ok := out[region]
		if !ok {
			pts = make(map[int]topology.PointMeta)
			out[region] = pts
		}
		pts[point] = m
	}
	return out, rows.Err()
}

// pointsQuery picks lat/lon columns when present, else the PostGIS
// geography column.
func pointsQuery(ctx context.Context, db *sql.DB) (string, error) {
	cols, err := hasColumns(ctx, db, "public", PointsTable, "lat", "lon", "loc")
	if err != nil {
		return "", fmt.Errorf("introspect %s columns: %w", PointsTable, err)
	}
	switch {
	case cols["lat"] && cols["lon"]:
		return `SELECT region_id, point_id, COALESCE(name, ''), COALESCE(lat, 0), COALESCE(lon, 0)
             FROM ` + PointsTable + ` ORDER BY region_id, point_id`, nil
	case cols["loc"]:
		return `SELECT region_id, point_id, COALESCE(name, ''),
                    COALESCE(ST_Y(loc::geometry), 0),
                    COALESCE(ST_X(loc::geometry), 0)
             FROM ` + PointsTable + ` ORDER BY region_id, point_id`, nil
	default:
		return "", fmt.Errorf("%s table missing expected columns (lat/lon or loc)", PointsTable)
	}
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
