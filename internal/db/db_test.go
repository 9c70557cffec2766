package db

import (
	"context"
	"os"
	"testing"
)

func TestOpenIsLazy(t *testing.T) {
	db, err := Open("postgres://sink@127.0.0.1:1/points?sslmode=disable")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
}

func TestHasColumnsNoColumns(t *testing.T) {
	res, err := hasColumns(context.Background(), nil, "public", PointsTable)
	if err != nil || len(res) != 0 {
		t.Errorf("hasColumns() = %v, %v", res, err)
	}
}

// TestFetchPoints runs against a real database when SINK_TEST_DATABASE_URL
// is set.
func TestFetchPoints(t *testing.T) {
	dsn := os.Getenv("SINK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SINK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := Ping(ctx, db); err != nil {
		t.Fatal(err)
	}

	stmts := []string{
		`DROP TABLE IF EXISTS ` + PointsTable,
		`CREATE TABLE ` + PointsTable + ` (region_id int, point_id int, name text, lat double precision, lon double precision)`,
		`INSERT INTO ` + PointsTable + ` VALUES (0, 100, 'Postplatz', 51.05, 13.73), (0, 101, NULL, NULL, NULL)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			t.Fatalf("prepare fixture: %v", err)
		}
	}
	defer func() { _, _ = db.ExecContext(context.Background(), `DROP TABLE IF EXISTS `+PointsTable) }()

	pts, err := FetchPoints(ctx, db)
	if err != nil {
		t.Fatalf("FetchPoints() error = %v", err)
	}
	if pts[0][100].Name != "Postplatz" || pts[0][100].Lat != 51.05 {
		t.Errorf("point 100 = %+v", pts[0][100])
	}
	if got, ok := pts[0][101]; !ok || got.Name != "" {
		t.Errorf("point 101 = %+v, %v", got, ok)
	}
}
