package migrate

import (
	"context"
	"testing"

	"leadflow/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	status, err := Status(context.Background(), conn)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for _, m := range status {
		if m.AppliedAt == "" {
			t.Fatalf("migration %s not applied", m.Name)
		}
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM leads`).Scan(&n); err != nil {
		t.Fatalf("leads table missing: %v", err)
	}
}
