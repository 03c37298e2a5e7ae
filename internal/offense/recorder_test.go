package offense

import (
	"testing"

	"github.com/adator85/interceptor/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_InsertsLogAndPendingReport(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	id, err := r.Record("Failed password for root from 203.0.113.5 port 4242", "sshd", "sshd-auth", "Failed password", "203.0.113.5", "root")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero offense id")
	}

	var count int
	row := s.QueryRow(`SELECT COUNT(*) FROM logs WHERE ip_address = ?`, "203.0.113.5")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Errorf("logs rows = %d, want 1", count)
	}

	row = s.QueryRow(`SELECT COUNT(*) FROM hq_information_to_report WHERE id_log = ?`, id)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan pending report: %v", err)
	}
	if count != 1 {
		t.Errorf("pending report rows = %d, want 1", count)
	}
}

func TestRecord_MultipleOffensesAccumulate(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	for i := 0; i < 3; i++ {
		if _, err := r.Record("Failed password for root from 203.0.113.5 port 4242", "sshd", "sshd-auth", "Failed password", "203.0.113.5", "root"); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	var count int
	row := s.QueryRow(`SELECT COUNT(*) FROM logs WHERE ip_address = ?`, "203.0.113.5")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 3 {
		t.Errorf("logs rows = %d, want 3", count)
	}
}
