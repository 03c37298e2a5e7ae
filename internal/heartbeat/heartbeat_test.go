package heartbeat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adator85/interceptor/internal/clock"
	"github.com/adator85/interceptor/internal/firewall"
	"github.com/adator85/interceptor/internal/hq"
	"github.com/adator85/interceptor/internal/jail"
	"github.com/adator85/interceptor/internal/store"
)

type noopRunner struct{}

func (noopRunner) Run(name string, args ...string) error              { return nil }
func (noopRunner) Output(name string, args ...string) ([]byte, error) { return []byte{}, nil }

func newTestHeartbeat(t *testing.T, hqClient *hq.Client) (*Heartbeat, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	gw := firewall.New(firewall.Config{Chain: "INTERCEPTOR", Binary: "iptables", Runner: noopRunner{}})
	jailMgr := jail.New(jail.Config{Store: s, Gateway: gw, SentinelIPv4: "0.0.0.0", PulseSeconds: 5})
	h := New(Config{Store: s, Jail: jailMgr, HQ: hqClient, SentinelIPv4: "0.0.0.0", PulseSeconds: 5, HQCommFrequency: 12})
	return h, s
}

func TestDrainPendingReports_SuccessUpsertsHQInfoAndDequeues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(hq.Envelope{Error: false, Code: 200, ABScore: 42, HQTotalReports: 3})
	}))
	defer srv.Close()

	client := hq.New(&hq.Config{Active: true, Report: true, URL: srv.URL + "/"}, nil)
	h, s := newTestHeartbeat(t, client)

	now := clock.CanonicalFormat(clock.Now())
	_, logID, _ := s.Exec(
		`INSERT INTO logs (createdOn, intrusion_service_id, intrusion_detail, module_name, ip_address, keyword, user) VALUES (?, 'x', 'line', 'sshd', '203.0.113.5', 'kw', 'root')`,
		now,
	)
	s.Exec(`INSERT INTO hq_information_to_report (createdOn, id_log) VALUES (?, ?)`, now, logID)

	h.drainPendingReports(context.Background())

	var pendingCount int
	s.QueryRow(`SELECT COUNT(*) FROM hq_information_to_report`).Scan(&pendingCount)
	if pendingCount != 0 {
		t.Errorf("pending reports = %d, want 0", pendingCount)
	}

	var abScore int
	row := s.QueryRow(`SELECT ab_score FROM hq_information WHERE ip_address = ?`, "203.0.113.5")
	if err := row.Scan(&abScore); err != nil {
		t.Fatalf("expected hq_information row: %v", err)
	}
	if abScore != 42 {
		t.Errorf("ab_score = %d, want 42", abScore)
	}
}

func TestDrainPendingReports_UnavailableLeavesQueued(t *testing.T) {
	client := hq.New(&hq.Config{Active: true, Report: true, URL: "http://127.0.0.1:1/"}, nil)
	h, s := newTestHeartbeat(t, client)

	now := clock.CanonicalFormat(clock.Now())
	_, logID, _ := s.Exec(
		`INSERT INTO logs (createdOn, intrusion_service_id, intrusion_detail, module_name, ip_address, keyword, user) VALUES (?, 'x', 'line', 'sshd', '203.0.113.5', 'kw', 'root')`,
		now,
	)
	s.Exec(`INSERT INTO hq_information_to_report (createdOn, id_log) VALUES (?, ?)`, now, logID)

	h.drainPendingReports(context.Background())

	var pendingCount int
	s.QueryRow(`SELECT COUNT(*) FROM hq_information_to_report`).Scan(&pendingCount)
	if pendingCount != 1 {
		t.Errorf("pending reports = %d, want 1 (retried next tick)", pendingCount)
	}
}

func TestDrainPendingReports_DanglingOffenseDequeuedWithoutCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(hq.Envelope{Error: false, Code: 200})
	}))
	defer srv.Close()

	client := hq.New(&hq.Config{Active: true, Report: true, URL: srv.URL + "/"}, nil)
	h, s := newTestHeartbeat(t, client)

	now := clock.CanonicalFormat(clock.Now())
	s.Exec(`INSERT INTO hq_information_to_report (createdOn, id_log) VALUES (?, 9999)`, now)

	h.drainPendingReports(context.Background())

	var pendingCount int
	s.QueryRow(`SELECT COUNT(*) FROM hq_information_to_report`).Scan(&pendingCount)
	if pendingCount != 0 {
		t.Errorf("pending reports = %d, want 0 (dangling dequeued)", pendingCount)
	}
	if called {
		t.Error("expected no HTTP call for dangling offense")
	}
}

func TestPrune_DeletesSentinelAndAgedOffenses(t *testing.T) {
	h, s := newTestHeartbeat(t, hq.New(nil, nil))

	old := clock.CanonicalFormat(clock.Now().Add(-25 * time.Hour))
	recent := clock.CanonicalFormat(clock.Now())

	s.Exec(`INSERT INTO logs (createdOn, intrusion_service_id, intrusion_detail, module_name, ip_address, keyword, user) VALUES (?, 'x', 'l', 'sshd', '0.0.0.0', 'k', 'u')`, recent)
	s.Exec(`INSERT INTO logs (createdOn, intrusion_service_id, intrusion_detail, module_name, ip_address, keyword, user) VALUES (?, 'x', 'l', 'sshd', '203.0.113.9', 'k', 'u')`, old)
	s.Exec(`INSERT INTO logs (createdOn, intrusion_service_id, intrusion_detail, module_name, ip_address, keyword, user) VALUES (?, 'x', 'l', 'sshd', '203.0.113.10', 'k', 'u')`, recent)

	h.prune()

	var count int
	s.QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&count)
	if count != 1 {
		t.Errorf("logs remaining = %d, want 1 (only the recent, non-sentinel row)", count)
	}
}
