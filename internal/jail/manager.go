// Package jail implements the Jail Manager: it decides when an address
// has crossed a module's offense threshold, mediates the Firewall
// Gateway and the Jail/JailLog tables, and releases expired jails.
package jail

import (
	"fmt"

	"github.com/adator85/interceptor/internal/clock"
	"github.com/adator85/interceptor/internal/firewall"
	"github.com/adator85/interceptor/internal/logging"
	"github.com/adator85/interceptor/internal/registry"
	"github.com/adator85/interceptor/internal/store"
)

// Outcome is the result of an observe or jail decision.
type Outcome int

const (
	Ignored Outcome = iota
	Observing
	Jailed
	AlreadyJailed
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Observing:
		return "observing"
	case Jailed:
		return "jailed"
	case AlreadyJailed:
		return "already_jailed"
	default:
		return "unknown"
	}
}

// Manager is the Jail Manager. It is the only writer of the iptables and
// iptables_logs tables.
type Manager struct {
	store          *store.Store
	gateway        *firewall.Gateway
	logger         *logging.Logger
	sentinelIPv4   string
	globalWhitelist map[string]bool
	pulseSeconds   int
}

// Config constructs a Manager.
type Config struct {
	Store           *store.Store
	Gateway         *firewall.Gateway
	Logger          *logging.Logger
	SentinelIPv4    string
	GlobalWhitelist []string
	PulseSeconds    int
}

// New builds a Jail Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	wl := make(map[string]bool, len(cfg.GlobalWhitelist))
	for _, ip := range cfg.GlobalWhitelist {
		wl[ip] = true
	}
	pulse := cfg.PulseSeconds
	if pulse <= 0 {
		pulse = 5
	}
	return &Manager{
		store:           cfg.Store,
		gateway:         cfg.Gateway,
		logger:          logger.WithComponent("jail"),
		sentinelIPv4:    cfg.SentinelIPv4,
		globalWhitelist: wl,
		pulseSeconds:    pulse,
	}
}

// effectiveWhitelist returns true if ip must never be jailed: the
// sentinel address, the module's local whitelist, or the global one.
func (m *Manager) effectiveWhitelist(mod *registry.Module, ip string) bool {
	if ip == m.sentinelIPv4 {
		return true
	}
	if m.globalWhitelist[ip] {
		return true
	}
	for _, w := range mod.Whitelist {
		if w == ip {
			return true
		}
	}
	return false
}

// windowSeconds returns the module's sliding-window length.
func (m *Manager) windowSeconds(mod *registry.Module) int {
	return mod.WindowSeconds(m.pulseSeconds)
}

// Observe implements the per-(module, ip) decision of §4.6: ignore
// whitelisted/sentinel addresses, count recent offenses in the sliding
// window, jail on local threshold, or jail early on an HQ-cached
// reputation breach when the module opts in.
func (m *Manager) Observe(mod *registry.Module, ip string) (Outcome, error) {
	if m.effectiveWhitelist(mod, ip) {
		return Ignored, nil
	}

	since := clock.MinusHours(float64(m.windowSeconds(mod)) / 3600.0)
	var count int
	row := m.store.QueryRow(
		`SELECT COUNT(*) FROM logs WHERE module_name = ? AND ip_address = ? AND createdOn >= ?`,
		mod.Name, ip, since,
	)
	if err := row.Scan(&count); err != nil {
		return Ignored, fmt.Errorf("count window offenses: %w", err)
	}

	if count >= mod.JailAttempt {
		return m.Jail(mod, ip, mod.JailDuration)
	}

	if mod.IntcHQ != nil && mod.IntcHQ.Active {
		breach, err := m.hqBreach(mod, ip)
		if err != nil {
			m.logger.Warn("HQ reputation lookup failed", "module", mod.Name, "ip", ip, "error", err)
		} else if breach {
			return m.Jail(mod, ip, mod.IntcHQ.JailDurationSeconds)
		}
	}

	return Observing, nil
}

// hqBreach consults the locally cached HQInfo row for ip and reports
// whether it crosses the module's HQ-driven jail thresholds.
func (m *Manager) hqBreach(mod *registry.Module, ip string) (bool, error) {
	var abScore, totalReports int
	row := m.store.QueryRow(
		`SELECT ab_score, hq_totalReports FROM hq_information WHERE ip_address = ?`, ip,
	)
	if err := row.Scan(&abScore, &totalReports); err != nil {
		return false, nil // no cached entry yet — not an error
	}

	if mod.IntcHQ.JailAbuseIPDBScore > 0 && abScore >= mod.IntcHQ.JailAbuseIPDBScore {
		return true, nil
	}
	if mod.IntcHQ.JailTotalReports > 0 && totalReports >= mod.IntcHQ.JailTotalReports {
		return true, nil
	}
	return false, nil
}

// Jail installs a firewall rule for ip and records it, unless one is
// already present.
func (m *Manager) Jail(mod *registry.Module, ip string, durationSeconds int) (Outcome, error) {
	exists, err := m.gateway.Exists(ip)
	if err != nil {
		m.logger.Warn("firewall exists check failed, recording jail anyway", "ip", ip, "error", err)
	} else if exists {
		return AlreadyJailed, nil
	}

	if err := m.gateway.Add(ip); err != nil {
		m.logger.Error("firewall add failed, jail row still written for reconciliation", "ip", ip, "error", err)
	}

	now := clock.CanonicalFormat(clock.Now())
	if _, _, err := m.store.Exec(
		`INSERT INTO iptables (createdOn, module_name, ip_address, duration) VALUES (?, ?, ?, ?)`,
		now, mod.Name, ip, durationSeconds,
	); err != nil {
		return Jailed, fmt.Errorf("insert jail row: %w", err)
	}
	if _, _, err := m.store.Exec(
		`INSERT INTO iptables_logs (createdOn, module_name, ip_address, duration) VALUES (?, ?, ?, ?)`,
		now, mod.Name, ip, durationSeconds,
	); err != nil {
		m.logger.Error("failed to append jail log", "ip", ip, "error", err)
	}

	m.logger.Info("jailed", "module", mod.Name, "ip", ip, "duration_seconds", durationSeconds)
	return Jailed, nil
}

type expiredJail struct {
	ip string
}

// ReleaseExpired removes every Jail row whose duration has elapsed and
// unblocks the corresponding firewall rule. Invoked once per Heartbeat
// tick.
func (m *Manager) ReleaseExpired() error {
	now := clock.Now()

	rows, err := m.store.Query(`SELECT id, createdOn, ip_address, duration FROM iptables`)
	if err != nil {
		return fmt.Errorf("query jails: %w", err)
	}

	var expired []expiredJail
	var ids []int64
	for rows.Next() {
		var id int64
		var createdOn, ip string
		var duration int
		if err := rows.Scan(&id, &createdOn, &ip, &duration); err != nil {
			rows.Close()
			return fmt.Errorf("scan jail row: %w", err)
		}
		createdAt, err := clock.ParseCanonical(createdOn)
		if err != nil {
			continue
		}
		if now.Sub(createdAt).Seconds() >= float64(duration) {
			expired = append(expired, expiredJail{ip: ip})
			ids = append(ids, id)
		}
	}
	rows.Close()

	for i, ej := range expired {
		if err := m.gateway.Remove(ej.ip); err != nil {
			m.logger.Warn("firewall remove failed during release", "ip", ej.ip, "error", err)
		}
		if _, _, err := m.store.Exec(`DELETE FROM iptables WHERE id = ?`, ids[i]); err != nil {
			m.logger.Error("failed to delete expired jail row", "ip", ej.ip, "error", err)
			continue
		}
		m.logger.Info("released", "ip", ej.ip)
	}

	return nil
}
