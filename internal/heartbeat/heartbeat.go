// Package heartbeat runs the daemon's single periodic task: release
// expired jails, drain the HQ report queue at a gentle pace, ping HQ
// every few ticks, and prune stale or whitelisted rows.
package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/adator85/interceptor/internal/clock"
	"github.com/adator85/interceptor/internal/errs"
	"github.com/adator85/interceptor/internal/hq"
	"github.com/adator85/interceptor/internal/jail"
	"github.com/adator85/interceptor/internal/logging"
	"github.com/adator85/interceptor/internal/store"
)

const reportPace = 1500 * time.Millisecond

// Heartbeat owns the single ticker driving release, report-drain, ping,
// and prune.
type Heartbeat struct {
	store           *store.Store
	jailMgr         *jail.Manager
	hqClient        *hq.Client
	logger          *logging.Logger
	pulse           time.Duration
	hqCommFrequency int
	sentinelIPv4    string
	hostname        string
	globalWhitelist map[string]bool
	tick            int
}

// Config constructs a Heartbeat.
type Config struct {
	Store           *store.Store
	Jail            *jail.Manager
	HQ              *hq.Client
	Logger          *logging.Logger
	PulseSeconds    int
	HQCommFrequency int
	SentinelIPv4    string
	Hostname        string
	GlobalWhitelist []string
}

// New builds a Heartbeat.
func New(cfg Config) *Heartbeat {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	pulse := cfg.PulseSeconds
	if pulse <= 0 {
		pulse = 5
	}
	freq := cfg.HQCommFrequency
	if freq <= 0 {
		freq = 12
	}
	wl := make(map[string]bool, len(cfg.GlobalWhitelist))
	for _, ip := range cfg.GlobalWhitelist {
		wl[ip] = true
	}
	return &Heartbeat{
		store:           cfg.Store,
		jailMgr:         cfg.Jail,
		hqClient:        cfg.HQ,
		logger:          logger.WithComponent("heartbeat"),
		pulse:           time.Duration(pulse) * time.Second,
		hqCommFrequency: freq,
		sentinelIPv4:    cfg.SentinelIPv4,
		hostname:        cfg.Hostname,
		globalWhitelist: wl,
	}
}

// Run ticks every pulse until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pulse)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.tock(ctx)
		}
	}
}

func (h *Heartbeat) tock(ctx context.Context) {
	if err := h.jailMgr.ReleaseExpired(); err != nil {
		h.logger.Error("release expired failed, retrying next tick", "error", err)
	}

	h.drainPendingReports(ctx)

	h.tick++
	if h.tick%h.hqCommFrequency == 0 {
		if err := h.hqClient.Ping(ctx); err != nil {
			h.logger.Warn("HQ ping failed", "error", err)
		}
	}

	h.prune()
}

type pendingRow struct {
	id    int64
	idLog int64
}

type offenseRow struct {
	createdOn     string
	serviceID     string
	detail        string
	moduleName    string
	ipAddress     string
	keyword       string
}

// drainPendingReports sends each queued report to HQ, pacing calls at
// one per 1.5s. A dangling reference (its Offense deleted) is dequeued
// without a network call.
func (h *Heartbeat) drainPendingReports(ctx context.Context) {
	rows, err := h.store.Query(`SELECT id, id_log FROM hq_information_to_report`)
	if err != nil {
		h.logger.Error("failed to list pending reports", "error", err)
		return
	}
	var pending []pendingRow
	for rows.Next() {
		var p pendingRow
		if err := rows.Scan(&p.id, &p.idLog); err != nil {
			rows.Close()
			h.logger.Error("failed to scan pending report", "error", err)
			return
		}
		pending = append(pending, p)
	}
	rows.Close()

	for i, p := range pending {
		if i > 0 {
			time.Sleep(reportPace)
		}
		h.drainOne(ctx, p)
	}
}

func (h *Heartbeat) drainOne(ctx context.Context, p pendingRow) {
	off, ok, err := h.loadOffense(p.idLog)
	if err != nil {
		h.logger.Error("failed to load offense for pending report", "id_log", p.idLog, "error", err)
		return
	}
	if !ok {
		// dangling reference: the parent offense no longer exists.
		h.deletePending(p.id)
		return
	}

	env, err := h.hqClient.Report(ctx, h.sentinelIPv4, hq.Report{
		IntrusionDatetime:  off.createdOn,
		IntrusionDetail:    off.detail,
		IntrusionServiceID: off.serviceID,
		IPAddress:          off.ipAddress,
		ReportedHostname:   h.hostname,
		ModuleName:         off.moduleName,
		Keyword:            off.keyword,
	})
	if err != nil {
		// HQUnavailable: retry next tick, leave queued.
		// HQRejected: dequeue to avoid poisoning the queue (spec §7).
		if isRejected(err) {
			h.deletePending(p.id)
		}
		return
	}

	h.deletePending(p.id)
	if env != nil {
		h.upsertHQInfo(off.ipAddress, env.ABScore, env.HQTotalReports)
	}
}

func (h *Heartbeat) loadOffense(id int64) (offenseRow, bool, error) {
	row := h.store.QueryRow(
		`SELECT createdOn, intrusion_service_id, intrusion_detail, module_name, ip_address, keyword FROM logs WHERE id = ?`, id,
	)
	var off offenseRow
	if err := row.Scan(&off.createdOn, &off.serviceID, &off.detail, &off.moduleName, &off.ipAddress, &off.keyword); err != nil {
		return offenseRow{}, false, nil
	}
	return off, true, nil
}

func (h *Heartbeat) deletePending(id int64) {
	if _, _, err := h.store.Exec(`DELETE FROM hq_information_to_report WHERE id = ?`, id); err != nil {
		h.logger.Error("failed to delete pending report", "id", id, "error", err)
	}
}

func (h *Heartbeat) upsertHQInfo(ip string, abScore, totalReports int) {
	now := clock.CanonicalFormat(clock.Now())
	var existing int
	row := h.store.QueryRow(`SELECT COUNT(*) FROM hq_information WHERE ip_address = ?`, ip)
	if err := row.Scan(&existing); err != nil {
		h.logger.Error("failed to check hq_information", "ip", ip, "error", err)
		return
	}

	if existing == 0 {
		_, _, err := h.store.Exec(
			`INSERT INTO hq_information (createdOn, updatedOn, ip_address, ab_score, hq_totalReports) VALUES (?, ?, ?, ?, ?)`,
			now, now, ip, abScore, totalReports,
		)
		if err != nil {
			h.logger.Error("failed to insert hq_information", "ip", ip, "error", err)
		}
		return
	}

	_, _, err := h.store.Exec(
		`UPDATE hq_information SET updatedOn = ?, ab_score = ?, hq_totalReports = ? WHERE ip_address = ?`,
		now, abScore, totalReports, ip,
	)
	if err != nil {
		h.logger.Error("failed to update hq_information", "ip", ip, "error", err)
	}
}

// prune deletes sentinel/whitelisted offenses, offenses older than 24h,
// HQInfo for whitelisted ips, and dangling pending reports.
func (h *Heartbeat) prune() {
	placeholders, args := h.whitelistClause()

	if _, _, err := h.store.Exec(
		`DELETE FROM logs WHERE ip_address = ?`+placeholders, append([]any{h.sentinelIPv4}, args...)...,
	); err != nil {
		h.logger.Error("prune sentinel/whitelisted offenses failed", "error", err)
	}

	cutoff := clock.MinusHours(24)
	if _, _, err := h.store.Exec(`DELETE FROM logs WHERE createdOn <= ?`, cutoff); err != nil {
		h.logger.Error("prune aged offenses failed", "error", err)
	}

	if len(args) > 0 {
		inClause, inArgs := h.inClause()
		if _, _, err := h.store.Exec(`DELETE FROM hq_information WHERE ip_address IN (`+inClause+`)`, inArgs...); err != nil {
			h.logger.Error("prune whitelisted hq_information failed", "error", err)
		}
	}

	if _, _, err := h.store.Exec(
		`DELETE FROM hq_information_to_report WHERE id_log NOT IN (SELECT id FROM logs)`,
	); err != nil {
		h.logger.Error("prune dangling pending reports failed", "error", err)
	}
}

// whitelistClause returns an " OR ip_address IN (...)" fragment (empty
// if no global whitelist is configured) plus its bind args.
func (h *Heartbeat) whitelistClause() (string, []any) {
	if len(h.globalWhitelist) == 0 {
		return "", nil
	}
	clause, args := h.inClause()
	return " OR ip_address IN (" + clause + ")", args
}

func (h *Heartbeat) inClause() (string, []any) {
	args := make([]any, 0, len(h.globalWhitelist))
	clause := ""
	for ip := range h.globalWhitelist {
		if clause != "" {
			clause += ", "
		}
		clause += "?"
		args = append(args, ip)
	}
	return clause, args
}

func isRejected(err error) bool {
	return errors.Is(err, errs.ErrHQRejected)
}
