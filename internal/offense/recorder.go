// Package offense records matched log lines (Offense rows) and enqueues
// them for HQ delivery (PendingReport rows). Matcher Workers are the only
// writers of these tables.
package offense

import (
	"fmt"

	"github.com/adator85/interceptor/internal/clock"
	"github.com/adator85/interceptor/internal/logging"
	"github.com/adator85/interceptor/internal/store"
)

// Recorder inserts Offense and PendingReport rows under the Store lock.
type Recorder struct {
	store  *store.Store
	logger *logging.Logger
}

// New constructs a Recorder.
func New(s *store.Store, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{store: s, logger: logger.WithComponent("offense")}
}

// Record inserts one Offense row for a matched line, then a PendingReport
// referencing it — skipped only if the Offense insert yielded no id.
// Returns the new Offense id.
func (r *Recorder) Record(line, module, serviceID, keyword, ip, user string) (int64, error) {
	now := clock.CanonicalFormat(clock.Now())

	_, id, err := r.store.Exec(
		`INSERT INTO logs (createdOn, intrusion_service_id, intrusion_detail, module_name, ip_address, keyword, user)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		now, serviceID, line, module, ip, keyword, user,
	)
	if err != nil {
		return 0, fmt.Errorf("record offense: %w", err)
	}
	if id == 0 {
		r.logger.Warn("offense insert returned no id, skipping pending report", "module", module, "ip", ip)
		return 0, nil
	}

	if _, _, err := r.store.Exec(
		`INSERT INTO hq_information_to_report (createdOn, id_log) VALUES (?, ?)`,
		now, id,
	); err != nil {
		r.logger.Error("failed to enqueue pending report", "offense_id", id, "error", err)
	}

	r.logger.Debug("offense recorded", "module", module, "ip", ip, "offense_id", id)
	return id, nil
}
