// Package registry loads module descriptors — declarative per-service
// rulesets — from a directory of JSON files and compiles their regular
// expressions once at load time.
package registry

import "regexp"

// JournalSource is the sentinel log source value meaning "no source_log:
// follow the system journal".
const JournalSource = "journal"

// HQPolicy is a module's optional HQ consultation policy.
type HQPolicy struct {
	Active              bool `json:"active"`
	Report              bool `json:"report"`
	JailTotalReports    int  `json:"jail_totalReports"`
	JailAbuseIPDBScore  int  `json:"jail_abuseipdb_score"`
	JailDurationSeconds int  `json:"jail_duration"`
}

// Rule is one regex-matched intrusion pattern within a module.
type Rule struct {
	ServiceID      string `json:"service_id"`
	Keyword        string `json:"keyword"`
	Detection      string `json:"detection"`
	UserExtractor  string `json:"user_extractor,omitempty"`

	keywordRE   *regexp.Regexp
	detectionRE *regexp.Regexp
	userRE      *regexp.Regexp
}

// KeywordRegexp returns the compiled keyword matcher.
func (r *Rule) KeywordRegexp() *regexp.Regexp { return r.keywordRE }

// DetectionRegexp returns the compiled IPv4 extractor.
func (r *Rule) DetectionRegexp() *regexp.Regexp { return r.detectionRE }

// UserRegexp returns the compiled user extractor, or nil if none was configured.
func (r *Rule) UserRegexp() *regexp.Regexp { return r.userRE }

// descriptor is the on-disk JSON shape of one module file.
type descriptor struct {
	Name              string    `json:"name"`
	SourceLog         string    `json:"source_log,omitempty"`
	Rules             []Rule    `json:"rules"`
	JailAttempt       int       `json:"jail_attempt"`
	JailDuration      int       `json:"jail_duration"`
	JailWindowSeconds int       `json:"jail_window_seconds,omitempty"`
	Whitelist         []string  `json:"whitelist,omitempty"`
	IntcHQ            *HQPolicy `json:"intcHQ,omitempty"`
}

// Module is a named ruleset for one service, immutable after load.
type Module struct {
	Name              string
	SourceLog         string // "" means journal
	Rules             []*Rule
	JailAttempt       int
	JailDuration      int
	JailWindowSeconds int // 0 means "use JailAttempt * pulse"
	Whitelist         []string
	IntcHQ            *HQPolicy
}

// Source returns the log source this module binds to: JournalSource, or
// the configured file path.
func (m *Module) Source() string {
	if m.SourceLog == "" {
		return JournalSource
	}
	return m.SourceLog
}

// WindowSeconds resolves the sliding-window length for this module,
// given the heartbeat pulse, per spec §9: jail_attempt * PULSE unless an
// explicit override is set.
func (m *Module) WindowSeconds(pulseSeconds int) int {
	if m.JailWindowSeconds > 0 {
		return m.JailWindowSeconds
	}
	return m.JailAttempt * pulseSeconds
}

// ModuleRule pairs a module with one of its rules, for modules-by-source lookups.
type ModuleRule struct {
	Module *Module
	Rule   *Rule
}
