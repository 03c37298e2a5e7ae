// Package matcher runs the Matcher Worker: for every line arriving from
// the Tailer Multiplexer, it evaluates every rule bound to that line's
// source and, on a hit, records the offense and asks the Jail Manager to
// decide.
package matcher

import (
	"context"
	"net"

	"github.com/adator85/interceptor/internal/jail"
	"github.com/adator85/interceptor/internal/logging"
	"github.com/adator85/interceptor/internal/offense"
	"github.com/adator85/interceptor/internal/registry"
	"github.com/adator85/interceptor/internal/tailer"
)

// Worker drains one shared line channel and applies every module's rules
// bound to each line's source.
type Worker struct {
	registry *registry.Registry
	recorder *offense.Recorder
	jailMgr  *jail.Manager
	logger   *logging.Logger
	debug    bool
}

// Config constructs a Worker.
type Config struct {
	Registry *registry.Registry
	Recorder *offense.Recorder
	Jail     *jail.Manager
	Logger   *logging.Logger
	Debug    bool
}

// New builds a Matcher Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		registry: cfg.Registry,
		recorder: cfg.Recorder,
		jailMgr:  cfg.Jail,
		logger:   logger.WithComponent("matcher"),
		debug:    cfg.Debug,
	}
}

// Run drains lines until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context, lines <-chan tailer.Line) {
	bySource := w.registry.ModulesBySource()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if w.debug {
				w.logger.Debug("raw line", "source", line.Source, "text", line.Text)
			}
			w.handle(bySource[line.Source], line.Text)
		}
	}
}

// handle evaluates every (module, rule) bound to this source against one
// line. A single line may match multiple rules across multiple modules;
// each produces an independent offense.
func (w *Worker) handle(rules []registry.ModuleRule, text string) {
	for _, mr := range rules {
		rule := mr.Rule
		if !rule.KeywordRegexp().MatchString(text) {
			continue
		}

		ipMatch := rule.DetectionRegexp().FindStringSubmatch(text)
		ip := extractGroup(ipMatch)
		if !isIPv4(ip) {
			continue
		}

		user := ""
		if rule.UserRegexp() != nil {
			user = extractGroup(rule.UserRegexp().FindStringSubmatch(text))
		}

		if _, err := w.recorder.Record(text, mr.Module.Name, rule.ServiceID, rule.Keyword, ip, user); err != nil {
			w.logger.Error("failed to record offense", "module", mr.Module.Name, "ip", ip, "error", err)
			continue
		}

		if _, err := w.jailMgr.Observe(mr.Module, ip); err != nil {
			w.logger.Error("jail observe failed", "module", mr.Module.Name, "ip", ip, "error", err)
		}
	}
}

// extractGroup returns the last capture group if the regex had one,
// else the whole match.
func extractGroup(match []string) string {
	if len(match) == 0 {
		return ""
	}
	if len(match) > 1 {
		return match[len(match)-1]
	}
	return match[0]
}

// isIPv4 reports whether s is a syntactically valid IPv4 address.
func isIPv4(s string) bool {
	parsed := net.ParseIP(s)
	return parsed != nil && parsed.To4() != nil
}
