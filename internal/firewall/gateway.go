// Package firewall wraps the host iptables tool, owning one dedicated
// chain (default "INTERCEPTOR") linked from INPUT. It is the only writer
// of kernel firewall state; exactly one REJECT rule exists per jailed
// address.
package firewall

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/adator85/interceptor/internal/errs"
	"github.com/adator85/interceptor/internal/logging"
)

const (
	// DefaultChain is the chain name the Gateway owns.
	DefaultChain = "INTERCEPTOR"
	// DefaultBinary is the iptables binary invoked for all operations.
	DefaultBinary = "iptables"
)

// Gateway wraps the iptables CLI tool with a mutex scoped to each
// operation (never held across a Store call — see internal/jail).
type Gateway struct {
	mu     sync.Mutex
	runner CommandRunner
	chain  string
	binary string
	logger *logging.Logger
}

// Config configures a Gateway.
type Config struct {
	Chain  string // defaults to DefaultChain
	Binary string // defaults to DefaultBinary ("iptables")
	Runner CommandRunner
	Logger *logging.Logger
}

// New constructs a Gateway. It does not touch the kernel; call Start to
// create and link the chain.
func New(cfg Config) *Gateway {
	chain := cfg.Chain
	if chain == "" {
		chain = DefaultChain
	}
	binary := cfg.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	runner := cfg.Runner
	if runner == nil {
		runner = DefaultCommandRunner
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{
		runner: runner,
		chain:  chain,
		binary: binary,
		logger: logger.WithComponent("firewall"),
	}
}

// usesInput reports whether the gateway was configured to operate
// directly on INPUT rather than a dedicated chain (spec §4.3 special case).
func (g *Gateway) usesInput() bool {
	return g.chain == "INPUT"
}

// Start removes any stale INPUT -> chain links, creates the chain (unless
// operating directly on INPUT), and links it from INPUT exactly once.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.usesInput() {
		return nil
	}

	existing, err := g.countInputLinksLocked()
	if err != nil {
		return fmt.Errorf("%w: list rules: %v", errs.ErrFirewallUnavailable, err)
	}
	for i := 0; i < existing; i++ {
		_ = g.runner.Run(g.binary, "-D", "INPUT", "-j", g.chain)
	}

	if err := g.runner.Run(g.binary, "-N", g.chain); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("%w: create chain %s: %v", errs.ErrFirewallUnavailable, g.chain, err)
		}
	}

	if err := g.runner.Run(g.binary, "-A", "INPUT", "-j", g.chain); err != nil {
		return fmt.Errorf("%w: link chain %s from INPUT: %v", errs.ErrFirewallUnavailable, g.chain, err)
	}

	g.logger.Info("chain started", "chain", g.chain)
	return nil
}

// Reset flushes the chain, unlinks it from INPUT as many times as it is
// present, then deletes the chain. Used at shutdown and in tests.
func (g *Gateway) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.usesInput() {
		return g.runner.Run(g.binary, "-F", g.chain)
	}

	_ = g.runner.Run(g.binary, "-F", g.chain)

	existing, err := g.countInputLinksLocked()
	if err == nil {
		for i := 0; i < existing; i++ {
			_ = g.runner.Run(g.binary, "-D", "INPUT", "-j", g.chain)
		}
	}

	if err := g.runner.Run(g.binary, "-X", g.chain); err != nil {
		return fmt.Errorf("%w: delete chain %s: %v", errs.ErrFirewallUnavailable, g.chain, err)
	}

	g.logger.Info("chain reset", "chain", g.chain)
	return nil
}

// Exists reports whether a REJECT rule for ip is present in the chain.
func (g *Gateway) Exists(ip string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.existsLocked(ip)
}

func (g *Gateway) existsLocked(ip string) (bool, error) {
	err := g.runner.Run(g.binary, "-C", g.chain, "-s", ip, "-j", "REJECT")
	if err == nil {
		return true, nil
	}
	// -C exits nonzero both when the rule is absent and on real errors;
	// iptables does not distinguish these in its exit code, so we treat
	// any -C failure as "not present" per spec's idempotent-add contract.
	return false, nil
}

// Add installs a REJECT rule for ip, no-op if one already exists.
func (g *Gateway) Add(ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	exists, _ := g.existsLocked(ip)
	if exists {
		return nil
	}

	if err := g.runner.Run(g.binary, "-A", g.chain, "-s", ip, "-j", "REJECT"); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("%w: add rule for %s: %v", errs.ErrFirewallUnavailable, ip, err)
	}
	g.logger.Info("rule added", "ip", ip, "chain", g.chain)
	return nil
}

// Remove deletes the REJECT rule for ip if present.
func (g *Gateway) Remove(ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.runner.Run(g.binary, "-D", g.chain, "-s", ip, "-j", "REJECT"); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: remove rule for %s: %v", errs.ErrFirewallUnavailable, ip, err)
	}
	g.logger.Info("rule removed", "ip", ip, "chain", g.chain)
	return nil
}

// countInputLinksLocked counts "-A INPUT -j <chain>" occurrences via
// `iptables -S`. Caller must hold g.mu.
func (g *Gateway) countInputLinksLocked() (int, error) {
	out, err := g.runner.Output(g.binary, "-S")
	if err != nil {
		return 0, err
	}

	want := fmt.Sprintf("-A INPUT -j %s", g.chain)
	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == want {
			count++
		}
	}
	return count, nil
}

// isAlreadyExists and isNotFound classify iptables CLI failures that are
// idempotent no-ops rather than real errors, per spec §4.3: "the gateway
// tolerates idempotent-no-op failures (e.g. rule already exists)".
func isAlreadyExists(err error) bool {
	return containsAny(err.Error(), "Chain already exists", "File exists")
}

func isNotFound(err error) bool {
	return containsAny(err.Error(), "No chain/target/match by that name", "does not exist", "Bad rule")
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
