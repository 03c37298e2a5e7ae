package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/adator85/interceptor/internal/errs"
	"github.com/adator85/interceptor/internal/logging"
)

// Registry holds all loaded modules, immutable after Load.
type Registry struct {
	modules []*Module
	byName  map[string]*Module
}

// Load reads every *.json file in dir, compiling each into a Module.
// An invalid module file is logged and skipped — not fatal — per
// spec §4.4 and §7 (ModuleInvalid). defaultJailAttempt/defaultJailDuration
// are the operator-configured fallbacks used when a descriptor omits
// jail_attempt/jail_duration.
func Load(dir string, logger *logging.Logger, defaultJailAttempt, defaultJailDuration int) (*Registry, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("registry")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read modules dir %s: %v", errs.ErrConfigInvalid, dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	reg := &Registry{byName: make(map[string]*Module)}
	for _, name := range names {
		path := filepath.Join(dir, name)
		mod, err := loadOne(path, defaultJailAttempt, defaultJailDuration)
		if err != nil {
			logger.Warn("skipping invalid module", "file", name, "error", fmt.Errorf("%w: %v", errs.ErrModuleInvalid, err))
			continue
		}
		if _, dup := reg.byName[mod.Name]; dup {
			logger.Warn("skipping duplicate module name", "file", name, "module", mod.Name)
			continue
		}
		reg.modules = append(reg.modules, mod)
		reg.byName[mod.Name] = mod
		logger.Info("module loaded", "module", mod.Name, "source", mod.Source(), "rules", len(mod.Rules))
	}

	return reg, nil
}

func loadOne(path string, defaultJailAttempt, defaultJailDuration int) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if d.Name == "" {
		return nil, fmt.Errorf("module descriptor missing \"name\"")
	}
	if len(d.Rules) == 0 {
		return nil, fmt.Errorf("module %q has no rules", d.Name)
	}

	mod := &Module{
		Name:              d.Name,
		SourceLog:         d.SourceLog,
		JailAttempt:       d.JailAttempt,
		JailDuration:      d.JailDuration,
		JailWindowSeconds: d.JailWindowSeconds,
		Whitelist:         d.Whitelist,
		IntcHQ:            d.IntcHQ,
	}
	if mod.JailAttempt <= 0 {
		mod.JailAttempt = defaultJailAttempt
	}
	if mod.JailDuration <= 0 {
		mod.JailDuration = defaultJailDuration
	}

	for i := range d.Rules {
		r := d.Rules[i]
		if r.Keyword == "" || r.Detection == "" {
			return nil, fmt.Errorf("module %q rule %d missing keyword or detection", d.Name, i)
		}
		kwRE, err := regexp.Compile(r.Keyword)
		if err != nil {
			return nil, fmt.Errorf("module %q rule %d: compile keyword: %w", d.Name, i, err)
		}
		detRE, err := regexp.Compile(r.Detection)
		if err != nil {
			return nil, fmt.Errorf("module %q rule %d: compile detection: %w", d.Name, i, err)
		}
		var userRE *regexp.Regexp
		if r.UserExtractor != "" {
			userRE, err = regexp.Compile(r.UserExtractor)
			if err != nil {
				return nil, fmt.Errorf("module %q rule %d: compile user_extractor: %w", d.Name, i, err)
			}
		}
		rule := r
		rule.keywordRE = kwRE
		rule.detectionRE = detRE
		rule.userRE = userRE
		mod.Rules = append(mod.Rules, &rule)
	}

	return mod, nil
}

// Modules returns all successfully loaded modules.
func (r *Registry) Modules() []*Module {
	return r.modules
}

// ByName looks up a module by name.
func (r *Registry) ByName(name string) (*Module, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// ModulesBySource maps each log source (JournalSource or a file path) to
// the (module, rule) pairs bound to it, per spec §4.4/§4.7.
func (r *Registry) ModulesBySource() map[string][]ModuleRule {
	out := make(map[string][]ModuleRule)
	for _, m := range r.modules {
		src := m.Source()
		for _, rule := range m.Rules {
			out[src] = append(out[src], ModuleRule{Module: m, Rule: rule})
		}
	}
	return out
}
