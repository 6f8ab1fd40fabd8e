package plugin

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
)

// Factory creates a fresh, unconfigured plugin instance.
type Factory func() Plugin

// Registry holds the available plugins, the enabled selection, per-plugin
// options and, after Init, the live instances.
//
// Design decision: selection and options are configuration and survive
// ZeroEnabledPlugins; only the instances are dropped. Running the same scan
// again therefore needs Init but no reconfiguration.
type Registry struct {
	mu          sync.RWMutex
	factories   map[Category]map[string]Factory
	enabled     map[Category][]string
	options     map[Category]map[string]map[string]string
	instances   map[Category][]Plugin
	initialized bool
}

// NewRegistry returns a registry with nothing registered.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Category]map[string]Factory),
		enabled:   make(map[Category][]string),
		options:   make(map[Category]map[string]map[string]string),
		instances: make(map[Category][]Plugin),
	}
}

// Register makes a plugin available under its category and name.
func (r *Registry) Register(f Factory) error {
	p := f()
	cat, name := p.Category(), p.Name()
	if _, err := ParseCategory(string(cat)); err != nil {
		return err
	}
	if !implements(p) {
		return fmt.Errorf("%w: %s.%s", ErrCategoryMismatch, cat, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.factories[cat] == nil {
		r.factories[cat] = make(map[string]Factory)
	}
	if _, dup := r.factories[cat][name]; dup {
		return fmt.Errorf("%w: %s.%s", ErrDuplicatePlugin, cat, name)
	}
	r.factories[cat][name] = f
	return nil
}

func implements(p Plugin) bool {
	switch p.Category() {
	case CategoryInfrastructure, CategoryCrawl:
		_, ok := p.(Discoverer)
		return ok
	case CategoryAudit:
		_, ok := p.(Auditor)
		return ok
	case CategoryGrep:
		_, ok := p.(Grepper)
		return ok
	case CategoryOutput:
		_, ok := p.(Outputter)
		return ok
	default:
		return false
	}
}

// Available returns the registered plugin names of a category, sorted.
func (r *Registry) Available(cat Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(maps.Keys(r.factories[cat]))
	sort.Strings(names)
	return names
}

// Describe returns a fresh instance of a registered plugin for display.
func (r *Registry) Describe(cat Category, name string) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[cat][name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownPlugin, cat, name)
	}
	return f(), nil
}

// SetEnabled replaces the enabled plugins of a category. The name "all"
// enables every registered plugin of the category. Nothing changes when a
// name is unknown.
func (r *Registry) SetEnabled(cat Category, names ...string) error {
	if _, err := ParseCategory(string(cat)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var selected []string
	for _, name := range names {
		if name == "all" {
			all := slices.Collect(maps.Keys(r.factories[cat]))
			sort.Strings(all)
			for _, n := range all {
				if !slices.Contains(selected, n) {
					selected = append(selected, n)
				}
			}
			continue
		}
		if _, ok := r.factories[cat][name]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownPlugin, cat, name)
		}
		if !slices.Contains(selected, name) {
			selected = append(selected, name)
		}
	}
	r.enabled[cat] = selected
	return nil
}

// Enabled returns the enabled plugin names of a category in selection order.
func (r *Registry) Enabled(cat Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.enabled[cat])
}

// HasEnabled reports whether at least one plugin of cat is enabled.
func (r *Registry) HasEnabled(cat Category) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.enabled[cat]) > 0
}

// SetOption records an option for a registered plugin. The value is
// validated by the plugin during Init.
func (r *Registry) SetOption(cat Category, name, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[cat][name]; !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownPlugin, cat, name)
	}
	if r.options[cat] == nil {
		r.options[cat] = make(map[string]map[string]string)
	}
	if r.options[cat][name] == nil {
		r.options[cat][name] = make(map[string]string)
	}
	r.options[cat][name][key] = value
	return nil
}

// Options returns a copy of the options recorded for a plugin.
func (r *Registry) Options(cat Category, name string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.options[cat][name])
}

// EnabledSet returns a copy of the selection and the options of enabled plugins.
func (r *Registry) EnabledSet() EnabledSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := EnabledSet{
		Plugins: make(map[Category][]string),
		Options: make(map[Category]map[string]map[string]string),
	}
	for cat, names := range r.enabled {
		if len(names) == 0 {
			continue
		}
		set.Plugins[cat] = slices.Clone(names)
		for _, name := range names {
			opts := r.options[cat][name]
			if len(opts) == 0 {
				continue
			}
			if set.Options[cat] == nil {
				set.Options[cat] = make(map[string]map[string]string)
			}
			set.Options[cat][name] = maps.Clone(opts)
		}
	}
	return set
}

// Init creates an instance of every enabled plugin and applies its options.
// On error no instances are kept and the registry stays uninitialized.
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances := make(map[Category][]Plugin)
	for _, cat := range Categories() {
		for _, name := range r.enabled[cat] {
			p := r.factories[cat][name]()
			if err := applyOptions(p, r.options[cat][name]); err != nil {
				return fmt.Errorf("%s.%s: %w", cat, name, err)
			}
			instances[cat] = append(instances[cat], p)
		}
	}
	r.instances = instances
	r.initialized = true
	return nil
}

func applyOptions(p Plugin, opts map[string]string) error {
	if len(opts) == 0 {
		return nil
	}
	c, ok := p.(Configurable)
	if !ok {
		return fmt.Errorf("%w: plugin takes no options", ErrUnknownOption)
	}
	keys := slices.Collect(maps.Keys(opts))
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.SetOption(k, opts[k]); err != nil {
			return err
		}
	}
	return nil
}

// Initialized reports whether Init succeeded since the last ZeroEnabledPlugins.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// ZeroEnabledPlugins drops every plugin instance. Selection and options are
// kept.
func (r *Registry) ZeroEnabledPlugins() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[Category][]Plugin)
	r.initialized = false
}

// Instances returns the live instances of a category.
func (r *Registry) Instances(cat Category) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.instances[cat])
}

// Discoverers returns the live instances of an infrastructure or crawl category.
func (r *Registry) Discoverers(cat Category) []Discoverer {
	return typed[Discoverer](r.Instances(cat))
}

// Auditors returns the live audit plugins.
func (r *Registry) Auditors() []Auditor {
	return typed[Auditor](r.Instances(CategoryAudit))
}

// Greppers returns the live grep plugins.
func (r *Registry) Greppers() []Grepper {
	return typed[Grepper](r.Instances(CategoryGrep))
}

// Outputters returns the live output plugins.
func (r *Registry) Outputters() []Outputter {
	return typed[Outputter](r.Instances(CategoryOutput))
}

func typed[T any](plugins []Plugin) []T {
	out := make([]T, 0, len(plugins))
	for _, p := range plugins {
		if t, ok := p.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
