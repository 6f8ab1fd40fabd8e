// Package kb implements the knowledge base: the shared store of findings
// written by plugins during a scan and read by output plugins and the CLI.
//
// The knowledge base is internally synchronized. It is wiped only between
// scans, never while a scan is running.
package kb

import (
	"slices"
	"sync"

	"github.com/nao1215/webscan/internal/model"
)

// Observer is called for every finding added to the knowledge base.
// It runs on the goroutine that appended the finding and must not block.
type Observer func(model.Finding)

// KnowledgeBase stores findings and raw per-plugin data.
type KnowledgeBase struct {
	mu       sync.RWMutex
	findings []model.Finding
	seen     map[findingKey]struct{}
	data     map[string]map[string]any

	observers   map[int]Observer
	nextObserve int
}

// findingKey identifies duplicate findings. Grep plugins see the same
// evidence on many pages; it is stored once per URL.
type findingKey struct {
	kind     model.Kind
	typ      string
	url      string
	evidence string
}

// New returns an empty knowledge base.
func New() *KnowledgeBase {
	return &KnowledgeBase{
		seen:      make(map[findingKey]struct{}),
		data:      make(map[string]map[string]any),
		observers: make(map[int]Observer),
	}
}

// Append stores f and notifies observers. It returns false when an identical
// finding (same kind, type, URL and evidence) is already stored.
func (k *KnowledgeBase) Append(f model.Finding) bool {
	key := findingKey{kind: f.Kind, typ: f.Type, url: f.URL, evidence: f.Evidence}

	k.mu.Lock()
	if _, dup := k.seen[key]; dup {
		k.mu.Unlock()
		return false
	}
	k.seen[key] = struct{}{}
	k.findings = append(k.findings, f)
	observers := make([]Observer, 0, len(k.observers))
	for _, o := range k.observers {
		observers = append(observers, o)
	}
	k.mu.Unlock()

	for _, o := range observers {
		o(f)
	}
	return true
}

// Subscribe registers fn for future findings. The returned function removes it.
func (k *KnowledgeBase) Subscribe(fn Observer) (remove func()) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := k.nextObserve
	k.nextObserve++
	k.observers[id] = fn
	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		delete(k.observers, id)
	}
}

// All returns a copy of every finding in insertion order.
func (k *KnowledgeBase) All() []model.Finding {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.findings)
}

// ByKind returns the findings of one kind in insertion order.
func (k *KnowledgeBase) ByKind(kind model.Kind) []model.Finding {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var out []model.Finding
	for _, f := range k.findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Vulns returns the stored vulnerabilities.
func (k *KnowledgeBase) Vulns() []model.Finding { return k.ByKind(model.KindVuln) }

// Infos returns the stored informational findings.
func (k *KnowledgeBase) Infos() []model.Finding { return k.ByKind(model.KindInfo) }

// Shells returns the stored shells.
func (k *KnowledgeBase) Shells() []model.Finding { return k.ByKind(model.KindShell) }

// ByPlugin returns the findings reported by the named plugin.
func (k *KnowledgeBase) ByPlugin(plugin string) []model.Finding {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var out []model.Finding
	for _, f := range k.findings {
		if f.Plugin == plugin {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of stored findings.
func (k *KnowledgeBase) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.findings)
}

// Set stores raw data under plugin/key. Plugins use it to share state that
// is not a finding, such as the list of URLs a crawler discovered.
func (k *KnowledgeBase) Set(plugin, key string, value any) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.data[plugin] == nil {
		k.data[plugin] = make(map[string]any)
	}
	k.data[plugin][key] = value
}

// Get returns the raw data stored under plugin/key.
func (k *KnowledgeBase) Get(plugin, key string) (any, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	v, ok := k.data[plugin][key]
	return v, ok
}

// Cleanup removes every finding and all raw data. Observers stay registered.
func (k *KnowledgeBase) Cleanup() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.findings = nil
	k.seen = make(map[findingKey]struct{})
	k.data = make(map[string]map[string]any)
}
