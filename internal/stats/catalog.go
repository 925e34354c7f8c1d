package stats

import (
	"maps"
	"slices"
	"sync"

	"github.com/banshee-data/loopstats/internal/monitoring"
)

// Catalog maps every known metric key to its default value. It is filled
// during start-up and only read afterwards.
//
// Registering a key that is already present is a no-op: the first
// default wins, so independent declaration sites can safely register the
// same key.
type Catalog struct {
	mu       sync.RWMutex
	defaults map[MetricKey]float64
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defaults: make(map[MetricKey]float64, len(builtinDeclarations))}
}

// Register adds key with the given default unless it is already known.
func (c *Catalog) Register(key MetricKey, def float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defaults[key]; ok {
		return
	}
	c.defaults[key] = def
}

// RegisterAll registers each declaration in order.
func (c *Catalog) RegisterAll(decls []Declaration) {
	for _, d := range decls {
		c.Register(d.Key, d.Default)
	}
}

// Defaults returns a copy of the registered keys and their defaults.
// Mutating the returned map does not affect the catalog.
func (c *Catalog) Defaults() map[MetricKey]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.defaults)
}

// Default returns the default registered for key.
func (c *Catalog) Default(key MetricKey) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.defaults[key]
	return v, ok
}

// Keys returns the registered keys in lexical order.
func (c *Catalog) Keys() []MetricKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.defaults))
}

// Len returns the number of registered keys.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defaults)
}

var (
	processCatalog     *Catalog
	processCatalogOnce sync.Once
)

// newBuiltinCatalog returns a catalog holding the built-in declarations
// followed by extra.
func newBuiltinCatalog(extra ...Declaration) *Catalog {
	c := NewCatalog()
	c.RegisterAll(builtinDeclarations)
	c.RegisterAll(extra)
	return c
}

// InitializeCatalog builds the process-wide catalog from the built-in
// declarations plus extra. Only the first call has any effect; later
// calls return the catalog built by the first. Call it from main before
// the first snapshot is produced.
func InitializeCatalog(extra ...Declaration) *Catalog {
	first := false
	processCatalogOnce.Do(func() {
		first = true
		processCatalog = newBuiltinCatalog(extra...)
		monitoring.Debugf("[stats] catalog initialised with %d keys (%d extra declarations)",
			processCatalog.Len(), len(extra))
	})
	if !first && len(extra) > 0 {
		monitoring.Logf("[stats] catalog already initialised; ignoring %d extra declarations", len(extra))
	}
	return processCatalog
}

// ProcessCatalog returns the process-wide catalog, initialising it with
// the built-in declarations if InitializeCatalog has not run yet.
func ProcessCatalog() *Catalog {
	return InitializeCatalog()
}

// DefaultData returns a copy of the process-wide defaults.
func DefaultData() map[MetricKey]float64 {
	return ProcessCatalog().Defaults()
}
