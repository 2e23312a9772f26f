package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Optional capability names. Only these may be probed and invalidated;
// everything else in the schema is assumed present.
const (
	CapRecipientUserID   = "recipient_user_id"
	CapRecipientSectorID = "recipient_sector_id"
	CapCreatedBy         = "created_by"
	CapUpdatedBy         = "updated_by"
	CapParentMessageID   = "parent_message_id"
	CapUserSectors       = "user_sectors"
	CapLabels            = "labels"
)

// optionalColumns and optionalTables form the allow-list of capabilities.
// Invalidating anything outside it is a programming error.
var (
	optionalColumns = map[string]bool{
		CapRecipientUserID:   true,
		CapRecipientSectorID: true,
		CapCreatedBy:         true,
		CapUpdatedBy:         true,
		CapParentMessageID:   true,
	}
	optionalTables = map[string]bool{
		CapUserSectors: true,
		CapLabels:      true,
	}
)

// IsOptionalCapability reports whether name is on the optional allow-list.
func IsOptionalCapability(name string) bool {
	return optionalColumns[name] || optionalTables[name]
}

// Capabilities memoizes which optional columns and tables exist in the
// deployed schema. Probes run lazily on first access; concurrent first
// accesses for the same name share one in-flight probe, so process start
// under load issues at most one catalog query per capability.
//
// A failed probe (locked database, permission error) reports "unsupported"
// without caching, so the next call retries. Invalidate drops a cached
// result after a schema-mismatch error proved it stale.
type Capabilities struct {
	store  *Store
	logger *slog.Logger

	mu     sync.RWMutex
	cached map[string]bool
	probes singleflight.Group
}

// NewCapabilities creates a capability registry over the store.
func NewCapabilities(s *Store, logger *slog.Logger) *Capabilities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capabilities{
		store:  s,
		logger: logger,
		cached: make(map[string]bool),
	}
}

// Column reports whether the messages table has the named optional column.
// Names outside the optional allow-list panic: probing them hides typos.
func (c *Capabilities) Column(ctx context.Context, name string) bool {
	if !optionalColumns[name] {
		panic(fmt.Sprintf("store: %q is not an optional column capability", name))
	}
	return c.resolve(ctx, name, func() (bool, error) {
		var count int
		err := c.store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info('messages') WHERE name = ?`, name,
		).Scan(&count)
		return count > 0, err
	})
}

// Table reports whether the named optional companion table exists.
func (c *Capabilities) Table(ctx context.Context, name string) bool {
	if !optionalTables[name] {
		panic(fmt.Sprintf("store: %q is not an optional table capability", name))
	}
	return c.resolve(ctx, name, func() (bool, error) {
		var count int
		err := c.store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
		).Scan(&count)
		return count > 0, err
	})
}

// Supports resolves a capability by name, routing to Column or Table.
// Used by the schema-mismatch retry path, which only knows the bare name.
func (c *Capabilities) Supports(ctx context.Context, name string) bool {
	if optionalColumns[name] {
		return c.Column(ctx, name)
	}
	if optionalTables[name] {
		return c.Table(ctx, name)
	}
	panic(fmt.Sprintf("store: %q is not an optional capability", name))
}

// resolve returns the cached answer for name or runs probe under
// singleflight. Probe errors are logged and reported as unsupported
// without being cached.
func (c *Capabilities) resolve(ctx context.Context, name string, probe func() (bool, error)) bool {
	c.mu.RLock()
	v, ok := c.cached[name]
	c.mu.RUnlock()
	if ok {
		return v
	}

	result, err, _ := c.probes.Do(name, func() (interface{}, error) {
		// Re-check under the flight: another caller may have finished and
		// cached between our read and the Do.
		c.mu.RLock()
		v, ok := c.cached[name]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}

		supported, err := probe()
		if err != nil {
			return false, err
		}

		c.mu.Lock()
		c.cached[name] = supported
		c.mu.Unlock()
		return supported, nil
	})
	if err != nil {
		c.logger.Debug("capability probe failed, treating as unsupported",
			"capability", name, "error", err)
		return false
	}
	return result.(bool)
}

// Invalidate forces the next access to re-probe name. Only names on the
// optional allow-list may be invalidated; anything else panics, because it
// means a query referenced a schema object the engine never gates.
func (c *Capabilities) Invalidate(name string) {
	if !IsOptionalCapability(name) {
		panic(fmt.Sprintf("store: cannot invalidate non-optional capability %q", name))
	}
	c.mu.Lock()
	delete(c.cached, name)
	c.mu.Unlock()
	c.probes.Forget(name)
}
