package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// AssignMethod selects how new jobs are bound to handlers.
type AssignMethod string

const (
	// AssignPreassign picks a concrete handler when the job is created.
	AssignPreassign AssignMethod = "db-preassign"
	// AssignSkipLocked stores the tag and lets handlers in its pool claim jobs.
	AssignSkipLocked AssignMethod = "db-skip-locked"
	// AssignSelf binds the job to the process that created it.
	AssignSelf AssignMethod = "db-self"
)

// ParseAssignMethod parses a configured assignment method. Empty selects
// AssignPreassign.
func ParseAssignMethod(s string) (AssignMethod, error) {
	switch m := AssignMethod(s); m {
	case "":
		return AssignPreassign, nil
	case AssignPreassign, AssignSkipLocked, AssignSelf:
		return m, nil
	default:
		return "", fmt.Errorf("jobs: unknown handler assignment method %q", s)
	}
}

// Registry maps handler ids and tags to pools of handler ids.
//
// Handlers are registered at startup. ResolveDefault freezes the registry;
// after that every method is read-only and safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	ids        []string
	pools      map[string][]string
	defaultKey string
	frozen     bool

	assignWith AssignMethod
	maxGrab    int
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		pools:      make(map[string][]string),
		assignWith: AssignPreassign,
		maxGrab:    1,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt.applyRegistry(r)
	}
	return r
}

// Register adds a handler and appends it to the pool of each tag. Duplicate
// ids are logged and ignored.
func (r *Registry) Register(id string, tags []string) error {
	if id == "" {
		return core.ErrMissingHandlerID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return core.ErrRegistryFrozen
	}
	if slices.Contains(r.ids, id) {
		r.logger.Error("duplicate handler id, ignoring", "handler_id", id)
		return nil
	}

	r.ids = append(r.ids, id)
	r.pools[id] = append(r.pools[id], id)
	for _, tag := range tags {
		if tag == "" || tag == id || slices.Contains(r.pools[tag], id) {
			continue
		}
		r.pools[tag] = append(r.pools[tag], id)
	}
	return nil
}

// ResolveDefault chooses the default handler id or tag.
//
// An explicit value must be one of candidates. Without one, a single
// candidate becomes the default; anything else is a configuration error.
func ResolveDefault(explicit string, candidates []string) (string, error) {
	if explicit != "" {
		if !slices.Contains(candidates, explicit) {
			return "", fmt.Errorf("%w: %q", core.ErrDefaultNotDefined, explicit)
		}
		return explicit, nil
	}
	if len(candidates) == 1 {
		slog.Info("no default handler specified, using the only candidate", "default", candidates[0])
		return candidates[0], nil
	}
	return "", core.ErrNoDefaultHandler
}

// ResolveDefault resolves the registry default against its ids and tags and
// freezes the registry. It may only succeed once.
func (r *Registry) ResolveDefault(explicit string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return "", core.ErrRegistryFrozen
	}
	key, err := ResolveDefault(explicit, r.keysLocked())
	if err != nil {
		return "", err
	}
	r.defaultKey = key
	r.frozen = true
	r.logger.Info("handler registry ready", "default", key, "handlers", len(r.ids), "assign_with", string(r.assignWith))
	return key, nil
}

// GetHandler returns one handler id from the pool bound to idOrTag, using the
// default when idOrTag is empty. A pool with one member always yields it;
// otherwise the result is pool[index mod len(pool)], so equal indexes land on
// the same handler.
func (r *Registry) GetHandler(idOrTag string, index int) (string, error) {
	pool, err := r.pool(idOrTag)
	if err != nil {
		return "", err
	}
	if len(pool) == 1 {
		return pool[0], nil
	}
	i := index % len(pool)
	if i < 0 {
		i += len(pool)
	}
	return pool[i], nil
}

// RandomHandler returns a uniformly chosen handler from the pool bound to
// idOrTag, for callers without a stable index.
func (r *Registry) RandomHandler(idOrTag string) (string, error) {
	pool, err := r.pool(idOrTag)
	if err != nil {
		return "", err
	}
	if len(pool) == 1 {
		return pool[0], nil
	}
	return pool[rand.IntN(len(pool))], nil
}

// Pool returns a copy of the pool bound to idOrTag.
func (r *Registry) Pool(idOrTag string) ([]string, error) {
	pool, err := r.pool(idOrTag)
	if err != nil {
		return nil, err
	}
	return slices.Clone(pool), nil
}

func (r *Registry) pool(idOrTag string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := idOrTag
	if key == "" {
		key = r.defaultKey
	}
	if key == "" {
		return nil, core.ErrNoDefaultHandler
	}
	pool, ok := r.pools[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownHandler, key)
	}
	return pool, nil
}

// IsHandler reports whether name is a registered handler id.
func (r *Registry) IsHandler(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.ids, name)
}

// IsKey reports whether name is a handler id or tag.
func (r *Registry) IsKey(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pools[name]
	return ok
}

// Tags returns the tags whose pools contain id, sorted.
func (r *Registry) Tags(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tags []string
	for key, pool := range r.pools {
		if key != id && slices.Contains(pool, id) {
			tags = append(tags, key)
		}
	}
	sort.Strings(tags)
	return tags
}

// Default returns the resolved default id or tag.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultKey
}

// IDs returns the handler ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ids)
}

// Keys returns every handler id and tag, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keysLocked()
}

func (r *Registry) keysLocked() []string {
	keys := make([]string, 0, len(r.pools))
	for k := range r.pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssignMethod returns the configured assignment method.
func (r *Registry) AssignMethod() AssignMethod { return r.assignWith }

// MaxGrab returns how many jobs a handler claims per poll under AssignSkipLocked.
func (r *Registry) MaxGrab() int { return r.maxGrab }

// FromConfig builds a frozen registry from parsed configuration. Handler
// elements with a missing or invalid id are logged and skipped; failing to
// resolve a default is an error.
func FromConfig(cfg config.HandlersConfig, opts ...Option) (*Registry, error) {
	method, err := ParseAssignMethod(cfg.AssignWith)
	if err != nil {
		return nil, err
	}

	all := append([]Option{WithAssignMethod(method)}, opts...)
	if cfg.MaxGrab > 0 {
		all = append(all, WithMaxGrab(cfg.MaxGrab))
	}
	r := NewRegistry(all...)

	for i, h := range cfg.Handlers {
		if err := security.ValidateHandlerID(h.ID); err != nil {
			if errors.Is(err, core.ErrInvalidHandlerID) && h.ID == "" {
				err = core.ErrMissingHandlerID
			}
			r.logger.Error("skipping handler definition", "index", i, "handler_id", h.ID, "error", err)
			continue
		}
		if err := r.Register(h.ID, h.TagList()); err != nil {
			return nil, err
		}
	}

	if _, err := r.ResolveDefault(cfg.Default); err != nil {
		return nil, err
	}
	return r, nil
}
