package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"dario.cat/mergo"
)

// ErrUnknownProfile is returned for names outside the builtin table.
var ErrUnknownProfile = errors.New("unknown profile")

// ErrInvalidOverride is returned when an override fails validation.
var ErrInvalidOverride = errors.New("invalid override")

// Snapshot is the read surface for one profile: the builtin defaults, the
// stored override, and the merged effective profile.
type Snapshot struct {
	Name      string    `json:"name"`
	Defaults  *Profile  `json:"defaults"`
	Overrides *Override `json:"overrides,omitempty"`
	Effective *Profile  `json:"effective"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Registry resolves effective profiles and tracks per-profile runtime
// state. Override store failures degrade reads to defaults-only.
type Registry struct {
	store  OverrideStore
	logger *slog.Logger
	states *stateTable
}

// NewRegistry creates a registry over the builtin table and the given
// override store. A nil store means defaults-only.
func NewRegistry(store OverrideStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger.With("component", "profile-registry"),
		states: newStateTable(),
	}
}

// Names returns the builtin profile names, sorted.
func (r *Registry) Names() []string {
	table := Builtins()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the builtin profile for the name.
func (r *Registry) Defaults(name string) (*Profile, error) {
	p, ok := Builtins()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return p, nil
}

// Effective resolves defaults + stored override. When the override store
// is unreachable the builtin defaults are returned and the failure logged.
func (r *Registry) Effective(ctx context.Context, name string) (*Profile, error) {
	defaults, err := r.Defaults(name)
	if err != nil {
		return nil, err
	}
	override, err := r.loadOverride(ctx, name)
	if err != nil {
		return nil, err
	}
	return applyOverride(defaults, override)
}

// Snapshot returns the full read view for one profile.
func (r *Registry) Snapshot(ctx context.Context, name string) (*Snapshot, error) {
	defaults, err := r.Defaults(name)
	if err != nil {
		return nil, err
	}
	override, err := r.loadOverride(ctx, name)
	if err != nil {
		return nil, err
	}
	effective, err := applyOverride(defaults, override)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Name:      name,
		Defaults:  defaults,
		Overrides: override,
		Effective: effective,
	}
	if override != nil {
		snap.UpdatedAt = override.UpdatedAt
	}
	return snap, nil
}

// Snapshots returns the read view for every builtin profile.
func (r *Registry) Snapshots(ctx context.Context) ([]*Snapshot, error) {
	names := r.Names()
	out := make([]*Snapshot, 0, len(names))
	for _, name := range names {
		snap, err := r.Snapshot(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// SetOverride validates and persists an override. An empty record deletes
// the stored override instead. Store failures reject the write.
func (r *Registry) SetOverride(ctx context.Context, name string, o *Override) error {
	if _, err := r.Defaults(name); err != nil {
		return err
	}
	if o.Empty() {
		return r.DeleteOverride(ctx, name)
	}
	if o.Runtime != "" && o.Runtime != RuntimeCodex && o.Runtime != RuntimeOpencode {
		return fmt.Errorf("%w: runtime flavor %q for profile %s", ErrInvalidOverride, o.Runtime, name)
	}
	if r.store == nil {
		return fmt.Errorf("%w: no store configured", ErrStoreUnavailable)
	}
	o.UpdatedAt = time.Now().UTC()
	return r.store.Put(ctx, name, o)
}

// DeleteOverride removes the stored override for the name.
func (r *Registry) DeleteOverride(ctx context.Context, name string) error {
	if _, err := r.Defaults(name); err != nil {
		return err
	}
	if r.store == nil {
		return fmt.Errorf("%w: no store configured", ErrStoreUnavailable)
	}
	return r.store.Delete(ctx, name)
}

func (r *Registry) loadOverride(ctx context.Context, name string) (*Override, error) {
	if r.store == nil {
		return nil, nil
	}
	override, err := r.store.Get(ctx, name)
	if errors.Is(err, ErrStoreUnavailable) {
		r.logger.Warn("override store unavailable, using builtin defaults",
			"profile", name, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return override, nil
}

func applyOverride(defaults *Profile, override *Override) (*Profile, error) {
	effective := defaults.Clone()
	if override == nil || override.Empty() {
		return effective, nil
	}
	patch := Profile{
		Runtime:      override.Runtime,
		Model:        override.Model,
		SystemPrompt: override.SystemPrompt,
	}
	if err := mergo.Merge(effective, patch, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging override for %s: %w", defaults.Name, err)
	}
	if prefix := override.TaskPromptPrefix; prefix != "" {
		base := defaults.TaskPrompt
		effective.TaskPrompt = func(execCtx map[string]any) string {
			return prefix + "\n\n" + base(execCtx)
		}
	}
	return effective, nil
}
