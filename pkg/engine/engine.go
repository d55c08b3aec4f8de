// Package engine orchestrates group activation over the entities discovered
// in the host tree. One Engine is constructed per attached page and owns all
// mutable session state: the active group and the visibility snapshot taken
// before the session's first activation. The host tree itself is never owned —
// every discovered entity is a weak reference that may be gone by the time it
// is acted on, and the engine treats that as ordinary weather, not failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/germanamz/viewgroups/pkg/host"
	"github.com/germanamz/viewgroups/pkg/identity"
	"github.com/germanamz/viewgroups/pkg/reveal"
	"github.com/germanamz/viewgroups/pkg/scan"
	"github.com/germanamz/viewgroups/pkg/visibility"
)

// Entity is one discovered togglable item.
type Entity struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Visible bool        `json:"visible"`
	Node    host.NodeID `json:"-"` // weak handle to the item container
	Control host.NodeID `json:"-"` // weak handle to its togglable control
}

// State is the engine's activation state. Exactly one value holds at a time.
type State int

const (
	// Idle means no group is active; no snapshot exists.
	Idle State = iota
	// GroupActive means a group's selection is applied and the pre-session
	// snapshot is held for restore.
	GroupActive
)

// Engine coordinates scanning, identity, visibility, and group transitions
// for one host document.
type Engine struct {
	doc      host.Document
	scanner  *scan.Scanner
	vis      *visibility.Controller
	revealer *reveal.Revealer
	groups   GroupProvider
	idOpts   identity.Options
	hostRe   *regexp.Regexp
	log      *slog.Logger

	queue transitionQueue

	mu          sync.Mutex
	state       State
	activeGroup string
	snapshot    map[string]bool
}

// New creates an Engine over doc. groups may be nil when every activation
// will carry its own selection; logger may be nil.
func New(doc host.Document, cfg Config, groups GroupProvider, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var hostRe *regexp.Regexp
	if cfg.HostPage.URLPattern != "" {
		var err error
		hostRe, err = regexp.Compile(cfg.HostPage.URLPattern)
		if err != nil {
			return nil, fmt.Errorf("engine: host page pattern: %w", err)
		}
	}

	scanner, err := scan.New(doc, cfg.Scan, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		doc:      doc,
		scanner:  scanner,
		vis:      visibility.New(doc, cfg.VisibilityOptions(), logger),
		revealer: reveal.New(doc, scanner, cfg.RevealOptions(), logger),
		groups:   groups,
		idOpts:   cfg.Identity,
		hostRe:   hostRe,
		log:      logger,
	}, nil
}

// StateInfo returns the current activation state and the active group id
// (empty when idle).
func (e *Engine) StateInfo() (State, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.activeGroup
}

// Reset drops all session state without touching the host tree. The owner
// calls it when the page navigates away and the snapshot stops meaning
// anything.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Idle
	e.activeGroup = ""
	e.snapshot = nil
}

// Entities scans the live tree and returns the discovered entities. An empty
// result is legitimate, not an error.
func (e *Engine) Entities(ctx context.Context) ([]Entity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discover(ctx, false)
}

// ForceRefreshEntities runs the invasive reveal pre-pass before scanning, so
// virtualized containers materialize everything they are hiding.
func (e *Engine) ForceRefreshEntities(ctx context.Context) ([]Entity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discover(ctx, true)
}

// Activate applies a group: snapshot on first activation of the session, hide
// everything, show the selection. Re-activating the already-active group
// toggles it off (a restore). Switching groups keeps the original snapshot.
// It returns the active group id after the transition, or nil when the
// transition ended Idle.
//
// When selection is empty the group's stored selection is used; an unknown
// groupID in that case returns ErrGroupNotFound with nothing mutated.
func (e *Engine) Activate(ctx context.Context, groupID string, selection []string) (*string, error) {
	if groupID == "" {
		return nil, fmt.Errorf("engine: activate: group id is required")
	}
	if len(selection) == 0 {
		if e.groups == nil {
			return nil, ErrGroupNotFound
		}
		grp, ok := e.groups.Group(groupID)
		if !ok {
			return nil, ErrGroupNotFound
		}
		selection = grp.Selection
	}

	var active *string
	err := e.queue.Do(ctx, func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.state == GroupActive && e.activeGroup == groupID {
			// Same group again: toggle off.
			return e.restoreLocked(ctx)
		}

		entities, err := e.discover(ctx, false)
		if err != nil {
			return err
		}

		if e.state == Idle {
			snap := make(map[string]bool, len(entities))
			for _, ent := range entities {
				snap[ent.ID] = ent.Visible
			}
			e.snapshot = snap
		}
		// On a group switch the existing snapshot still reflects the
		// pre-session state and is deliberately kept.

		selected := make(map[string]struct{}, len(selection))
		for _, id := range selection {
			selected[id] = struct{}{}
		}

		for _, ent := range entities {
			if _, in := selected[ent.ID]; ent.Visible && !in {
				e.apply(ctx, ent, false)
			}
		}
		for _, ent := range entities {
			if _, in := selected[ent.ID]; !ent.Visible && in {
				e.apply(ctx, ent, true)
			}
		}

		e.state = GroupActive
		e.activeGroup = groupID
		g := groupID
		active = &g
		return nil
	})
	return active, err
}

// Restore returns every entity to its snapshot visibility and ends the
// session. A restore while Idle is a no-op.
func (e *Engine) Restore(ctx context.Context) error {
	return e.queue.Do(ctx, func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.restoreLocked(ctx)
	})
}

// restoreLocked applies the snapshot diff and clears session state. Caller
// holds e.mu.
func (e *Engine) restoreLocked(ctx context.Context) error {
	if e.state == Idle {
		return nil
	}

	entities, err := e.discover(ctx, false)
	if err != nil {
		return err
	}

	for _, ent := range entities {
		want, known := e.snapshot[ent.ID]
		if !known {
			// Appeared after the snapshot; not ours to touch.
			continue
		}
		if ent.Visible != want {
			e.apply(ctx, ent, want)
		}
	}

	e.state = Idle
	e.activeGroup = ""
	e.snapshot = nil
	return nil
}

// apply drives one entity toward target, recording rather than raising any
// failure: a vanished node or a non-converging control must not stop the
// remaining entities from being processed.
func (e *Engine) apply(ctx context.Context, ent Entity, target bool) {
	outcome, err := e.vis.Set(ctx, ent.Control, target)
	switch {
	case errors.Is(err, host.ErrNodeGone):
		e.log.Debug("entity vanished during apply", "id", ent.ID)
	case err != nil:
		e.log.Warn("visibility set failed", "id", ent.ID, "err", err)
	case !outcome.Converged:
		e.log.Warn("visibility did not converge", "id", ent.ID, "target", target, "step", outcome.Step.String())
	}
}

// discover runs a scan (optionally behind a reveal pass) and resolves each
// candidate into an Entity. Candidates that vanish mid-resolution are
// silently dropped; id collisions keep the first occurrence. Caller holds
// e.mu.
func (e *Engine) discover(ctx context.Context, force bool) ([]Entity, error) {
	if err := e.checkHostPage(ctx); err != nil {
		return nil, err
	}

	var (
		candidates []host.NodeID
		err        error
	)
	if force {
		candidates, err = e.revealer.Reveal(ctx)
	} else {
		candidates, err = e.scanner.Scan(ctx)
	}
	if err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		control, err := e.scanner.Control(ctx, c)
		if err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				continue
			}
			e.log.Debug("candidate lost its control", "node", int64(c), "err", err)
			continue
		}
		ident, err := identity.Resolve(ctx, e.doc, c, i, e.idOpts)
		if err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				continue
			}
			return nil, err
		}
		visible, err := e.vis.Get(ctx, control)
		if err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				continue
			}
			return nil, err
		}
		if _, dup := seen[ident.ID]; dup {
			continue
		}
		seen[ident.ID] = struct{}{}
		entities = append(entities, Entity{
			ID:      ident.ID,
			Name:    ident.Name,
			Visible: visible,
			Node:    c,
			Control: control,
		})
	}

	return entities, nil
}

// checkHostPage verifies the attached document is the page this engine is
// configured to operate on.
func (e *Engine) checkHostPage(ctx context.Context) error {
	if e.hostRe == nil {
		return nil
	}
	loc, err := e.doc.Location(ctx)
	if err != nil {
		return fmt.Errorf("engine: read location: %w", err)
	}
	if !e.hostRe.MatchString(loc) {
		return ErrNotOnHostPage
	}
	return nil
}
