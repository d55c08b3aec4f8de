package scan

import (
	"context"
	"errors"
	"strings"

	"github.com/germanamz/viewgroups/pkg/host"
)

// strategy is one independent discovery heuristic. Strategies only gather
// candidate containers; acceptance is decided centrally by Accept.
type strategy struct {
	name string
	run  func(ctx context.Context) ([]host.NodeID, error)
}

// strategies returns the discovery pipeline in its fixed execution order.
func (s *Scanner) strategies() []strategy {
	return []strategy{
		{name: "labeled-sections", run: s.byLabeledSections},
		{name: "toggle-sweep", run: s.byToggleSweep},
		{name: "containers", run: s.byContainers},
		{name: "markup-patterns", run: s.byMarkupPatterns},
		{name: "label-text", run: s.byLabelText},
	}
}

// byLabeledSections finds containers whose accessible label names a known
// section, then gathers the item containers inside each.
func (s *Scanner) byLabeledSections(ctx context.Context) ([]host.NodeID, error) {
	labeled, err := s.doc.QueryAll(ctx, 0, "[aria-label]")
	if err != nil {
		return nil, err
	}
	var out []host.NodeID
	for _, sec := range labeled {
		v, ok, err := s.doc.Attr(ctx, sec, "aria-label")
		if err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				continue
			}
			return nil, err
		}
		if !ok || !s.labels.MatchString(strings.TrimSpace(v)) {
			continue
		}
		items, err := s.doc.QueryAll(ctx, sec, s.opts.ItemSelector)
		if err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				continue
			}
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// byToggleSweep sweeps every togglable control on the page and nominates the
// item container each one sits in (or the control itself when it is
// free-standing).
func (s *Scanner) byToggleSweep(ctx context.Context) ([]host.NodeID, error) {
	controls, err := s.doc.QueryAll(ctx, 0, s.opts.ToggleSelector)
	if err != nil {
		return nil, err
	}
	var out []host.NodeID
	for _, c := range controls {
		container, err := s.doc.Closest(ctx, c, s.opts.ItemSelector)
		if err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				continue
			}
			return nil, err
		}
		if container == 0 {
			container = c
		}
		out = append(out, container)
	}
	return out, nil
}

// byContainers searches broad navigational and sidebar containers for item
// markup.
func (s *Scanner) byContainers(ctx context.Context) ([]host.NodeID, error) {
	var out []host.NodeID
	for _, sel := range s.opts.ContainerSelectors {
		containers, err := s.doc.QueryAll(ctx, 0, sel)
		if err != nil {
			return nil, err
		}
		for _, c := range containers {
			items, err := s.doc.QueryAll(ctx, c, s.opts.ItemSelector)
			if err != nil {
				if errors.Is(err, host.ErrNodeGone) {
					continue
				}
				return nil, err
			}
			out = append(out, items...)
		}
	}
	return out, nil
}

// byMarkupPatterns matches the host's item markup directly by structural
// attribute/class patterns.
func (s *Scanner) byMarkupPatterns(ctx context.Context) ([]host.NodeID, error) {
	var out []host.NodeID
	for _, sel := range s.opts.PatternSelectors {
		items, err := s.doc.QueryAll(ctx, 0, sel)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// byLabelText locates text nodes carrying a known section label and searches
// the enclosing scope for item markup. This catches sections whose container
// carries no accessible label of its own.
func (s *Scanner) byLabelText(ctx context.Context) ([]host.NodeID, error) {
	texts, err := s.doc.FindText(ctx, s.labels.String())
	if err != nil {
		return nil, err
	}
	var out []host.NodeID
	for _, t := range texts {
		parent, err := s.doc.Parent(ctx, t)
		if err != nil || parent == 0 {
			continue
		}
		scope, err := s.doc.Closest(ctx, parent, s.opts.SectionScopeSelector)
		if err != nil || scope == 0 {
			continue
		}
		items, err := s.doc.QueryAll(ctx, scope, s.opts.ItemSelector)
		if err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				continue
			}
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}
