// Package identity derives a stable (id, name) pair for a discovered entity.
//
// The host page offers no reliable identifiers, so the resolver works down a
// fixed priority ladder for each of the two fields and is deliberately pure:
// given the same subtree state it always produces the same result. The group
// state machine depends on that purity — selections stored across sessions
// only keep meaning if a rescan of an unchanged tree reproduces the same ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/germanamz/viewgroups/pkg/host"
)

// Options tunes attribute priorities and bounds. Zero fields fall back to
// Defaults.
type Options struct {
	// LabelAttrs are accessible-label attributes, tried first for the name.
	LabelAttrs []string `yaml:"label_attrs"`
	// TitleAttrs are title-like attributes, tried second.
	TitleAttrs []string `yaml:"title_attrs"`
	// NativeIDAttrs are host-assigned identifier attributes that, when
	// present, short-circuit id generation entirely.
	NativeIDAttrs []string `yaml:"native_id_attrs"`
	// MaxNameWidth bounds the derived name in display cells.
	MaxNameWidth int `yaml:"max_name_width"`
	// TextFragmentWidth bounds the normalized-text fragment folded into
	// generated ids.
	TextFragmentWidth int `yaml:"text_fragment_width"`
}

// Defaults returns the options used when a field is unset.
func Defaults() Options {
	return Options{
		LabelAttrs:        []string{"aria-label"},
		TitleAttrs:        []string{"title", "data-tooltip"},
		NativeIDAttrs:     []string{"data-id", "data-entity-id", "data-key"},
		MaxNameWidth:      80,
		TextFragmentWidth: 24,
	}
}

func (o Options) withDefaults() Options {
	def := Defaults()
	if o.LabelAttrs == nil {
		o.LabelAttrs = def.LabelAttrs
	}
	if o.TitleAttrs == nil {
		o.TitleAttrs = def.TitleAttrs
	}
	if o.NativeIDAttrs == nil {
		o.NativeIDAttrs = def.NativeIDAttrs
	}
	if o.MaxNameWidth <= 0 {
		o.MaxNameWidth = def.MaxNameWidth
	}
	if o.TextFragmentWidth <= 0 {
		o.TextFragmentWidth = def.TextFragmentWidth
	}
	return o
}

// Identity is a resolved (id, name) pair.
type Identity struct {
	ID   string
	Name string
}

// Resolve derives the identity of the candidate node. ordinal is the
// candidate's position in scan order and only feeds the last-resort
// positional name.
func Resolve(ctx context.Context, doc host.Document, n host.NodeID, ordinal int, opts Options) (Identity, error) {
	opts = opts.withDefaults()

	name, err := resolveName(ctx, doc, n, ordinal, opts)
	if err != nil {
		return Identity{}, err
	}

	id, err := resolveID(ctx, doc, n, name, opts)
	if err != nil {
		return Identity{}, err
	}

	return Identity{ID: id, Name: name}, nil
}

func resolveName(ctx context.Context, doc host.Document, n host.NodeID, ordinal int, opts Options) (string, error) {
	// Accessible label on the candidate or a descendant.
	if v, err := firstAttr(ctx, doc, n, opts.LabelAttrs); err != nil {
		return "", err
	} else if v != "" {
		return bound(v, opts.MaxNameWidth), nil
	}

	// Title-like attribute.
	if v, err := firstAttr(ctx, doc, n, opts.TitleAttrs); err != nil {
		return "", err
	} else if v != "" {
		return bound(v, opts.MaxNameWidth), nil
	}

	// First short text run inside the candidate.
	if v, err := firstShortText(ctx, doc, n, opts.MaxNameWidth); err != nil {
		return "", err
	} else if v != "" {
		return v, nil
	}

	return fmt.Sprintf("Entity %d", ordinal+1), nil
}

func resolveID(ctx context.Context, doc host.Document, n host.NodeID, name string, opts Options) (string, error) {
	// A host-assigned identifier beats any derived scheme.
	if v, err := firstAttr(ctx, doc, n, opts.NativeIDAttrs); err != nil {
		return "", err
	} else if v != "" {
		return v, nil
	}

	// Generated fallback: normalized name + truncated normalized text +
	// sibling index. Entities with identical visible text in different
	// containers can still collide; the state machine tolerates that by
	// skipping ids it cannot match.
	full, err := doc.Text(ctx, n)
	if err != nil {
		return "", err
	}
	idx, err := doc.SiblingIndex(ctx, n)
	if err != nil {
		return "", err
	}
	frag := slug(runewidth.Truncate(normalize(full), opts.TextFragmentWidth, ""))
	return fmt.Sprintf("%s-%s-%d", slug(name), frag, idx), nil
}

// firstAttr returns the first non-empty value of any listed attribute on the
// node or, failing that, on its descendants in document order.
func firstAttr(ctx context.Context, doc host.Document, n host.NodeID, names []string) (string, error) {
	for _, name := range names {
		if v, ok, err := doc.Attr(ctx, n, name); err != nil {
			return "", err
		} else if ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	for _, name := range names {
		kids, err := doc.QueryAll(ctx, n, "["+name+"]")
		if err != nil {
			return "", err
		}
		for _, k := range kids {
			if v, ok, err := doc.Attr(ctx, k, name); err != nil {
				return "", err
			} else if ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), nil
			}
		}
	}
	return "", nil
}

// firstShortText returns the first element text under n (n itself included)
// that is non-empty and fits the width bound.
func firstShortText(ctx context.Context, doc host.Document, n host.NodeID, maxWidth int) (string, error) {
	nodes := []host.NodeID{n}
	kids, err := doc.QueryAll(ctx, n, "*")
	if err != nil {
		return "", err
	}
	nodes = append(nodes, kids...)
	for _, id := range nodes {
		t, err := doc.Text(ctx, id)
		if err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				continue
			}
			return "", err
		}
		t = strings.TrimSpace(t)
		if t != "" && runewidth.StringWidth(t) <= maxWidth {
			return t, nil
		}
	}
	return "", nil
}

// bound truncates s to the given display width.
func bound(s string, width int) string {
	return runewidth.Truncate(s, width, "")
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// normalize lowercases and collapses interior whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// slug reduces s to hyphen-separated alphanumeric runs.
func slug(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}
