// Package host defines the engine's view of the uncontrolled document tree it
// observes and mutates. The page owns its nodes; the engine only ever holds
// weak handles to them, and any operation on a handle may report that the node
// has since been removed. Implementations exist for a live Chrome page
// (host/chrome) and an in-memory fake used by tests (host/memtree).
package host

import (
	"context"
	"errors"
	"time"
)

// NodeID is a weak handle to a node in the host document. Handles are only
// meaningful to the Document that issued them and may go stale at any time.
// The zero value never refers to a node.
type NodeID int64

// ErrNodeGone reports that a handle no longer refers to a connected node.
// Callers treat it as "the host tree moved on" and skip the node.
var ErrNodeGone = errors.New("host: node no longer in document")

// Scroll describes the scroll geometry of a single element.
type Scroll struct {
	Top          float64 // current vertical scroll offset
	Height       float64 // total content extent
	ClientHeight float64 // visible extent
}

// Scrollable reports whether the element is a true scrollable viewport, i.e.
// its content extent exceeds its visible extent.
func (s Scroll) Scrollable() bool {
	return s.ClientHeight > 0 && s.Height > s.ClientHeight+1
}

// Mutation is one batch of observed tree changes. Only added elements are
// reported; the engine rediscovers everything else by rescanning.
type Mutation struct {
	Added []NodeID
}

// Subscription is a cancellable feed of tree mutations.
type Subscription interface {
	// C returns the mutation channel. It is closed when the subscription
	// ends, whether by Close or by the document going away.
	C() <-chan Mutation
	// Close ends the subscription and releases its resources.
	Close()
}

// Document is the minimal surface the engine needs over the host tree.
//
// All methods take a context because every implementation may block on I/O
// (the Chrome adapter round-trips each call over the DevTools protocol).
// Methods that take a NodeID return ErrNodeGone when the handle is stale.
// The scope argument of QueryAll may be zero to search the whole document.
type Document interface {
	// Location returns the document's current URL.
	Location(ctx context.Context) (string, error)

	// QueryAll returns handles for every element matching the CSS selector
	// under scope (whole document when scope is zero), in document order.
	QueryAll(ctx context.Context, scope NodeID, selector string) ([]NodeID, error)

	// FindText returns handles for the innermost elements whose own text
	// content matches the Go regular expression pattern.
	FindText(ctx context.Context, pattern string) ([]NodeID, error)

	// Matches reports whether the element itself matches the CSS selector.
	Matches(ctx context.Context, id NodeID, selector string) (bool, error)

	// Closest returns the nearest ancestor-or-self matching the selector,
	// or zero when none does.
	Closest(ctx context.Context, id NodeID, selector string) (NodeID, error)

	// Parent returns the element's parent, or zero at the root.
	Parent(ctx context.Context, id NodeID) (NodeID, error)

	// SiblingIndex returns the element's position among its element siblings.
	SiblingIndex(ctx context.Context, id NodeID) (int, error)

	// Text returns the element's rendered text content, trimmed.
	Text(ctx context.Context, id NodeID) (string, error)

	// Attr returns an attribute value and whether the attribute is present.
	Attr(ctx context.Context, id NodeID, name string) (string, bool, error)

	// SetAttr sets an attribute directly, bypassing the host's own logic.
	SetAttr(ctx context.Context, id NodeID, name, value string) error

	// BoolProp returns a boolean DOM property (e.g. "checked") and whether
	// the property exists on the element.
	BoolProp(ctx context.Context, id NodeID, name string) (value, ok bool, err error)

	// SetBoolProp sets a boolean DOM property directly.
	SetBoolProp(ctx context.Context, id NodeID, name string, value bool) error

	// Click dispatches the element's primary activation.
	Click(ctx context.Context, id NodeID) error

	// PointerPress dispatches a synthetic pointer down/up/click sequence.
	PointerPress(ctx context.Context, id NodeID) error

	// KeyActivate dispatches a synthetic keyboard activation (Enter).
	KeyActivate(ctx context.Context, id NodeID) error

	// ScrollInfo returns the element's scroll geometry.
	ScrollInfo(ctx context.Context, id NodeID) (Scroll, error)

	// SetScrollTop sets the element's vertical scroll offset.
	SetScrollTop(ctx context.Context, id NodeID, top float64) error

	// Wheel dispatches a synthetic wheel gesture over the element.
	Wheel(ctx context.Context, id NodeID, deltaY float64) error

	// Observe subscribes to tree mutations until ctx is cancelled or the
	// subscription is closed.
	Observe(ctx context.Context) (Subscription, error)
}

// Sleep waits for d or until ctx is done, whichever comes first. Every settle
// delay and reveal pause in the engine goes through it so a cancelled request
// never blocks its caller past cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
