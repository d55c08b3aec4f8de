// Package memtree is an in-memory host.Document used by tests. It models just
// enough of a live page for the engine's algorithms to be exercised without a
// browser: a mutable element tree, boolean properties with host-side toggle
// behaviour, per-node interaction inertness, scrollable containers, and a
// virtualized container that only materializes the items inside its viewport.
package memtree

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/germanamz/viewgroups/pkg/host"
)

// Inert flags mark interaction channels the fake host ignores, so tests can
// force the visibility controller down its fallback ladder.
type Inert int

const (
	InertClicks Inert = 1 << iota // Click has no effect
	InertPointer                  // PointerPress has no effect
	InertKeys                     // KeyActivate has no effect
	InertProps                    // direct property/attribute writes are discarded
)

type node struct {
	id       host.NodeID
	tag      string
	attrs    map[string]string
	props    map[string]bool
	text     string // own text, excluding descendants
	parent   *node
	children []*node
	detached bool

	inert Inert
	hook  func() // replaces default activation behaviour when set

	// scroll geometry; zero ClientHeight means not a viewport
	scrollTop    float64
	scrollHeight float64
	clientHeight float64

	// virtualization: when itemHeight > 0 the container materializes only
	// the virtual items that intersect its viewport
	itemHeight float64
	virtual    []*Element
	realized   map[int]*node
}

// Element describes a node for Append and virtual item definitions.
type Element struct {
	Tag   string
	Text  string
	Attrs map[string]string
	Props map[string]bool
	Inert Inert
}

// Doc is an in-memory host.Document. Safe for concurrent use.
type Doc struct {
	mu       sync.Mutex
	location string
	nextID   host.NodeID
	nodes    map[host.NodeID]*node
	root     *node
	subs     map[*subscription]struct{}
}

// New returns an empty document at the given location URL.
func New(location string) *Doc {
	d := &Doc{
		location: location,
		nextID:   1,
		nodes:    make(map[host.NodeID]*node),
		subs:     make(map[*subscription]struct{}),
	}
	d.root = d.newNode(Element{Tag: "body"})
	return d
}

// Root returns the handle of the document body.
func (d *Doc) Root() host.NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root.id
}

func (d *Doc) newNode(e Element) *node {
	n := &node{
		id:    d.nextID,
		tag:   strings.ToLower(e.Tag),
		text:  e.Text,
		attrs: map[string]string{},
		props: map[string]bool{},
		inert: e.Inert,
	}
	for k, v := range e.Attrs {
		n.attrs[strings.ToLower(k)] = v
	}
	for k, v := range e.Props {
		n.props[k] = v
	}
	d.nextID++
	d.nodes[n.id] = n
	return n
}

// Append adds a child element under parent and returns its handle.
func (d *Doc) Append(parent host.NodeID, e Element) host.NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.nodes[parent]
	if !ok {
		panic(fmt.Sprintf("memtree: append under unknown node %d", parent))
	}
	n := d.newNode(e)
	n.parent = p
	p.children = append(p.children, n)
	d.notify(host.Mutation{Added: []host.NodeID{n.id}})
	return n.id
}

// Remove detaches a node (and its subtree) from the document. Handles to the
// removed nodes go stale, as they would on a live page.
func (d *Doc) Remove(id host.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok || n.parent == nil {
		return
	}
	sibs := n.parent.children
	for i, c := range sibs {
		if c == n {
			n.parent.children = append(sibs[:i], sibs[i+1:]...)
			break
		}
	}
	var mark func(*node)
	mark = func(m *node) {
		m.detached = true
		for _, c := range m.children {
			mark(c)
		}
	}
	mark(n)
}

// SetViewport turns a node into a scrollable viewport with the given content
// and visible extents.
func (d *Doc) SetViewport(id host.NodeID, contentHeight, clientHeight float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.live(id); ok {
		n.scrollHeight = contentHeight
		n.clientHeight = clientHeight
	}
}

// Virtualize turns a node into a virtualized list container: items are
// materialized as children only while they intersect the viewport, the way a
// windowed list widget renders. Each item occupies itemHeight vertical pixels.
func (d *Doc) Virtualize(id host.NodeID, clientHeight, itemHeight float64, items []*Element) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.live(id)
	if !ok {
		return
	}
	n.clientHeight = clientHeight
	n.itemHeight = itemHeight
	n.scrollHeight = itemHeight * float64(len(items))
	n.virtual = items
	n.realized = make(map[int]*node)
	d.materialize(n)
}

// materialize realizes the virtual items intersecting the viewport and prunes
// the ones that scrolled out. Caller holds d.mu.
func (d *Doc) materialize(n *node) {
	if n.itemHeight <= 0 {
		return
	}
	lo := int(n.scrollTop / n.itemHeight)
	hi := int((n.scrollTop + n.clientHeight) / n.itemHeight)
	if hi >= len(n.virtual) {
		hi = len(n.virtual) - 1
	}

	var added []host.NodeID
	for i := lo; i <= hi && i >= 0; i++ {
		if _, ok := n.realized[i]; ok {
			continue
		}
		c := d.newNode(*n.virtual[i])
		c.parent = n
		n.realized[i] = c
		added = append(added, c.id)
	}
	for i, c := range n.realized {
		if i < lo || i > hi {
			c.detached = true
			delete(n.realized, i)
		}
	}

	// rebuild children in item order
	idx := make([]int, 0, len(n.realized))
	for i := range n.realized {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	n.children = n.children[:0]
	for _, i := range idx {
		n.children = append(n.children, n.realized[i])
	}

	if len(added) > 0 {
		d.notify(host.Mutation{Added: added})
	}
}

// OnActivate installs a hook run whenever a non-inert activation reaches the
// node, replacing the default checked-toggle behaviour.
func (d *Doc) OnActivate(id host.NodeID, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.live(id); ok {
		n.hook = fn
	}
}

func (d *Doc) live(id host.NodeID) (*node, bool) {
	n, ok := d.nodes[id]
	if !ok || n.detached {
		return nil, false
	}
	return n, ok
}

// --- host.Document ---

// Location implements host.Document.
func (d *Doc) Location(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location, nil
}

// SetLocation changes the reported URL, simulating a navigation.
func (d *Doc) SetLocation(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.location = url
}

// QueryAll implements host.Document.
func (d *Doc) QueryAll(_ context.Context, scope host.NodeID, selector string) ([]host.NodeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := d.root
	if scope != 0 {
		n, ok := d.live(scope)
		if !ok {
			return nil, host.ErrNodeGone
		}
		start = n
	}
	sel, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	var out []host.NodeID
	var walk func(*node)
	walk = func(n *node) {
		for _, c := range n.children {
			if sel.matches(c) {
				out = append(out, c.id)
			}
			walk(c)
		}
	}
	walk(start)
	return out, nil
}

// FindText implements host.Document.
func (d *Doc) FindText(_ context.Context, pattern string) ([]host.NodeID, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("memtree: find text: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []host.NodeID
	var walk func(*node)
	walk = func(n *node) {
		if re.MatchString(n.text) {
			out = append(out, n.id)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(d.root)
	return out, nil
}

// Matches implements host.Document.
func (d *Doc) Matches(_ context.Context, id host.NodeID, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return false, host.ErrNodeGone
	}
	sel, err := parseSelector(selector)
	if err != nil {
		return false, err
	}
	return sel.matches(n), nil
}

// Closest implements host.Document.
func (d *Doc) Closest(_ context.Context, id host.NodeID, selector string) (host.NodeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return 0, host.ErrNodeGone
	}
	sel, err := parseSelector(selector)
	if err != nil {
		return 0, err
	}
	for m := n; m != nil; m = m.parent {
		if sel.matches(m) {
			return m.id, nil
		}
	}
	return 0, nil
}

// Parent implements host.Document.
func (d *Doc) Parent(_ context.Context, id host.NodeID) (host.NodeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return 0, host.ErrNodeGone
	}
	if n.parent == nil {
		return 0, nil
	}
	return n.parent.id, nil
}

// SiblingIndex implements host.Document.
func (d *Doc) SiblingIndex(_ context.Context, id host.NodeID) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return 0, host.ErrNodeGone
	}
	if n.parent == nil {
		return 0, nil
	}
	for i, c := range n.parent.children {
		if c == n {
			return i, nil
		}
	}
	return 0, nil
}

// Text implements host.Document. It returns the node's own text plus its
// descendants' text, space-joined and trimmed, like innerText.
func (d *Doc) Text(_ context.Context, id host.NodeID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return "", host.ErrNodeGone
	}
	var parts []string
	var walk func(*node)
	walk = func(m *node) {
		if t := strings.TrimSpace(m.text); t != "" {
			parts = append(parts, t)
		}
		for _, c := range m.children {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " "), nil
}

// Attr implements host.Document.
func (d *Doc) Attr(_ context.Context, id host.NodeID, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return "", false, host.ErrNodeGone
	}
	v, present := n.attrs[strings.ToLower(name)]
	return v, present, nil
}

// SetAttr implements host.Document.
func (d *Doc) SetAttr(_ context.Context, id host.NodeID, name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return host.ErrNodeGone
	}
	if n.inert&InertProps != 0 {
		return nil
	}
	n.attrs[strings.ToLower(name)] = value
	return nil
}

// BoolProp implements host.Document.
func (d *Doc) BoolProp(_ context.Context, id host.NodeID, name string) (bool, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return false, false, host.ErrNodeGone
	}
	v, present := n.props[name]
	return v, present, nil
}

// SetBoolProp implements host.Document.
func (d *Doc) SetBoolProp(_ context.Context, id host.NodeID, name string, value bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return host.ErrNodeGone
	}
	if n.inert&InertProps != 0 {
		return nil
	}
	n.props[name] = value
	return nil
}

// activate runs the host-side reaction to an interaction, honouring inertness.
func (d *Doc) activate(id host.NodeID, channel Inert) error {
	d.mu.Lock()
	n, ok := d.live(id)
	if !ok {
		d.mu.Unlock()
		return host.ErrNodeGone
	}
	if n.inert&channel != 0 {
		d.mu.Unlock()
		return nil
	}
	if n.hook != nil {
		fn := n.hook
		d.mu.Unlock()
		fn()
		return nil
	}
	// default behaviour: toggle whichever checked representation exists
	if v, present := n.props["checked"]; present {
		n.props["checked"] = !v
	} else if v, present := n.attrs["aria-checked"]; present {
		n.attrs["aria-checked"] = flip(v)
	} else if v, present := n.attrs["aria-pressed"]; present {
		n.attrs["aria-pressed"] = flip(v)
	} else if v, present := n.attrs["aria-expanded"]; present {
		n.attrs["aria-expanded"] = flip(v)
	}
	d.mu.Unlock()
	return nil
}

func flip(v string) string {
	if v == "true" {
		return "false"
	}
	return "true"
}

// Click implements host.Document.
func (d *Doc) Click(_ context.Context, id host.NodeID) error {
	return d.activate(id, InertClicks)
}

// PointerPress implements host.Document.
func (d *Doc) PointerPress(_ context.Context, id host.NodeID) error {
	return d.activate(id, InertPointer)
}

// KeyActivate implements host.Document.
func (d *Doc) KeyActivate(_ context.Context, id host.NodeID) error {
	return d.activate(id, InertKeys)
}

// ScrollInfo implements host.Document.
func (d *Doc) ScrollInfo(_ context.Context, id host.NodeID) (host.Scroll, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return host.Scroll{}, host.ErrNodeGone
	}
	return host.Scroll{Top: n.scrollTop, Height: n.scrollHeight, ClientHeight: n.clientHeight}, nil
}

// SetScrollTop implements host.Document.
func (d *Doc) SetScrollTop(_ context.Context, id host.NodeID, top float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.live(id)
	if !ok {
		return host.ErrNodeGone
	}
	max := n.scrollHeight - n.clientHeight
	if top > max {
		top = max
	}
	if top < 0 {
		top = 0
	}
	n.scrollTop = top
	d.materialize(n)
	return nil
}

// Wheel implements host.Document. It offsets the scroll position by deltaY.
func (d *Doc) Wheel(ctx context.Context, id host.NodeID, deltaY float64) error {
	d.mu.Lock()
	n, ok := d.live(id)
	if !ok {
		d.mu.Unlock()
		return host.ErrNodeGone
	}
	top := n.scrollTop + deltaY
	d.mu.Unlock()
	return d.SetScrollTop(ctx, id, top)
}

// --- mutation subscriptions ---

type subscription struct {
	doc *Doc
	ch  chan host.Mutation
	one sync.Once
}

func (s *subscription) C() <-chan host.Mutation { return s.ch }

func (s *subscription) Close() {
	s.one.Do(func() {
		s.doc.mu.Lock()
		delete(s.doc.subs, s)
		s.doc.mu.Unlock()
		close(s.ch)
	})
}

// Observe implements host.Document.
func (d *Doc) Observe(ctx context.Context) (host.Subscription, error) {
	s := &subscription{doc: d, ch: make(chan host.Mutation, 64)}
	d.mu.Lock()
	d.subs[s] = struct{}{}
	d.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s, nil
}

// notify fans a mutation batch out to subscribers. Caller holds d.mu.
func (d *Doc) notify(m host.Mutation) {
	for s := range d.subs {
		select {
		case s.ch <- m:
		default: // subscriber is not draining; drop rather than block the tree
		}
	}
}
