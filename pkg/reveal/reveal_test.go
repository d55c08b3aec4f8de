package reveal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/viewgroups/pkg/host"
	"github.com/germanamz/viewgroups/pkg/host/memtree"
	"github.com/germanamz/viewgroups/pkg/scan"
)

// fast shrinks every pause so a full pass completes in a few milliseconds.
var fast = Options{
	Budget:         2 * time.Second,
	SettleDelay:    time.Millisecond,
	MutationWindow: 300 * time.Millisecond,
	QuietInterval:  20 * time.Millisecond,
	QuietCount:     2,
}

func newRevealer(t *testing.T, doc *memtree.Doc, opts Options) *Revealer {
	t.Helper()
	s, err := scan.New(doc, scan.Options{}, nil)
	require.NoError(t, err)
	return New(doc, s, opts, nil)
}

// virtualizedList builds a sidebar whose entity list only materializes the
// items inside its viewport, five at a time out of twenty.
func virtualizedList(doc *memtree.Doc, n int) host.NodeID {
	aside := doc.Append(doc.Root(), memtree.Element{Tag: "aside"})
	list := doc.Append(aside, memtree.Element{Tag: "ul"})
	items := make([]*memtree.Element, n)
	for i := range items {
		items[i] = &memtree.Element{
			Tag:   "li",
			Text:  fmt.Sprintf("Calendar %02d", i),
			Attrs: map[string]string{"role": "checkbox", "aria-checked": "true"},
		}
	}
	doc.Virtualize(list, 100, 20, items)
	return list
}

func TestRevealMaterializesVirtualizedItems(t *testing.T) {
	doc := memtree.New("https://calendar.example.com")
	list := virtualizedList(doc, 20)
	r := newRevealer(t, doc, fast)
	ctx := context.Background()

	// A plain scan only sees the realized window.
	s, err := scan.New(doc, scan.Options{}, nil)
	require.NoError(t, err)
	before, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Less(t, len(before), 20)

	got, err := r.Reveal(ctx)
	require.NoError(t, err)

	// Every virtual item materialized at least once along the sweep. Items
	// that scrolled back out are stale handles now, but they were seen.
	assert.GreaterOrEqual(t, len(got), 20)

	info, err := doc.ScrollInfo(ctx, list)
	require.NoError(t, err)
	assert.Equal(t, 0.0, info.Top, "viewport back at its original offset")
}

func TestRevealRestoresNonZeroScrollOffset(t *testing.T) {
	doc := memtree.New("https://calendar.example.com")
	list := virtualizedList(doc, 20)
	ctx := context.Background()
	require.NoError(t, doc.SetScrollTop(ctx, list, 60))

	r := newRevealer(t, doc, fast)
	_, err := r.Reveal(ctx)
	require.NoError(t, err)

	info, err := doc.ScrollInfo(ctx, list)
	require.NoError(t, err)
	assert.Equal(t, 60.0, info.Top)
}

func TestRevealAdjustsSectionHeaders(t *testing.T) {
	doc := memtree.New("https://calendar.example.com")
	ctx := context.Background()
	aside := doc.Append(doc.Root(), memtree.Element{Tag: "aside"})

	secondary := doc.Append(aside, memtree.Element{Tag: "div", Attrs: map[string]string{
		"aria-label": "My calendars", "aria-expanded": "true",
	}})
	primary := doc.Append(aside, memtree.Element{Tag: "div", Attrs: map[string]string{
		"aria-label": "Other calendars", "aria-expanded": "false",
	}})
	unrelated := doc.Append(aside, memtree.Element{Tag: "div", Attrs: map[string]string{
		"aria-label": "Search", "aria-expanded": "false",
	}})

	r := newRevealer(t, doc, fast)
	_, err := r.Reveal(ctx)
	require.NoError(t, err)

	v, _, err := doc.Attr(ctx, secondary, "aria-expanded")
	require.NoError(t, err)
	assert.Equal(t, "false", v, "secondary section collapsed up front")

	v, _, err = doc.Attr(ctx, primary, "aria-expanded")
	require.NoError(t, err)
	assert.Equal(t, "true", v, "collapsed primary section expanded")

	v, _, err = doc.Attr(ctx, unrelated, "aria-expanded")
	require.NoError(t, err)
	assert.Equal(t, "false", v, "unrelated headers left alone")
}

func TestRevealObservesLateRenderedItems(t *testing.T) {
	doc := memtree.New("https://calendar.example.com")
	aside := doc.Append(doc.Root(), memtree.Element{Tag: "aside"})
	ul := doc.Append(aside, memtree.Element{Tag: "ul"})

	opts := fast
	opts.MutationWindow = time.Second
	opts.QuietInterval = 60 * time.Millisecond
	opts.QuietCount = 3
	r := newRevealer(t, doc, opts)

	go func() {
		time.Sleep(50 * time.Millisecond)
		li := doc.Append(ul, memtree.Element{Tag: "li"})
		doc.Append(li, memtree.Element{Tag: "input", Attrs: map[string]string{"type": "checkbox"}})
		doc.Append(li, memtree.Element{Tag: "span", Text: "Late arrival"})
	}()

	got, err := r.Reveal(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	text, err := doc.Text(context.Background(), got[0])
	require.NoError(t, err)
	assert.Equal(t, "Late arrival", text)
}

func TestRevealSpentBudgetReturnsPartialResult(t *testing.T) {
	doc := memtree.New("https://calendar.example.com")
	virtualizedList(doc, 20)

	tight := fast
	tight.Budget = time.Millisecond
	tight.SettleDelay = 50 * time.Millisecond
	r := newRevealer(t, doc, tight)

	start := time.Now()
	got, err := r.Reveal(context.Background())
	require.NoError(t, err, "budget expiry degrades to a partial result")
	assert.Less(t, time.Since(start), time.Second)
	assert.NotEmpty(t, got, "the initial scan still lands")
}

func TestRevealCanceledContext(t *testing.T) {
	doc := memtree.New("https://calendar.example.com")
	virtualizedList(doc, 20)
	r := newRevealer(t, doc, fast)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reveal(ctx)
	require.NoError(t, err, "cancellation mid-pass is not an error")
}
