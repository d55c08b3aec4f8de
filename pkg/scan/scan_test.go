package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/viewgroups/pkg/host"
	"github.com/germanamz/viewgroups/pkg/host/memtree"
)

// fixture builds a sidebar shaped like the host's calendar list: two labeled
// sections of checkbox items, a free-standing switch, plus items the
// acceptance predicate must reject.
type fixture struct {
	doc *memtree.Doc

	work, personal, party host.NodeID // accepted items
	workBox               host.NodeID
	holidays              host.NodeID // denylisted
	twoToggles            host.NodeID // not exactly one control
	textless              host.NodeID // no descriptive text
	weather               host.NodeID // free-standing switch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{doc: memtree.New("https://calendar.example.com/r/month")}
	doc := f.doc

	aside := doc.Append(doc.Root(), memtree.Element{Tag: "aside"})

	mine := doc.Append(aside, memtree.Element{Tag: "div", Attrs: map[string]string{"aria-label": "My calendars"}})
	f.work, f.workBox = item(doc, mine, "Work")
	f.personal, _ = item(doc, mine, "Personal")

	other := doc.Append(aside, memtree.Element{Tag: "div", Attrs: map[string]string{"aria-label": "Other calendars"}})
	f.holidays, _ = item(doc, other, "Holidays in Mexico")
	f.party, _ = item(doc, other, "Birthday party")

	f.twoToggles = doc.Append(other, memtree.Element{Tag: "li"})
	doc.Append(f.twoToggles, memtree.Element{Tag: "input", Attrs: map[string]string{"type": "checkbox"}})
	doc.Append(f.twoToggles, memtree.Element{Tag: "input", Attrs: map[string]string{"type": "checkbox"}})
	doc.Append(f.twoToggles, memtree.Element{Tag: "span", Text: "Broken twin"})

	f.textless = doc.Append(other, memtree.Element{Tag: "li"})
	doc.Append(f.textless, memtree.Element{Tag: "input", Attrs: map[string]string{"type": "checkbox"}})

	f.weather = doc.Append(aside, memtree.Element{Tag: "div", Attrs: map[string]string{
		"role": "switch", "aria-label": "Weather",
	}})
	return f
}

func item(doc *memtree.Doc, parent host.NodeID, label string) (li, box host.NodeID) {
	li = doc.Append(parent, memtree.Element{Tag: "li"})
	box = doc.Append(li, memtree.Element{Tag: "input", Attrs: map[string]string{"type": "checkbox"}})
	doc.Append(li, memtree.Element{Tag: "span", Text: label})
	return li, box
}

func TestScanUnionsStrategiesAndDedupes(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.doc, Options{}, nil)
	require.NoError(t, err)

	got, err := s.Scan(context.Background())
	require.NoError(t, err)

	// Labeled sections discover the list items first; the toggle sweep then
	// contributes the free-standing switch. Every overlapping discovery
	// collapses to one entry.
	assert.Equal(t, []host.NodeID{f.work, f.personal, f.party, f.weather}, got)
}

func TestScanIsDeterministic(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.doc, Options{}, nil)
	require.NoError(t, err)

	first, err := s.Scan(context.Background())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := s.Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAcceptPredicate(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.doc, Options{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for name, tc := range map[string]struct {
		node host.NodeID
		want bool
	}{
		"single toggle with text":  {f.work, true},
		"two toggles":              {f.twoToggles, false},
		"no descriptive text":      {f.textless, false},
		"denylisted word":          {f.holidays, false},
		"denylist is whole-word":   {f.party, true},
		"free-standing control":    {f.weather, true},
	} {
		t.Run(name, func(t *testing.T) {
			ok, err := s.Accept(ctx, tc.node)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestAcceptBoundsDescriptiveText(t *testing.T) {
	doc := memtree.New("https://calendar.example.com")
	li := doc.Append(doc.Root(), memtree.Element{Tag: "li"})
	doc.Append(li, memtree.Element{Tag: "input", Attrs: map[string]string{"type": "checkbox"}})
	doc.Append(li, memtree.Element{Tag: "span", Text: "an overly long paragraph of text"})

	s, err := New(doc, Options{MaxTextWidth: 10}, nil)
	require.NoError(t, err)

	ok, err := s.Accept(context.Background(), li)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestControl(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.doc, Options{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	c, err := s.Control(ctx, f.work)
	require.NoError(t, err)
	assert.Equal(t, f.workBox, c)

	c, err = s.Control(ctx, f.weather)
	require.NoError(t, err)
	assert.Equal(t, f.weather, c, "free-standing control is its own toggle")
}

func TestAdoptNormalizesToItemContainer(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.doc, Options{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// A mutation batch typically carries the inner control, not the item.
	got, ok, err := s.Adopt(ctx, f.workBox)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.work, got)

	// Nodes with no acceptable container around them are not adopted.
	stray := f.doc.Append(f.doc.Root(), memtree.Element{Tag: "span", Text: "stray"})
	_, ok, err = s.Adopt(ctx, stray)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanSurvivesRemovedNodes(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.doc, Options{}, nil)
	require.NoError(t, err)

	f.doc.Remove(f.personal)

	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []host.NodeID{f.work, f.party, f.weather}, got)
}
