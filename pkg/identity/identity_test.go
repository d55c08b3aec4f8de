package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/viewgroups/pkg/host"
	"github.com/germanamz/viewgroups/pkg/host/memtree"
)

func TestNamePriorityLadder(t *testing.T) {
	ctx := context.Background()
	doc := memtree.New("https://example.com")

	item := doc.Append(doc.Root(), memtree.Element{Tag: "li", Attrs: map[string]string{
		"aria-label": "Team events",
		"title":      "ignored title",
	}})
	doc.Append(item, memtree.Element{Tag: "span", Text: "ignored text"})

	got, err := Resolve(ctx, doc, item, 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Team events", got.Name)
}

func TestNameFallsBackToTitleAndText(t *testing.T) {
	ctx := context.Background()
	doc := memtree.New("https://example.com")

	byTitle := doc.Append(doc.Root(), memtree.Element{Tag: "li"})
	doc.Append(byTitle, memtree.Element{Tag: "span", Attrs: map[string]string{"data-tooltip": "Holidays in Mexico"}})

	byText := doc.Append(doc.Root(), memtree.Element{Tag: "li"})
	doc.Append(byText, memtree.Element{Tag: "span", Text: "  Birthdays  "})

	bare := doc.Append(doc.Root(), memtree.Element{Tag: "li"})

	got, err := Resolve(ctx, doc, byTitle, 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Holidays in Mexico", got.Name)

	got, err = Resolve(ctx, doc, byText, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Birthdays", got.Name)

	got, err = Resolve(ctx, doc, bare, 2, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Entity 3", got.Name)
}

func TestNativeIDShortCircuitsGeneration(t *testing.T) {
	ctx := context.Background()
	doc := memtree.New("https://example.com")

	item := doc.Append(doc.Root(), memtree.Element{Tag: "li", Attrs: map[string]string{
		"data-entity-id": "cal_42",
		"aria-label":     "Work",
	}})

	got, err := Resolve(ctx, doc, item, 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, "cal_42", got.ID)
}

func TestGeneratedIDComposition(t *testing.T) {
	ctx := context.Background()
	doc := memtree.New("https://example.com")

	list := doc.Append(doc.Root(), memtree.Element{Tag: "ul"})
	doc.Append(list, memtree.Element{Tag: "li", Text: "first"})
	item := doc.Append(list, memtree.Element{Tag: "li", Attrs: map[string]string{"aria-label": "On Call"}})
	doc.Append(item, memtree.Element{Tag: "span", Text: "On Call Rotation"})

	got, err := Resolve(ctx, doc, item, 1, Options{})
	require.NoError(t, err)
	// slug(name) + truncated text fragment + sibling index
	assert.Equal(t, "on-call-on-call-rotation-1", got.ID)
}

func TestResolveIsPure(t *testing.T) {
	ctx := context.Background()
	doc := memtree.New("https://example.com")

	item := doc.Append(doc.Root(), memtree.Element{Tag: "li"})
	doc.Append(item, memtree.Element{Tag: "span", Text: "Family"})

	first, err := Resolve(ctx, doc, item, 0, Options{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Resolve(ctx, doc, item, 0, Options{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNameWidthBound(t *testing.T) {
	ctx := context.Background()
	doc := memtree.New("https://example.com")

	item := doc.Append(doc.Root(), memtree.Element{Tag: "li", Attrs: map[string]string{
		"aria-label": "0123456789",
	}})

	got, err := Resolve(ctx, doc, item, 0, Options{MaxNameWidth: 4})
	require.NoError(t, err)
	assert.Equal(t, "0123", got.Name)
}

func TestGoneNodeSurfacesError(t *testing.T) {
	ctx := context.Background()
	doc := memtree.New("https://example.com")

	item := doc.Append(doc.Root(), memtree.Element{Tag: "li", Text: "bye"})
	doc.Remove(item)

	_, err := Resolve(ctx, doc, item, 0, Options{})
	assert.ErrorIs(t, err, host.ErrNodeGone)
}
