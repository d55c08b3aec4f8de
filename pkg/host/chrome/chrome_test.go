package chrome

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/viewgroups/pkg/host"
)

func chromeAvailable() bool {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	// macOS application bundle.
	if _, err := exec.LookPath("/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"); err == nil {
		return true
	}
	return false
}

func skipIfNoChrome(t *testing.T) {
	t.Helper()
	if !chromeAvailable() {
		t.Skip("Chrome/Chromium not found on PATH")
	}
}

func TestJSArg(t *testing.T) {
	assert.Equal(t, `"plain"`, jsArg("plain"))
	assert.Equal(t, `"with \"quotes\""`, jsArg(`with "quotes"`))
	// encoding/json escapes angle brackets, which keeps the argument safe
	// to inline into a page evaluation.
	assert.Equal(t, `"\u003c/script\u003e"`, jsArg("</script>"))
	assert.Equal(t, "3.5", jsArg(3.5))
}

func TestBridgeResultDecoding(t *testing.T) {
	r := bridgeResult{Value: json.RawMessage(`true`)}
	assert.True(t, r.boolValue())

	r = bridgeResult{Value: json.RawMessage(`"hello"`)}
	assert.Equal(t, "hello", r.stringValue())

	r = bridgeResult{Value: json.RawMessage(`7`)}
	assert.Equal(t, 7, r.intValue())

	// A missing value decodes to each type's zero.
	r = bridgeResult{}
	assert.False(t, r.boolValue())
	assert.Empty(t, r.stringValue())
	assert.Zero(t, r.intValue())
}

const sidebarHTML = `<!DOCTYPE html>
<html><body>
<aside>
  <div aria-label="My calendars">
    <ul>
      <li data-id="work"><input type="checkbox" checked><span>Work</span></li>
      <li data-id="personal"><input type="checkbox"><span>Personal</span></li>
    </ul>
  </div>
  <div id="pane" style="height:60px;overflow-y:scroll">
    <div style="height:400px">tall content</div>
  </div>
</aside>
</body></html>`

// newTestDoc serves html on a local server, opens it in a headless tab, and
// attaches a Doc to the tab.
func newTestDoc(t *testing.T, html string) *Doc {
	t.Helper()
	skipIfNoChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, html)
	}))
	t.Cleanup(srv.Close)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	t.Cleanup(func() {
		cancelTab()
		cancelAlloc()
	})

	runCtx, cancel := context.WithTimeout(tab, 30*time.Second)
	defer cancel()
	require.NoError(t, chromedp.Run(runCtx,
		chromedp.Navigate(srv.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	))
	return Attach(tab)
}

func TestLivePageQueriesAndReads(t *testing.T) {
	d := newTestDoc(t, sidebarHTML)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	loc, err := d.Location(ctx)
	require.NoError(t, err)
	assert.Contains(t, loc, "http://127.0.0.1")

	items, err := d.QueryAll(ctx, 0, "li")
	require.NoError(t, err)
	require.Len(t, items, 2)

	text, err := d.Text(ctx, items[0])
	require.NoError(t, err)
	assert.Equal(t, "Work", text)

	id, ok, err := d.Attr(ctx, items[0], "data-id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "work", id)

	_, ok, err = d.Attr(ctx, items[0], "data-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	idx, err := d.SiblingIndex(ctx, items[1])
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestLivePageClickTogglesCheckbox(t *testing.T) {
	d := newTestDoc(t, sidebarHTML)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	boxes, err := d.QueryAll(ctx, 0, "input[type=checkbox]")
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	v, ok, err := d.BoolProp(ctx, boxes[0], "checked")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v)

	require.NoError(t, d.Click(ctx, boxes[0]))
	v, _, err = d.BoolProp(ctx, boxes[0], "checked")
	require.NoError(t, err)
	assert.False(t, v)
}

func TestLivePageScrolling(t *testing.T) {
	d := newTestDoc(t, sidebarHTML)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	panes, err := d.QueryAll(ctx, 0, "#pane")
	require.NoError(t, err)
	require.Len(t, panes, 1)
	pane := panes[0]

	info, err := d.ScrollInfo(ctx, pane)
	require.NoError(t, err)
	assert.True(t, info.Scrollable())

	require.NoError(t, d.SetScrollTop(ctx, pane, 120))
	info, err = d.ScrollInfo(ctx, pane)
	require.NoError(t, err)
	assert.InDelta(t, 120, info.Top, 1)
}

func TestLivePageGoneHandle(t *testing.T) {
	d := newTestDoc(t, sidebarHTML)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	items, err := d.QueryAll(ctx, 0, "li")
	require.NoError(t, err)
	require.NotEmpty(t, items)

	// Detach the element behind the handle.
	require.NoError(t, chromedp.Run(d.tab, chromedp.Evaluate(`document.querySelector("li").remove()`, nil)))

	_, err = d.Text(ctx, items[0])
	assert.ErrorIs(t, err, host.ErrNodeGone)
}
