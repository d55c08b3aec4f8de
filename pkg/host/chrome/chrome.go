// Package chrome implements host.Document over a live Chrome page via the
// DevTools protocol. Queries and reads go through an injected page bridge
// (script.go) that hands out integer element handles; interactions that need
// to look trusted to the host — pointer presses, key activation — are
// dispatched through the DevTools input domain instead of synthetic page
// events, because real hosts often ignore untrusted events.
package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/germanamz/viewgroups/pkg/host"
)

// opTimeout bounds one protocol round trip when the caller's context carries
// no deadline of its own.
const opTimeout = 10 * time.Second

// Doc is a host.Document over one Chrome tab. The tab context must come from
// chromedp.NewContext; cancelling it detaches the Doc.
type Doc struct {
	tab context.Context
}

// Attach wraps an existing chromedp tab context as a Document.
func Attach(tab context.Context) *Doc {
	return &Doc{tab: tab}
}

// run executes chromedp actions against the tab, honouring the tighter of
// the caller's deadline and the default op timeout.
func (d *Doc) run(ctx context.Context, actions ...chromedp.Action) error {
	timeout := opTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	opCtx, cancel := context.WithTimeout(d.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

// bridgeResult is the uniform reply shape of every bridge call.
type bridgeResult struct {
	Gone    bool            `json:"gone"`
	Present bool            `json:"present"`
	Value   json.RawMessage `json:"value"`
	ID      host.NodeID     `json:"id"`
	IDs     []host.NodeID   `json:"ids"`
	Top     float64         `json:"top"`
	Height  float64         `json:"height"`
	Client  float64         `json:"client"`
	X       float64         `json:"x"`
	Y       float64         `json:"y"`
}

// call ensures the bridge is installed and evaluates one bridge expression.
func (d *Doc) call(ctx context.Context, expr string) (bridgeResult, error) {
	var res bridgeResult
	err := d.run(ctx,
		chromedp.Evaluate(helperScript, nil),
		chromedp.Evaluate("__vg."+expr, &res),
	)
	if err != nil {
		return bridgeResult{}, fmt.Errorf("chrome: %s: %w", expr, err)
	}
	if res.Gone {
		return bridgeResult{}, host.ErrNodeGone
	}
	return res, nil
}

func jsArg(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func (r bridgeResult) boolValue() bool {
	var b bool
	_ = json.Unmarshal(r.Value, &b)
	return b
}

func (r bridgeResult) stringValue() string {
	var s string
	_ = json.Unmarshal(r.Value, &s)
	return s
}

func (r bridgeResult) intValue() int {
	var n int
	_ = json.Unmarshal(r.Value, &n)
	return n
}

// Location implements host.Document.
func (d *Doc) Location(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("chrome: location: %w", err)
	}
	return url, nil
}

// QueryAll implements host.Document.
func (d *Doc) QueryAll(ctx context.Context, scope host.NodeID, selector string) ([]host.NodeID, error) {
	res, err := d.call(ctx, fmt.Sprintf("queryAll(%d, %s)", scope, jsArg(selector)))
	if err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// FindText implements host.Document.
func (d *Doc) FindText(ctx context.Context, pattern string) ([]host.NodeID, error) {
	res, err := d.call(ctx, fmt.Sprintf("findText(%s)", jsArg(pattern)))
	if err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// Matches implements host.Document.
func (d *Doc) Matches(ctx context.Context, id host.NodeID, selector string) (bool, error) {
	res, err := d.call(ctx, fmt.Sprintf("matches(%d, %s)", id, jsArg(selector)))
	if err != nil {
		return false, err
	}
	return res.boolValue(), nil
}

// Closest implements host.Document.
func (d *Doc) Closest(ctx context.Context, id host.NodeID, selector string) (host.NodeID, error) {
	res, err := d.call(ctx, fmt.Sprintf("closest(%d, %s)", id, jsArg(selector)))
	if err != nil {
		return 0, err
	}
	return res.ID, nil
}

// Parent implements host.Document.
func (d *Doc) Parent(ctx context.Context, id host.NodeID) (host.NodeID, error) {
	res, err := d.call(ctx, fmt.Sprintf("parent(%d)", id))
	if err != nil {
		return 0, err
	}
	return res.ID, nil
}

// SiblingIndex implements host.Document.
func (d *Doc) SiblingIndex(ctx context.Context, id host.NodeID) (int, error) {
	res, err := d.call(ctx, fmt.Sprintf("siblingIndex(%d)", id))
	if err != nil {
		return 0, err
	}
	return res.intValue(), nil
}

// Text implements host.Document.
func (d *Doc) Text(ctx context.Context, id host.NodeID) (string, error) {
	res, err := d.call(ctx, fmt.Sprintf("text(%d)", id))
	if err != nil {
		return "", err
	}
	return res.stringValue(), nil
}

// Attr implements host.Document.
func (d *Doc) Attr(ctx context.Context, id host.NodeID, name string) (string, bool, error) {
	res, err := d.call(ctx, fmt.Sprintf("attr(%d, %s)", id, jsArg(name)))
	if err != nil {
		return "", false, err
	}
	return res.stringValue(), res.Present, nil
}

// SetAttr implements host.Document.
func (d *Doc) SetAttr(ctx context.Context, id host.NodeID, name, value string) error {
	_, err := d.call(ctx, fmt.Sprintf("setAttr(%d, %s, %s)", id, jsArg(name), jsArg(value)))
	return err
}

// BoolProp implements host.Document.
func (d *Doc) BoolProp(ctx context.Context, id host.NodeID, name string) (bool, bool, error) {
	res, err := d.call(ctx, fmt.Sprintf("boolProp(%d, %s)", id, jsArg(name)))
	if err != nil {
		return false, false, err
	}
	return res.boolValue(), res.Present, nil
}

// SetBoolProp implements host.Document.
func (d *Doc) SetBoolProp(ctx context.Context, id host.NodeID, name string, value bool) error {
	_, err := d.call(ctx, fmt.Sprintf("setBoolProp(%d, %s, %v)", id, jsArg(name), value))
	return err
}

// Click implements host.Document via the element's own click(), the primary
// activation most hosts wire their reactive logic to.
func (d *Doc) Click(ctx context.Context, id host.NodeID) error {
	_, err := d.call(ctx, fmt.Sprintf("click(%d)", id))
	return err
}

// PointerPress implements host.Document with trusted DevTools mouse events
// at the element's centre.
func (d *Doc) PointerPress(ctx context.Context, id host.NodeID) error {
	res, err := d.call(ctx, fmt.Sprintf("rect(%d)", id))
	if err != nil {
		return err
	}
	press := input.DispatchMouseEvent(input.MousePressed, res.X, res.Y).
		WithButton(input.Left).
		WithClickCount(1)
	release := input.DispatchMouseEvent(input.MouseReleased, res.X, res.Y).
		WithButton(input.Left).
		WithClickCount(1)
	if err := d.run(ctx, press, release); err != nil {
		return fmt.Errorf("chrome: pointer press: %w", err)
	}
	return nil
}

// KeyActivate implements host.Document: focus the element, then send a
// trusted Enter key press.
func (d *Doc) KeyActivate(ctx context.Context, id host.NodeID) error {
	if _, err := d.call(ctx, fmt.Sprintf("focus(%d)", id)); err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.KeyEvent("\r")); err != nil {
		return fmt.Errorf("chrome: key activate: %w", err)
	}
	return nil
}

// ScrollInfo implements host.Document.
func (d *Doc) ScrollInfo(ctx context.Context, id host.NodeID) (host.Scroll, error) {
	res, err := d.call(ctx, fmt.Sprintf("scrollInfo(%d)", id))
	if err != nil {
		return host.Scroll{}, err
	}
	return host.Scroll{Top: res.Top, Height: res.Height, ClientHeight: res.Client}, nil
}

// SetScrollTop implements host.Document.
func (d *Doc) SetScrollTop(ctx context.Context, id host.NodeID, top float64) error {
	_, err := d.call(ctx, fmt.Sprintf("setScrollTop(%d, %v)", id, top))
	return err
}

// Wheel implements host.Document.
func (d *Doc) Wheel(ctx context.Context, id host.NodeID, deltaY float64) error {
	_, err := d.call(ctx, fmt.Sprintf("wheel(%d, %v)", id, deltaY))
	return err
}

// Observe implements host.Document by polling the bridge's mutation buffer.
// The page-side MutationObserver batches added elements; the poller drains
// them into the subscription channel until ctx ends or Close is called.
func (d *Doc) Observe(ctx context.Context) (host.Subscription, error) {
	if _, err := d.call(ctx, "observe()"); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{doc: d, ch: make(chan host.Mutation, 16), cancel: cancel}
	go s.poll(subCtx)
	return s, nil
}

const drainInterval = 100 * time.Millisecond

type subscription struct {
	doc    *Doc
	ch     chan host.Mutation
	cancel context.CancelFunc
}

func (s *subscription) C() <-chan host.Mutation { return s.ch }

func (s *subscription) Close() { s.cancel() }

func (s *subscription) poll(ctx context.Context) {
	defer close(s.ch)
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Best effort; the bridge buffer is bounded by page lifetime.
			cleanup, cancel := context.WithTimeout(s.doc.tab, time.Second)
			_, _ = s.doc.call(cleanup, "unobserve()")
			cancel()
			return
		case <-ticker.C:
			res, err := s.doc.call(ctx, "drain()")
			if err != nil {
				continue
			}
			if len(res.IDs) == 0 {
				continue
			}
			select {
			case s.ch <- host.Mutation{Added: res.IDs}:
			case <-ctx.Done():
			}
		}
	}
}
