// Package reveal forces a virtualized or lazily rendered host container to
// materialize its full contents before a scan. It is invasive — it moves
// scroll positions and provokes host reflows — so it only runs when a caller
// explicitly asks for a forced refresh. Every loop in the pass carries a hard
// wall-clock ceiling; a reveal can degrade to a partial result but can never
// hang its caller.
package reveal

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/germanamz/viewgroups/pkg/host"
	"github.com/germanamz/viewgroups/pkg/scan"
)

// Options tunes the reveal pass. Zero fields fall back to Defaults.
type Options struct {
	// Budget is the wall-clock ceiling for the entire pass.
	Budget time.Duration
	// SettleDelay is the pause after each scroll move before rescanning.
	SettleDelay time.Duration
	// FractionalOffsets are the scroll-range fractions jumped to after the
	// coarse sweep.
	FractionalOffsets []float64
	// WheelSteps is the number of simulated wheel gestures per viewport.
	WheelSteps int
	// MutationWindow bounds the post-scroll mutation-observation phase.
	MutationWindow time.Duration
	// QuietInterval is the length of one quiescence interval.
	QuietInterval time.Duration
	// QuietCount is how many consecutive mutation-free intervals end the
	// observation phase early.
	QuietCount int
	// ExpanderSelector matches collapsible section headers.
	ExpanderSelector string
	// PrimarySectionLabels name the sections whose contents we want
	// rendered; collapsed headers matching them are expanded.
	PrimarySectionLabels []string
	// SecondarySectionLabel names the section collapsed up front.
	// Collapsing it first reliably improves how much of the primary
	// section the host's virtualized list renders.
	SecondarySectionLabel string
}

// Defaults returns the reveal options used when a field is unset.
func Defaults() Options {
	return Options{
		Budget:                8 * time.Second,
		SettleDelay:           120 * time.Millisecond,
		FractionalOffsets:     []float64{0, 0.25, 0.5, 0.75, 1},
		WheelSteps:            4,
		MutationWindow:        2 * time.Second,
		QuietInterval:         250 * time.Millisecond,
		QuietCount:            3,
		ExpanderSelector:      "[aria-expanded]",
		PrimarySectionLabels:  []string{"Other calendars"},
		SecondarySectionLabel: "My calendars",
	}
}

func (o Options) withDefaults() Options {
	def := Defaults()
	if o.Budget <= 0 {
		o.Budget = def.Budget
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = def.SettleDelay
	}
	if o.FractionalOffsets == nil {
		o.FractionalOffsets = def.FractionalOffsets
	}
	if o.WheelSteps <= 0 {
		o.WheelSteps = def.WheelSteps
	}
	if o.MutationWindow <= 0 {
		o.MutationWindow = def.MutationWindow
	}
	if o.QuietInterval <= 0 {
		o.QuietInterval = def.QuietInterval
	}
	if o.QuietCount <= 0 {
		o.QuietCount = def.QuietCount
	}
	if o.ExpanderSelector == "" {
		o.ExpanderSelector = def.ExpanderSelector
	}
	if o.PrimarySectionLabels == nil {
		o.PrimarySectionLabels = def.PrimarySectionLabels
	}
	if o.SecondarySectionLabel == "" {
		o.SecondarySectionLabel = def.SecondarySectionLabel
	}
	return o
}

// Revealer runs the reveal pre-pass over one host document.
type Revealer struct {
	doc     host.Document
	scanner *scan.Scanner
	opts    Options
	log     *slog.Logger
}

// New creates a Revealer sharing the given scanner. logger may be nil.
func New(doc host.Document, scanner *scan.Scanner, opts Options, logger *slog.Logger) *Revealer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Revealer{doc: doc, scanner: scanner, opts: opts.withDefaults(), log: logger}
}

// Reveal runs the full pass and returns every accepted candidate accumulated
// along the way, in first-discovery order. A ctx or budget expiry mid-pass
// returns whatever was accumulated so far rather than an error: a partial
// reveal is still a better scan than none.
func (r *Revealer) Reveal(ctx context.Context) ([]host.NodeID, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Budget)
	defer cancel()

	acc := newAccumulator(r.scanner)

	if err := r.adjustSections(ctx); err != nil && !timedOut(err) {
		return nil, err
	}
	if err := acc.rescan(ctx); err != nil && !timedOut(err) {
		return nil, err
	}

	viewports, err := r.scrollableViewports(ctx, acc.ordered)
	if err != nil && !timedOut(err) {
		return nil, err
	}

	restore := make(map[host.NodeID]float64, len(viewports))
	for _, vp := range viewports {
		info, err := r.doc.ScrollInfo(ctx, vp)
		if err != nil {
			continue
		}
		restore[vp] = info.Top
		if err := r.sweep(ctx, vp, info, acc); err != nil && !timedOut(err) {
			r.restoreScroll(restore)
			return nil, err
		}
	}

	if err := r.observeMutations(ctx, acc); err != nil && !timedOut(err) {
		r.restoreScroll(restore)
		return nil, err
	}

	r.restoreScroll(restore)
	return acc.ordered, nil
}

// adjustSections collapses the secondary section, then expands collapsed
// headers that look entity-bearing.
func (r *Revealer) adjustSections(ctx context.Context) error {
	headers, err := r.doc.QueryAll(ctx, 0, r.opts.ExpanderSelector)
	if err != nil {
		return err
	}

	// Collapse the secondary section first; expanding afterwards gives the
	// virtualized primary list the most room to render into.
	for _, h := range headers {
		label, expanded, err := r.headerState(ctx, h)
		if err != nil {
			continue
		}
		if expanded && labelMatches(label, []string{r.opts.SecondarySectionLabel}) {
			if err := r.doc.Click(ctx, h); err != nil && !errors.Is(err, host.ErrNodeGone) {
				return err
			}
		}
	}

	for _, h := range headers {
		label, expanded, err := r.headerState(ctx, h)
		if err != nil {
			continue
		}
		if !expanded && labelMatches(label, r.opts.PrimarySectionLabels) {
			if err := r.doc.Click(ctx, h); err != nil && !errors.Is(err, host.ErrNodeGone) {
				return err
			}
		}
	}

	return host.Sleep(ctx, r.opts.SettleDelay)
}

func (r *Revealer) headerState(ctx context.Context, h host.NodeID) (label string, expanded bool, err error) {
	v, _, err := r.doc.Attr(ctx, h, "aria-expanded")
	if err != nil {
		return "", false, err
	}
	expanded = v == "true"
	if label, _, err = r.doc.Attr(ctx, h, "aria-label"); err != nil {
		return "", false, err
	}
	if strings.TrimSpace(label) == "" {
		if label, err = r.doc.Text(ctx, h); err != nil {
			return "", false, err
		}
	}
	return strings.TrimSpace(label), expanded, nil
}

// scrollableViewports walks each candidate's ancestor chain and keeps the
// ancestors that are true scrollable viewports.
func (r *Revealer) scrollableViewports(ctx context.Context, candidates []host.NodeID) ([]host.NodeID, error) {
	seen := make(map[host.NodeID]struct{})
	var out []host.NodeID
	for _, c := range candidates {
		n := c
		for {
			parent, err := r.doc.Parent(ctx, n)
			if err != nil {
				if errors.Is(err, host.ErrNodeGone) {
					break
				}
				return out, err
			}
			if parent == 0 {
				break
			}
			if _, dup := seen[parent]; !dup {
				seen[parent] = struct{}{}
				info, err := r.doc.ScrollInfo(ctx, parent)
				if err == nil && info.Scrollable() {
					out = append(out, parent)
				}
			}
			n = parent
		}
	}
	return out, nil
}

// sweep runs the bounded scroll sequence over one viewport: a coarse
// full-range sweep, fractional-offset jumps, then simulated wheel gestures,
// rescanning after every move.
func (r *Revealer) sweep(ctx context.Context, vp host.NodeID, info host.Scroll, acc *accumulator) error {
	maxTop := info.Height - info.ClientHeight
	step := info.ClientHeight * 0.8
	if step <= 0 {
		return nil
	}

	for top := 0.0; top <= maxTop+step; top += step {
		if err := r.moveAndScan(ctx, vp, top, acc); err != nil {
			return err
		}
	}

	for _, f := range r.opts.FractionalOffsets {
		if err := r.moveAndScan(ctx, vp, f*maxTop, acc); err != nil {
			return err
		}
	}

	for i := 0; i < r.opts.WheelSteps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		delta := info.ClientHeight
		if i%2 == 1 {
			delta = -delta
		}
		if err := r.doc.Wheel(ctx, vp, delta); err != nil {
			if errors.Is(err, host.ErrNodeGone) {
				return nil
			}
			return err
		}
		if err := host.Sleep(ctx, r.opts.SettleDelay); err != nil {
			return err
		}
		if err := acc.rescan(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (r *Revealer) moveAndScan(ctx context.Context, vp host.NodeID, top float64, acc *accumulator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.doc.SetScrollTop(ctx, vp, top); err != nil {
		if errors.Is(err, host.ErrNodeGone) {
			return nil
		}
		return err
	}
	if err := host.Sleep(ctx, r.opts.SettleDelay); err != nil {
		return err
	}
	return acc.rescan(ctx)
}

// observeMutations watches the tree for late-rendering entities, stopping
// after QuietCount consecutive mutation-free intervals or the window timeout,
// whichever comes first.
func (r *Revealer) observeMutations(ctx context.Context, acc *accumulator) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.MutationWindow)
	defer cancel()

	sub, err := r.doc.Observe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	ticker := time.NewTicker(r.opts.QuietInterval)
	defer ticker.Stop()

	quiet := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-sub.C():
			if !ok {
				return nil
			}
			quiet = 0
			for _, added := range m.Added {
				if err := acc.adopt(ctx, added); err != nil && !timedOut(err) {
					return err
				}
			}
		case <-ticker.C:
			quiet++
			if quiet >= r.opts.QuietCount {
				return nil
			}
		}
	}
}

// restoreScroll puts every touched viewport back where it was. It runs on a
// detached context so a spent budget cannot strand the page mid-scroll.
func (r *Revealer) restoreScroll(restore map[host.NodeID]float64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for vp, top := range restore {
		if err := r.doc.SetScrollTop(ctx, vp, top); err != nil && !errors.Is(err, host.ErrNodeGone) {
			r.log.Debug("scroll restore failed", "viewport", int64(vp), "err", err)
		}
	}
}

func timedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func labelMatches(label string, wanted []string) bool {
	for _, w := range wanted {
		if strings.EqualFold(strings.TrimSpace(label), strings.TrimSpace(w)) {
			return true
		}
	}
	return false
}

// accumulator merges scan results across reveal phases, deduplicating by node
// identity while preserving first-discovery order.
type accumulator struct {
	scanner *scan.Scanner
	seen    map[host.NodeID]struct{}
	ordered []host.NodeID
}

func newAccumulator(s *scan.Scanner) *accumulator {
	return &accumulator{scanner: s, seen: make(map[host.NodeID]struct{})}
}

func (a *accumulator) rescan(ctx context.Context) error {
	found, err := a.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	for _, n := range found {
		a.add(n)
	}
	return nil
}

func (a *accumulator) adopt(ctx context.Context, n host.NodeID) error {
	candidate, ok, err := a.scanner.Adopt(ctx, n)
	if err != nil {
		if errors.Is(err, host.ErrNodeGone) {
			return nil
		}
		return err
	}
	if ok {
		a.add(candidate)
	}
	return nil
}

func (a *accumulator) add(n host.NodeID) {
	if _, dup := a.seen[n]; dup {
		return
	}
	a.seen[n] = struct{}{}
	a.ordered = append(a.ordered, n)
}
