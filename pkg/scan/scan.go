// Package scan discovers togglable entities in the host tree. Nothing about
// the host's markup is guaranteed, so discovery runs several independent
// heuristic strategies, unions their candidates, and filters the union
// through a single acceptance predicate. Two scans of an unchanged tree
// always produce the same accepted set, in the same order.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/germanamz/viewgroups/pkg/host"
)

// Options configures the scanner's selectors and bounds. Zero fields fall
// back to Defaults.
type Options struct {
	// ToggleSelector matches every control considered togglable.
	ToggleSelector string `yaml:"toggle_selector"`
	// ItemSelector matches the container an entity lives in.
	ItemSelector string `yaml:"item_selector"`
	// SectionLabels are the known labels of entity-bearing sections.
	SectionLabels []string `yaml:"section_labels"`
	// SectionScopeSelector bounds the container searched around a matching
	// section label text node.
	SectionScopeSelector string `yaml:"section_scope_selector"`
	// ContainerSelectors match broad navigational/sidebar containers.
	ContainerSelectors []string `yaml:"container_selectors"`
	// PatternSelectors match the host's item markup directly.
	PatternSelectors []string `yaml:"pattern_selectors"`
	// Denylist names system pseudo-items that are never entities. Matched
	// whole-word, case-insensitive, against the candidate's descriptive
	// text, label, and title.
	Denylist []string `yaml:"denylist"`
	// MaxTextWidth bounds a candidate's descriptive text in display cells.
	MaxTextWidth int `yaml:"max_text_width"`
}

// Defaults returns the scanner options used when a field is unset.
func Defaults() Options {
	return Options{
		ToggleSelector:       "input[type=checkbox],[role=checkbox],[role=switch],[role=menuitemcheckbox],[aria-pressed]",
		ItemSelector:         "li,[role=listitem],[role=option]",
		SectionLabels:        []string{"My calendars", "Other calendars"},
		SectionScopeSelector: "section,[role=region],[role=list],aside,nav,div",
		ContainerSelectors:   []string{"nav", "aside", "[role=navigation]", "[role=complementary]"},
		PatternSelectors:     []string{"[data-entity-item]", "li[draggable=true]"},
		Denylist:             []string{"tasks", "reminders", "holidays", "birthdays"},
		MaxTextWidth:         120,
	}
}

func (o Options) withDefaults() Options {
	def := Defaults()
	if o.ToggleSelector == "" {
		o.ToggleSelector = def.ToggleSelector
	}
	if o.ItemSelector == "" {
		o.ItemSelector = def.ItemSelector
	}
	if o.SectionLabels == nil {
		o.SectionLabels = def.SectionLabels
	}
	if o.SectionScopeSelector == "" {
		o.SectionScopeSelector = def.SectionScopeSelector
	}
	if o.ContainerSelectors == nil {
		o.ContainerSelectors = def.ContainerSelectors
	}
	if o.PatternSelectors == nil {
		o.PatternSelectors = def.PatternSelectors
	}
	if o.Denylist == nil {
		o.Denylist = def.Denylist
	}
	if o.MaxTextWidth <= 0 {
		o.MaxTextWidth = def.MaxTextWidth
	}
	return o
}

// Scanner runs discovery strategies over one host document.
type Scanner struct {
	doc    host.Document
	opts   Options
	deny   *regexp.Regexp
	labels *regexp.Regexp
	log    *slog.Logger
}

// New creates a Scanner. logger may be nil.
func New(doc host.Document, opts Options, logger *slog.Logger) (*Scanner, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	deny, err := wordListRegexp(opts.Denylist)
	if err != nil {
		return nil, fmt.Errorf("scan: denylist: %w", err)
	}
	labels, err := labelRegexp(opts.SectionLabels)
	if err != nil {
		return nil, fmt.Errorf("scan: section labels: %w", err)
	}

	return &Scanner{doc: doc, opts: opts, deny: deny, labels: labels, log: logger}, nil
}

// Scan runs every strategy in order, unions the candidates, and returns the
// accepted set in first-discovery order.
func (s *Scanner) Scan(ctx context.Context) ([]host.NodeID, error) {
	seen := make(map[host.NodeID]struct{})
	var accepted []host.NodeID

	for _, strat := range s.strategies() {
		found, err := strat.run(ctx)
		if err != nil {
			// A strategy failing wholesale (bad selector, detached
			// scope) must not sink the scan; the others still run.
			s.log.Warn("scan strategy failed", "strategy", strat.name, "err", err)
			continue
		}
		for _, n := range found {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			ok, err := s.Accept(ctx, n)
			if err != nil {
				if errors.Is(err, host.ErrNodeGone) {
					continue
				}
				return nil, err
			}
			if ok {
				accepted = append(accepted, n)
			}
		}
	}

	return accepted, nil
}

// Accept applies the acceptance predicate: the candidate must contain exactly
// one togglable control (itself included), carry non-empty bounded
// descriptive text, and not name a denylisted system pseudo-item.
func (s *Scanner) Accept(ctx context.Context, n host.NodeID) (bool, error) {
	count, err := s.toggleCount(ctx, n)
	if err != nil {
		return false, err
	}
	if count != 1 {
		return false, nil
	}

	text, err := s.descriptiveText(ctx, n)
	if err != nil {
		return false, err
	}
	if text == "" || runewidth.StringWidth(text) > s.opts.MaxTextWidth {
		return false, nil
	}

	denied, err := s.denied(ctx, n, text)
	if err != nil {
		return false, err
	}
	return !denied, nil
}

// Control returns the candidate's single togglable control: the candidate
// itself when it matches the toggle selector, otherwise its one matching
// descendant. Callers pass nodes that already passed Accept.
func (s *Scanner) Control(ctx context.Context, n host.NodeID) (host.NodeID, error) {
	self, err := s.doc.Matches(ctx, n, s.opts.ToggleSelector)
	if err != nil {
		return 0, err
	}
	if self {
		return n, nil
	}
	kids, err := s.doc.QueryAll(ctx, n, s.opts.ToggleSelector)
	if err != nil {
		return 0, err
	}
	if len(kids) == 0 {
		return 0, fmt.Errorf("scan: candidate %d has no togglable control", n)
	}
	return kids[0], nil
}

// Adopt normalizes an arbitrary node — typically one that just appeared in a
// mutation batch — to an accepted candidate: the node itself when it passes
// the predicate, otherwise its nearest item container when that does.
func (s *Scanner) Adopt(ctx context.Context, n host.NodeID) (host.NodeID, bool, error) {
	ok, err := s.Accept(ctx, n)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return n, true, nil
	}
	container, err := s.doc.Closest(ctx, n, s.opts.ItemSelector)
	if err != nil || container == 0 || container == n {
		return 0, false, err
	}
	ok, err = s.Accept(ctx, container)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	return container, true, nil
}

func (s *Scanner) toggleCount(ctx context.Context, n host.NodeID) (int, error) {
	count := 0
	self, err := s.doc.Matches(ctx, n, s.opts.ToggleSelector)
	if err != nil {
		return 0, err
	}
	if self {
		count++
	}
	kids, err := s.doc.QueryAll(ctx, n, s.opts.ToggleSelector)
	if err != nil {
		return 0, err
	}
	return count + len(kids), nil
}

// descriptiveText is the text an entity shows a user: rendered text first,
// accessible label or title when the markup is icon-only.
func (s *Scanner) descriptiveText(ctx context.Context, n host.NodeID) (string, error) {
	t, err := s.doc.Text(ctx, n)
	if err != nil {
		return "", err
	}
	if t = strings.TrimSpace(t); t != "" {
		return t, nil
	}
	for _, attr := range []string{"aria-label", "title"} {
		v, ok, err := s.doc.Attr(ctx, n, attr)
		if err != nil {
			return "", err
		}
		if ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", nil
}

// denied checks the denylist against the candidate's text, label, and title.
// Whole-word matching: "Holidays in Ireland" is denied, "Birthday party"
// is not ("birthdays" does not occur as a word).
func (s *Scanner) denied(ctx context.Context, n host.NodeID, text string) (bool, error) {
	if s.deny.MatchString(text) {
		return true, nil
	}
	for _, attr := range []string{"aria-label", "title"} {
		v, ok, err := s.doc.Attr(ctx, n, attr)
		if err != nil {
			return false, err
		}
		if ok && s.deny.MatchString(v) {
			return true, nil
		}
	}
	return false, nil
}

// wordListRegexp builds a case-insensitive whole-word matcher for the list.
func wordListRegexp(words []string) (*regexp.Regexp, error) {
	if len(words) == 0 {
		return regexp.Compile(`\A\z.`) // matches nothing
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// labelRegexp builds an exact, case-insensitive matcher for section labels.
func labelRegexp(labels []string) (*regexp.Regexp, error) {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = regexp.QuoteMeta(l)
	}
	return regexp.Compile(`(?i)^\s*(?:` + strings.Join(quoted, "|") + `)\s*$`)
}
