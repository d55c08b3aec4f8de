package memtree

import (
	"fmt"
	"regexp"
	"strings"
)

// selector is a parsed comma-union of compound simple selectors. The fake
// tree only needs the subset the engine's configuration actually uses: tag,
// #id, .class, [attr], [attr=value], and * — no combinators.
type selector struct {
	alts []compound
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	name  string
	value string
	exact bool
}

var simpleSelRe = regexp.MustCompile(`^(\*|[a-zA-Z][\w-]*)?((?:#[\w-]+|\.[\w-]+|\[[^\]]+\])*)$`)

var partRe = regexp.MustCompile(`#[\w-]+|\.[\w-]+|\[[^\]]+\]`)

func parseSelector(s string) (selector, error) {
	var sel selector
	for _, alt := range strings.Split(s, ",") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		m := simpleSelRe.FindStringSubmatch(alt)
		if m == nil {
			return selector{}, fmt.Errorf("memtree: unsupported selector %q", alt)
		}
		var c compound
		if m[1] != "" && m[1] != "*" {
			c.tag = strings.ToLower(m[1])
		}
		for _, part := range partRe.FindAllString(m[2], -1) {
			switch part[0] {
			case '#':
				c.id = part[1:]
			case '.':
				c.classes = append(c.classes, part[1:])
			case '[':
				body := part[1 : len(part)-1]
				if name, val, found := strings.Cut(body, "="); found {
					val = strings.Trim(val, `"'`)
					c.attrs = append(c.attrs, attrMatch{name: strings.ToLower(name), value: val, exact: true})
				} else {
					c.attrs = append(c.attrs, attrMatch{name: strings.ToLower(body)})
				}
			}
		}
		sel.alts = append(sel.alts, c)
	}
	if len(sel.alts) == 0 {
		return selector{}, fmt.Errorf("memtree: empty selector %q", s)
	}
	return sel, nil
}

func (s selector) matches(n *node) bool {
	for _, c := range s.alts {
		if c.matches(n) {
			return true
		}
	}
	return false
}

func (c compound) matches(n *node) bool {
	if c.tag != "" && n.tag != c.tag {
		return false
	}
	if c.id != "" && n.attrs["id"] != c.id {
		return false
	}
	for _, cls := range c.classes {
		if !hasClass(n.attrs["class"], cls) {
			return false
		}
	}
	for _, a := range c.attrs {
		v, present := n.attrs[a.name]
		if !present {
			return false
		}
		if a.exact && v != a.value {
			return false
		}
	}
	return true
}

func hasClass(classAttr, class string) bool {
	for _, f := range strings.Fields(classAttr) {
		if f == class {
			return true
		}
	}
	return false
}
