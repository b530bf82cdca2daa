// Package locator resolves a semantic target to one interactive element
// through an ordered chain of independent strategies.
package locator

import (
	"strings"

	"inreach/internal/browser"
)

// AttrRule matches one element attribute. Exactly one of Equals, Prefix or
// Contains is normally set; an empty rule matches presence.
type AttrRule struct {
	Name     string
	Equals   string
	Prefix   string
	Contains string
}

func (r AttrRule) match(el browser.Element) bool {
	v, ok := el.Attrs[r.Name]
	if !ok {
		return false
	}
	switch {
	case r.Equals != "":
		return strings.EqualFold(v, r.Equals)
	case r.Prefix != "":
		return strings.HasPrefix(strings.ToLower(v), strings.ToLower(r.Prefix))
	case r.Contains != "":
		return containsFold(v, r.Contains)
	}
	return true
}

// Anchor describes a container whose descendants are the structural
// search space, e.g. the profile header card or an open dialog.
type Anchor struct {
	IDs     []string
	Classes []string
	Roles   []string
	Tags    []string
	Labels  []string // aria-label substrings
}

// Empty reports whether the anchor matches nothing.
func (a Anchor) Empty() bool {
	return len(a.IDs) == 0 && len(a.Classes) == 0 && len(a.Roles) == 0 && len(a.Tags) == 0 && len(a.Labels) == 0
}

func (a Anchor) match(an browser.Ancestor) bool {
	for _, id := range a.IDs {
		if an.ID == id {
			return true
		}
	}
	for _, c := range a.Classes {
		if an.HasClass(c) {
			return true
		}
	}
	for _, r := range a.Roles {
		if an.Role == r {
			return true
		}
	}
	for _, t := range a.Tags {
		if an.Tag == t {
			return true
		}
	}
	for _, l := range a.Labels {
		if an.Label != "" && containsFold(an.Label, l) {
			return true
		}
	}
	return false
}

// Target is a semantic description of the control to find.
type Target struct {
	Name string

	// Attributes are stable attribute/role selectors; all must match.
	Attributes []AttrRule
	// Labels are exact visible texts, compared case-insensitively.
	Labels []string
	// AccessibleNames are substrings of the accessible name.
	AccessibleNames []string
	// Anchor bounds the structural strategy; Keywords pick within it.
	Anchor Anchor
	// Icons are icon tokens found on or inside the control.
	Icons []string
	// Keywords feed the structural and scoring strategies.
	Keywords []string
	// Exclude drops candidates whose name contains any of these.
	Exclude []string
	// Tags restricts candidate tags; empty allows any interactive tag.
	Tags []string
	// Scope restricts every strategy to descendants of this container.
	Scope Anchor
}

// candidates returns the visible interactive elements eligible for t.
func (t Target) candidates(snap *browser.Snapshot) []browser.Element {
	var out []browser.Element
	for _, el := range snap.Interactive() {
		if len(t.Tags) > 0 && !oneOf(el.Tag, t.Tags) {
			continue
		}
		if !t.Scope.Empty() && !el.Within(t.Scope.match) {
			continue
		}
		if t.excluded(el) {
			continue
		}
		out = append(out, el)
	}
	return out
}

func (t Target) excluded(el browser.Element) bool {
	name := el.AccessibleName()
	for _, x := range t.Exclude {
		if containsFold(name, x) || containsFold(el.Text, x) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
