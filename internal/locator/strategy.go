package locator

import (
	"strings"

	"inreach/internal/browser"
)

// Strategy is one self-contained heuristic. Find returns every candidate it
// considers a match; the chain accepts the result only when it is unique.
type Strategy struct {
	Index int
	Name  string
	Find  func(snap *browser.Snapshot, t Target) []browser.Element
}

// DefaultStrategies returns the chain in priority order.
func DefaultStrategies(floor float64) []Strategy {
	return []Strategy{
		{Index: 1, Name: "attribute", Find: byAttribute},
		{Index: 2, Name: "label", Find: byLabel},
		{Index: 3, Name: "accessible_name", Find: byAccessibleName},
		{Index: 4, Name: "anchor", Find: byAnchor},
		{Index: 5, Name: "icon", Find: byIcon},
		{Index: 6, Name: "heuristic", Find: byScore(floor)},
	}
}

func byAttribute(snap *browser.Snapshot, t Target) []browser.Element {
	if len(t.Attributes) == 0 {
		return nil
	}
	var out []browser.Element
	for _, el := range t.candidates(snap) {
		ok := true
		for _, r := range t.Attributes {
			if !r.match(el) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, el)
		}
	}
	return out
}

func byLabel(snap *browser.Snapshot, t Target) []browser.Element {
	if len(t.Labels) == 0 {
		return nil
	}
	var out []browser.Element
	for _, el := range t.candidates(snap) {
		text := normalize(el.Text)
		for _, l := range t.Labels {
			if text == normalize(l) {
				out = append(out, el)
				break
			}
		}
	}
	return out
}

func byAccessibleName(snap *browser.Snapshot, t Target) []browser.Element {
	if len(t.AccessibleNames) == 0 {
		return nil
	}
	var out []browser.Element
	for _, el := range t.candidates(snap) {
		label := el.Attr("aria-label")
		if label == "" {
			label = el.Attr("title")
		}
		if label == "" {
			continue
		}
		for _, n := range t.AccessibleNames {
			if containsFold(label, n) {
				out = append(out, el)
				break
			}
		}
	}
	return out
}

// byAnchor keeps candidates inside the anchor that mention a keyword. With
// no keywords every candidate inside the anchor qualifies.
func byAnchor(snap *browser.Snapshot, t Target) []browser.Element {
	if t.Anchor.Empty() {
		return nil
	}
	var out []browser.Element
	for _, el := range t.candidates(snap) {
		if !el.Within(t.Anchor.match) {
			continue
		}
		if len(t.Keywords) == 0 || mentions(el, t.Keywords) {
			out = append(out, el)
		}
	}
	return out
}

func byIcon(snap *browser.Snapshot, t Target) []browser.Element {
	if len(t.Icons) == 0 {
		return nil
	}
	var out []browser.Element
	for _, el := range t.candidates(snap) {
		if hasIcon(el, t.Icons) {
			out = append(out, el)
		}
	}
	return out
}

// byScore scans every candidate and keeps the single best scorer at or
// above floor. A tie for best is ambiguous and yields both.
func byScore(floor float64) func(*browser.Snapshot, Target) []browser.Element {
	return func(snap *browser.Snapshot, t Target) []browser.Element {
		var best []browser.Element
		bestScore := 0.0
		for _, el := range t.candidates(snap) {
			s := Score(el, t)
			if s < floor {
				continue
			}
			switch {
			case s > bestScore:
				best = []browser.Element{el}
				bestScore = s
			case s == bestScore:
				best = append(best, el)
			}
		}
		return best
	}
}

// Score rates how well el resembles t on a 0..1 scale.
func Score(el browser.Element, t Target) float64 {
	score := 0.0
	text := normalize(el.Text)
	name := normalize(el.AccessibleName())

	for _, l := range t.Labels {
		l = normalize(l)
		if text == l {
			score += 0.5
			break
		}
		if l != "" && strings.HasPrefix(text, l) {
			score += 0.2
			break
		}
	}
	if mentions(el, t.Keywords) {
		score += 0.4
	}
	for _, n := range t.AccessibleNames {
		if containsFold(name, n) {
			score += 0.2
			break
		}
	}
	if !t.Anchor.Empty() && el.Within(t.Anchor.match) {
		score += 0.2
	}
	if hasIcon(el, t.Icons) {
		score += 0.2
	}
	if len(t.Attributes) > 0 {
		for _, r := range t.Attributes {
			if r.match(el) {
				score += 0.1
				break
			}
		}
	}
	if el.Tag == "button" || el.Role == "button" {
		score += 0.05
	}
	if score > 1 {
		score = 1
	}
	return score
}

func mentions(el browser.Element, keywords []string) bool {
	name := el.AccessibleName()
	for _, k := range keywords {
		if containsFold(el.Text, k) || containsFold(name, k) {
			return true
		}
	}
	return false
}

func hasIcon(el browser.Element, icons []string) bool {
	for _, want := range icons {
		for _, got := range el.Icons {
			if containsFold(got, want) {
				return true
			}
		}
		for _, c := range el.Classes {
			if containsFold(c, want) && containsFold(c, "icon") {
				return true
			}
		}
	}
	return false
}
