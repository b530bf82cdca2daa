package browser

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attributes stamped onto the live DOM before a snapshot is taken.
const (
	KeyAttr    = "data-inreach-id"
	HiddenAttr = "data-inreach-hidden"
)

// Ancestor is a compact description of an enclosing element.
type Ancestor struct {
	Tag     string
	ID      string
	Role    string
	Label   string
	Classes []string
}

// HasClass reports whether the ancestor carries class c.
func (a Ancestor) HasClass(c string) bool {
	for _, cls := range a.Classes {
		if cls == c {
			return true
		}
	}
	return false
}

// Element is one DOM element as seen at snapshot time.
type Element struct {
	Index       int
	Key         string
	Tag         string
	Text        string
	Attrs       map[string]string
	Classes     []string
	Role        string
	Icons       []string
	Ancestors   []Ancestor // nearest first
	Visible     bool
	Interactive bool
}

// Attr returns the named attribute or "".
func (e Element) Attr(name string) string {
	return e.Attrs[name]
}

// HasClass reports whether the element carries class c.
func (e Element) HasClass(c string) bool {
	for _, cls := range e.Classes {
		if cls == c {
			return true
		}
	}
	return false
}

// AccessibleName approximates the name assistive technology would announce.
func (e Element) AccessibleName() string {
	for _, v := range []string{e.Attrs["aria-label"], e.Text, e.Attrs["title"], e.Attrs["value"], e.Attrs["placeholder"]} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Selector returns a CSS selector addressing this element in the live page.
func (e Element) Selector() string {
	if e.Attrs[KeyAttr] != "" {
		return fmt.Sprintf(`[%s="%s"]`, KeyAttr, e.Attrs[KeyAttr])
	}
	if id := e.Attrs["id"]; id != "" {
		return "#" + id
	}
	return ""
}

// Within reports whether any ancestor satisfies match.
func (e Element) Within(match func(Ancestor) bool) bool {
	for _, a := range e.Ancestors {
		if match(a) {
			return true
		}
	}
	return false
}

func (e Element) String() string {
	name := e.AccessibleName()
	if len(name) > 60 {
		name = name[:60] + "..."
	}
	return fmt.Sprintf("<%s key=%s> %q", e.Tag, e.Key, name)
}

// Snapshot is the DOM of a page at one instant.
type Snapshot struct {
	URL      string
	Title    string
	Elements []Element
}

// Interactive returns visible interactive elements in document order.
func (s *Snapshot) Interactive() []Element {
	var out []Element
	for _, el := range s.Elements {
		if el.Visible && el.Interactive {
			out = append(out, el)
		}
	}
	return out
}

// Filter returns visible elements satisfying keep.
func (s *Snapshot) Filter(keep func(Element) bool) []Element {
	var out []Element
	for _, el := range s.Elements {
		if el.Visible && keep(el) {
			out = append(out, el)
		}
	}
	return out
}

// ByKey finds an element by its snapshot key.
func (s *Snapshot) ByKey(key string) (Element, bool) {
	for _, el := range s.Elements {
		if el.Key == key {
			return el, true
		}
	}
	return Element{}, false
}

// HasDialog reports whether a visible modal dialog is open.
func (s *Snapshot) HasDialog() bool {
	return len(s.Dialogs()) > 0
}

// Dialogs returns visible dialog containers.
func (s *Snapshot) Dialogs() []Element {
	return s.Filter(func(el Element) bool {
		return el.Tag == "dialog" || el.Role == "dialog" || el.Role == "alertdialog" || el.HasClass("artdeco-modal")
	})
}

// ParseSnapshot builds a Snapshot from serialized HTML. Elements stamped
// with KeyAttr keep that key; others get a positional key.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	b := &snapshotBuilder{snap: &Snapshot{}}
	b.walk(doc, nil, false)
	return b.snap, nil
}

type snapshotBuilder struct {
	snap *Snapshot
}

type walkResult struct {
	text  []string
	icons []string
}

func (b *snapshotBuilder) walk(n *html.Node, ancestors []Ancestor, hidden bool) walkResult {
	var res walkResult
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" && !hidden {
			res.text = append(res.text, t)
		}
		return res
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			r := b.walk(c, ancestors, hidden)
			res.text = append(res.text, r.text...)
			res.icons = append(res.icons, r.icons...)
		}
		return res
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		if n.DataAtom == atom.Head {
			b.captureTitle(n)
		}
		return res
	}

	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	classes := strings.Fields(attrs["class"])
	selfHidden := hidden || isHidden(n.Data, attrs)

	idx := len(b.snap.Elements)
	key := attrs[KeyAttr]
	if key == "" {
		key = "n" + strconv.Itoa(idx)
	}
	// Reserve the slot so document order is preserved for parents.
	b.snap.Elements = append(b.snap.Elements, Element{})

	self := Ancestor{Tag: n.Data, ID: attrs["id"], Role: attrs["role"], Label: attrs["aria-label"], Classes: classes}
	childAncestors := make([]Ancestor, 0, len(ancestors)+1)
	childAncestors = append(childAncestors, self)
	childAncestors = append(childAncestors, ancestors...)

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r := b.walk(c, childAncestors, selfHidden)
		res.text = append(res.text, r.text...)
		res.icons = append(res.icons, r.icons...)
	}
	res.icons = append(iconTokens(n.Data, attrs), res.icons...)

	b.snap.Elements[idx] = Element{
		Index:       idx,
		Key:         key,
		Tag:         n.Data,
		Text:        strings.Join(res.text, " "),
		Attrs:       attrs,
		Classes:     classes,
		Role:        attrs["role"],
		Icons:       dedupe(res.icons),
		Ancestors:   ancestors,
		Visible:     !selfHidden,
		Interactive: isInteractive(n.Data, attrs),
	}
	return res
}

func (b *snapshotBuilder) captureTitle(head *html.Node) {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Title && c.FirstChild != nil {
			b.snap.Title = strings.TrimSpace(c.FirstChild.Data)
		}
	}
}

var interactiveRoles = map[string]bool{
	"button":           true,
	"link":             true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"checkbox":         true,
	"textbox":          true,
	"tab":              true,
	"option":           true,
}

func isInteractive(tag string, attrs map[string]string) bool {
	if _, ok := attrs["disabled"]; ok {
		return false
	}
	if attrs["aria-disabled"] == "true" {
		return false
	}
	switch tag {
	case "button", "textarea", "select":
		return true
	case "a":
		return attrs["href"] != "" || attrs["role"] != ""
	case "input":
		return !strings.EqualFold(attrs["type"], "hidden")
	}
	if interactiveRoles[attrs["role"]] {
		return true
	}
	if attrs["contenteditable"] == "true" || attrs["contenteditable"] == "" && hasAttr(attrs, "contenteditable") {
		return true
	}
	if ti, ok := attrs["tabindex"]; ok {
		if n, err := strconv.Atoi(ti); err == nil && n >= 0 {
			return true
		}
	}
	return false
}

// iconTokens extracts icon identifiers from icon-bearing elements.
func iconTokens(tag string, attrs map[string]string) []string {
	var out []string
	for _, k := range []string{"data-test-icon", "data-icon", "data-svg-class-name"} {
		if v := attrs[k]; v != "" {
			out = append(out, strings.ToLower(v))
		}
	}
	switch tag {
	case "li-icon":
		if v := attrs["type"]; v != "" {
			out = append(out, strings.ToLower(v))
		}
	case "use":
		for _, k := range []string{"href", "xlink:href"} {
			if v := attrs[k]; v != "" {
				if _, frag, ok := strings.Cut(v, "#"); ok {
					v = frag
				}
				out = append(out, strings.ToLower(v))
			}
		}
	}
	return out
}

func hasAttr(attrs map[string]string, name string) bool {
	_, ok := attrs[name]
	return ok
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
