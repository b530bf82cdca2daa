package browser

import (
	"strings"
)

// HiddenReasons lists why an element would not be visible to a user.
// An empty result means the element is considered visible on its own;
// visibility is also inherited from ancestors during snapshot parsing.
func HiddenReasons(tag string, attrs map[string]string) []string {
	var reasons []string

	if attrs[HiddenAttr] == "true" {
		reasons = append(reasons, "Hidden by computed style or zero size")
	}
	if _, ok := attrs["hidden"]; ok {
		reasons = append(reasons, "Hidden via hidden attribute")
	}
	if attrs["aria-hidden"] == "true" {
		reasons = append(reasons, "Marked as aria-hidden")
	}
	if tag == "input" && strings.EqualFold(attrs["type"], "hidden") {
		reasons = append(reasons, "Hidden input")
	}

	style := parseInlineStyle(attrs["style"])
	if style["display"] == "none" {
		reasons = append(reasons, "Hidden via display:none")
	}
	if v := style["visibility"]; v == "hidden" || v == "collapse" {
		reasons = append(reasons, "Hidden via visibility:hidden")
	}
	if v := style["opacity"]; v == "0" || v == "0.0" {
		reasons = append(reasons, "Hidden via opacity:0")
	}
	if style["pointer-events"] == "none" {
		reasons = append(reasons, "Pointer events disabled")
	}
	if offscreen(style) {
		reasons = append(reasons, "Positioned off-screen")
	}
	return reasons
}

func isHidden(tag string, attrs map[string]string) bool {
	return len(HiddenReasons(tag, attrs)) > 0
}

// parseInlineStyle reads a style attribute into lower-cased property/value pairs.
func parseInlineStyle(s string) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(s, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important"))
		out[strings.ToLower(strings.TrimSpace(prop))] = strings.ToLower(val)
	}
	return out
}

func offscreen(style map[string]string) bool {
	if style["position"] != "absolute" && style["position"] != "fixed" {
		return false
	}
	for _, side := range []string{"left", "top"} {
		if v := style[side]; strings.HasPrefix(v, "-") {
			n := strings.TrimSuffix(v, "px")
			if len(n) >= 5 { // -1000 or further
				return true
			}
		}
	}
	return false
}
