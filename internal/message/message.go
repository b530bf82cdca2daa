// Package message composes the invitation note and the direct message.
package message

import (
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"inreach/internal/types"
)

// Ceiling is the platform's hard limit on note length, in characters.
const Ceiling = 300

// MessageCeiling bounds a direct message, in characters.
const MessageCeiling = 8000

// Fields are the values available to a note template.
type Fields struct {
	FirstName    string
	Name         string
	Organization string
	Resume       string
}

// Composer renders a note template for a profile.
type Composer struct {
	tmpl   *template.Template
	limit  int
	resume string
}

// NewComposer parses text as a text/template. limit <= 0 or above Ceiling
// is clamped to Ceiling.
func NewComposer(text string, limit int) (*Composer, error) {
	return newComposer("note", text, limit, Ceiling)
}

// NewMessageComposer parses a direct-message template. Its limit is clamped
// to MessageCeiling.
func NewMessageComposer(text string, limit int) (*Composer, error) {
	return newComposer("dm", text, limit, MessageCeiling)
}

func newComposer(name, text string, limit, ceiling int) (*Composer, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	if limit <= 0 || limit > ceiling {
		limit = ceiling
	}
	return &Composer{tmpl: tmpl, limit: limit}, nil
}

// WithResume sets the link rendered as {{.Resume}}.
func (c *Composer) WithResume(link string) *Composer {
	c.resume = strings.TrimSpace(link)
	return c
}

// Compose renders the note for p and truncates it to the limit.
func (c *Composer) Compose(p types.Profile) (string, error) {
	var b strings.Builder
	err := c.tmpl.Execute(&b, Fields{
		FirstName:    p.FirstName(),
		Name:         p.DisplayName,
		Organization: p.Organization,
		Resume:       c.resume,
	})
	if err != nil {
		return "", fmt.Errorf("render message for %s: %w", p.Identifier, err)
	}
	return Truncate(b.String(), c.limit), nil
}

// Truncate cuts s to at most limit characters. Shorter text is returned
// unchanged; nothing is ever rejected.
func Truncate(s string, limit int) string {
	if limit < 0 {
		limit = 0
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
