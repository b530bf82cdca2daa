package workflow

import (
	"context"
	"fmt"

	"inreach/internal/browser"
	"inreach/internal/locator"
	"inreach/internal/types"
)

// Resolution is how one target resolved on an inspected page.
type Resolution struct {
	Target   string
	Found    bool
	Strategy string
	Element  string
}

// Report is a read-only diagnosis of a profile page.
type Report struct {
	URL          string
	Title        string
	Relationship types.RelationshipStatus
	Dialog       bool
	Resolutions  []Resolution
	Candidates   []browser.Element
}

// Inspect loads url and reports how every target resolves without clicking
// anything. Used to debug selector drift.
func (w *Workflow) Inspect(ctx context.Context, d browser.Driver, url string) (*Report, error) {
	if err := d.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	snap, err := w.scan(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", url, err)
	}
	return w.Diagnose(snap), nil
}

// Diagnose builds a Report from an already captured snapshot.
func (w *Workflow) Diagnose(snap *browser.Snapshot) *Report {
	rep := &Report{
		URL:        snap.URL,
		Title:      snap.Title,
		Dialog:     snap.HasDialog(),
		Candidates: snap.Interactive(),
	}
	// classifySnapshot never touches the page when the menu is not opened.
	cls, _ := w.classifySnapshot(context.Background(), nil, snap, false)
	rep.Relationship = cls.status

	for _, t := range w.Targets.All() {
		r := Resolution{Target: t.Name}
		if m, ok := w.loc.Resolve(snap, t); ok {
			r.Found = true
			r.Strategy = fmt.Sprintf("%d:%s", m.Strategy, m.Name)
			r.Element = m.Element.String()
		}
		rep.Resolutions = append(rep.Resolutions, r)
	}
	return rep
}

// All returns every target in a stable order.
func (t Targets) All() []locator.Target {
	return []locator.Target{
		t.Connect, t.Pending, t.Message, t.Follow, t.More, t.MenuConnect,
		t.AddNote, t.NoteField, t.Send, t.SendWithoutNote, t.Dismiss,
		t.Composer, t.MessageSend, t.CloseConversation,
	}
}
