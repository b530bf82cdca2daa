package workflow

import (
	"strings"

	"inreach/internal/browser"
	"inreach/internal/locator"
)

// Containers the targets below are anchored to.
var (
	mainScope = locator.Anchor{Tags: []string{"main"}, Roles: []string{"main"}}

	topCard = locator.Anchor{Classes: []string{
		"pv-top-card",
		"pv-top-card-v2-ctas",
		"pvs-profile-actions",
		"pv-text-details__left-panel",
		"ph5",
	}}

	dialogScope = locator.Anchor{
		Tags:    []string{"dialog"},
		Roles:   []string{"dialog", "alertdialog"},
		Classes: []string{"artdeco-modal", "send-invite"},
	}

	messageScope = locator.Anchor{Classes: []string{
		"msg-overlay-conversation-bubble",
		"msg-form",
		"msg-convo-wrapper",
	}}

	menuScope = locator.Anchor{
		Roles:   []string{"menu"},
		Classes: []string{"artdeco-dropdown__content", "artdeco-dropdown__content-inner", "pvs-overflow-actions-dropdown__content"},
	}
)

// Targets are the controls the workflow looks for.
type Targets struct {
	Connect         locator.Target
	Pending         locator.Target
	Message         locator.Target
	Follow          locator.Target
	More            locator.Target
	MenuConnect     locator.Target
	AddNote         locator.Target
	NoteField       locator.Target
	Send            locator.Target
	SendWithoutNote locator.Target
	Dismiss         locator.Target

	Composer          locator.Target
	MessageSend       locator.Target
	CloseConversation locator.Target
}

// DefaultTargets describes the profile page as currently rendered.
func DefaultTargets() Targets {
	return Targets{
		Connect: locator.Target{
			Name:            "connect",
			Attributes:      []locator.AttrRule{{Name: "data-control-name", Equals: "connect"}},
			Labels:          []string{"Connect"},
			AccessibleNames: []string{"to connect"},
			Anchor:          topCard,
			Icons:           []string{"connect", "person-add"},
			Keywords:        []string{"connect"},
			Exclude:         []string{"remove connection", "connections", "disconnect"},
			Scope:           mainScope,
		},
		Pending: locator.Target{
			Name:            "pending",
			Attributes:      []locator.AttrRule{{Name: "data-control-name", Equals: "withdraw_invitation"}},
			Labels:          []string{"Pending"},
			AccessibleNames: []string{"pending, click to withdraw", "withdraw invitation"},
			Anchor:          topCard,
			Icons:           []string{"clock"},
			Keywords:        []string{"pending"},
			Scope:           mainScope,
		},
		Message: locator.Target{
			Name:            "message",
			Attributes:      []locator.AttrRule{{Name: "href", Contains: "/messaging/compose"}},
			Labels:          []string{"Message"},
			AccessibleNames: []string{"message "},
			Anchor:          topCard,
			Icons:           []string{"send-privately"},
			Keywords:        []string{"message"},
			Exclude:         []string{"messaging", "write a message"},
			Scope:           mainScope,
		},
		Follow: locator.Target{
			Name:            "follow",
			Attributes:      []locator.AttrRule{{Name: "data-control-name", Equals: "follow"}},
			Labels:          []string{"Follow", "+ Follow"},
			AccessibleNames: []string{"follow "},
			Anchor:          topCard,
			Keywords:        []string{"follow"},
			Exclude:         []string{"following", "unfollow", "followers"},
			Scope:           mainScope,
		},
		More: locator.Target{
			Name:            "more",
			Attributes:      []locator.AttrRule{{Name: "data-control-name", Equals: "overflow_menu"}},
			Labels:          []string{"More"},
			AccessibleNames: []string{"more actions"},
			Anchor:          topCard,
			Icons:           []string{"overflow"},
			Keywords:        []string{"more"},
			Scope:           mainScope,
		},
		MenuConnect: locator.Target{
			Name:            "menu_connect",
			Labels:          []string{"Connect"},
			AccessibleNames: []string{"to connect"},
			Icons:           []string{"connect", "person-add"},
			Keywords:        []string{"connect"},
			Exclude:         []string{"remove connection", "disconnect"},
			Scope:           menuScope,
		},
		AddNote: locator.Target{
			Name:            "add_note",
			Labels:          []string{"Add a note"},
			AccessibleNames: []string{"add a note"},
			Keywords:        []string{"note"},
			Exclude:         []string{"without"},
			Tags:            []string{"button"},
			Scope:           dialogScope,
		},
		NoteField: locator.Target{
			Name: "note_field",
			Attributes: []locator.AttrRule{
				{Name: "id", Equals: "custom-message"},
			},
			AccessibleNames: []string{"add a note", "message"},
			Anchor:          dialogScope,
			Tags:            []string{"textarea"},
			Scope:           dialogScope,
		},
		Send: locator.Target{
			Name:            "send",
			Attributes:      []locator.AttrRule{{Name: "aria-label", Equals: "Send invitation"}},
			Labels:          []string{"Send", "Send now", "Send invitation"},
			AccessibleNames: []string{"send invitation", "send now"},
			Keywords:        []string{"send"},
			Exclude:         []string{"without a note"},
			Tags:            []string{"button"},
			Scope:           dialogScope,
		},
		SendWithoutNote: locator.Target{
			Name:            "send_without_note",
			Labels:          []string{"Send without a note"},
			AccessibleNames: []string{"send without a note"},
			Keywords:        []string{"without a note"},
			Tags:            []string{"button"},
			Scope:           dialogScope,
		},
		Dismiss: locator.Target{
			Name:            "dismiss",
			Attributes:      []locator.AttrRule{{Name: "aria-label", Equals: "Dismiss"}},
			Labels:          []string{"Dismiss", "Cancel"},
			AccessibleNames: []string{"dismiss", "close"},
			Icons:           []string{"close"},
			Keywords:        []string{"dismiss"},
			Tags:            []string{"button"},
			Scope:           dialogScope,
		},
		Composer: locator.Target{
			Name:            "composer",
			Attributes:      []locator.AttrRule{{Name: "class", Contains: "msg-form__contenteditable"}},
			AccessibleNames: []string{"write a message"},
			Anchor:          messageScope,
			Keywords:        []string{"write a message"},
			Tags:            []string{"div", "textarea"},
			Scope:           messageScope,
		},
		MessageSend: locator.Target{
			Name:            "message_send",
			Attributes:      []locator.AttrRule{{Name: "class", Contains: "msg-form__send-button"}},
			Labels:          []string{"Send"},
			AccessibleNames: []string{"send"},
			Icons:           []string{"send-privately"},
			Keywords:        []string{"send"},
			Tags:            []string{"button"},
			Scope:           messageScope,
		},
		CloseConversation: locator.Target{
			Name:            "close_conversation",
			Attributes:      []locator.AttrRule{{Name: "class", Contains: "msg-overlay-bubble-header__control--close"}},
			AccessibleNames: []string{"close your conversation"},
			Icons:           []string{"close"},
			Tags:            []string{"button"},
			Scope:           locator.Anchor{Classes: []string{"msg-overlay-conversation-bubble", "msg-overlay-bubble-header"}},
		},
	}
}

// isFirstDegree reports whether the profile header shows a 1st-degree badge.
func isFirstDegree(snap *browser.Snapshot) bool {
	badges := snap.Filter(func(el browser.Element) bool {
		if !el.Within(func(a browser.Ancestor) bool { return topCardAncestor(a) }) {
			return false
		}
		text := strings.ToLower(strings.Join(strings.Fields(el.Text), " "))
		text = strings.TrimLeft(text, "· ")
		return text == "1st" || strings.Contains(text, "1st degree connection")
	})
	return len(badges) > 0
}

func topCardAncestor(a browser.Ancestor) bool {
	for _, c := range topCard.Classes {
		if a.HasClass(c) {
			return true
		}
	}
	return false
}

// messageDelivered reports whether the conversation now lists body as a sent
// event. Only the opening of the message is compared.
func messageDelivered(snap *browser.Snapshot, body string) bool {
	want := []rune(collapse(body))
	if len(want) > 40 {
		want = want[:40]
	}
	if len(want) == 0 {
		return false
	}
	events := snap.Filter(func(el browser.Element) bool {
		if !el.HasClass("msg-s-event-listitem") && !el.HasClass("msg-s-message-list__event") {
			return false
		}
		return strings.Contains(collapse(el.Text), string(want))
	})
	return len(events) > 0
}

func collapse(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// invitationSent reports whether the page shows a post-submit confirmation.
func invitationSent(snap *browser.Snapshot) bool {
	toasts := snap.Filter(func(el browser.Element) bool {
		if !el.HasClass("artdeco-toast-item") && el.Role != "alert" && el.Attr("aria-live") == "" {
			return false
		}
		text := strings.ToLower(el.Text)
		return strings.Contains(text, "invitation sent") || strings.Contains(text, "invitation was sent")
	})
	return len(toasts) > 0
}
