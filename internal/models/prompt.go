// Package models defines the structured outbound prompts GymBuddy produces.
//
// The bot never renders wire formats itself; the messaging layer flattens
// these into whatever its transport supports.
package models

// PromptType defines the shape of an outbound prompt.
type PromptType string

const (
	// PromptTypeText is a plain text reply.
	PromptTypeText PromptType = "text"
	// PromptTypeButtons is a reply with a small set of tappable buttons.
	PromptTypeButtons PromptType = "buttons"
	// PromptTypeList is a reply with a sectioned selection list.
	PromptTypeList PromptType = "list"
)

// Button is a single tappable option on a buttons prompt.
type Button struct {
	ID    string `json:"id"`    // reply payload when tapped
	Title string `json:"title"` // label shown to the user
}

// ListRow is a selectable row inside a list section.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a heading (typically one section per day).
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// Prompt is an outbound reply: plain text, buttons, or a selection list.
type Prompt struct {
	Type       PromptType    `json:"type"`
	Header     string        `json:"header,omitempty"`
	Body       string        `json:"body"`
	Footer     string        `json:"footer,omitempty"`
	Buttons    []Button      `json:"buttons,omitempty"`
	ButtonText string        `json:"button_text,omitempty"` // list open-button label
	Sections   []ListSection `json:"sections,omitempty"`
}

// Text builds a plain text prompt.
func Text(body string) Prompt {
	return Prompt{Type: PromptTypeText, Body: body}
}

// Buttons builds a buttons prompt.
func Buttons(body string, buttons ...Button) Prompt {
	return Prompt{Type: PromptTypeButtons, Body: body, Buttons: buttons}
}
