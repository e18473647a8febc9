package messaging

import (
	"fmt"
	"strings"

	"github.com/gymops/gymbuddy/internal/models"
)

// RenderPrompt flattens a structured prompt into plain text for transports
// that cannot send interactive messages. Buttons and list rows become
// numbered options; tapping is replaced by typing the option text or number.
func RenderPrompt(p models.Prompt) string {
	var b strings.Builder
	if p.Header != "" {
		fmt.Fprintf(&b, "*%s*\n\n", p.Header)
	}
	b.WriteString(p.Body)

	switch p.Type {
	case models.PromptTypeButtons:
		if len(p.Buttons) > 0 {
			b.WriteString("\n")
			for i, btn := range p.Buttons {
				fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
			}
			b.WriteString("\n\nReply with a number or option name.")
		}
	case models.PromptTypeList:
		n := 0
		for _, section := range p.Sections {
			fmt.Fprintf(&b, "\n\n*%s*", section.Title)
			for _, row := range section.Rows {
				n++
				fmt.Fprintf(&b, "\n%d. %s", n, row.Title)
				if row.Description != "" {
					fmt.Fprintf(&b, " (%s)", row.Description)
				}
			}
		}
		if n > 0 {
			b.WriteString("\n\nReply with a number or option name.")
		}
	}

	if p.Footer != "" {
		fmt.Fprintf(&b, "\n\n_%s_", p.Footer)
	}
	return b.String()
}

// ResolveReply maps a numeric reply against the options of the prompt it
// answers, returning the option's reply ID. Non-numeric replies and replies
// to plain text prompts pass through unchanged.
func ResolveReply(p models.Prompt, reply string) string {
	trimmed := strings.TrimSpace(reply)
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil || n < 1 {
		return reply
	}

	switch p.Type {
	case models.PromptTypeButtons:
		if n <= len(p.Buttons) {
			return p.Buttons[n-1].ID
		}
	case models.PromptTypeList:
		i := 0
		for _, section := range p.Sections {
			for _, row := range section.Rows {
				i++
				if i == n {
					return row.ID
				}
			}
		}
	}
	return reply
}
