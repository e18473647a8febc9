package genai

import (
	"strings"

	"github.com/gymops/gymbuddy/internal/models"
)

// Keyword tables for the classification fast-path. These answer the common
// cases without an API round trip; anything that doesn't match cleanly goes
// to the model.
var (
	greetingWords = []string{"hi", "hello", "hey", "good morning", "good evening", "namaste", "hola"}

	escalationPhrases = []string{
		"speak to a human", "talk to a human", "speak to someone", "talk to someone",
		"real person", "manager", "complaint", "this is ridiculous", "useless",
	}

	goalWords = []string{
		"goal", "want to", "like to", "lose weight", "lose kg", "gain muscle",
		"build muscle", "get fit", "be healthy", "my target", "kilos", "kgs",
	}

	bookingWords = []string{"book", "schedule", "reserve", "slot", "join class", "sign up for"}

	faqWords = []string{
		"price", "cost", "fee", "how much", "location", "where", "address",
		"hours", "timing", "open", "close", "facilities", "membership",
	}

	cancelWords = []string{"cancel", "unbook", "remove booking"}
)

func containsAny(message string, words []string) bool {
	for _, w := range words {
		if strings.Contains(message, w) {
			return true
		}
	}
	return false
}

// classifyByKeywords handles greetings, escalations, and high-signal keyword
// matches. It reports false when the message needs model classification.
func classifyByKeywords(message string, isNewUser bool) (models.IntentResult, bool) {
	m := strings.ToLower(strings.TrimSpace(message))

	if containsAny(m, escalationPhrases) {
		return models.IntentResult{Intent: models.IntentHumanHelp, Confidence: 0.95}, true
	}

	// A bare greeting from an unknown number is a new lead; the same words
	// from a member are just a greeting. Substantive content wins over both.
	shortGreeting := containsAny(m, greetingWords) && len(strings.Fields(m)) <= 6
	if shortGreeting && !containsAny(m, goalWords) {
		if isNewUser {
			return models.IntentResult{Intent: models.IntentNewLead, Confidence: 0.9}, true
		}
		return models.IntentResult{Intent: models.IntentGreeting, Confidence: 0.8}, true
	}

	if containsAny(m, cancelWords) {
		return models.IntentResult{Intent: models.IntentCancel, Confidence: 0.85}, true
	}
	if containsAny(m, bookingWords) {
		return models.IntentResult{Intent: models.IntentBooking, Confidence: 0.85}, true
	}
	if containsAny(m, faqWords) {
		return models.IntentResult{Intent: models.IntentFAQ, Confidence: 0.85}, true
	}

	return models.IntentResult{}, false
}
