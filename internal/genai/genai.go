// Package genai provides intent classification and reply generation using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gymops/gymbuddy/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ClientInterface defines the operations the orchestrator needs from the
// classifier, so tests can substitute a fake.
type ClientInterface interface {
	ClassifyIntent(ctx context.Context, message string, isNewUser bool) (models.IntentResult, error)
	ParseBookingDetails(ctx context.Context, message string) (models.BookingDetails, error)
	GenerateReply(ctx context.Context, message string, member *models.Member) (string, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding the environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// chatService defines the minimal chat completion surface, so tests can
// substitute a stub for the real API.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI chat completion API.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

var _ ClientInterface = (*Client)(nil)

// NewClient initializes a GenAI client. The API key defaults to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: openai.ChatModelGPT4oMini}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	slog.Debug("NewClient invoked", "model", cfg.Model)
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:  &cli.Chat.Completions,
		model: cfg.Model,
	}, nil
}

// ClassifyIntent classifies the purpose of an inbound message. A keyword
// fast-path answers the common cases without an API call; everything else
// goes to the model and falls back to GENERAL when the response is unusable.
func (c *Client) ClassifyIntent(ctx context.Context, message string, isNewUser bool) (models.IntentResult, error) {
	if res, ok := classifyByKeywords(message, isNewUser); ok {
		slog.Debug("ClassifyIntent keyword fast-path", "intent", res.Intent, "confidence", res.Confidence)
		return res, nil
	}

	userPrompt := fmt.Sprintf(`Classify this gym-related message into ONE of these intents:

MESSAGE: %q

INTENTS:
- NEW_LEAD: First-time inquiry or interest in joining
- BOOKING: Wants to schedule/book a class (look for class names, dates, times)
- FAQ: Asking about price, location, hours, facilities, membership
- HUMAN_HELP: Frustrated, wants to speak to someone, complaints
- GREETING: Simple hello/hi
- WORKOUT: Asking about workout plans or exercises
- DIET: Asking about diet, meal plans, nutrition
- PROGRESS: Checking stats, progress, streak
- CANCEL: Wants to cancel a booking
- GENERAL: General fitness questions
- OFF_TOPIC: Not related to fitness/gym

Return ONLY valid JSON:
{"intent": "INTENT_NAME", "confidence": 0.0 to 1.0, "entities": {"class_name": "...", "time_description": "..."}}`, message)

	raw, err := c.complete(ctx, "You classify gym chat messages. Respond with JSON only, no prose.", userPrompt)
	if err != nil {
		slog.Error("ClassifyIntent API call failed", "error", err)
		return models.IntentResult{Intent: models.IntentGeneral, Confidence: 0.5}, nil
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Entities   struct {
			ClassName       string `json:"class_name"`
			TimeDescription string `json:"time_description"`
		} `json:"entities"`
	}
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &parsed); err != nil {
		slog.Error("ClassifyIntent JSON parse failed", "error", err, "raw", raw)
		return models.IntentResult{Intent: models.IntentGeneral, Confidence: 0.5}, nil
	}

	intent := models.Intent(parsed.Intent)
	if !isKnownIntent(intent) {
		intent = models.IntentGeneral
	}
	confidence := parsed.Confidence
	if confidence == 0 {
		confidence = 0.7
	}
	res := models.IntentResult{
		Intent:     intent,
		Confidence: confidence,
		Entities: models.BookingDetails{
			ClassName:       parsed.Entities.ClassName,
			TimeDescription: parsed.Entities.TimeDescription,
		},
	}
	slog.Debug("ClassifyIntent succeeded", "intent", res.Intent, "confidence", res.Confidence)
	return res, nil
}

// ParseBookingDetails extracts class and time entities from a natural-language
// booking request such as "yoga tomorrow at 5pm".
func (c *Client) ParseBookingDetails(ctx context.Context, message string) (models.BookingDetails, error) {
	today := time.Now()
	userPrompt := fmt.Sprintf(`Parse this booking request and extract details.

MESSAGE: %q
TODAY'S DATE: %s (%s)

Extract:
1. class_name: The type of class (yoga, hiit, spin, strength, zumba, pilates, etc.)
2. date: The date in YYYY-MM-DD format
3. time: The time in HH:MM format (24-hour)
4. time_description: Human-readable time (e.g., "tomorrow at 5 PM")

Return ONLY valid JSON:
{"class_name": "yoga", "date": "2026-01-13", "time": "17:00", "time_description": "tomorrow at 5 PM", "parsed_successfully": true}

If you cannot parse the details, return:
{"class_name": null, "date": null, "time": null, "time_description": null, "parsed_successfully": false}`,
		message, today.Format("2006-01-02"), today.Format("Monday"))

	raw, err := c.complete(ctx, "You parse gym class booking requests. Respond with JSON only, no prose.", userPrompt)
	if err != nil {
		slog.Error("ParseBookingDetails API call failed", "error", err)
		return models.BookingDetails{}, nil
	}

	var parsed struct {
		ClassName       string `json:"class_name"`
		Date            string `json:"date"`
		Time            string `json:"time"`
		TimeDescription string `json:"time_description"`
		Parsed          bool   `json:"parsed_successfully"`
	}
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &parsed); err != nil {
		slog.Error("ParseBookingDetails JSON parse failed", "error", err, "raw", raw)
		return models.BookingDetails{}, nil
	}

	details := models.BookingDetails{
		ClassName:       parsed.ClassName,
		TimeDescription: parsed.TimeDescription,
		Parsed:          parsed.Parsed,
	}
	if parsed.Parsed && parsed.Date != "" && parsed.Time != "" {
		if at, err := time.ParseInLocation("2006-01-02 15:04", parsed.Date+" "+parsed.Time, time.Local); err == nil {
			details.BookingTime = &at
		} else {
			slog.Debug("ParseBookingDetails time parse failed", "date", parsed.Date, "time", parsed.Time)
		}
	}
	slog.Debug("ParseBookingDetails succeeded", "className", details.ClassName, "parsed", details.Parsed)
	return details, nil
}

// GenerateReply produces a conversational answer grounded in the member's
// profile, used for workout, diet, and general fitness questions.
func (c *Client) GenerateReply(ctx context.Context, message string, member *models.Member) (string, error) {
	var profile strings.Builder
	if member != nil {
		fmt.Fprintf(&profile, "\nMEMBER PROFILE:\n- Name: %s", member.Name)
		if member.PrimaryGoal != "" {
			fmt.Fprintf(&profile, "\n- Goal: %s", member.PrimaryGoal)
		}
		if member.DietaryPref != "" {
			fmt.Fprintf(&profile, "\n- Dietary preference: %s", member.DietaryPref)
		}
		if member.WeightKg > 0 {
			fmt.Fprintf(&profile, "\n- Weight: %.1f kg", member.WeightKg)
		}
		if member.HeightCm > 0 {
			fmt.Fprintf(&profile, "\n- Height: %d cm", member.HeightCm)
		}
		if member.Age > 0 {
			fmt.Fprintf(&profile, "\n- Age: %d", member.Age)
		}
	}

	systemPrompt := fmt.Sprintf(`You are GymBuddy, a friendly WhatsApp assistant for a gym.
Answer fitness, workout, and nutrition questions concisely in a WhatsApp-friendly tone.
Keep replies under 150 words. Use simple formatting (asterisks for bold, no markdown headers).
Only discuss fitness, health, and gym topics. If asked about anything else, politely steer back.%s`, profile.String())

	reply, err := c.complete(ctx, systemPrompt, message)
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// stripJSONFences removes markdown code fences some models wrap around JSON.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isKnownIntent(i models.Intent) bool {
	switch i {
	case models.IntentNewLead, models.IntentBooking, models.IntentFAQ, models.IntentHumanHelp,
		models.IntentGreeting, models.IntentWorkout, models.IntentDiet, models.IntentProgress,
		models.IntentCancel, models.IntentGeneral, models.IntentOffTopic:
		return true
	default:
		return false
	}
}
