// Package intent classifies inbound messages into the fixed intent set.
//
// Classification is LLM-first with a deterministic keyword fallback, so a
// model outage degrades accuracy rather than availability. The classifier is
// stateless between calls; conversational context arrives as explicit inputs.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iqcalorie/caloriebot/internal/genai"
	"github.com/iqcalorie/caloriebot/internal/models"
)

const (
	// imageConfidence applies to the image short-circuit: a food photo is an
	// add_meal without consulting the model.
	imageConfidence = 0.95
	// fallbackConfidence marks classifications produced by the keyword
	// fallback rather than the model.
	fallbackConfidence = 0.4
	// followupConfidence applies when a bare yes/no answers the bot's open
	// question from the previous turn.
	followupConfidence = 0.9

	classifyMaxTokens = 300
)

const systemPrompt = `You are an intent classifier for a nutrition tracking assistant.
Classify the user's message into exactly one intent:

- add_meal: the user reports eating or drinking something
- update_meal: the user corrects or adjusts the meal they just logged
- delete_meal: the user asks to remove the meal they just logged
- get_daily_progress: the user asks how they are doing today (calories, macros, progress)
- get_meal_history: the user asks what they have eaten recently
- profile_change_attempt: the user tries to change goals, diet, or personal settings
- get_user_profile: the user asks about their own profile or goals
- no_tool_needed: greetings, questions, chit-chat, or anything else

Respond with ONLY a JSON object:
{"intent": "...", "confidence": 0.0-1.0, "params": {"macros": {"kcal": 0, "prot": 0, "carb": 0, "fat": 0} or null, "description": "...", "profile_field": "..."}, "reasoning": "one short sentence"}

For update_meal, params.macros MUST contain the corrected absolute macro values for the whole meal.
For add_meal, params.description is a short name for the food. Omit fields that do not apply.`

// Input is everything the classifier may consider for one message.
type Input struct {
	Text             string
	MessageType      models.MessageType
	ResolvesQuestion bool
	History          []models.Exchange
	// Profile gives the model the user's context; "change my goal" reads
	// differently from a user whose goal is already what they ask for.
	Profile *models.UserProfile
}

// Classifier maps messages to intents.
type Classifier struct {
	llm genai.ClientInterface
}

// NewClassifier creates a classifier backed by the given model client.
func NewClassifier(llm genai.ClientInterface) *Classifier {
	return &Classifier{llm: llm}
}

// Classify determines the intent of a message. It always returns a valid
// classification; model failures downgrade to the keyword fallback.
func (c *Classifier) Classify(ctx context.Context, in Input) models.Classification {
	// A photo is food until proven otherwise. Vision analysis happens later
	// in the turn; classification does not wait for it.
	if in.MessageType == models.MessageTypeImage {
		return models.Classification{
			Intent:     models.IntentAddMeal,
			Confidence: imageConfidence,
			Reasoning:  "image message",
		}
	}

	// A bare yes/no that answers the bot's open question is conversation,
	// not a new tool request.
	if in.ResolvesQuestion {
		return models.Classification{
			Intent:     models.IntentNoToolNeeded,
			Confidence: followupConfidence,
			Reasoning:  "answers previous question",
		}
	}

	cls, err := c.classifyLLM(ctx, in)
	if err != nil {
		slog.Warn("Classifier falling back to keywords", "error", err)
		return classifyKeywords(in.Text)
	}
	return cls
}

func (c *Classifier) classifyLLM(ctx context.Context, in Input) (models.Classification, error) {
	system := systemPrompt
	if summary := profileSummary(in.Profile); summary != "" {
		system += "\n\n" + summary
	}
	req := genai.CompletionRequest{
		System:      system,
		MaxTokens:   classifyMaxTokens,
		Temperature: genai.DefaultTemperature,
		JSONMode:    true,
	}
	// Recent history helps disambiguate corrections ("make that 3 eggs").
	for _, ex := range tail(in.History, 4) {
		req.Messages = append(req.Messages,
			genai.Message{Role: "user", Text: ex.UserMessage},
			genai.Message{Role: "assistant", Text: ex.BotResponse},
		)
	}
	req.Messages = append(req.Messages, genai.Message{Role: "user", Text: in.Text})

	raw, err := c.llm.Complete(ctx, req)
	if err != nil {
		return models.Classification{}, err
	}

	var cls models.Classification
	if err := json.Unmarshal([]byte(stripFences(raw)), &cls); err != nil {
		return models.Classification{}, fmt.Errorf("unparseable classifier reply: %w", err)
	}
	if !models.IsValidIntent(cls.Intent) {
		return models.Classification{}, fmt.Errorf("unknown intent %q", cls.Intent)
	}
	if cls.Intent == models.IntentUpdateMeal && (cls.Params.Macros == nil || cls.Params.Macros.IsZero()) {
		// An update without corrected values cannot drive a ledger mutation.
		return models.Classification{}, fmt.Errorf("update_meal missing corrected macros")
	}
	if cls.Confidence <= 0 || cls.Confidence > 1 {
		cls.Confidence = fallbackConfidence
	}
	slog.Debug("Classifier classified message", "intent", cls.Intent, "confidence", cls.Confidence)
	return cls, nil
}

// profileSummary condenses the user's profile into one prompt line.
func profileSummary(p *models.UserProfile) string {
	if p == nil {
		return ""
	}
	var parts []string
	if p.FirstName != "" {
		parts = append(parts, fmt.Sprintf("name %s", p.FirstName))
	}
	goals := p.GoalsOrDefault()
	parts = append(parts, fmt.Sprintf("daily goals %d kcal / %dg protein / %dg carbs / %dg fat",
		goals.Kcal, goals.Prot, goals.Carb, goals.Fat))
	if p.DietPreference != "" {
		parts = append(parts, fmt.Sprintf("diet %s", p.DietPreference))
	}
	if p.FitnessGoal != "" {
		parts = append(parts, fmt.Sprintf("fitness goal %s", p.FitnessGoal))
	}
	return "User profile: " + strings.Join(parts, ", ") + "."
}

// stripFences removes a markdown code fence the model sometimes wraps JSON in.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func tail(history []models.Exchange, n int) []models.Exchange {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
