// Package models defines the core data structures for caloriebot.
//
// It includes user profiles, conversational sessions, meal events, and the
// daily aggregate types shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Intent identifies the classified action a user's message requests.
type Intent string

const (
	IntentAddMeal              Intent = "add_meal"
	IntentUpdateMeal           Intent = "update_meal"
	IntentDeleteMeal           Intent = "delete_meal"
	IntentGetDailyProgress     Intent = "get_daily_progress"
	IntentGetMealHistory       Intent = "get_meal_history"
	IntentProfileChangeAttempt Intent = "profile_change_attempt"
	IntentGetUserProfile       Intent = "get_user_profile"
	IntentNoToolNeeded         Intent = "no_tool_needed"
)

// IsValidIntent checks if the given intent is part of the fixed intent set.
func IsValidIntent(i Intent) bool {
	switch i {
	case IntentAddMeal, IntentUpdateMeal, IntentDeleteMeal,
		IntentGetDailyProgress, IntentGetMealHistory,
		IntentProfileChangeAttempt, IntentGetUserProfile, IntentNoToolNeeded:
		return true
	default:
		return false
	}
}

// MutatesLedger reports whether the intent performs a ledger mutation.
func (i Intent) MutatesLedger() bool {
	return i == IntentAddMeal || i == IntentUpdateMeal || i == IntentDeleteMeal
}

// MessageType identifies the modality of an inbound message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeAudio MessageType = "audio"
)

// QuestionType tracks what kind of question the bot asked last turn.
type QuestionType string

const (
	QuestionNone          QuestionType = "none"
	QuestionFollowup      QuestionType = "followup_question"
	QuestionClarification QuestionType = "clarification"
)

// Validation and sizing constants.
const (
	// MaxMessageLength is the transport's per-message size limit used by the chunker.
	MaxMessageLength = 1500
	// SessionHistoryLimit bounds conversation history to the last N exchanges.
	SessionHistoryLimit = 8
	// SessionTTL is the sliding expiry for untouched sessions.
	SessionTTL = 24 * time.Hour
	// ProfileCacheTTL is the read-through profile cache expiry.
	ProfileCacheTTL = 8 * time.Hour
)

// Error variables for better error handling and testability.
var (
	ErrNoMacros      = errors.New("no parseable macros in reply")
	ErrNoRecentMeal  = errors.New("no recent meal found")
	ErrUnauthorized  = errors.New("sender not authorized")
	ErrEmptyPhone    = errors.New("phone cannot be empty")
	ErrDuplicateTurn = errors.New("inbound message already processed")
)

// Macros holds the four tracked macro quantities.
type Macros struct {
	Kcal int `json:"kcal"`
	Prot int `json:"prot"`
	Carb int `json:"carb"`
	Fat  int `json:"fat"`
}

// DefaultGoals are the fallback daily goals used when a profile has none.
var DefaultGoals = Macros{Kcal: 2000, Prot: 150, Carb: 250, Fat: 70}

// Add returns the component-wise sum of m and o.
func (m Macros) Add(o Macros) Macros {
	return Macros{Kcal: m.Kcal + o.Kcal, Prot: m.Prot + o.Prot, Carb: m.Carb + o.Carb, Fat: m.Fat + o.Fat}
}

// Sub returns the component-wise difference m - o.
func (m Macros) Sub(o Macros) Macros {
	return Macros{Kcal: m.Kcal - o.Kcal, Prot: m.Prot - o.Prot, Carb: m.Carb - o.Carb, Fat: m.Fat - o.Fat}
}

// Clamped returns m with every negative component floored at zero.
func (m Macros) Clamped() Macros {
	c := m
	if c.Kcal < 0 {
		c.Kcal = 0
	}
	if c.Prot < 0 {
		c.Prot = 0
	}
	if c.Carb < 0 {
		c.Carb = 0
	}
	if c.Fat < 0 {
		c.Fat = 0
	}
	return c
}

// IsZero reports whether all four components are zero.
func (m Macros) IsZero() bool {
	return m == Macros{}
}

// UserProfile is a user's identity, goals, and billing linkage.
// Profiles are created on checkout completion and mutated only through the
// external profile-management surface; the conversational core only reads them.
type UserProfile struct {
	Phone          string    `json:"phone"`
	FirstName      string    `json:"first_name,omitempty"`
	Email          string    `json:"email,omitempty"`
	DietPreference string    `json:"diet_preference,omitempty"`
	FitnessGoal    string    `json:"fitness_goal,omitempty"`
	ActivityLevel  string    `json:"activity_level,omitempty"`
	Goals          Macros    `json:"goals"`
	CustomerID     string    `json:"customer_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// GoalsOrDefault returns the profile goals, substituting defaults for any
// non-positive component.
func (p *UserProfile) GoalsOrDefault() Macros {
	if p == nil {
		return DefaultGoals
	}
	g := p.Goals
	if g.Kcal <= 0 {
		g.Kcal = DefaultGoals.Kcal
	}
	if g.Prot <= 0 {
		g.Prot = DefaultGoals.Prot
	}
	if g.Carb <= 0 {
		g.Carb = DefaultGoals.Carb
	}
	if g.Fat <= 0 {
		g.Fat = DefaultGoals.Fat
	}
	return g
}

// Exchange is one user-message/bot-response pair in a session's history.
type Exchange struct {
	Timestamp     time.Time   `json:"timestamp"`
	UserMessage   string      `json:"user_message"`
	BotResponse   string      `json:"bot_response"`
	MessageType   MessageType `json:"message_type"`
	QuestionAsked string      `json:"question_asked,omitempty"`
}

// Session is the ephemeral per-user conversational state. One session per
// phone; independent lifecycle from the ledger.
type Session struct {
	SessionID           string       `json:"session_id"`
	Phone               string       `json:"phone"`
	StartedAt           time.Time    `json:"started_at"`
	History             []Exchange   `json:"history"`
	LastQuestionType    QuestionType `json:"last_question_type"`
	LastQuestionContext string       `json:"last_question_context,omitempty"`
}

// MealEvent is one logged food entry. Events are immutable except for the
// macro overwrite performed by an update intent.
type MealEvent struct {
	ID          string    `json:"id"`
	UserPhone   string    `json:"user_phone"`
	Macros      Macros    `json:"macros"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyAggregate is the running per-day macro total for a user. Its Used
// field must always equal the sum of that day's non-deleted meal events.
type DailyAggregate struct {
	UserPhone string `json:"user_phone"`
	Date      string `json:"date"` // YYYY-MM-DD
	Used      Macros `json:"used"`
}

// DailyProgress joins current usage with the user's goals for rendering.
type DailyProgress struct {
	Used  Macros `json:"used"`
	Goals Macros `json:"goals"`
}

// InboundMessage is the normalized envelope received from the transport.
type InboundMessage struct {
	SenderID         string `json:"sender_id"`
	Body             string `json:"body,omitempty"`
	MediaURL         string `json:"media_url,omitempty"`
	MediaContentType string `json:"media_content_type,omitempty"`
	MessageSID       string `json:"message_sid,omitempty"`
}

// Type derives the message modality from the media content type.
func (m InboundMessage) Type() MessageType {
	switch {
	case strings.HasPrefix(m.MediaContentType, "image/"):
		return MessageTypeImage
	case strings.HasPrefix(m.MediaContentType, "audio/"):
		return MessageTypeAudio
	default:
		return MessageTypeText
	}
}

// IntentParams carries the structured payload extracted alongside an intent.
type IntentParams struct {
	// Macros holds structured macro values for update_meal, so the ledger
	// mutation never depends on re-parsing generated prose.
	Macros      *Macros `json:"macros,omitempty"`
	Description string  `json:"description,omitempty"`
	// ProfileField names the field a profile_change_attempt asked about.
	ProfileField string `json:"profile_field,omitempty"`
}

// Classification is the typed result of intent classification.
type Classification struct {
	Intent     Intent       `json:"intent"`
	Confidence float64      `json:"confidence"`
	Params     IntentParams `json:"params"`
	Reasoning  string       `json:"reasoning,omitempty"`
}
