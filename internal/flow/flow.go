// Package flow orchestrates one conversational turn end to end.
//
// A turn runs: authorize, deduplicate, normalize the modality, classify,
// mutate the ledger, synthesize a reply, render progress bars, chunk. Each
// inbound message is handled independently; all shared state lives in the
// store and the KV.
package flow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iqcalorie/caloriebot/internal/genai"
	"github.com/iqcalorie/caloriebot/internal/intent"
	"github.com/iqcalorie/caloriebot/internal/ledger"
	"github.com/iqcalorie/caloriebot/internal/macro"
	"github.com/iqcalorie/caloriebot/internal/models"
	"github.com/iqcalorie/caloriebot/internal/session"
)

// ProfileSource yields the authenticated profile for a sender, nil when the
// sender is unknown.
type ProfileSource interface {
	Get(ctx context.Context, phone string) *models.UserProfile
}

// MediaFetcher retrieves inbound media bytes and their content type.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// Deps collects the collaborators a Flow needs.
type Deps struct {
	Profiles   ProfileSource
	Sessions   *session.Store
	Classifier *intent.Classifier
	Ledger     *ledger.Ledger
	LLM        genai.ClientInterface
	Abuse      *AbuseTracker
	Media      MediaFetcher

	DashboardURL string
	SupportEmail string
}

// Flow processes conversational turns.
type Flow struct {
	profiles   ProfileSource
	sessions   *session.Store
	classifier *intent.Classifier
	ledger     *ledger.Ledger
	llm        genai.ClientInterface
	abuse      *AbuseTracker
	media      MediaFetcher
	commands   commandHandler
	now        func() time.Time
}

// NewFlow wires a turn processor from its dependencies.
func NewFlow(d Deps) *Flow {
	if d.SupportEmail == "" {
		d.SupportEmail = "support@iqcalorie.com"
	}
	return &Flow{
		profiles:   d.Profiles,
		sessions:   d.Sessions,
		classifier: d.Classifier,
		ledger:     d.Ledger,
		llm:        d.LLM,
		abuse:      d.Abuse,
		media:      d.Media,
		commands:   commandHandler{dashboardURL: d.DashboardURL, supportEmail: d.SupportEmail},
		now:        time.Now,
	}
}

// ImagePreAck is the immediate acknowledgement sent while a photo is being
// analyzed, so the user is not staring at a silent chat during the model call.
func ImagePreAck() string {
	return imagePreAck()
}

// ProcessTurn handles one inbound message and returns the reply chunks in
// send order. ErrUnauthorized and ErrDuplicateTurn mean no reply at all.
func (f *Flow) ProcessTurn(ctx context.Context, in models.InboundMessage) ([]string, error) {
	phone := in.SenderID

	prof := f.profiles.Get(ctx, phone)
	if prof == nil {
		// Unknown senders get silence. Any reply confirms the number is live.
		f.abuse.Record(ctx, phone)
		return nil, models.ErrUnauthorized
	}

	if err := f.ledger.BeginTurn(in.MessageSID, phone); err != nil {
		return nil, err
	}

	sess := f.sessions.Load(ctx, phone)
	body := strings.TrimSpace(in.Body)
	msgType := in.Type()

	if msgType == models.MessageTypeAudio {
		text, err := f.transcribe(ctx, in)
		if err != nil && body == "" {
			// Nothing usable to classify; apologize instead of guessing.
			return f.finishTurn(ctx, prof, sess, body, msgType, fallbackReply()), nil
		}
		if err == nil {
			body = text
		}
	}

	if reply, ok := f.commands.handle(body); ok {
		return f.finishTurn(ctx, prof, sess, body, msgType, reply), nil
	}

	cls := f.classifier.Classify(ctx, intent.Input{
		Text:             body,
		MessageType:      msgType,
		ResolvesQuestion: session.ResolvesLastQuestion(sess, body),
		History:          sess.History,
		Profile:          prof,
	})
	slog.Info("Flow processing turn", "phone", phone, "type", msgType, "intent", cls.Intent, "confidence", cls.Confidence)

	reply := f.dispatch(ctx, prof, sess, cls, in, body)
	return f.finishTurn(ctx, prof, sess, body, msgType, reply), nil
}

// finishTurn performs the shared tail of every answered turn: placeholder
// substitution against post-mutation totals, session append, chunking.
func (f *Flow) finishTurn(ctx context.Context, prof *models.UserProfile, sess *models.Session, body string, msgType models.MessageType, reply string) []string {
	if hasBarsPlaceholder(reply) {
		progress, err := f.ledger.DailyProgress(prof.Phone, prof)
		if err != nil {
			slog.Error("Flow failed to render progress", "error", err, "phone", prof.Phone)
			progress = models.DailyProgress{Goals: prof.GoalsOrDefault()}
		}
		reply = substituteBars(reply, progress)
	}

	f.sessions.AppendExchange(sess, models.Exchange{
		Timestamp:     f.now(),
		UserMessage:   body,
		BotResponse:   reply,
		MessageType:   msgType,
		QuestionAsked: extractQuestion(reply),
	})
	f.sessions.Save(ctx, prof.Phone, sess)

	return Chunk(reply)
}

func (f *Flow) dispatch(ctx context.Context, prof *models.UserProfile, sess *models.Session, cls models.Classification, in models.InboundMessage, body string) string {
	switch cls.Intent {
	case models.IntentAddMeal:
		return f.handleAddMeal(ctx, prof, sess, cls, in, body)

	case models.IntentUpdateMeal:
		if cls.Params.Macros == nil {
			return f.chat(ctx, prof, sess, body)
		}
		// Mutation before confirmation: the reply only describes what the
		// ledger already holds.
		event, err := f.ledger.UpdateLastMeal(prof.Phone, *cls.Params.Macros)
		if errors.Is(err, models.ErrNoRecentMeal) {
			return noRecentMealReply()
		}
		if err != nil {
			slog.Error("Flow update failed", "error", err, "phone", prof.Phone)
			return fallbackReply()
		}
		return updateReply(event)

	case models.IntentDeleteMeal:
		event, err := f.ledger.DeleteLastMeal(prof.Phone)
		if errors.Is(err, models.ErrNoRecentMeal) {
			return noRecentMealReply()
		}
		if err != nil {
			slog.Error("Flow delete failed", "error", err, "phone", prof.Phone)
			return fallbackReply()
		}
		return deleteReply(event)

	case models.IntentGetDailyProgress:
		progress, err := f.ledger.DailyProgress(prof.Phone, prof)
		if err != nil {
			slog.Error("Flow progress lookup failed", "error", err, "phone", prof.Phone)
			return fallbackReply()
		}
		return progressReply(progress)

	case models.IntentGetMealHistory:
		events, err := f.ledger.MealHistory(prof.Phone, 10)
		if err != nil {
			slog.Error("Flow history lookup failed", "error", err, "phone", prof.Phone)
			return fallbackReply()
		}
		return historyReply(events)

	case models.IntentGetUserProfile:
		return profileReply(prof, prof.GoalsOrDefault())

	case models.IntentProfileChangeAttempt:
		return profileChangeReply()

	default:
		return f.chat(ctx, prof, sess, body)
	}
}

// handleAddMeal asks the model to analyze the food, extracts macros from its
// reply, and logs the meal. A reply without parseable macros stays purely
// conversational; nothing is logged.
func (f *Flow) handleAddMeal(ctx context.Context, prof *models.UserProfile, sess *models.Session, cls models.Classification, in models.InboundMessage, body string) string {
	userMsg := genai.Message{Role: "user", Text: body}
	if in.Type() == models.MessageTypeImage {
		uri, err := f.fetchImageURI(ctx, in)
		if err != nil {
			slog.Error("Flow image fetch failed", "error", err, "phone", prof.Phone)
			return fallbackReply()
		}
		userMsg.ImageURL = uri
		if userMsg.Text == "" {
			userMsg.Text = "What food is in this photo? Estimate the nutrition."
		}
	}

	req := genai.CompletionRequest{System: f.personalize(mealSystemPrompt, prof)}
	req.Messages = append(req.Messages, historyMessages(sess)...)
	req.Messages = append(req.Messages, userMsg)

	reply, err := f.llm.Complete(ctx, req)
	if err != nil {
		slog.Error("Flow meal analysis failed", "error", err, "phone", prof.Phone)
		return fallbackReply()
	}

	macros := macro.Extract(reply)
	if macros == nil {
		// No parseable macros: the reply goes out as conversation and the
		// ledger stays untouched.
		slog.Warn("Flow analysis reply had no parseable macros", "phone", prof.Phone, "intent_confidence", cls.Confidence)
		return reply
	}

	description := cls.Params.Description
	if description == "" {
		description = describeMeal(body, in.Type())
	}
	if _, err := f.ledger.LogMeal(prof.Phone, macros, description); err != nil && !errors.Is(err, models.ErrNoMacros) {
		slog.Error("Flow meal log failed", "error", err, "phone", prof.Phone)
		return fallbackReply()
	}
	return reply
}

// chat handles turns that need no tool: greetings, questions, follow-ups.
func (f *Flow) chat(ctx context.Context, prof *models.UserProfile, sess *models.Session, body string) string {
	system := f.personalize(chatSystemPrompt, prof)
	system += fmt.Sprintf("\nIt is currently %s for the user.", describeClock(f.now()))
	if sess.LastQuestionType != models.QuestionNone && sess.LastQuestionContext != "" {
		system += fmt.Sprintf("\nYou previously asked: %q. The user may be answering it.", sess.LastQuestionContext)
	}

	req := genai.CompletionRequest{System: system}
	req.Messages = append(req.Messages, historyMessages(sess)...)
	req.Messages = append(req.Messages, genai.Message{Role: "user", Text: body})

	reply, err := f.llm.Complete(ctx, req)
	if err != nil {
		slog.Error("Flow chat completion failed", "error", err, "phone", prof.Phone)
		return fallbackReply()
	}
	return reply
}

func (f *Flow) personalize(prompt string, prof *models.UserProfile) string {
	var lines []string
	if prof.FirstName != "" {
		lines = append(lines, fmt.Sprintf("The user's name is %s.", prof.FirstName))
	}
	if prof.DietPreference != "" {
		lines = append(lines, fmt.Sprintf("They follow a %s diet.", prof.DietPreference))
	}
	if prof.FitnessGoal != "" {
		lines = append(lines, fmt.Sprintf("Their fitness goal is: %s.", prof.FitnessGoal))
	}
	if len(lines) == 0 {
		return prompt
	}
	return prompt + "\n\n" + strings.Join(lines, " ")
}

func (f *Flow) transcribe(ctx context.Context, in models.InboundMessage) (string, error) {
	if in.MediaURL == "" {
		return "", fmt.Errorf("audio message without media URL")
	}
	audio, contentType, err := f.media.FetchMedia(ctx, in.MediaURL)
	if err != nil {
		slog.Error("Flow audio fetch failed", "error", err, "url", in.MediaURL)
		return "", err
	}
	text, err := f.llm.Transcribe(ctx, audio, contentType)
	if err != nil {
		slog.Error("Flow transcription failed", "error", err)
		return "", err
	}
	slog.Debug("Flow transcribed voice note", "chars", len(text))
	return text, nil
}

func (f *Flow) fetchImageURI(ctx context.Context, in models.InboundMessage) (string, error) {
	data, contentType, err := f.media.FetchMedia(ctx, in.MediaURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = in.MediaContentType
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// synthesisHistoryWindow bounds the transcript handed to reply synthesis.
// The session retains more for follow-up tracking, but the prompt only needs
// the recent exchanges.
const synthesisHistoryWindow = 3

func historyMessages(sess *models.Session) []genai.Message {
	history := sess.History
	if len(history) > synthesisHistoryWindow {
		history = history[len(history)-synthesisHistoryWindow:]
	}
	var msgs []genai.Message
	for _, ex := range history {
		msgs = append(msgs,
			genai.Message{Role: "user", Text: ex.UserMessage},
			genai.Message{Role: "assistant", Text: ex.BotResponse},
		)
	}
	return msgs
}

func describeMeal(body string, t models.MessageType) string {
	switch t {
	case models.MessageTypeImage:
		return "Photo meal"
	default:
		if len(body) > 60 {
			return body[:60]
		}
		return body
	}
}
