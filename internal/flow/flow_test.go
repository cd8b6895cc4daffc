package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/iqcalorie/caloriebot/internal/cache"
	"github.com/iqcalorie/caloriebot/internal/genai"
	"github.com/iqcalorie/caloriebot/internal/intent"
	"github.com/iqcalorie/caloriebot/internal/ledger"
	"github.com/iqcalorie/caloriebot/internal/models"
	"github.com/iqcalorie/caloriebot/internal/profile"
	"github.com/iqcalorie/caloriebot/internal/session"
	"github.com/iqcalorie/caloriebot/internal/store"
)

const testPhone = "14155550100"

// scriptedLLM returns canned completions in order, cycling on exhaustion.
type scriptedLLM struct {
	replies    []string
	transcript string
	calls      int
	reqs       []genai.CompletionRequest
}

func (s *scriptedLLM) Complete(ctx context.Context, req genai.CompletionRequest) (string, error) {
	s.reqs = append(s.reqs, req)
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := s.replies[s.calls%len(s.replies)]
	s.calls++
	return reply, nil
}

func (s *scriptedLLM) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	return s.transcript, nil
}

type fakeMedia struct {
	data        []byte
	contentType string
	err         error
}

func (f fakeMedia) FetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	return f.data, f.contentType, f.err
}

type env struct {
	flow  *Flow
	store *store.InMemoryStore
	llm   *scriptedLLM
}

func newEnv(t *testing.T, llm *scriptedLLM, media MediaFetcher) env {
	t.Helper()
	s := store.NewInMemoryStore()
	if err := s.UpsertProfile(models.UserProfile{Phone: testPhone, FirstName: "Sam", Goals: models.DefaultGoals}); err != nil {
		t.Fatal(err)
	}
	kv := cache.NewMemoryKV()
	l := ledger.New(s)
	f := NewFlow(Deps{
		Profiles:     profile.NewCache(s, kv),
		Sessions:     session.NewStore(kv),
		Classifier:   intent.NewClassifier(llm),
		Ledger:       l,
		LLM:          llm,
		Abuse:        NewAbuseTracker(kv),
		Media:        media,
		DashboardURL: "https://billing.example.com/portal",
	})
	return env{flow: f, store: s, llm: llm}
}

const mealAnalysis = `✅ *Meal logged!*

🍽️ *Meal:* 2 eggs and toast

🔥 *Calories:* 300 kcal
🥩 *Proteins:* 18 g
🥔 *Carbs:* 30 g
🧈 *Fats:* 12 g

⌛ *Daily Progress:*
${bars}`

func TestTurnUnknownSenderIsSilent(t *testing.T) {
	e := newEnv(t, &scriptedLLM{}, fakeMedia{})

	chunks, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{SenderID: "19998887777", Body: "hi"})
	if !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("unknown sender must receive nothing, got %q", chunks)
	}
}

func TestTurnDuplicateDeliveryDropped(t *testing.T) {
	classify := `{"intent":"no_tool_needed","confidence":0.9}`
	e := newEnv(t, &scriptedLLM{replies: []string{classify, "Hey Sam! 👋"}}, fakeMedia{})
	msg := models.InboundMessage{SenderID: testPhone, Body: "hello", MessageSID: "SM42"}

	if _, err := e.flow.ProcessTurn(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := e.flow.ProcessTurn(context.Background(), msg); !errors.Is(err, models.ErrDuplicateTurn) {
		t.Errorf("redelivery should be dropped, got %v", err)
	}
}

func TestTurnAddMealLogsAndRendersBars(t *testing.T) {
	classify := `{"intent":"add_meal","confidence":0.92,"params":{"description":"2 eggs and toast"}}`
	e := newEnv(t, &scriptedLLM{replies: []string{classify, mealAnalysis}}, fakeMedia{})

	chunks, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{SenderID: testPhone, Body: "I had 2 eggs and toast", MessageSID: "SM1"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	reply := chunks[0]
	if strings.Contains(reply, "${bars}") || strings.Contains(reply, "${progress_bars}") {
		t.Errorf("placeholder must be substituted: %q", reply)
	}
	if !strings.Contains(reply, "300/2000 kcal") {
		t.Errorf("bars should reflect the meal just logged: %q", reply)
	}

	totals, _ := e.store.GetDailyTotals(testPhone, e.flow.ledger.Today())
	want := models.Macros{Kcal: 300, Prot: 18, Carb: 30, Fat: 12}
	if totals != want {
		t.Errorf("totals = %+v, want %+v", totals, want)
	}
	events, _ := e.store.GetRecentMealEvents(testPhone, 5)
	if len(events) != 1 || events[0].Description != "2 eggs and toast" {
		t.Errorf("meal event not persisted: %+v", events)
	}
}

func TestTurnConversationalAnalysisLogsNothing(t *testing.T) {
	classify := `{"intent":"add_meal","confidence":0.8}`
	e := newEnv(t, &scriptedLLM{replies: []string{classify, "That doesn't look like food to me! What did you eat? 😄"}}, fakeMedia{})

	chunks, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{SenderID: testPhone, Body: "I ate my homework"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(chunks[0], "What did you eat") {
		t.Errorf("model reply should pass through: %q", chunks[0])
	}
	if events, _ := e.store.GetRecentMealEvents(testPhone, 5); len(events) != 0 {
		t.Errorf("nothing should be logged without macros, got %+v", events)
	}
}

func TestTurnUpdateMealUsesStructuredMacros(t *testing.T) {
	addClassify := `{"intent":"add_meal","confidence":0.92,"params":{"description":"2 eggs and toast"}}`
	updClassify := `{"intent":"update_meal","confidence":0.9,"params":{"macros":{"kcal":450,"prot":25,"carb":40,"fat":18}}}`
	e := newEnv(t, &scriptedLLM{replies: []string{addClassify, mealAnalysis, updClassify}}, fakeMedia{})
	ctx := context.Background()

	if _, err := e.flow.ProcessTurn(ctx, models.InboundMessage{SenderID: testPhone, Body: "I had 2 eggs and toast", MessageSID: "SM1"}); err != nil {
		t.Fatal(err)
	}
	chunks, err := e.flow.ProcessTurn(ctx, models.InboundMessage{SenderID: testPhone, Body: "actually it was 3 eggs with butter", MessageSID: "SM2"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(chunks[0], "Meal updated") {
		t.Errorf("expected update confirmation: %q", chunks[0])
	}
	if !strings.Contains(chunks[0], "450/2000 kcal") {
		t.Errorf("bars should reflect post-update totals: %q", chunks[0])
	}

	totals, _ := e.store.GetDailyTotals(testPhone, e.flow.ledger.Today())
	if totals.Kcal != 450 {
		t.Errorf("totals should hold corrected value only once: %+v", totals)
	}
}

func TestTurnDeleteWithNothingLogged(t *testing.T) {
	classify := `{"intent":"delete_meal","confidence":0.9}`
	e := newEnv(t, &scriptedLLM{replies: []string{classify}}, fakeMedia{})

	chunks, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{SenderID: testPhone, Body: "delete that"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(chunks[0], "couldn't find a meal") {
		t.Errorf("expected apologetic reply: %q", chunks[0])
	}
}

func TestTurnProgressTemplateIsDeterministic(t *testing.T) {
	classify := `{"intent":"get_daily_progress","confidence":0.95}`
	e := newEnv(t, &scriptedLLM{replies: []string{classify}}, fakeMedia{})

	chunks, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{SenderID: testPhone, Body: "how am I doing?"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(chunks[0], "Daily Progress") || !strings.Contains(chunks[0], "Calories") {
		t.Errorf("unexpected progress reply: %q", chunks[0])
	}
	if e.llm.calls != 1 {
		t.Errorf("progress should not need a synthesis call, got %d model calls", e.llm.calls)
	}
}

func TestTurnSlashCommandSkipsClassification(t *testing.T) {
	e := newEnv(t, &scriptedLLM{}, fakeMedia{})

	chunks, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{SenderID: testPhone, Body: "/dashboard"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(chunks[0], "https://billing.example.com/portal") {
		t.Errorf("dashboard link missing: %q", chunks[0])
	}
	if e.llm.calls != 0 {
		t.Error("slash commands must not touch the model")
	}
}

func TestTurnProfileChangeRedirects(t *testing.T) {
	classify := `{"intent":"profile_change_attempt","confidence":0.9,"params":{"profile_field":"kcal_goal"}}`
	e := newEnv(t, &scriptedLLM{replies: []string{classify}}, fakeMedia{})

	chunks, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{SenderID: testPhone, Body: "set my calories to 1800"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(chunks[0], "/dashboard") {
		t.Errorf("profile changes should redirect to the dashboard: %q", chunks[0])
	}
	if totals, _ := e.store.GetDailyTotals(testPhone, e.flow.ledger.Today()); !totals.IsZero() {
		t.Errorf("redirect must not mutate anything: %+v", totals)
	}
}

func TestTurnVoiceNoteIsTranscribed(t *testing.T) {
	classify := `{"intent":"add_meal","confidence":0.9,"params":{"description":"protein shake"}}`
	llm := &scriptedLLM{replies: []string{classify, mealAnalysis}, transcript: "I just had a protein shake"}
	e := newEnv(t, llm, fakeMedia{data: []byte("oggdata"), contentType: "audio/ogg"})

	_, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{
		SenderID:         testPhone,
		MediaURL:         "https://api.twilio.example/media/ME1",
		MediaContentType: "audio/ogg",
	})
	if err != nil {
		t.Fatal(err)
	}

	if events, _ := e.store.GetRecentMealEvents(testPhone, 1); len(events) != 1 {
		t.Fatal("transcribed voice note should log a meal")
	}
}

func TestTurnUnfetchableVoiceNoteApologizes(t *testing.T) {
	e := newEnv(t, &scriptedLLM{}, fakeMedia{err: errors.New("media gone")})

	chunks, err := e.flow.ProcessTurn(context.Background(), models.InboundMessage{
		SenderID:         testPhone,
		MediaURL:         "https://api.twilio.example/media/ME1",
		MediaContentType: "audio/ogg",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || !strings.Contains(chunks[0], "hit a snag") {
		t.Errorf("expected apology for unprocessable voice note: %q", chunks)
	}
	if e.llm.calls != 0 {
		t.Error("nothing to classify after a failed fetch")
	}
}

func TestTurnFollowUpAnswerStaysConversational(t *testing.T) {
	classifyAdd := `{"intent":"add_meal","confidence":0.92}`
	withQuestion := mealAnalysis + "\n\nWas that your whole breakfast?"
	e := newEnv(t, &scriptedLLM{replies: []string{classifyAdd, withQuestion, "Nice, sounds like a solid start to the day! 💪"}}, fakeMedia{})
	ctx := context.Background()

	if _, err := e.flow.ProcessTurn(ctx, models.InboundMessage{SenderID: testPhone, Body: "2 eggs", MessageSID: "SM1"}); err != nil {
		t.Fatal(err)
	}
	chunks, err := e.flow.ProcessTurn(ctx, models.InboundMessage{SenderID: testPhone, Body: "yes", MessageSID: "SM2"})
	if err != nil {
		t.Fatal(err)
	}
	// "yes" resolves the open question without a classification call, so the
	// third scripted reply is the chat synthesis.
	if !strings.Contains(chunks[0], "solid start") {
		t.Errorf("follow-up should stay conversational: %q", chunks[0])
	}
	if events, _ := e.store.GetRecentMealEvents(testPhone, 5); len(events) != 1 {
		t.Errorf("follow-up must not log another meal: %d events", len(events))
	}
}

func TestHistoryMessagesKeepsRecentExchanges(t *testing.T) {
	sess := &models.Session{}
	for i := 1; i <= 5; i++ {
		sess.History = append(sess.History, models.Exchange{
			UserMessage: fmt.Sprintf("user %d", i),
			BotResponse: fmt.Sprintf("bot %d", i),
		})
	}

	msgs := historyMessages(sess)
	if len(msgs) != 2*synthesisHistoryWindow {
		t.Fatalf("got %d prompt messages, want %d", len(msgs), 2*synthesisHistoryWindow)
	}
	if msgs[0].Text != "user 3" {
		t.Errorf("oldest retained message = %q, want the third exchange", msgs[0].Text)
	}
	if msgs[len(msgs)-1].Text != "bot 5" {
		t.Errorf("newest retained message = %q, want the fifth exchange", msgs[len(msgs)-1].Text)
	}
}
