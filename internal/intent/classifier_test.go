package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/iqcalorie/caloriebot/internal/genai"
	"github.com/iqcalorie/caloriebot/internal/models"
)

type fakeLLM struct {
	reply   string
	err     error
	calls   int
	lastReq genai.CompletionRequest
}

func (f *fakeLLM) Complete(ctx context.Context, req genai.CompletionRequest) (string, error) {
	f.calls++
	f.lastReq = req
	return f.reply, f.err
}

func (f *fakeLLM) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	return "", errors.New("not implemented")
}

func TestClassifyImageShortCircuit(t *testing.T) {
	llm := &fakeLLM{}
	c := NewClassifier(llm)

	cls := c.Classify(context.Background(), Input{MessageType: models.MessageTypeImage})
	if cls.Intent != models.IntentAddMeal {
		t.Errorf("image should classify as add_meal, got %q", cls.Intent)
	}
	if cls.Confidence != imageConfidence {
		t.Errorf("expected confidence %v, got %v", imageConfidence, cls.Confidence)
	}
	if llm.calls != 0 {
		t.Error("image short-circuit must not consult the model")
	}
}

func TestClassifyFollowUpShortCircuit(t *testing.T) {
	llm := &fakeLLM{}
	c := NewClassifier(llm)

	cls := c.Classify(context.Background(), Input{Text: "yes", MessageType: models.MessageTypeText, ResolvesQuestion: true})
	if cls.Intent != models.IntentNoToolNeeded {
		t.Errorf("follow-up answer should be no_tool_needed, got %q", cls.Intent)
	}
	if llm.calls != 0 {
		t.Error("follow-up short-circuit must not consult the model")
	}
}

func TestClassifyParsesLLMReply(t *testing.T) {
	llm := &fakeLLM{reply: `{"intent":"add_meal","confidence":0.92,"params":{"description":"2 eggs"},"reasoning":"reports eating"}`}
	c := NewClassifier(llm)

	cls := c.Classify(context.Background(), Input{Text: "I had 2 eggs", MessageType: models.MessageTypeText})
	if cls.Intent != models.IntentAddMeal || cls.Confidence != 0.92 {
		t.Errorf("unexpected classification: %+v", cls)
	}
	if cls.Params.Description != "2 eggs" {
		t.Errorf("params not carried through: %+v", cls.Params)
	}
}

func TestClassifyIncludesProfileSummary(t *testing.T) {
	llm := &fakeLLM{reply: `{"intent":"no_tool_needed","confidence":0.9}`}
	c := NewClassifier(llm)

	c.Classify(context.Background(), Input{
		Text:        "should I have another snack?",
		MessageType: models.MessageTypeText,
		Profile: &models.UserProfile{
			Phone:       "14155550100",
			FirstName:   "Sam",
			FitnessGoal: "lose weight",
			Goals:       models.Macros{Kcal: 1700, Prot: 150, Carb: 250, Fat: 70},
		},
	})

	system := llm.lastReq.System
	for _, want := range []string{"Sam", "1700 kcal", "lose weight"} {
		if !strings.Contains(system, want) {
			t.Errorf("profile summary missing %q in system prompt: %q", want, system)
		}
	}
}

func TestClassifyWithoutProfileKeepsBasePrompt(t *testing.T) {
	llm := &fakeLLM{reply: `{"intent":"no_tool_needed","confidence":0.9}`}
	c := NewClassifier(llm)

	c.Classify(context.Background(), Input{Text: "hello", MessageType: models.MessageTypeText})
	if strings.Contains(llm.lastReq.System, "User profile:") {
		t.Errorf("nil profile must not add a summary line: %q", llm.lastReq.System)
	}
}

func TestClassifyHandlesFencedJSON(t *testing.T) {
	llm := &fakeLLM{reply: "```json\n{\"intent\":\"get_daily_progress\",\"confidence\":0.9}\n```"}
	c := NewClassifier(llm)

	cls := c.Classify(context.Background(), Input{Text: "how am I doing", MessageType: models.MessageTypeText})
	if cls.Intent != models.IntentGetDailyProgress {
		t.Errorf("fenced JSON should parse, got %+v", cls)
	}
}

func TestClassifyUpdateRequiresMacros(t *testing.T) {
	llm := &fakeLLM{reply: `{"intent":"update_meal","confidence":0.9,"params":{}}`}
	c := NewClassifier(llm)

	cls := c.Classify(context.Background(), Input{Text: "actually make that 3 eggs", MessageType: models.MessageTypeText})
	if cls.Intent == models.IntentUpdateMeal {
		t.Error("update_meal without corrected macros must not pass through")
	}
	if cls.Confidence != fallbackConfidence {
		t.Errorf("expected fallback confidence, got %v", cls.Confidence)
	}
}

func TestClassifyUpdateWithMacros(t *testing.T) {
	llm := &fakeLLM{reply: `{"intent":"update_meal","confidence":0.88,"params":{"macros":{"kcal":240,"prot":18,"carb":2,"fat":16}}}`}
	c := NewClassifier(llm)

	cls := c.Classify(context.Background(), Input{Text: "actually it was 3 eggs", MessageType: models.MessageTypeText})
	if cls.Intent != models.IntentUpdateMeal {
		t.Fatalf("expected update_meal, got %+v", cls)
	}
	if cls.Params.Macros == nil || cls.Params.Macros.Kcal != 240 {
		t.Errorf("corrected macros missing: %+v", cls.Params)
	}
}

func TestClassifyFallsBackOnModelFailure(t *testing.T) {
	cases := []struct {
		text string
		want models.Intent
	}{
		{"what's my progress today?", models.IntentGetDailyProgress},
		{"what did I eat yesterday", models.IntentGetMealHistory},
		{"please delete that last meal", models.IntentDeleteMeal},
		{"change my goal to 1800", models.IntentProfileChangeAttempt},
		{"I had a burger", models.IntentAddMeal},
		{"actually make that 3 eggs", models.IntentNoToolNeeded},
		{"hello there", models.IntentNoToolNeeded},
	}
	for _, tc := range cases {
		c := NewClassifier(&fakeLLM{err: errors.New("model down")})
		cls := c.Classify(context.Background(), Input{Text: tc.text, MessageType: models.MessageTypeText})
		if cls.Intent != tc.want {
			t.Errorf("fallback(%q) = %q, want %q", tc.text, cls.Intent, tc.want)
		}
		if cls.Confidence != fallbackConfidence {
			t.Errorf("fallback(%q) confidence = %v, want %v", tc.text, cls.Confidence, fallbackConfidence)
		}
	}
}

func TestClassifyRejectsUnknownIntent(t *testing.T) {
	llm := &fakeLLM{reply: `{"intent":"order_pizza","confidence":0.99}`}
	c := NewClassifier(llm)

	cls := c.Classify(context.Background(), Input{Text: "I had a burger", MessageType: models.MessageTypeText})
	if !models.IsValidIntent(cls.Intent) {
		t.Fatalf("classifier must always return a valid intent, got %q", cls.Intent)
	}
	if cls.Intent != models.IntentAddMeal {
		t.Errorf("expected keyword fallback to add_meal, got %q", cls.Intent)
	}
}
