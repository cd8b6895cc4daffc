package intent

import (
	"strings"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// Keyword groups for the deterministic fallback. Checked in a fixed order so
// "delete what I just ate" resolves to delete_meal, not add_meal.
var (
	progressWords = []string{"progress", "how am i doing", "calories left", "remaining", "macros today", "how many calories"}
	historyWords  = []string{"what did i eat", "what have i eaten", "meal history", "my meals"}
	deleteWords   = []string{"delete", "remove", "undo", "scratch that", "didn't eat", "didnt eat"}
	updateWords   = []string{"actually", "correction", "make that", "change that", "it was", "not 2", "meant"}
	profileWords  = []string{"my goal", "my profile", "my diet", "change my", "update my goal"}
	eatingWords   = []string{"i ate", "i had", "i just ate", "just had", "for breakfast", "for lunch", "for dinner", "snacked", "i drank"}
)

// classifyKeywords is the model-free fallback. It only ever produces
// low-confidence classifications and never structured params, so an
// update_meal from this path is downgraded to no_tool_needed by the caller
// lacking corrected macros.
func classifyKeywords(text string) models.Classification {
	t := strings.ToLower(text)

	intent := models.IntentNoToolNeeded
	switch {
	case containsAny(t, progressWords):
		intent = models.IntentGetDailyProgress
	case containsAny(t, historyWords):
		intent = models.IntentGetMealHistory
	case containsAny(t, deleteWords):
		intent = models.IntentDeleteMeal
	case containsAny(t, profileWords):
		intent = models.IntentProfileChangeAttempt
	case containsAny(t, updateWords):
		// Without the model there are no corrected values to apply, so a
		// correction can only be acknowledged conversationally.
		intent = models.IntentNoToolNeeded
	case containsAny(t, eatingWords):
		intent = models.IntentAddMeal
	}

	return models.Classification{
		Intent:     intent,
		Confidence: fallbackConfidence,
		Reasoning:  "keyword fallback",
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
