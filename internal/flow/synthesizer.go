package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// mealSystemPrompt drives food analysis. The reply contract matters: the
// macro extractor depends on the four labels appearing in this order, and the
// placeholder is substituted after the meal is logged.
const mealSystemPrompt = `You are IQCalorie, a friendly nutrition coach on WhatsApp.
The user just told you what they ate (or sent a photo of it). Estimate the meal's nutrition.

If you can identify the food, reply EXACTLY in this format:

✅ *Meal logged!*

🍽️ *Meal:* <short description>

🔥 *Calories:* <number> kcal
🥩 *Proteins:* <number> g
🥔 *Carbs:* <number> g
🧈 *Fats:* <number> g

⌛ *Daily Progress:*
${bars}

The four lines must appear in that order: Calories, Proteins, Carbs, Fats. Whole numbers only.
If the message or photo does not describe food, or you cannot estimate it, reply conversationally
instead and ask what they ate. Never invent macros for something that is not food.`

// chatSystemPrompt drives plain conversation turns.
const chatSystemPrompt = `You are IQCalorie, a friendly nutrition coach on WhatsApp.
Chat naturally and keep replies short (2-4 sentences). You may use emoji sparingly.
You cannot change the user's goals or profile from chat; if asked, point them to /dashboard.
If it helps the conversation, end with one short follow-up question.`

func progressReply(p models.DailyProgress) string {
	return fmt.Sprintf("⌛ *Daily Progress:*\n\n%s\n\n💪 Keep it up! Send me your next meal whenever you're ready.", RenderBars(p))
}

func historyReply(events []models.MealEvent) string {
	if len(events) == 0 {
		return "📭 No meals logged yet! Tell me what you ate or send a photo and I'll track it for you."
	}
	var b strings.Builder
	b.WriteString("📋 *Your recent meals:*\n")
	for _, e := range events {
		desc := e.Description
		if desc == "" {
			desc = "Meal"
		}
		b.WriteString(fmt.Sprintf("\n• %s — %s (%d kcal, %dg protein)",
			e.CreatedAt.Format("Mon 15:04"), desc, e.Macros.Kcal, e.Macros.Prot))
	}
	return b.String()
}

func updateReply(e *models.MealEvent) string {
	desc := e.Description
	if desc == "" {
		desc = "your last meal"
	}
	return fmt.Sprintf(`✏️ *Meal updated!*

🍽️ *Meal:* %s

🔥 *Calories:* %d kcal
🥩 *Proteins:* %d g
🥔 *Carbs:* %d g
🧈 *Fats:* %d g

⌛ *Daily Progress:*
%s`, desc, e.Macros.Kcal, e.Macros.Prot, e.Macros.Carb, e.Macros.Fat, barsPlaceholder)
}

func deleteReply(e *models.MealEvent) string {
	desc := e.Description
	if desc == "" {
		desc = "your last meal"
	}
	return fmt.Sprintf("🗑️ Removed *%s* from today's log.\n\n⌛ *Daily Progress:*\n%s", desc, barsPlaceholder)
}

func noRecentMealReply() string {
	return "🤔 I couldn't find a meal from today to change. Tell me what you ate and I'll log it fresh!"
}

func profileReply(p *models.UserProfile, goals models.Macros) string {
	name := "there"
	if p != nil && p.FirstName != "" {
		name = p.FirstName
	}
	var extras []string
	if p != nil && p.DietPreference != "" {
		extras = append(extras, fmt.Sprintf("🥗 Diet: %s", p.DietPreference))
	}
	if p != nil && p.FitnessGoal != "" {
		extras = append(extras, fmt.Sprintf("🎯 Goal: %s", p.FitnessGoal))
	}
	body := fmt.Sprintf(`👤 Hey %s! Here's your profile:

🔥 Daily calories: %d kcal
🥩 Protein: %d g
🥔 Carbs: %d g
🧈 Fats: %d g`, name, goals.Kcal, goals.Prot, goals.Carb, goals.Fat)
	if len(extras) > 0 {
		body += "\n" + strings.Join(extras, "\n")
	}
	return body + "\n\nTo change anything, head to /dashboard 🚀"
}

func profileChangeReply() string {
	return "⚙️ Profile and goal changes happen on your dashboard, not in chat. Type /dashboard to get your link!"
}

func imagePreAck() string {
	return "📸 Got your photo! Analyzing your meal... 🔍"
}

func fallbackReply() string {
	return "😅 I hit a snag processing that. Mind trying again in a moment?"
}

// extractQuestion returns the trailing question of a reply, if any, for
// follow-up tracking on the next turn.
func extractQuestion(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasSuffix(trimmed, "?") {
		return ""
	}
	// Last sentence only; a reply that merely contains a question mid-text
	// is not awaiting an answer.
	if idx := strings.LastIndexAny(trimmed[:len(trimmed)-1], ".!?\n"); idx >= 0 {
		return strings.TrimSpace(trimmed[idx+1:])
	}
	return trimmed
}

// describeClock formats the current time of day for prompt context.
func describeClock(t time.Time) string {
	switch h := t.Hour(); {
	case h < 11:
		return "morning"
	case h < 15:
		return "midday"
	case h < 18:
		return "afternoon"
	default:
		return "evening"
	}
}
