package flow

import (
	"fmt"
	"strings"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// Placeholder tokens the synthesizer may leave in generated text; both render
// to the same progress block.
const (
	barsPlaceholder         = "${bars}"
	progressBarsPlaceholder = "${progress_bars}"
)

const barsPerRow = 10

// RenderBars renders the four macro progress rows as colored squares.
// Green under 40% of goal, orange under 80%, red at or above.
func RenderBars(p models.DailyProgress) string {
	var b strings.Builder
	b.WriteString(renderRow("🔥 Calories", p.Used.Kcal, p.Goals.Kcal, "kcal"))
	b.WriteString("\n")
	b.WriteString(renderRow("🥩 Proteins", p.Used.Prot, p.Goals.Prot, "g"))
	b.WriteString("\n")
	b.WriteString(renderRow("🥔 Carbs", p.Used.Carb, p.Goals.Carb, "g"))
	b.WriteString("\n")
	b.WriteString(renderRow("🧈 Fats", p.Used.Fat, p.Goals.Fat, "g"))
	return b.String()
}

func renderRow(label string, used, goal int, unit string) string {
	ratio := 0.0
	if goal > 0 {
		ratio = float64(used) / float64(goal)
	}
	square := "🟥"
	switch {
	case ratio < 0.4:
		square = "🟩"
	case ratio < 0.8:
		square = "🟧"
	}

	filled := int(ratio * barsPerRow)
	if filled > barsPerRow {
		filled = barsPerRow
	}
	bar := strings.Repeat(square, filled) + strings.Repeat("⬜", barsPerRow-filled)
	return fmt.Sprintf("%s: %s %d/%d %s", label, bar, used, goal, unit)
}

// substituteBars replaces every progress placeholder with the rendered block.
// Rendering happens once per reply, after all mutations, so the bars reflect
// the turn's final totals.
func substituteBars(text string, p models.DailyProgress) string {
	if !strings.Contains(text, barsPlaceholder) && !strings.Contains(text, progressBarsPlaceholder) {
		return text
	}
	rendered := RenderBars(p)
	text = strings.ReplaceAll(text, barsPlaceholder, rendered)
	return strings.ReplaceAll(text, progressBarsPlaceholder, rendered)
}

// hasBarsPlaceholder reports whether the text still carries a placeholder.
func hasBarsPlaceholder(text string) bool {
	return strings.Contains(text, barsPlaceholder) || strings.Contains(text, progressBarsPlaceholder)
}
