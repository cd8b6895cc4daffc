// Package macro parses macro quantities out of LLM reply text.
package macro

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// macroPattern locates the four labeled quantities in a fixed order
// (Calories → Proteins → Carbs → Fats), capturing the first integer after
// each label regardless of intervening markdown, emoji, or units. The order
// dependency is deliberate: replies with swapped labels do not parse.
var macroPattern = regexp.MustCompile(`(?i)Calories\D*(\d+).*?Proteins\D*(\d+).*?Carbs\D*(\d+).*?Fats\D*(\d+)`)

// Extract parses reply text into macro values, or nil when any of the four
// labels is absent or out of order. Pure and idempotent.
func Extract(reply string) *models.Macros {
	flat := strings.ReplaceAll(reply, "\n", " ")
	match := macroPattern.FindStringSubmatch(flat)
	if match == nil {
		return nil
	}

	vals := make([]int, 4)
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(match[i+1])
		if err != nil {
			return nil
		}
		vals[i] = n
	}
	return &models.Macros{Kcal: vals[0], Prot: vals[1], Carb: vals[2], Fat: vals[3]}
}
