package flow

import "strings"

// Slash commands short-circuit the turn before classification. They are the
// only chat surface that touches account management; everything else stays
// conversational.

// DashboardURL is the customer portal link handed out by /dashboard. The
// command still answers when unset, pointing at support instead.
type commandHandler struct {
	dashboardURL string
	supportEmail string
}

func (h commandHandler) handle(text string) (string, bool) {
	cmd := strings.ToLower(strings.TrimSpace(text))
	if !strings.HasPrefix(cmd, "/") {
		return "", false
	}
	switch strings.Fields(cmd)[0] {
	case "/dashboard":
		if h.dashboardURL == "" {
			return "⚙️ Your dashboard link isn't set up yet. Email " + h.supportEmail + " and we'll sort it out!", true
		}
		return "⚙️ Manage your goals, diet, and subscription here:\n" + h.dashboardURL, true
	case "/support":
		return "💬 Need a human? Reach us at " + h.supportEmail + " and we'll get back to you quickly!", true
	case "/help":
		return `🤖 *Here's what I can do:*

🍽️ Tell me what you ate (or send a photo / voice note) and I'll log it
📊 Ask "how am I doing?" for your daily progress
📋 Ask "what did I eat?" for your meal history
✏️ Say "actually, it was..." to correct your last meal
🗑️ Say "delete that" to remove your last meal

⚙️ /dashboard — manage goals and subscription
💬 /support — talk to a human`, true
	default:
		return "🤔 I don't know that command. Try /help to see what I can do!", true
	}
}
