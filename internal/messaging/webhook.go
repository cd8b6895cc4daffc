package messaging

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"time"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// asyncTurnTimeout bounds background processing of image turns, which keep
// running after the webhook response has been written.
const asyncTurnTimeout = 90 * time.Second

// twimlResponse renders Twilio's reply XML. An empty response acknowledges
// the webhook without sending anything.
type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message,omitempty"`
}

// WebhookHandler receives Twilio's inbound-message callbacks.
//
// Text and voice turns run synchronously: the first reply chunk rides the
// webhook response as TwiML and the rest go out via the REST API. Image
// turns answer immediately with a pre-acknowledgement and finish in the
// background, since vision analysis can outlive Twilio's webhook patience.
type WebhookHandler struct {
	proc   TurnProcessor
	sender Service
	preAck string
}

// NewWebhookHandler wires the webhook to a turn processor and a sender.
func NewWebhookHandler(proc TurnProcessor, sender Service, preAck string) *WebhookHandler {
	return &WebhookHandler{proc: proc, sender: sender, preAck: preAck}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Webhook received unparseable form", "error", err)
		writeTwiML(w)
		return
	}

	phone, err := CanonicalizePhone(r.FormValue("From"))
	if err != nil {
		// Malformed senders get the same silence as unknown ones.
		slog.Debug("Webhook dropping malformed sender", "from", r.FormValue("From"))
		writeTwiML(w)
		return
	}

	in := models.InboundMessage{
		SenderID:         phone,
		Body:             r.FormValue("Body"),
		MediaURL:         r.FormValue("MediaUrl0"),
		MediaContentType: r.FormValue("MediaContentType0"),
		MessageSID:       r.FormValue("MessageSid"),
	}

	if in.Type() == models.MessageTypeImage && h.preAck != "" {
		writeTwiML(w, h.preAck)
		go h.processAsync(in)
		return
	}

	chunks, err := h.proc.ProcessTurn(r.Context(), in)
	if err != nil {
		// Unauthorized and duplicate turns are answered with an empty
		// acknowledgement; anything else already logged downstream.
		writeTwiML(w)
		return
	}
	if len(chunks) == 0 {
		writeTwiML(w)
		return
	}

	writeTwiML(w, chunks[0])
	h.sendRemaining(r.Context(), in.SenderID, chunks[1:])
}

func (h *WebhookHandler) processAsync(in models.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), asyncTurnTimeout)
	defer cancel()

	chunks, err := h.proc.ProcessTurn(ctx, in)
	if err != nil {
		return
	}
	h.sendRemaining(ctx, in.SenderID, chunks)
}

func (h *WebhookHandler) sendRemaining(ctx context.Context, to string, chunks []string) {
	for i, chunk := range chunks {
		if err := h.sender.SendMessage(ctx, to, chunk); err != nil {
			slog.Error("Webhook failed to send reply chunk", "error", err, "to", to, "chunk", i)
			return
		}
	}
}

func writeTwiML(w http.ResponseWriter, messages ...string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	out, err := xml.Marshal(twimlResponse{Messages: messages})
	if err != nil {
		slog.Error("Webhook failed to marshal TwiML", "error", err)
		return
	}
	if _, err := w.Write(append([]byte(xml.Header), out...)); err != nil {
		slog.Warn("Webhook failed to write response", "error", err)
	}
}
