// Package session provides per-user conversational memory.
//
// Sessions hold a bounded history of exchanges plus last-question tracking,
// persisted in the shared KV with a sliding 24h TTL. Session loss is never
// fatal: a turn proceeds without conversational memory rather than failing.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iqcalorie/caloriebot/internal/cache"
	"github.com/iqcalorie/caloriebot/internal/models"
)

// keyPrefix namespaces session entries in the shared KV.
const keyPrefix = "session:"

// followUpLexicon lists the bare affirmative/negative replies that signal the
// user is answering the bot's previous question rather than starting a new
// intent. Matching is case-insensitive on the trimmed message.
var followUpLexicon = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
	"ok": true, "okay": true, "alright": true, "fine": true, "sounds good": true,
	"no": true, "nope": true, "nah": true, "not really": true, "no thanks": true,
}

// Store manages session lifecycle over the shared KV.
type Store struct {
	kv    cache.KV
	ttl   time.Duration
	bound int
	now   func() time.Time
}

// NewStore creates a session store with the default TTL and history bound.
func NewStore(kv cache.KV) *Store {
	return &Store{kv: kv, ttl: models.SessionTTL, bound: models.SessionHistoryLimit, now: time.Now}
}

// Load returns the session for a phone, creating a fresh one if absent or if
// the backing store is unavailable. It never returns nil.
func (s *Store) Load(ctx context.Context, phone string) *models.Session {
	raw, ok, err := s.kv.Get(ctx, keyPrefix+phone)
	if err != nil {
		slog.Warn("SessionStore load failed, continuing without memory", "error", err, "phone", phone)
		return s.newSession(phone)
	}
	if !ok {
		slog.Debug("SessionStore creating new session", "phone", phone)
		return s.newSession(phone)
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		slog.Warn("SessionStore entry corrupt, recreating", "error", err, "phone", phone)
		return s.newSession(phone)
	}
	return &sess
}

// Save persists the session with a refreshed sliding TTL. Returns false when
// the backing store rejected the write; callers treat that as a loss of
// context continuity, not a turn failure.
func (s *Store) Save(ctx context.Context, phone string, sess *models.Session) bool {
	raw, err := json.Marshal(sess)
	if err != nil {
		slog.Error("SessionStore marshal failed", "error", err, "phone", phone)
		return false
	}
	if err := s.kv.Set(ctx, keyPrefix+phone, string(raw), s.ttl); err != nil {
		slog.Warn("SessionStore save failed", "error", err, "phone", phone)
		return false
	}
	slog.Debug("SessionStore saved", "phone", phone, "history_len", len(sess.History))
	return true
}

// AppendExchange pushes a new exchange and evicts from the front when the
// history exceeds the bound. Strict FIFO, no other retention heuristic.
func (s *Store) AppendExchange(sess *models.Session, ex models.Exchange) {
	sess.History = append(sess.History, ex)
	if len(sess.History) > s.bound {
		sess.History = sess.History[len(sess.History)-s.bound:]
	}
	if ex.QuestionAsked != "" {
		sess.LastQuestionType = models.QuestionFollowup
		sess.LastQuestionContext = ex.QuestionAsked
	} else {
		sess.LastQuestionType = models.QuestionNone
		sess.LastQuestionContext = ""
	}
}

func (s *Store) newSession(phone string) *models.Session {
	return &models.Session{
		SessionID:        uuid.NewString(),
		Phone:            phone,
		StartedAt:        s.now(),
		LastQuestionType: models.QuestionNone,
	}
}

// IsAffirmativeOrNegative reports whether the raw text is a bare
// affirmative/negative reply from the follow-up lexicon.
func IsAffirmativeOrNegative(text string) bool {
	return followUpLexicon[strings.ToLower(strings.TrimSpace(text))]
}

// ResolvesLastQuestion reports whether the message should be treated as an
// answer to the bot's previous question. The signal is passed explicitly to
// intent classification; the classifier has no other visibility into
// session state.
func ResolvesLastQuestion(sess *models.Session, text string) bool {
	if sess == nil || sess.LastQuestionType == models.QuestionNone {
		return false
	}
	return IsAffirmativeOrNegative(text)
}
