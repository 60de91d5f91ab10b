/*
Package mailer provides attendance.Sender implementations.

PURPOSE:
  The engine hands a template name and variables to a Sender and never
  renders anything itself. This package offers two senders:
  - LogSender:   logs every message and keeps it in memory (dev, demo)
  - RelaySender: posts the message as JSON to an HTTP mail relay

  A failed send is reported as an error so the notification ledger leaves
  no log entry and the next sweep retries.

SEE ALSO:
  - attendance/notify.go: NotificationLedger, the only caller
*/
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// Message is one delivered notification.
type Message struct {
	To       attendance.Manager `json:"to"`
	Template string             `json:"template"`
	Vars     map[string]string  `json:"vars"`
	SentAt   time.Time          `json:"sent_at"`
}

// =============================================================================
// LOG SENDER
// =============================================================================

// LogSender logs messages and records them for inspection.
type LogSender struct {
	Logger *log.Logger

	mu   sync.Mutex
	sent []Message
}

func NewLogSender(logger *log.Logger) *LogSender {
	return &LogSender{Logger: logger}
}

func (s *LogSender) Send(_ context.Context, to attendance.Manager, template string, vars map[string]string) error {
	msg := Message{To: to, Template: template, Vars: copyVars(vars), SentAt: time.Now().UTC()}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[Mailer] %s -> %s <%s> (employee=%s date=%s)",
		template, to.Name, to.Email, vars["employeeName"], vars["date"])
	return nil
}

// Sent returns a copy of every message sent so far.
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

// =============================================================================
// RELAY SENDER
// =============================================================================

// RelaySender posts messages to an HTTP relay that owns rendering and
// delivery.
type RelaySender struct {
	URL    string
	Client *http.Client
}

func NewRelaySender(url string) *RelaySender {
	return &RelaySender{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *RelaySender) Send(ctx context.Context, to attendance.Manager, template string, vars map[string]string) error {
	body, err := json.Marshal(Message{To: to, Template: template, Vars: vars, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

func copyVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
