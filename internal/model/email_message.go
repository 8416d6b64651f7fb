package model

import "time"

// EmailMessage represents a message pulled from an external mailbox
type EmailMessage struct {
	ID         string            `json:"id"`
	Subject    string            `json:"subject"`
	From       string            `json:"from"`
	To         []string          `json:"to"`
	Body       string            `json:"body"`
	HTMLBody   string            `json:"html_body"`
	Headers    map[string]string `json:"headers"`
	ReceivedAt time.Time         `json:"received_at"`
}

// ToNewItem converts a fetched message into an enqueue request.
// HTML-only messages are enqueued with the HTML body.
func (m EmailMessage) ToNewItem() NewItem {
	body := m.Body
	if body == "" {
		body = m.HTMLBody
	}
	received := m.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	return NewItem{
		MessageID:  m.ID,
		Sender:     m.From,
		Subject:    m.Subject,
		Body:       body,
		ReceivedAt: received,
	}
}
