// Package queue carries invoice ids from invoice creation to the upload worker
// and keeps failed deliveries on a dead-letter channel.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyBody indicates an empty queue payload.
	ErrEmptyBody = errors.New("empty message body")
	// ErrDecode indicates a structured payload could not be parsed.
	ErrDecode = errors.New("decode message")
	// ErrMissingInvoiceID indicates a structured payload without an invoice id.
	ErrMissingInvoiceID = errors.New("missing invoice id")
)

// Message is the upload request carried by the queue.
type Message struct {
	InvoiceID string `json:"invoiceId"`
}

// Encode returns the wire body for an invoice id: the id itself as UTF-8 text.
func Encode(invoiceID string) []byte {
	return []byte(invoiceID)
}

// Decode parses a queue body. Plain text bodies are the invoice id; JSON
// objects of the form {"invoiceId": "..."} are accepted as well.
func Decode(body []byte) (Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Message{}, ErrEmptyBody
	}
	if trimmed[0] == '{' {
		var msg Message
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		msg.InvoiceID = strings.TrimSpace(msg.InvoiceID)
		if msg.InvoiceID == "" {
			return Message{}, ErrMissingInvoiceID
		}
		return msg, nil
	}
	return Message{InvoiceID: string(trimmed)}, nil
}
