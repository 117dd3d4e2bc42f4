package model

import (
	"fmt"
	"strings"
	"time"
)

// Email is a parsed inbound message. Parsing (MIME, headers, charset) and
// field extraction are collaborator concerns; the engine only sees the
// extracted values.
type Email struct {
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	Date      time.Time `json:"date"`
	PlainText string    `json:"plain_text"`

	// ExtractedFields carries structured values pulled from the message
	// upstream (invoice numbers, amounts). They are stored verbatim with
	// the committed entry.
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
}

// EmbeddingText returns the canonical text fed to the embedding provider.
// Subject and headers are included so that two messages with identical bodies
// but different subjects do not collapse to the same point.
func (e Email) EmbeddingText() string {
	var sb strings.Builder
	sb.WriteString("Subject: ")
	sb.WriteString(e.Subject)
	sb.WriteString("\nFrom: ")
	sb.WriteString(e.From)
	if !e.Date.IsZero() {
		sb.WriteString("\nDate: ")
		sb.WriteString(e.Date.Format(time.RFC3339))
	}
	sb.WriteString("\n")
	sb.WriteString(e.PlainText)
	return sb.String()
}

// Metadata is the committed record for one canonical email entry.
// It is immutable after commit; corrections are new entries.
type Metadata struct {
	ID              uint64            `json:"id"`
	Subject         string            `json:"subject"`
	From            string            `json:"from"`
	Date            time.Time         `json:"date"`
	RequestType     string            `json:"request_type"`
	Confidence      float64           `json:"confidence"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
}

// Prediction is the output of a classifier.
type Prediction struct {
	RequestType string  `json:"request_type"`
	Confidence  float64 `json:"confidence"`
}

// Match is a committed entry whose similarity to a query met the
// duplicate threshold.
type Match struct {
	Similarity float64  `json:"similarity"`
	Metadata   Metadata `json:"metadata"`
}

func (m Match) String() string {
	return fmt.Sprintf("Match(id=%d sim=%.4f type=%s)", m.Metadata.ID, m.Similarity, m.Metadata.RequestType)
}
