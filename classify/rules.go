package classify

import (
	"context"
	"strings"

	"github.com/hupe1980/maildedup/model"
)

// Rules is a deterministic keyword classifier. Rules are evaluated in
// order and the first match wins, so a reimbursement email that also
// mentions an invoice is still a reimbursement.
type Rules struct{}

// NewRules creates the keyword classifier.
func NewRules() *Rules {
	return &Rules{}
}

// Classify assigns a request type based on subject and body keywords.
func (r *Rules) Classify(_ context.Context, email *model.Email) (model.Prediction, error) {
	subject := strings.ToLower(email.Subject)
	body := strings.ToLower(email.PlainText)

	switch {
	case strings.Contains(subject, "reimburs") || strings.Contains(body, "reimburs"):
		return model.Prediction{RequestType: TypeReimbursement, Confidence: 0.85}, nil
	case strings.Contains(subject, "invoice") || strings.Contains(subject, "payment"):
		return model.Prediction{RequestType: TypeInvoicePayment, Confidence: 0.78}, nil
	case strings.Contains(subject, "account") || strings.Contains(body, "balance"):
		return model.Prediction{RequestType: TypeAccountInquiry, Confidence: 0.72}, nil
	case strings.Contains(subject, "statement") || strings.Contains(body, "statement"):
		return model.Prediction{RequestType: TypeStatementRequest, Confidence: 0.81}, nil
	default:
		return model.Prediction{RequestType: TypeOther, Confidence: 0.60}, nil
	}
}
