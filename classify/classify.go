// Package classify assigns request types to emails.
//
// Two implementations are provided: Rules, a deterministic keyword
// classifier, and the openai subpackage, which delegates to a chat model.
package classify

import (
	"context"

	"github.com/hupe1980/maildedup/model"
)

// Request types produced by the built-in classifiers.
const (
	TypeReimbursement    = "REIMBURSEMENT"
	TypeInvoicePayment   = "INVOICE_PAYMENT"
	TypeAccountInquiry   = "ACCOUNT_INQUIRY"
	TypeStatementRequest = "STATEMENT_REQUEST"
	TypeOther            = "OTHER"
)

// RequestTypes lists all request types in classification priority order.
func RequestTypes() []string {
	return []string{
		TypeReimbursement,
		TypeInvoicePayment,
		TypeAccountInquiry,
		TypeStatementRequest,
		TypeOther,
	}
}

// Classifier assigns a request type and confidence to an email.
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, email *model.Email) (model.Prediction, error)
}
