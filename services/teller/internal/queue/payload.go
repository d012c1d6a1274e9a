package queue

import (
	"strings"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
)

// Payload carries the transaction a customer came in for. Exactly one body,
// the one named by Type, is set. The coordinator never reads the bodies.
type Payload struct {
	Type string `bson:"type" json:"type" yaml:"type"`

	Deposit      *AmountBody       `bson:"deposit,omitempty" json:"deposit,omitempty" yaml:"deposit,omitempty"`
	Withdraw     *AmountBody       `bson:"withdraw,omitempty" json:"withdraw,omitempty" yaml:"withdraw,omitempty"`
	PayLoan      *AmountBody       `bson:"pay_loan,omitempty" json:"pay_loan,omitempty" yaml:"pay_loan,omitempty"`
	OpenAccount  *OpenAccountBody  `bson:"open_account,omitempty" json:"open_account,omitempty" yaml:"open_account,omitempty"`
	OpenLoan     *OpenLoanBody     `bson:"open_loan,omitempty" json:"open_loan,omitempty" yaml:"open_loan,omitempty"`
	CloseAccount *CloseAccountBody `bson:"close_account,omitempty" json:"close_account,omitempty" yaml:"close_account,omitempty"`
}

// AmountBody is shared by deposits, withdrawals and loan payments.
type AmountBody struct {
	AccountID   string `bson:"account_id" json:"account_id" yaml:"account_id"`
	AmountCents int64  `bson:"amount_cents" json:"amount_cents" yaml:"amount_cents"`
}

type OpenAccountBody struct {
	FirstName          string `bson:"first_name" json:"first_name" yaml:"first_name"`
	LastName           string `bson:"last_name" json:"last_name" yaml:"last_name"`
	OpeningAmountCents int64  `bson:"opening_amount_cents" json:"opening_amount_cents" yaml:"opening_amount_cents"`
}

type OpenLoanBody struct {
	AccountID   string `bson:"account_id" json:"account_id" yaml:"account_id"`
	AmountCents int64  `bson:"amount_cents" json:"amount_cents" yaml:"amount_cents"`
	// MonthlyInterest is a decimal percentage such as "1.25".
	MonthlyInterest string `bson:"monthly_interest" json:"monthly_interest" yaml:"monthly_interest"`
}

type CloseAccountBody struct {
	AccountID string `bson:"account_id" json:"account_id" yaml:"account_id"`
}

// body returns the set body for t, or nil.
func (p Payload) body(t string) any {
	switch t {
	case queuetype.QueueTypes.Deposit.Code():
		if p.Deposit != nil {
			return p.Deposit
		}
	case queuetype.QueueTypes.Withdraw.Code():
		if p.Withdraw != nil {
			return p.Withdraw
		}
	case queuetype.QueueTypes.PayLoan.Code():
		if p.PayLoan != nil {
			return p.PayLoan
		}
	case queuetype.QueueTypes.OpenAccount.Code():
		if p.OpenAccount != nil {
			return p.OpenAccount
		}
	case queuetype.QueueTypes.OpenLoan.Code():
		if p.OpenLoan != nil {
			return p.OpenLoan
		}
	case queuetype.QueueTypes.CloseAccount.Code():
		if p.CloseAccount != nil {
			return p.CloseAccount
		}
	}
	return nil
}

// Validate checks that only the body matching Type is present and that it
// carries the fields the intake form requires.
func (p Payload) Validate() []string {
	var errors []string

	if !queuetype.Valid(p.Type) {
		return []string{"invalid payload type"}
	}

	set := 0
	for _, qt := range queuetype.All {
		if p.body(qt.Code()) != nil {
			set++
		}
	}

	body := p.body(p.Type)
	if body == nil {
		return append(errors, "payload body for "+p.Type+" is required")
	}
	if set > 1 {
		errors = append(errors, "payload must carry only the "+p.Type+" body")
	}

	switch b := body.(type) {
	case *AmountBody:
		if strings.TrimSpace(b.AccountID) == "" && p.Type != queuetype.QueueTypes.Deposit.Code() {
			errors = append(errors, "account_id is required")
		}
		if b.AmountCents <= 0 {
			errors = append(errors, "amount_cents must be greater than 0")
		}
	case *OpenAccountBody:
		if strings.TrimSpace(b.FirstName) == "" || strings.TrimSpace(b.LastName) == "" {
			errors = append(errors, "first_name and last_name are required")
		}
		if b.OpeningAmountCents < 0 {
			errors = append(errors, "opening_amount_cents cannot be negative")
		}
	case *OpenLoanBody:
		if strings.TrimSpace(b.AccountID) == "" {
			errors = append(errors, "account_id is required")
		}
		if b.AmountCents <= 0 {
			errors = append(errors, "amount_cents must be greater than 0")
		}
	case *CloseAccountBody:
		if strings.TrimSpace(b.AccountID) == "" {
			errors = append(errors, "account_id is required")
		}
	}

	return errors
}
