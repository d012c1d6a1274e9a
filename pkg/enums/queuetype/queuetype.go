package queuetype

import "strings"

type QueueType struct {
	Name string
}

func (q QueueType) Code() string {
	return q.Name
}

// Label renders the code for display, e.g. "open_loan" becomes "Open Loan".
func (q QueueType) Label() string {
	parts := strings.Split(q.Name, "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

type Enum struct {
	Deposit      QueueType
	Withdraw     QueueType
	OpenAccount  QueueType
	OpenLoan     QueueType
	PayLoan      QueueType
	CloseAccount QueueType
}

var QueueTypes = Enum{
	Deposit:      QueueType{Name: "deposit"},
	Withdraw:     QueueType{Name: "withdraw"},
	OpenAccount:  QueueType{Name: "open_account"},
	OpenLoan:     QueueType{Name: "open_loan"},
	PayLoan:      QueueType{Name: "pay_loan"},
	CloseAccount: QueueType{Name: "close_account"},
}

var All = []QueueType{
	QueueTypes.Deposit,
	QueueTypes.Withdraw,
	QueueTypes.OpenAccount,
	QueueTypes.OpenLoan,
	QueueTypes.PayLoan,
	QueueTypes.CloseAccount,
}

// ByName returns the queue type for a given name, or nil if not found
func ByName(name string) *QueueType {
	for _, q := range All {
		if q.Name == name {
			return &q
		}
	}
	return nil
}

// Valid reports whether name is one of the known queue types.
func Valid(name string) bool {
	return ByName(name) != nil
}
