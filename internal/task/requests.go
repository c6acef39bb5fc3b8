package task

import "time"

// Per-task deadlines. The worker is expected to answer within these bounds;
// the RPC client fails the call with a timeout otherwise.
const (
	SumsTimeout     = 30 * time.Second
	RecordsTimeout  = 120 * time.Second
	RegisterTimeout = 60 * time.Second
	EmailTimeout    = 120 * time.Second
)

// Request is implemented by every typed task payload.
type Request interface {
	TaskName() Name
	Timeout() time.Duration
}

// QueryType selects the read query run by query_database.
type QueryType string

const (
	// QueryGetSums returns the remote watermark date and totals.
	QueryGetSums QueryType = "get_sums"

	// QueryAllByDate returns every raw record for a watermark date.
	QueryAllByDate QueryType = "all_by_date"
)

// QueryDatabase is the payload of query_database.
type QueryDatabase struct {
	CommunityName string    `json:"community_name"`
	QueryType     QueryType `json:"query_type"`
	Date          string    `json:"date,omitempty"`
}

func (QueryDatabase) TaskName() Name { return NameQueryDatabase }

// Timeout is 30s for get_sums and 120s for the full dataset fetch.
func (q QueryDatabase) Timeout() time.Duration {
	if q.QueryType == QueryAllByDate {
		return RecordsTimeout
	}
	return SumsTimeout
}

// ProcessDebtorRegister is the payload of process_debtor_register.
type ProcessDebtorRegister struct {
	CommunityName string `json:"community_name"`
}

func (ProcessDebtorRegister) TaskName() Name         { return NameProcessDebtorRegister }
func (ProcessDebtorRegister) Timeout() time.Duration { return RegisterTimeout }

// SendEmail is the payload of send_email.
type SendEmail struct {
	CommunityName string `json:"community_name"`
}

func (SendEmail) TaskName() Name         { return NameSendEmail }
func (SendEmail) Timeout() time.Duration { return EmailTimeout }

// SumsData is the reply data of query_database/get_sums.
type SumsData struct {
	Date       string  `json:"date"`
	TotalCount int64   `json:"total_count"`
	TotalDebt  *Amount `json:"total_debt,omitempty"`
}

// RecordsData is the reply data of query_database/all_by_date.
//
// Records is nil when the worker omitted the key and empty when it sent [].
type RecordsData struct {
	Records []RawRecord `json:"records"`
}

// RegisterReport is the reply data of process_debtor_register.
type RegisterReport struct {
	Message   string `json:"message,omitempty"`
	Processed int64  `json:"processed,omitempty"`
	FileName  string `json:"file_name,omitempty"`
}

// EmailReport is the reply data of send_email.
type EmailReport struct {
	Message    string   `json:"message,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}
