package store

// TransactionRecord is the stored identity and metadata of a test case.
// Field values are kept verbatim; nothing parses "3000ms" or "R$ 100,00".
type TransactionRecord struct {
	ID               int    `json:"id" yaml:"id"`
	ResponseTime     string `json:"responseTime" yaml:"responseTime"`
	TransactionValue string `json:"transactionValue" yaml:"transactionValue"`
	TransactionDate  string `json:"transactionDate" yaml:"transactionDate"`
}

// RecordFields holds the editable fields of a new record.
type RecordFields struct {
	ResponseTime     string `json:"responseTime"`
	TransactionValue string `json:"transactionValue"`
	TransactionDate  string `json:"transactionDate"`
}

// RecordPatch carries a partial update. Nil fields are left untouched.
type RecordPatch struct {
	ResponseTime     *string `json:"responseTime"`
	TransactionValue *string `json:"transactionValue"`
	TransactionDate  *string `json:"transactionDate"`
}

func (p RecordPatch) apply(rec *TransactionRecord) {
	if p.ResponseTime != nil {
		rec.ResponseTime = *p.ResponseTime
	}
	if p.TransactionValue != nil {
		rec.TransactionValue = *p.TransactionValue
	}
	if p.TransactionDate != nil {
		rec.TransactionDate = *p.TransactionDate
	}
}

// Narrative is the canned content shown while a test case "executes".
type Narrative struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Type        string `json:"type" yaml:"type"`
	// ExpectedTime is in milliseconds.
	ExpectedTime int      `json:"expectedTime" yaml:"expectedTime"`
	Logs         []string `json:"logs" yaml:"logs"`
}

// TestCaseDetail is a record merged with its narrative.
type TestCaseDetail struct {
	TransactionRecord
	Narrative
}

// Card is a dashboard entry listing an available test group.
type Card struct {
	ID    int    `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
}
