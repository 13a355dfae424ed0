// Package report renders the post-run report. Its content is a fixed
// template: apart from the test case identity and today's date nothing in
// it comes from the actual run.
package report

import (
	_ "embed"
	"io"
	"text/template"
	"time"

	"txsim-server/packages/store"

	"github.com/pkg/errors"
)

//go:embed report.tmpl
var reportTemplate string

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

const (
	ExecutedBy    = "João Silva (usuário ID 12345)"
	Environment   = "Homologação"
	Services      = "Auth-Service, Payment-Gateway, Notification-Service"
	Status        = "Sucesso"
	ExecutionTime = "0.43s"

	sampleRequest = `{
  "email": "usuario@example.com",
  "senha": "********"
}`
	sampleResponse = `{
  "status": "autenticado",
  "token": "eyJhbGciOiJIUzI1NiIs..."
}`
)

type Report struct {
	TestID           int    `json:"testId"`
	TestName         string `json:"testName"`
	Description      string `json:"description"`
	Type             string `json:"type"`
	TransactionValue string `json:"transactionValue"`
	TransactionDate  string `json:"transactionDate"`
	ResponseTime     string `json:"responseTime"`
	ExpectedTime     int    `json:"expectedTime"`

	ExecutedAt    string `json:"executedAt"`
	ExecutedBy    string `json:"executedBy"`
	Environment   string `json:"environment"`
	Services      string `json:"services"`
	Status        string `json:"status"`
	ExecutionTime string `json:"executionTime"`
	Request       string `json:"request"`
	Response      string `json:"response"`
}

// Build fills the template for detail. now only supplies the dd/mm/yyyy
// execution date.
func Build(detail *store.TestCaseDetail, now time.Time) *Report {
	return &Report{
		TestID:           detail.ID,
		TestName:         detail.Name,
		Description:      detail.Description,
		Type:             detail.Type,
		TransactionValue: detail.TransactionValue,
		TransactionDate:  detail.TransactionDate,
		ResponseTime:     detail.ResponseTime,
		ExpectedTime:     detail.ExpectedTime,
		ExecutedAt:       now.Format("02/01/2006"),
		ExecutedBy:       ExecutedBy,
		Environment:      Environment,
		Services:         Services,
		Status:           Status,
		ExecutionTime:    ExecutionTime,
		Request:          sampleRequest,
		Response:         sampleResponse,
	}
}

func (r *Report) Render(w io.Writer) error {
	return errors.Wrap(tmpl.Execute(w, r), "failed to render report")
}
