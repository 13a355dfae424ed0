package report_test

import (
	"bytes"
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"txsim-server/packages/report"
	"txsim-server/packages/store"
)

var _ = Describe("Report", func() {
	var detail *store.TestCaseDetail

	BeforeEach(func() {
		cat, err := store.DefaultCatalog()
		Expect(err).NotTo(HaveOccurred())
		detail, err = store.NewMemoryStore(cat).Get(context.Background(), 1)
		Expect(err).NotTo(HaveOccurred())
	})

	It("combines the test case with the fixed run details", func() {
		r := report.Build(detail, time.Date(2024, 4, 2, 15, 0, 0, 0, time.UTC))
		Expect(r.TestID).To(Equal(1))
		Expect(r.TestName).To(Equal(detail.Name))
		Expect(r.TransactionValue).To(Equal("R$ 100,00"))
		Expect(r.ExecutedAt).To(Equal("02/04/2024"))
		Expect(r.ExecutedBy).To(Equal(report.ExecutedBy))
		Expect(r.Environment).To(Equal("Homologação"))
		Expect(r.Status).To(Equal("Sucesso"))
		Expect(r.ExecutionTime).To(Equal("0.43s"))
	})

	It("renders as text", func() {
		var buf bytes.Buffer
		Expect(report.Build(detail, time.Now()).Render(&buf)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("Teste:             #1 " + detail.Name))
		Expect(buf.String()).To(ContainSubstring("Tempo esperado:    3000ms"))
		Expect(buf.String()).To(ContainSubstring(`"status": "autenticado"`))
	})
})
