package server_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"txsim-server/packages/server"
	"txsim-server/packages/simulator"
	"txsim-server/packages/store"
)

func testCatalog() *store.Catalog {
	return &store.Catalog{
		Transactions: []store.TransactionRecord{
			{ID: 1, ResponseTime: "3000ms", TransactionValue: "R$ 100,00", TransactionDate: "02/04/2024"},
			{ID: 2, ResponseTime: "1250ms", TransactionValue: "R$ 250,50", TransactionDate: "03/04/2024"},
		},
		Cards: []store.Card{
			{ID: 1, Title: "Recebidos"},
		},
		Narratives: map[int]store.Narrative{
			1: {
				Name:         "Transferência PIX",
				Description:  "Validação de transferência",
				Type:         "PIX",
				ExpectedTime: 120,
				Logs:         []string{"Iniciando", "Validando", "Concluído"},
			},
			2: {Name: "slow", ExpectedTime: 60000, Logs: []string{"one", "two"}},
		},
		Default: store.Narrative{Name: "default", ExpectedTime: 40, Logs: []string{"a", "b"}},
	}
}

type frame map[string]interface{}

// readFrames collects every `data:` payload until the server closes the
// stream.
func readFrames(body *bufio.Reader) []frame {
	var frames []frame
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			return frames
		}
		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var f frame
		Expect(json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &f)).To(Succeed())
		frames = append(frames, f)
	}
}

var _ = Describe("Server", func() {
	var (
		router http.Handler
		st     store.Store
	)

	BeforeEach(func() {
		st = store.NewMemoryStore(testCatalog())
		log := zap.NewNop()
		h := server.NewHandler(log, st, simulator.New(st, log))
		router = server.NewRouter(h, log)
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v interface{}) {
		Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
	}

	Describe("GET /health", func() {
		It("reports healthy", func() {
			rec := do(http.MethodGet, "/health", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"status":"healthy"}`))
		})
	})

	Describe("middleware", func() {
		It("assigns a request id and echoes a given one", func() {
			rec := do(http.MethodGet, "/health", "")
			Expect(rec.Header().Get(server.RequestIDHeader)).NotTo(BeEmpty())

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set(server.RequestIDHeader, "abc-123")
			rec = httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Header().Get(server.RequestIDHeader)).To(Equal("abc-123"))
		})

		It("answers preflight requests with 204 and CORS headers", func() {
			rec := do(http.MethodOptions, "/test-cases", "")
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("test cases", func() {
		It("lists records in insertion order", func() {
			rec := do(http.MethodGet, "/test-cases", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var records []store.TransactionRecord
			decode(rec, &records)
			Expect(records).To(HaveLen(2))
			Expect(records[0].ID).To(Equal(1))
			Expect(records[1].ID).To(Equal(2))
		})

		It("returns the merged detail", func() {
			rec := do(http.MethodGet, "/test-cases/1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var detail frame
			decode(rec, &detail)
			Expect(detail).To(HaveKeyWithValue("id", BeNumerically("==", 1)))
			Expect(detail).To(HaveKeyWithValue("transactionValue", "R$ 100,00"))
			Expect(detail).To(HaveKeyWithValue("name", "Transferência PIX"))
			Expect(detail).To(HaveKeyWithValue("expectedTime", BeNumerically("==", 120)))
			Expect(detail["logs"]).To(HaveLen(3))
		})

		It("rejects non-numeric ids with 400", func() {
			for _, path := range []string{"/test-cases/abc", "/test-cases/12abc"} {
				rec := do(http.MethodGet, path, "")
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(rec.Body.String()).To(MatchJSON(`{"error":"Invalid test ID"}`))
			}
		})

		It("answers unknown ids with 404", func() {
			rec := do(http.MethodGet, "/test-cases/99", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"Test case not found"}`))
		})

		It("creates records verbatim with the next id", func() {
			rec := do(http.MethodPost, "/test-cases", `{"responseTime":"abc","transactionValue":"","transactionDate":"2024-13-45"}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var created store.TransactionRecord
			decode(rec, &created)
			Expect(created).To(Equal(store.TransactionRecord{
				ID:               3,
				ResponseTime:     "abc",
				TransactionValue: "",
				TransactionDate:  "2024-13-45",
			}))
		})

		It("rejects a malformed body", func() {
			rec := do(http.MethodPost, "/test-cases", `{not json`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("patches only the given fields", func() {
			rec := do(http.MethodPatch, "/test-cases/2", `{"transactionValue":"R$ 1,00"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var updated store.TransactionRecord
			decode(rec, &updated)
			Expect(updated.TransactionValue).To(Equal("R$ 1,00"))
			Expect(updated.ResponseTime).To(Equal("1250ms"))

			rec = do(http.MethodPut, "/test-cases/99", `{"transactionValue":"x"}`)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("echoes the record for control actions without changing it", func() {
			for _, action := range []string{"start", "stop", "pause", "restart"} {
				rec := do(http.MethodPost, "/test-cases/1/"+action, "")
				Expect(rec.Code).To(Equal(http.StatusOK))
				var detail frame
				decode(rec, &detail)
				Expect(detail).To(HaveKeyWithValue("id", BeNumerically("==", 1)))
			}

			Expect(do(http.MethodPost, "/test-cases/1/explode", "").Code).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodPost, "/test-cases/99/start", "").Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("cards", func() {
		It("lists and appends cards", func() {
			rec := do(http.MethodPost, "/cards", `{"title":"Estornos"}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(rec.Body.String()).To(MatchJSON(`{"id":2,"title":"Estornos"}`))

			rec = do(http.MethodGet, "/cards", "")
			var cards []store.Card
			decode(rec, &cards)
			Expect(cards).To(HaveLen(2))
		})

		It("rejects blank titles", func() {
			Expect(do(http.MethodPost, "/cards", `{"title":"   "}`).Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodPost, "/cards", `{}`).Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /reports/:id", func() {
		It("returns the fixed report as JSON", func() {
			rec := do(http.MethodGet, "/reports/1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var rep frame
			decode(rec, &rep)
			Expect(rep).To(HaveKeyWithValue("testId", BeNumerically("==", 1)))
			Expect(rep).To(HaveKeyWithValue("status", "Sucesso"))
			Expect(rep).To(HaveKeyWithValue("executedAt", time.Now().Format("02/01/2006")))
		})

		It("renders text on request", func() {
			rec := do(http.MethodGet, "/reports/1?format=text", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(rec.Body.String()).To(ContainSubstring("Transferência PIX"))
		})

		It("answers unknown ids with 404", func() {
			Expect(do(http.MethodGet, "/reports/99", "").Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /logs/:id", func() {
		var srv *httptest.Server

		BeforeEach(func() {
			srv = httptest.NewServer(router)
		})

		AfterEach(func() {
			srv.Close()
		})

		It("rejects bad ids before opening a stream", func() {
			rec := do(http.MethodGet, "/logs/abc", "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Header().Get("Content-Type")).To(HavePrefix("application/json"))

			rec = do(http.MethodGet, "/logs/99", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"Test case not found"}`))
		})

		It("streams every log line and then the completion frame", func() {
			resp, err := http.Get(srv.URL + "/logs/1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))

			frames := readFrames(bufio.NewReader(resp.Body))
			Expect(frames).To(HaveLen(4))
			for i, msg := range []string{"Iniciando", "Validando", "Concluído"} {
				Expect(frames[i]).To(HaveKeyWithValue("id", BeNumerically("==", i)))
				Expect(frames[i]).To(HaveKeyWithValue("message", msg))
				Expect(frames[i]).To(HaveKeyWithValue("testId", BeNumerically("==", 1)))
				Expect(frames[i]).To(HaveKey("timestamp"))
			}
			Expect(frames[3]).To(HaveKeyWithValue("type", "complete"))
			Expect(frames[3]).To(HaveKeyWithValue("testId", BeNumerically("==", 1)))
		})

		It("stops the stream when the client disconnects", func() {
			ctx, cancel := context.WithCancel(context.Background())
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs/2", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			done := make(chan []frame)
			go func() {
				defer GinkgoRecover()
				done <- readFrames(bufio.NewReader(resp.Body))
			}()

			cancel()
			Eventually(done, time.Second).Should(Receive(BeEmpty()))
			resp.Body.Close()
		})
	})
})
