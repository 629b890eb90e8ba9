package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/vegan-scanner/internal/capture"
	"github.com/zombor/vegan-scanner/internal/classify"
	"github.com/zombor/vegan-scanner/internal/ocr"
	"github.com/zombor/vegan-scanner/internal/quota"
	"github.com/zombor/vegan-scanner/internal/scan"
	"github.com/zombor/vegan-scanner/internal/server"
)

var _ = Describe("Integration", func() {
	var (
		tempDir    string
		spoolDir   string
		quotaStore *quota.Store
		ollama     *ghttp.Server
		anthropic  *ghttp.Server
		front      *ghttp.Server
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
		spoolDir = filepath.Join(tempDir, "spool")

		var err error
		quotaStore, err = quota.Open(filepath.Join(tempDir, "quota.db"), 1)
		Expect(err).NotTo(HaveOccurred())

		spool, err := capture.NewLocalStorage(spoolDir)
		Expect(err).NotTo(HaveOccurred())

		// Fake OCR engine
		ollama = ghttp.NewServer()
		ollama.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": `["Ingrediens: vatten, socker,", "mjölkpulver"]`,
				},
				"done": true,
			}),
		))

		// Fake classification service
		anthropic = ghttp.NewServer()
		anthropic.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1/messages"),
			ghttp.VerifyHeaderKV("x-api-key", "test-key"),
			func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				Expect(err).NotTo(HaveOccurred())
				// OCR blocks arrive joined and whitespace-normalized
				Expect(string(body)).To(ContainSubstring("Ingrediens: vatten, socker, mjölkpulver"))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"content": []map[string]any{{
					"type": "text",
					"text": "```json\n{\"isVegan\": false, \"ingredients\": [\"vatten\", \"socker\", \"mjölkpulver\"], \"explanation\": \"Mjölkpulver kommer från mjölk.\"}\n```",
				}},
				"stop_reason": "end_turn",
			}),
		))

		completer, err := classify.NewAnthropic(classify.AnthropicConfig{
			BaseURL: anthropic.URL(),
			APIKey:  "test-key",
		})
		Expect(err).NotTo(HaveOccurred())
		ingredientClassifier, err := classify.New(completer, classify.Options{Timeout: 5 * time.Second})
		Expect(err).NotTo(HaveOccurred())

		extractor := ocr.NewExtractor(ocr.NewOllama(ollama.URL(), ""), 5*time.Second, nil)
		classifier := quota.NewGuard(ingredientClassifier, quotaStore)

		sessions := server.NewSessions(func(p scan.Presenter) *scan.Pipeline {
			return scan.New(extractor, classifier, scan.WithPresenter(p))
		}, 0, 0)
		srv := server.NewServer(server.Config{
			Sessions: sessions,
			Spool:    spool,
			Quota:    quotaStore,
		})

		front = ghttp.NewServer()
		front.RouteToHandler(http.MethodPost, "/api/scans", srv.ServeHTTP)
		front.RouteToHandler(http.MethodGet, "/api/quota", srv.ServeHTTP)
	})

	AfterEach(func() {
		front.Close()
		ollama.Close()
		anthropic.Close()
		Expect(quotaStore.Close()).To(Succeed())
	})

	upload := func() *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "label.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("\x89PNG\r\n\x1a\n fake png content"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, front.URL()+"/api/scans", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("X-Scan-Session", "phone-1")

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should scan an ingredient photo into a verdict", func() {
		resp := upload()
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("application/json"))

		var body struct {
			Verdict classify.Verdict `json:"verdict"`
		}
		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &body)).To(Succeed())

		Expect(body.Verdict.IsVegan).To(BeFalse())
		Expect(body.Verdict.Ingredients).To(Equal([]string{"vatten", "socker", "mjölkpulver"}))
		Expect(body.Verdict.Explanation).To(HaveValue(Equal("Mjölkpulver kommer från mjölk.")))

		Expect(anthropic.ReceivedRequests()).To(HaveLen(1))

		// The upload is gone from the spool
		entries, err := os.ReadDir(spoolDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())

		used, err := quotaStore.Used(time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(used).To(Equal(1))
	})

	It("should refuse to classify once the daily budget is spent", func() {
		first := upload()
		first.Body.Close()
		Expect(first.StatusCode).To(Equal(http.StatusOK))

		ollama.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
			"message": map[string]any{"role": "assistant", "content": `["Ingredienser: havre"]`},
			"done":    true,
		}))

		second := upload()
		defer second.Body.Close()
		Expect(second.StatusCode).To(Equal(http.StatusBadGateway))

		var body struct {
			Error string     `json:"error"`
			Stage scan.Stage `json:"stage"`
		}
		Expect(json.NewDecoder(second.Body).Decode(&body)).To(Succeed())
		Expect(body.Stage).To(Equal(scan.StageClassification))
		Expect(body.Error).To(ContainSubstring("analysgräns"))

		// The classification service was never called a second time
		Expect(anthropic.ReceivedRequests()).To(HaveLen(1))
	})
})
