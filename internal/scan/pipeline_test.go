package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/vegan-scanner/internal/capture"
	"github.com/zombor/vegan-scanner/internal/classify"
	"github.com/zombor/vegan-scanner/internal/ocr"
	"github.com/zombor/vegan-scanner/internal/quota"
)

var _ = Describe("Pipeline", func() {
	var (
		capturer   *mockCapturer
		extractor  *mockExtractor
		classifier *mockClassifier
		presenter  *recordingPresenter
		pipeline   *Pipeline
		outcome    Outcome
		err        error
	)

	BeforeEach(func() {
		capturer = &mockCapturer{}
		extractor = &mockExtractor{
			text: ocr.ExtractedText{
				Raw:        []string{"Ingredienser: havre, vatten"},
				Normalized: "Ingredienser: havre, vatten",
			},
		}
		classifier = &mockClassifier{
			verdict: classify.Verdict{IsVegan: true, Ingredients: []string{"havre", "vatten"}},
		}
		presenter = &recordingPresenter{}
		pipeline = New(extractor, classifier, WithPresenter(presenter))
	})

	Describe("Run", func() {
		JustBeforeEach(func() {
			outcome, err = pipeline.Run(context.Background(), capturer)
		})

		When("every stage succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should succeed with the verdict", func() {
				Expect(outcome.Succeeded()).To(BeTrue())
				Expect(outcome.Err).To(BeNil())
				Expect(outcome.Verdict.Ingredients).To(Equal([]string{"havre", "vatten"}))
			})

			It("should classify the normalized text", func() {
				Expect(classifier.text).To(Equal("Ingredienser: havre, vatten"))
			})

			It("should emit the phases in order and reset to Ready", func() {
				Expect(presenter.phases).To(Equal([]Phase{
					PhaseCapturing, PhaseExtracting, PhaseClassifying, PhaseReady,
				}))
			})

			It("should present the verdict before returning to Ready", func() {
				Expect(presenter.log()).To(Equal([]string{
					"phase:" + string(PhaseCapturing),
					"phase:" + string(PhaseExtracting),
					"phase:" + string(PhaseClassifying),
					"verdict",
					"phase:" + string(PhaseReady),
				}))
			})

			It("should present exactly one verdict", func() {
				Expect(presenter.verdicts).To(HaveLen(1))
				Expect(presenter.errors).To(BeEmpty())
			})

			It("should release the image", func() {
				Expect(capturer.releaseCount()).To(Equal(1))
			})
		})

		When("capture fails", func() {
			BeforeEach(func() {
				capturer.captureErr = capture.ErrPermission
			})

			It("fails at the capture stage", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Succeeded()).To(BeFalse())
				Expect(outcome.Err.Stage).To(Equal(StageCapture))
				Expect(outcome.Err).To(MatchError(capture.ErrPermission))
			})

			It("never reaches the later stages", func() {
				Expect(extractor.calls).To(Equal(0))
				Expect(classifier.callCount()).To(Equal(0))
			})

			It("presents the error message", func() {
				Expect(presenter.errors).To(Equal([]string{msgCapture}))
				Expect(presenter.verdicts).To(BeEmpty())
			})

			It("has no image to release", func() {
				Expect(capturer.releaseCount()).To(Equal(0))
			})

			It("resets to Ready after presenting the error", func() {
				Expect(presenter.phases).To(Equal([]Phase{PhaseCapturing, PhaseReady}))
				Expect(presenter.log()).To(Equal([]string{
					"phase:" + string(PhaseCapturing),
					"error",
					"phase:" + string(PhaseReady),
				}))
			})
		})

		When("the upload has an unsupported format", func() {
			BeforeEach(func() {
				capturer.captureErr = errors.Join(capture.ErrUnsupported, errors.New("text/plain"))
			})

			It("tells the user which formats work", func() {
				Expect(outcome.Err.Stage).To(Equal(StageCapture))
				Expect(outcome.Err.Message).To(Equal(msgCaptureFormat))
			})
		})

		When("the OCR engine fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.Join(ocr.ErrRecognition, errors.New("device error"))
				extractor.err = setupErr
			})

			It("fails at the extraction stage with the cause", func() {
				Expect(outcome.Err.Stage).To(Equal(StageExtraction))
				Expect(outcome.Err.Message).To(Equal(msgExtraction))
				Expect(outcome.Err).To(MatchError(setupErr))
			})

			It("releases the image", func() {
				Expect(capturer.releaseCount()).To(Equal(1))
			})

			It("never classifies", func() {
				Expect(classifier.callCount()).To(Equal(0))
			})
		})

		When("the image has no text", func() {
			BeforeEach(func() {
				extractor.err = ocr.ErrNoText
			})

			It("fails at the extraction stage and asks for a new photo", func() {
				Expect(outcome.Succeeded()).To(BeFalse())
				Expect(outcome.Verdict).To(BeNil())
				Expect(outcome.Err.Stage).To(Equal(StageExtraction))
				Expect(outcome.Err.Message).To(Equal(msgNoText))
				Expect(outcome.Err.Retryable()).To(BeTrue())
			})

			It("releases the image", func() {
				Expect(capturer.releaseCount()).To(Equal(1))
			})
		})

		When("the classification transport fails", func() {
			BeforeEach(func() {
				classifier.err = errors.Join(classify.ErrTransport, errors.New("connection reset"))
			})

			It("fails at the classification stage", func() {
				Expect(outcome.Err.Stage).To(Equal(StageClassification))
				Expect(outcome.Err.Message).To(Equal(msgClassification))
				Expect(outcome.Err).To(MatchError(classify.ErrTransport))
			})

			It("releases the image", func() {
				Expect(capturer.releaseCount()).To(Equal(1))
			})

			It("does not retry", func() {
				Expect(classifier.callCount()).To(Equal(1))
			})
		})

		When("the service is rate limited", func() {
			BeforeEach(func() {
				classifier.err = errors.Join(classify.ErrTransport, &classify.StatusError{Service: "anthropic", StatusCode: 429})
			})

			It("fails at the classification stage with the overload message", func() {
				Expect(outcome.Err.Stage).To(Equal(StageClassification))
				Expect(outcome.Err.Message).To(Equal(msgRateLimited))
			})
		})

		When("the daily budget is used up", func() {
			BeforeEach(func() {
				classifier.err = errors.Join(classify.ErrTransport, classify.ErrRateLimited, quota.ErrExhausted)
			})

			It("fails at the classification stage with the quota message", func() {
				Expect(outcome.Err.Stage).To(Equal(StageClassification))
				Expect(outcome.Err.Message).To(Equal(msgQuotaExhausted))
			})
		})

		When("the reply violates the contract", func() {
			BeforeEach(func() {
				_, parseErr := classify.ParseVerdict(`{"ingredients": ["mjölk"]}`)
				classifier.err = parseErr
			})

			It("fails with a contract violation distinct from transport", func() {
				Expect(outcome.Err.Stage).To(Equal(StageContractViolation))
				Expect(outcome.Err.Message).To(Equal(msgContractViolated))
				Expect(outcome.Err.Retryable()).To(BeFalse())
			})

			It("releases the image", func() {
				Expect(capturer.releaseCount()).To(Equal(1))
			})
		})

		When("releasing the image fails", func() {
			BeforeEach(func() {
				capturer.releaseErr = errors.New("disk gone")
			})

			It("still succeeds", func() {
				Expect(outcome.Succeeded()).To(BeTrue())
			})
		})
	})

	Describe("concurrent triggers", func() {
		It("ignores a trigger while a run is classifying", func() {
			classifier.gate = make(chan struct{})

			type result struct {
				outcome Outcome
				err     error
			}
			first := make(chan result, 1)
			go func() {
				defer GinkgoRecover()
				o, e := pipeline.Run(context.Background(), capturer)
				first <- result{o, e}
			}()

			Eventually(presenter.lastPhase).Should(Equal(PhaseClassifying))

			second := &mockCapturer{}
			_, err := pipeline.Run(context.Background(), second)
			Expect(err).To(MatchError(ErrBusy))
			Expect(second.captureCount()).To(Equal(0))
			Expect(presenter.results()).To(Equal(0))

			close(classifier.gate)

			var r result
			Eventually(first).Should(Receive(&r))
			Expect(r.err).NotTo(HaveOccurred())
			Expect(r.outcome.Succeeded()).To(BeTrue())

			Expect(capturer.captureCount()).To(Equal(1))
			Expect(classifier.callCount()).To(Equal(1))
			Expect(presenter.results()).To(Equal(1))
		})

		It("accepts a new trigger once the previous run finished", func() {
			_, err := pipeline.Run(context.Background(), capturer)
			Expect(err).NotTo(HaveOccurred())
			_, err = pipeline.Run(context.Background(), capturer)
			Expect(err).NotTo(HaveOccurred())

			Expect(capturer.captureCount()).To(Equal(2))
			Expect(capturer.releaseCount()).To(Equal(2))
			Expect(presenter.results()).To(Equal(2))
		})
	})

	Describe("cancellation", func() {
		It("discards the outcome and releases the image", func() {
			classifier.gate = make(chan struct{})
			ctx, cancel := context.WithCancel(context.Background())

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, e := pipeline.Run(ctx, capturer)
				done <- e
			}()

			Eventually(presenter.lastPhase).Should(Equal(PhaseClassifying))
			cancel()

			var runErr error
			Eventually(done).Should(Receive(&runErr))
			Expect(runErr).To(MatchError(ErrCancelled))
			Expect(runErr).To(MatchError(context.Canceled))

			Expect(presenter.results()).To(Equal(0))
			Expect(capturer.releaseCount()).To(Equal(1))
			Expect(presenter.lastPhase()).To(Equal(PhaseReady))
		})

		It("frees the pipeline for the next trigger", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := pipeline.Run(ctx, capturer)
			Expect(err).To(MatchError(ErrCancelled))

			_, err = pipeline.Run(context.Background(), capturer)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})

var _ = Describe("Pipeline end to end", func() {
	var (
		spoolDir   string
		storage    *capture.LocalStorage
		recognizer *stubRecognizer
		completer  *stubCompleter
		presenter  *recordingPresenter
		pipeline   *Pipeline
	)

	BeforeEach(func() {
		spoolDir = GinkgoT().TempDir()
		var err error
		storage, err = capture.NewLocalStorage(spoolDir)
		Expect(err).NotTo(HaveOccurred())

		recognizer = &stubRecognizer{blocks: []string{"Ingrediens: vatten, socker, mjölkpulver"}}
		completer = &stubCompleter{
			reply: "Här är analysen:\n" +
				`{"isVegan": false, "ingredients": ["vatten", "socker", "mjölkpulver"], "explanation": "Mjölkpulver är en animalisk ingrediens."}`,
		}

		classifier, err := classify.New(completer, classify.Options{Timeout: time.Second})
		Expect(err).NotTo(HaveOccurred())

		presenter = &recordingPresenter{}
		pipeline = New(ocr.NewExtractor(recognizer, time.Second, nil), classifier, WithPresenter(presenter))
	})

	It("turns an ingredient photo into a verdict and cleans up the spool", func() {
		capturer := capture.NewSpoolCapturer(storage, capture.Upload{
			Filename:    "label.jpg",
			ContentType: "image/jpeg",
			Data:        []byte("\xff\xd8\xff\xe0 fake jpeg"),
		}, 0)

		outcome, err := pipeline.Run(context.Background(), capturer)
		Expect(err).NotTo(HaveOccurred())

		Expect(recognizer.seen).To(Equal("image/jpeg"))
		Expect(completer.input).To(Equal("Ingrediens: vatten, socker, mjölkpulver"))

		Expect(outcome.Succeeded()).To(BeTrue())
		Expect(outcome.Verdict.IsVegan).To(BeFalse())
		Expect(outcome.Verdict.Ingredients).To(Equal([]string{"vatten", "socker", "mjölkpulver"}))
		Expect(outcome.Verdict.Explanation).To(HaveValue(ContainSubstring("Mjölkpulver")))
		Expect(presenter.verdicts).To(HaveLen(1))

		entries, err := os.ReadDir(spoolDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("cleans up the spool when extraction finds no text", func() {
		recognizer.blocks = nil
		capturer := capture.NewSpoolCapturer(storage, capture.Upload{
			Filename: "blurry.png",
			Data:     []byte("\x89PNG\r\n\x1a\n fake png"),
		}, 0)

		outcome, err := pipeline.Run(context.Background(), capturer)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Err.Stage).To(Equal(StageExtraction))
		Expect(completer.calls).To(Equal(0))

		matches, err := filepath.Glob(filepath.Join(spoolDir, "*"))
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(BeEmpty())
	})
})

// stubRecognizer is a mock implementation of ocr.Recognizer
type stubRecognizer struct {
	blocks []string
	seen   string
}

func (s *stubRecognizer) Recognize(ctx context.Context, img *capture.Image) ([]string, error) {
	if _, err := img.Bytes(); err != nil {
		return nil, err
	}
	s.seen = img.ContentType
	return s.blocks, nil
}

func (s *stubRecognizer) Close() error {
	return nil
}

// stubCompleter is a mock implementation of classify.Completer
type stubCompleter struct {
	reply string
	input string
	calls int
}

func (s *stubCompleter) Complete(ctx context.Context, req classify.Request) (string, error) {
	s.calls++
	s.input = req.InputText()
	return s.reply, nil
}

func (s *stubCompleter) Close() error {
	return nil
}
