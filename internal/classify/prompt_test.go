package classify

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewRequest", func() {
	It("uses the Swedish template by default", func() {
		req, err := NewRequest("", "vatten, socker")
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Version()).To(Equal("sv-1"))
		Expect(req.InputText()).To(Equal("vatten, socker"))
		Expect(req.Prompt()).To(ContainSubstring("Analysera dessa ingredienser"))
		Expect(req.Prompt()).To(ContainSubstring("vatten, socker"))
		Expect(req.Prompt()).NotTo(ContainSubstring(textPlaceholder))
	})

	It("asks for every verdict field", func() {
		req, err := NewRequest("en-1", "water")
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Prompt()).To(ContainSubstring(`"isVegan"`))
		Expect(req.Prompt()).To(ContainSubstring(`"ingredients"`))
		Expect(req.Prompt()).To(ContainSubstring(`"explanation"`))
	})

	It("does not expand placeholders inside the ingredient text", func() {
		req, err := NewRequest("en-1", "sugar {{text}}")
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Prompt()).To(ContainSubstring("sugar {{text}}"))
	})

	It("rejects unknown versions", func() {
		_, err := NewRequest("fr-9", "eau")
		Expect(err).To(MatchError(ContainSubstring("unknown prompt template")))
	})

	It("lists the known versions", func() {
		Expect(PromptVersions()).To(ConsistOf("en-1", "sv-1"))
		Expect(DefaultPromptVersion()).To(Equal("sv-1"))
	})
})
