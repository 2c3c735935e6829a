package receipt

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Locale", func() {
	march := Period{Year: 2025, Month: time.March}

	DescribeTable("LocaleByName",
		func(name string, want Locale) {
			l, err := LocaleByName(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Name).To(Equal(want.Name))
		},
		Entry("he", "he", Hebrew),
		Entry("hebrew, any case", "Hebrew", Hebrew),
		Entry("en", "en", English),
		Entry("empty defaults to english", "", English),
	)

	It("rejects an unknown locale", func() {
		_, err := LocaleByName("fr")
		Expect(err).To(MatchError(ContainSubstring(`unknown locale "fr"`)))
	})

	It("names month directories in its language", func() {
		Expect(English.MonthName(march)).To(Equal("March 2025"))
		Expect(Hebrew.MonthName(march)).To(Equal("מרץ 2025"))
	})

	It("lays out Hebrew ledgers right to left", func() {
		Expect(Hebrew.RightToLeft).To(BeTrue())
		Expect(English.RightToLeft).To(BeFalse())
	})

	It("returns a header row the caller may modify", func() {
		row := English.HeaderRow()
		Expect(row).To(HaveLen(len(Schema)))
		Expect(row[0]).To(Equal("Business Name"))
		row[0] = "changed"
		Expect(English.Headers[0]).To(Equal("Business Name"))
	})
})

var _ = Describe("DocumentName", func() {
	at := time.Date(2025, time.March, 14, 9, 5, 7, 0, time.UTC)

	DescribeTable("names",
		func(merchant, want string) {
			Expect(DocumentName(merchant, at)).To(Equal(want))
		},
		Entry("plain merchant", "Cafe X", "Cafe X_14-03-2025_09-05-07.pdf"),
		Entry("empty merchant", "", "Receipt_14-03-2025_09-05-07.pdf"),
		Entry("unknown merchant", "Unknown", "Receipt_14-03-2025_09-05-07.pdf"),
		Entry("unsafe characters", `A/B:C*"D"`, "ABCD_14-03-2025_09-05-07.pdf"),
		Entry("hebrew merchant", "קפה  גרג", "קפה גרג_14-03-2025_09-05-07.pdf"),
		Entry("only unsafe characters", `<>:"`, "Receipt_14-03-2025_09-05-07.pdf"),
	)

	It("truncates long merchants on rune boundaries", func() {
		long := ""
		for i := 0; i < 40; i++ {
			long += "שם"
		}
		name := DocumentName(long, at)
		Expect(name).To(HaveSuffix("_14-03-2025_09-05-07.pdf"))
		prefix := strings.TrimSuffix(name, "_14-03-2025_09-05-07.pdf")
		Expect([]rune(prefix)).To(HaveLen(50))
		Expect(strings.HasPrefix(long, prefix)).To(BeTrue())
	})
})
