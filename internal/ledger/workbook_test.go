package ledger

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/receipt-vault/internal/receipt"
)

var _ = Describe("Workbook", func() {
	var (
		tempDir  string
		path     string
		workbook *Workbook
		fields   receipt.Fields
	)

	readRows := func() [][]string {
		f, err := excelize.OpenFile(path)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		rows, err := f.GetRows(sheetName)
		Expect(err).NotTo(HaveOccurred())
		return rows
	}

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "workbook-test-*")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(tempDir, "Receipts_03_2025.xlsx")
		workbook = NewWorkbook(receipt.English, "$", nil)
		fields = receipt.FieldsFrom(map[receipt.Field]string{
			receipt.FieldMerchant: "Cafe X",
			receipt.FieldDate:     "14/03/2025",
			receipt.FieldTotal:    "$42.50",
		})
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	When("the workbook does not exist", func() {
		JustBeforeEach(func() {
			Expect(workbook.Append(path, fields)).To(Succeed())
		})

		It("should create it with the header row", func() {
			rows := readRows()
			Expect(rows).To(HaveLen(2))
			Expect(rows[0]).To(Equal(receipt.English.HeaderRow()))
		})

		It("should write the record in schema order", func() {
			row := readRows()[1]
			Expect(row[0]).To(Equal("Cafe X"))
			Expect(row[1]).To(Equal("14/03/2025"))
		})

		It("should store the total as a number", func() {
			f, err := excelize.OpenFile(path)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()
			raw, err := f.GetCellValue(sheetName, "G2", excelize.Options{RawCellValue: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(Equal("42.5"))
		})
	})

	When("the workbook already has rows", func() {
		BeforeEach(func() {
			Expect(workbook.Append(path, fields)).To(Succeed())
		})

		It("should append after the last row", func() {
			second := fields.Clone()
			second[receipt.FieldMerchant] = "Bakery"
			Expect(workbook.Append(path, second)).To(Succeed())

			rows := readRows()
			Expect(rows).To(HaveLen(3))
			Expect(rows[2][0]).To(Equal("Bakery"))
		})
	})

	When("the target directory is missing", func() {
		It("should return an error", func() {
			err := workbook.Append(filepath.Join(tempDir, "missing", "ledger.xlsx"), fields)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("amount", func() {
		It("should strip the currency symbol and separators", func() {
			v, ok := amount("₪1,204.10", "₪")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(1204.10))
		})

		It("should reject text", func() {
			_, ok := amount("n/a", "$")
			Expect(ok).To(BeFalse())
		})
	})
})
