package remote

import (
	"context"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/zombor/receipt-vault/internal/receipt"
)

var _ = Describe("SheetsLedger", func() {
	var (
		server *ghttp.Server
		ledger *SheetsLedger
		locale receipt.Locale
		ctx    context.Context
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		ctx = context.Background()
		locale = receipt.Hebrew
	})

	JustBeforeEach(func() {
		srv, err := sheets.NewService(ctx,
			option.WithEndpoint(server.URL()+"/"),
			option.WithHTTPClient(http.DefaultClient),
		)
		Expect(err).NotTo(HaveOccurred())
		ledger = NewSheetsLedgerWithService(srv, locale, "₪", nil)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("HasHeader", func() {
		var values map[string]any

		JustBeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", MatchRegexp(`^/v4/spreadsheets/ledger-1/values/A1:J1$`)),
				ghttp.RespondWithJSONEncoded(http.StatusOK, values),
			))
		})

		When("the first row holds values", func() {
			BeforeEach(func() {
				values = map[string]any{"range": "A1:J1", "values": [][]string{{"Merchant", "Date"}}}
			})

			It("should report a header", func() {
				Expect(ledger.HasHeader(ctx, "ledger-1")).To(BeTrue())
			})
		})

		When("the first row is empty", func() {
			BeforeEach(func() {
				values = map[string]any{"range": "A1:J1"}
			})

			It("should report no header", func() {
				Expect(ledger.HasHeader(ctx, "ledger-1")).To(BeFalse())
			})
		})
	})

	Describe("WriteHeader", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("PUT", MatchRegexp(`^/v4/spreadsheets/ledger-1/values/A1:J1$`)),
				ghttp.VerifyFormKV("valueInputOption", "RAW"),
				ghttp.VerifyJSON(`{"values":[["a","b"]]}`),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"spreadsheetId": "ledger-1"}),
			))
		})

		It("should write the header row raw", func() {
			Expect(ledger.WriteHeader(ctx, "ledger-1", []string{"a", "b"})).To(Succeed())
		})
	})

	Describe("Format", func() {
		var captured sheets.BatchUpdateSpreadsheetRequest

		BeforeEach(func() {
			captured = sheets.BatchUpdateSpreadsheetRequest{}
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/v4/spreadsheets/ledger-1:batchUpdate"),
				func(w http.ResponseWriter, r *http.Request) {
					Expect(json.NewDecoder(r.Body).Decode(&captured)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"spreadsheetId": "ledger-1"}),
			))
		})

		It("should send every formatting request in one batch", func() {
			Expect(ledger.Format(ctx, "ledger-1")).To(Succeed())
			Expect(server.ReceivedRequests()).To(HaveLen(1))
			Expect(captured.Requests).To(HaveLen(5))
		})

		It("should bold the header row", func() {
			Expect(ledger.Format(ctx, "ledger-1")).To(Succeed())
			bold := captured.Requests[0].RepeatCell
			Expect(bold.Range.EndRowIndex).To(Equal(int64(1)))
			Expect(bold.Cell.UserEnteredFormat.TextFormat.Bold).To(BeTrue())
		})

		It("should lay the sheet out right to left", func() {
			Expect(ledger.Format(ctx, "ledger-1")).To(Succeed())
			Expect(captured.Requests[1].RepeatCell.Cell.UserEnteredFormat.HorizontalAlignment).To(Equal("RIGHT"))
			Expect(captured.Requests[2].UpdateSheetProperties.Properties.RightToLeft).To(BeTrue())
		})

		It("should format the two price columns as currency", func() {
			Expect(ledger.Format(ctx, "ledger-1")).To(Succeed())
			currency := captured.Requests[3].RepeatCell
			Expect(currency.Range.StartColumnIndex).To(Equal(int64(6)))
			Expect(currency.Range.EndColumnIndex).To(Equal(int64(8)))
			Expect(currency.Cell.UserEnteredFormat.NumberFormat.Type).To(Equal("CURRENCY"))
			Expect(currency.Cell.UserEnteredFormat.NumberFormat.Pattern).To(ContainSubstring("₪"))
		})

		It("should auto size all ten columns", func() {
			Expect(ledger.Format(ctx, "ledger-1")).To(Succeed())
			resize := captured.Requests[4].AutoResizeDimensions.Dimensions
			Expect(resize.Dimension).To(Equal("COLUMNS"))
			Expect(resize.EndIndex).To(Equal(int64(10)))
		})

		When("the locale is left to right", func() {
			BeforeEach(func() {
				locale = receipt.English
			})

			It("should align left", func() {
				Expect(ledger.Format(ctx, "ledger-1")).To(Succeed())
				Expect(captured.Requests[1].RepeatCell.Cell.UserEnteredFormat.HorizontalAlignment).To(Equal("LEFT"))
				Expect(captured.Requests[2].UpdateSheetProperties.Properties.RightToLeft).To(BeFalse())
			})
		})
	})

	Describe("AppendRow", func() {
		When("the append succeeds", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", MatchRegexp(`^/v4/spreadsheets/ledger-1/values/A:J:append$`)),
					ghttp.VerifyFormKV("valueInputOption", "USER_ENTERED"),
					ghttp.VerifyFormKV("insertDataOption", "INSERT_ROWS"),
					ghttp.VerifyJSON(`{"values":[["Cafe X","","","","","","$42.50","","",""]]}`),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"spreadsheetId": "ledger-1"}),
				))
			})

			It("should insert the row", func() {
				row := receipt.FieldsFrom(map[receipt.Field]string{
					receipt.FieldMerchant: "Cafe X",
					receipt.FieldTotal:    "$42.50",
				}).Row()
				Expect(ledger.AppendRow(ctx, "ledger-1", row)).To(Succeed())
			})
		})

		When("the credential is not valid for the ledger", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusForbidden, `{"error":{"code":403,"message":"denied"}}`))
			})

			It("should return ErrNotAuthorized", func() {
				err := ledger.AppendRow(ctx, "ledger-1", []string{"x"})
				Expect(err).To(MatchError(ErrNotAuthorized))
			})
		})

		When("the ledger is unavailable", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, `{"error":{"code":500,"message":"boom"}}`))
			})

			It("should return a transient ErrAppendFailed", func() {
				err := ledger.AppendRow(ctx, "ledger-1", []string{"x"})
				Expect(err).To(MatchError(ErrAppendFailed))
				Expect(receipt.IsTransient(err)).To(BeTrue())
			})
		})
	})
})
