package remote

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/zombor/receipt-vault/internal/receipt"
)

var _ = Describe("DriveFolders", func() {
	var (
		server  *ghttp.Server
		folders *DriveFolders
		ctx     context.Context
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		ctx = context.Background()

		srv, err := drive.NewService(ctx,
			option.WithEndpoint(server.URL()+"/"),
			option.WithHTTPClient(http.DefaultClient),
		)
		Expect(err).NotTo(HaveOccurred())
		folders = NewDriveFoldersWithService(srv, nil)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("FindChild", func() {
		When("a matching folder exists", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("GET", "/files"),
					ghttp.VerifyFormKV("q", "name = 'O\\'Brien receipts' and 'parent-1' in parents and mimeType = 'application/vnd.google-apps.folder' and trashed = false"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
						"files": []any{map[string]any{"id": "folder-9", "name": "O'Brien receipts"}},
					}),
				))
			})

			It("should return its id", func() {
				id, found, err := folders.FindChild(ctx, "O'Brien receipts", "parent-1", FolderMimeType)
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(id).To(Equal("folder-9"))
			})
		})

		When("nothing matches", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("GET", "/files"),
					ghttp.VerifyFormKV("q", "name = 'ReceiptVault' and 'root' in parents and mimeType = 'application/vnd.google-apps.folder' and trashed = false"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"files": []any{}}),
				))
			})

			It("should report not found at the top level", func() {
				_, found, err := folders.FindChild(ctx, "ReceiptVault", "", FolderMimeType)
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeFalse())
			})
		})

		When("the credential is rejected", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized, `{"error":{"code":401,"message":"Invalid Credentials"}}`))
			})

			It("should return ErrNotAuthenticated", func() {
				_, _, err := folders.FindChild(ctx, "ReceiptVault", "", FolderMimeType)
				Expect(err).To(MatchError(ErrNotAuthenticated))
				Expect(err).To(MatchError(receipt.ErrAuth))
			})
		})

		When("the service is overloaded", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, `{"error":{"code":503,"message":"Backend Error"}}`))
			})

			It("should return a transient ErrRequestFailed", func() {
				_, _, err := folders.FindChild(ctx, "ReceiptVault", "", FolderMimeType)
				Expect(err).To(MatchError(ErrRequestFailed))
				Expect(receipt.IsTransient(err)).To(BeTrue())
			})
		})

		When("the body is not JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html></html>"))
			})

			It("should return ErrInvalidResponse", func() {
				_, _, err := folders.FindChild(ctx, "ReceiptVault", "", FolderMimeType)
				Expect(err).To(MatchError(ErrInvalidResponse))
				Expect(err).To(MatchError(receipt.ErrMalformed))
			})
		})
	})

	Describe("CreateChild", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/files"),
				ghttp.VerifyJSON(`{"name":"Receipts_03_2025","mimeType":"application/vnd.google-apps.spreadsheet","parents":["month-1"]}`),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"id": "sheet-1"}),
			))
		})

		It("should create the object in the parent", func() {
			id, err := folders.CreateChild(ctx, "Receipts_03_2025", "month-1", SpreadsheetMimeType)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("sheet-1"))
		})
	})

	Describe("Exists", func() {
		It("should be true for a live object", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/files/folder-1"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"id": "folder-1", "trashed": false}),
			))
			exists, err := folders.Exists(ctx, "folder-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("should be false for a trashed object", func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"id": "folder-1", "trashed": true}))
			exists, err := folders.Exists(ctx, "folder-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("should be false for a deleted object", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"error":{"code":404,"message":"File not found"}}`))
			exists, err := folders.Exists(ctx, "folder-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})
})
