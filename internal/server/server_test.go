package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-vault/internal/receipt"
)

var _ = Describe("Server", func() {
	var (
		ingester    *mockIngester
		storage     *receipt.LocalStorage
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		var err error
		ingester = &mockIngester{}
		storage, err = receipt.NewLocalStorage(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(ingester, storage, auth, http.NewServeMux(), nil)
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(parts map[string][]byte, order ...string) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		for _, name := range order {
			part, err := writer.CreateFormFile("file", name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(parts[name])
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeUpload := func(resp *http.Response) uploadResponse {
		defer resp.Body.Close()
		var body uploadResponse
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body
	}

	Describe("handleUploadReceipts", func() {
		When("a single image is uploaded", func() {
			It("runs the pipeline and returns the result", func() {
				resp := upload(map[string][]byte{"receipt.png": pngBytes(2)}, "receipt.png")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				body := decodeUpload(resp)
				Expect(body.Results).To(HaveLen(1))
				Expect(body.Results[0].Stage).To(Equal("complete"))
				Expect(body.Results[0].Outcome).To(Equal("local_only"))
				Expect(body.Results[0].LocalPath).To(Equal("March 2025/Cafe X.pdf"))
				Expect(body.Results[0].Summary).To(ContainSubstring("remote sync skipped"))
				Expect(body.Results[0].Fields[receipt.FieldMerchant]).To(Equal("Cafe X"))

				Expect(ingester.calls).To(Equal(1))
				Expect(ingester.images).To(HaveLen(1))
				Expect(ingester.images[0].ContentType).To(Equal("image/png"))
			})
		})

		When("several files are uploaded", func() {
			It("passes the images in upload order", func() {
				resp := upload(map[string][]byte{
					"first.png":  pngBytes(3),
					"second.png": pngBytes(5),
				}, "first.png", "second.png")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(decodeUpload(resp).Results).To(HaveLen(2))

				Expect(ingester.calls).To(Equal(1))
				Expect(ingester.images).To(HaveLen(2))
				Expect(ingester.images[0].Width).To(Equal(3))
				Expect(ingester.images[1].Width).To(Equal(5))
			})
		})

		When("every run fails", func() {
			BeforeEach(func() {
				ingester.results = failedResults
				ingester.err = errors.New("image 1: storage full")
			})

			It("returns Unprocessable Entity with the failure summaries", func() {
				resp := upload(map[string][]byte{"receipt.png": pngBytes(2)}, "receipt.png")
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				body := decodeUpload(resp)
				Expect(body.Results).To(HaveLen(1))
				Expect(body.Results[0].Stage).To(Equal("failed"))
				Expect(body.Results[0].Summary).To(Equal("failed: storage full"))
			})
		})

		When("no file part is present", func() {
			It("returns Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				Expect(writer.WriteField("note", "hello")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("No file was selected"))
				Expect(ingester.calls).To(BeZero())
			})
		})

		When("the body is not multipart", func() {
			It("returns Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", "text/plain", bytes.NewBufferString("hello"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(ingester.calls).To(BeZero())
			})
		})

		When("a part cannot be decoded", func() {
			It("returns Bad Request naming the file", func() {
				resp := upload(map[string][]byte{"notes.txt": []byte("not an image")}, "notes.txt")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("notes.txt"))
				Expect(ingester.calls).To(BeZero())
			})
		})
	})

	Describe("handleListMonths", func() {
		BeforeEach(func() {
			_, err := storage.Save("March 2025", "a.pdf", []byte("%PDF-1.7"))
			Expect(err).NotTo(HaveOccurred())
			_, err = storage.Save("April 2025", "b.pdf", []byte("%PDF-1.7"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the month directories", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/months")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var months []string
			Expect(json.NewDecoder(resp.Body).Decode(&months)).To(Succeed())
			Expect(months).To(Equal([]string{"March 2025", "April 2025"}))
		})
	})

	Describe("handleListMonth", func() {
		BeforeEach(func() {
			_, err := storage.Save("March 2025", "Cafe X_14-03-2025_10-00-00.pdf", []byte("%PDF-1.7"))
			Expect(err).NotTo(HaveOccurred())
		})

		When("the month exists", func() {
			It("returns its documents", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/months/March%202025")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var files []receipt.StoredFile
				Expect(json.NewDecoder(resp.Body).Decode(&files)).To(Succeed())
				Expect(files).To(HaveLen(1))
				Expect(files[0].Name).To(Equal("Cafe X_14-03-2025_10-00-00.pdf"))
				Expect(files[0].Path).To(Equal("March 2025/Cafe X_14-03-2025_10-00-00.pdf"))
			})
		})

		When("the month does not exist", func() {
			It("returns Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/months/May%201999")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleGetDocument", func() {
		BeforeEach(func() {
			_, err := storage.Save("March 2025", "a.pdf", []byte("%PDF-1.7 body"))
			Expect(err).NotTo(HaveOccurred())
		})

		When("the document exists", func() {
			It("serves it as a PDF", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/months/March%202025/a.pdf")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("%PDF-1.7 body"))
			})
		})

		When("the document does not exist", func() {
			It("returns Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/months/March%202025/missing.pdf")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
		})

		get := func(header string) *http.Response {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/months", nil)
			Expect(err).NotTo(HaveOccurred())
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		basic := func(user, pass string) string {
			return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
		}

		DescribeTable("rejects bad credentials",
			func(header string) {
				resp := get(header)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			},
			Entry("no header", ""),
			Entry("wrong password", basic("user", "wrong")),
			Entry("wrong scheme", "Bearer token"),
			Entry("bad encoding", "Basic !!!"),
			Entry("no separator", "Basic "+base64.StdEncoding.EncodeToString([]byte("user"))),
		)

		It("accepts the configured credentials", func() {
			resp := get(basic("user", "secret"))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("Start", func() {
		It("returns once the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- server.Start(ctx, "127.0.0.1:0")
			}()
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Describe("routing", func() {
		It("rejects other methods on the upload route", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})
})
