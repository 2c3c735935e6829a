package main

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-vault/internal/remote"
)

var _ = Describe("run", func() {
	var (
		dir  string
		base []string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		base = []string{
			"--storage", filepath.Join(dir, "receipts"),
			"--log-level", "error",
			"--azure-endpoint", "http://127.0.0.1:1",
			"--azure-key", "key",
		}
	})

	DescribeTable("exit codes",
		func(args []string, want int) {
			Expect(run(append(base, args...))).To(Equal(want))
		},
		Entry("version", []string{"--version"}, 0),
		Entry("help", []string{"--help"}, 0),
		Entry("unknown flag", []string{"--bogus"}, 1),
		Entry("unknown locale", []string{"--locale", "fr"}, 1),
		Entry("unknown extractor", []string{"--extractor", "tesseract"}, 1),
		Entry("no receipt files", []string{}, 1),
		Entry("unreadable receipt file", []string{"missing.png"}, 1),
	)

	When("a run fails after remote sync is wired", func() {
		var cachePath string

		BeforeEach(func() {
			cachePath = filepath.Join(dir, "cache.db")
		})

		It("should still close the location cache", func() {
			code := run(append(base, "--google-token", "tok", "--cache-db", cachePath, filepath.Join(dir, "missing.png")))
			Expect(code).To(Equal(1))

			cache, err := remote.NewBoltCache(cachePath)
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.Close()).To(Succeed())
		})
	})
})
