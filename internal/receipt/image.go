package receipt

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const jpegQuality = 90

// NormalizeImage decodes an uploaded image and returns it as JPEG or PNG.
// JPEG and PNG input is kept byte-for-byte; HEIC/HEIF and GIF are re-encoded.
func NormalizeImage(data []byte, contentType string) (Image, error) {
	mimeType := normalizeMIME(contentType, data)

	if mimeType == "application/pdf" {
		return Image{}, fmt.Errorf("pdf input must be split with ImagesFromPDF")
	}

	if mimeType == "image/heic" {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return Image{}, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return encodeJPEG(img)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return Image{}, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return Image{}, fmt.Errorf("decoding image: %w", err)
	}
	if format == "jpeg" || format == "png" {
		return Image{Data: data, ContentType: "image/" + format, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decoding image: %w", err)
	}
	return encodeJPEG(img)
}

// ImagesFromPDF renders every page of a PDF upload as a separate image,
// one per pipeline run.
func ImagesFromPDF(data []byte) ([]Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	images := make([]Image, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		page, err := doc.Image(n)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", n+1, err)
		}
		img, err := encodeJPEG(page)
		if err != nil {
			return nil, fmt.Errorf("encoding PDF page %d: %w", n+1, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// Images expands one upload into the receipt images it contains
func Images(data []byte, contentType string) ([]Image, error) {
	if normalizeMIME(contentType, data) == "application/pdf" {
		return ImagesFromPDF(data)
	}
	img, err := NormalizeImage(data, contentType)
	if err != nil {
		return nil, err
	}
	return []Image{img}, nil
}

func encodeJPEG(img image.Image) (Image, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Image{}, fmt.Errorf("encoding JPEG: %w", err)
	}
	b := img.Bounds()
	return Image{Data: buf.Bytes(), ContentType: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// normalizeMIME lowercases the declared type and lets magic bytes win for
// HEIC and PDF, which phones often mislabel.
func normalizeMIME(contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch {
	case isHEICFormat(data) || strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif"):
		return "image/heic"
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return "application/pdf"
	case mimeType == "image/jpg":
		return "image/jpeg"
	case mimeType == "":
		return "image/jpeg"
	}
	return mimeType
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}
