// Package payload validates and encodes per-record payloads (images or
// single-page scan PDFs) for inclusion in batch requests. A payload that
// fails validation is reported with a reason so the encoder can skip the
// record; validation never aborts a batch.
package payload

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DefaultMaxBytes caps payload size; the provider rejects oversized
// request bodies long after upload, so catch them here.
const DefaultMaxBytes = 20 * 1024 * 1024

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Validate checks that the payload at path exists, is within the size cap,
// and has a supported type. PDFs are additionally probed for readability
// and must contain exactly one page. Returns a human-readable reason when
// invalid.
func Validate(path string, maxBytes int64) (ok bool, reason string) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, "file does not exist"
	}
	if info.Size() > maxBytes {
		return false, fmt.Sprintf("file too large: %.1fMB", float64(info.Size())/1024/1024)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		f, err := os.Open(path)
		if err != nil {
			return false, fmt.Sprintf("read error: %v", err)
		}
		defer f.Close()
		pages, err := api.PageCount(f, nil)
		if err != nil {
			return false, fmt.Sprintf("unreadable pdf: %v", err)
		}
		if pages != 1 {
			return false, fmt.Sprintf("pdf has %d pages, want 1", pages)
		}
		return true, ""
	}

	if _, known := mimeByExt[ext]; !known {
		return false, fmt.Sprintf("unsupported payload type %q", ext)
	}
	return true, ""
}

// EncodeDataURL reads the payload and returns it as a base64 data URL
// suitable for an image_url request part. Single-page PDFs contribute their
// embedded page scan.
func EncodeDataURL(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return encodePDFScan(path)
	}

	mime, ok := mimeByExt[ext]
	if !ok {
		return "", fmt.Errorf("unsupported payload type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read payload %s: %w", path, err)
	}
	return dataURL(mime, data), nil
}

// encodePDFScan extracts the embedded page image from a single-page scan
// PDF. Scanned pages are stored as one full-page image object, so the first
// extracted image is the page.
func encodePDFScan(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf payload: %w", err)
	}
	defer f.Close()

	var (
		data     []byte
		fileType string
	)
	digest := func(img model.Image, singleImgPerPage bool, maxPageDigits int) error {
		if data != nil {
			return nil // keep the first image only
		}
		b, err := io.ReadAll(img)
		if err != nil {
			return fmt.Errorf("failed to read embedded image: %w", err)
		}
		data = b
		fileType = img.FileType
		return nil
	}
	if err := api.ExtractImages(f, []string{"1"}, digest, nil); err != nil {
		return "", fmt.Errorf("failed to extract page image from %s: %w", path, err)
	}
	if data == nil {
		return "", fmt.Errorf("pdf payload %s has no embedded page image", path)
	}

	mime := "image/" + fileType
	if fileType == "jpg" {
		mime = "image/jpeg"
	}
	return dataURL(mime, data), nil
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
