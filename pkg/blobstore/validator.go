package blobstore

import (
	"bytes"
	"image"
	// decoders for image.DecodeConfig
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/platinummonkey/lectern/pkg/apperr"
)

// Kind is a validated file type
type Kind string

const (
	KindPDF   Kind = "PDF"
	KindImage Kind = "IMAGE"
)

var (
	pdfMagic = []byte("%PDF-")
	pdfEOF   = []byte("%%EOF")
)

// pdfTrailerWindow is how far from the end the EOF marker may sit
const pdfTrailerWindow = 1024

// Sniffed is the outcome of content validation
type Sniffed struct {
	Kind        Kind
	ContentType string
	Ext         string
	Width       int
	Height      int
}

// Validator classifies uploads by content, never by file name
type Validator struct {
	allowed  map[Kind]bool
	maxBytes int64
}

// NewValidator accepts the given kinds up to maxBytes. A non-positive
// maxBytes disables the size check.
func NewValidator(maxBytes int64, kinds ...Kind) *Validator {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &Validator{allowed: allowed, maxBytes: maxBytes}
}

// MaxBytes returns the upload size limit
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate sniffs data and rejects empty, oversized, corrupt or unsupported
// files with a Validation error on the "file" field.
func (v *Validator) Validate(data []byte) (*Sniffed, error) {
	if len(data) == 0 {
		return nil, apperr.Validation("file", "File is empty.")
	}
	if v.maxBytes > 0 && int64(len(data)) > v.maxBytes {
		return nil, apperr.Validation("file", "File exceeds the maximum upload size.")
	}

	contentType := http.DetectContentType(data)
	switch {
	case bytes.HasPrefix(data, pdfMagic) || contentType == "application/pdf":
		if !v.allowed[KindPDF] {
			return nil, v.unsupported()
		}
		return sniffPDF(data)
	case contentType == "image/png" || contentType == "image/jpeg":
		if !v.allowed[KindImage] {
			return nil, v.unsupported()
		}
		return sniffImage(data, contentType)
	default:
		return nil, v.unsupported()
	}
}

func sniffPDF(data []byte) (*Sniffed, error) {
	tail := data
	if len(tail) > pdfTrailerWindow {
		tail = tail[len(tail)-pdfTrailerWindow:]
	}
	if !bytes.HasPrefix(data, pdfMagic) || !bytes.Contains(tail, pdfEOF) {
		return nil, apperr.Validation("file", "File is corrupt.")
	}
	return &Sniffed{Kind: KindPDF, ContentType: "application/pdf", Ext: "pdf"}, nil
}

func sniffImage(data []byte, contentType string) (*Sniffed, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperr.Validation("file", "File is corrupt.")
	}
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	return &Sniffed{
		Kind:        KindImage,
		ContentType: contentType,
		Ext:         ext,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}

func (v *Validator) unsupported() error {
	var formats []string
	if v.allowed[KindPDF] {
		formats = append(formats, ".pdf")
	}
	if v.allowed[KindImage] {
		formats = append(formats, ".jpg", ".jpeg", ".png")
	}
	switch len(formats) {
	case 0:
		return apperr.Validation("file", "File uploads are disabled.")
	case 1:
		return apperr.Validation("file", "Only "+formats[0]+" file formats are supported.")
	default:
		last := len(formats) - 1
		return apperr.Validation("file",
			"Only "+strings.Join(formats[:last], ", ")+" and "+formats[last]+" file formats are supported.")
	}
}
