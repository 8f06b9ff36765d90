//go:build !cgo

package ocr

import "errors"

// NewEmbedded needs libtesseract through cgo; this build has none.
func NewEmbedded(language, tessdataPrefix string, psm int) (Recognizer, error) {
	return nil, errors.New("embedded OCR backend requires a cgo build; use OCR_BACKEND=cli")
}
