// Package extract turns uploaded PDF, DOCX and plain-text files into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeText = "text/plain"
)

const defaultMaxExtractedBytes = 64 << 20

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrUnreadable        = errors.New("file content could not be read")
	ErrTooLarge          = errors.New("decompressed content exceeds the limit")
)

type kind int

const (
	kindUnknown kind = iota
	kindPDF
	kindDOCX
	kindText
)

// Extractor caps how many bytes a file may expand to while decoding.
type Extractor struct {
	maxExpanded int64
}

func New(maxExpandedBytes int64) *Extractor {
	if maxExpandedBytes <= 0 {
		maxExpandedBytes = defaultMaxExtractedBytes
	}
	return &Extractor{maxExpanded: maxExpandedBytes}
}

// Extract sniffs the content type of data (falling back to the filename
// extension for generic containers) and returns its plain text.
func (e *Extractor) Extract(data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", ErrUnreadable
	}

	switch detect(data, filename) {
	case kindPDF:
		return e.extractPDF(data)
	case kindDOCX:
		return e.extractDOCX(data)
	case kindText:
		return strings.ToValidUTF8(string(data), ""), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func detect(data []byte, filename string) kind {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is(mimePDF):
		return kindPDF
	case mt.Is(mimeDOCX):
		return kindDOCX
	case mt.Is(mimeText):
		return kindText
	case mt.Is("application/zip"), mt.Is("application/octet-stream"):
		return kindFromExtension(filename)
	}
	return kindUnknown
}

func kindFromExtension(filename string) kind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return kindPDF
	case ".docx":
		return kindDOCX
	case ".txt":
		return kindText
	}
	return kindUnknown
}

func (e *Extractor) extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrUnreadable, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", ErrUnreadable, err)
	}
	lr := &io.LimitedReader{R: plain, N: e.maxExpanded + 1}
	out, err := io.ReadAll(lr)
	if err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", ErrUnreadable, err)
	}
	if int64(len(out)) > e.maxExpanded {
		return "", fmt.Errorf("%w: pdf text over %d bytes", ErrTooLarge, e.maxExpanded)
	}
	return string(out), nil
}

func (e *Extractor) extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open docx: %v", ErrUnreadable, err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("%w: open document.xml: %v", ErrUnreadable, err)
		}
		defer rc.Close()
		lr := &io.LimitedReader{R: rc, N: e.maxExpanded + 1}
		text, err := documentXMLText(lr)
		if lr.N == 0 {
			return "", fmt.Errorf("%w: document.xml over %d bytes", ErrTooLarge, e.maxExpanded)
		}
		return text, err
	}
	return "", fmt.Errorf("%w: docx has no word/document.xml", ErrUnreadable)
}

// documentXMLText keeps the text runs (w:t), turns tabs into \t and
// paragraph ends into newlines.
func documentXMLText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parse document.xml: %v", ErrUnreadable, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
