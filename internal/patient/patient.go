// Package patient turns a patient profile file into the plain text that
// goes into every prompt. Profiles are usually plain text but clinics
// hand them over as PDF or Word exports often enough that both are
// supported.
package patient

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Extract returns the profile text for data read from path. The file
// extension picks the extraction strategy; anything that is not .pdf or
// .docx is treated as plain text.
func Extract(path string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDFText(bytes.NewReader(data), int64(len(data)))
	case ".docx":
		return extractDocxText(data)
	case ".doc":
		return "", fmt.Errorf("legacy .doc files are not supported, convert %s to .docx or plain text", path)
	default:
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("patient file %s is empty", path)
		}
		return text, nil
	}
}

func extractPDFText(reader io.ReaderAt, size int64) (string, error) {
	pdfReader, err := pdf.NewReader(reader, size)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}
	var textBuilder strings.Builder
	numPages := pdfReader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, _ := page.GetPlainText(nil)
		textBuilder.WriteString(text)
	}
	if strings.TrimSpace(textBuilder.String()) == "" {
		return "", fmt.Errorf("pdf contained no extractable text")
	}
	return textBuilder.String(), nil
}

func extractDocxText(data []byte) (string, error) {
	r := bytes.NewReader(data)
	doc, err := docx.ReadDocxFromMemory(r, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	return doc.Editable().GetContent(), nil
}
