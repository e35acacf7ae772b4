package rag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractText converts an uploaded file into plain text by extension.
// Supported: PDF, TXT, MD, JSON.
func extractText(filename string, content []byte) (string, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".pdf":
		return extractPDF(content)
	case ".json":
		var obj any
		if err := json.Unmarshal(content, &obj); err != nil {
			return "", fmt.Errorf("%w: invalid JSON document", ErrInvalidDocument)
		}
		pretty, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return "", fmt.Errorf("%w: invalid JSON document", ErrInvalidDocument)
		}
		return string(pretty), nil
	case ".txt", ".md", ".markdown":
		return string(content), nil
	default:
		return "", fmt.Errorf("%w: unsupported file type, allowed: PDF, TXT, MD, JSON", ErrInvalidDocument)
	}
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: unreadable PDF", ErrInvalidDocument)
	}
	text, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: no text content extracted from document", ErrInvalidDocument)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(text); err != nil {
		return "", fmt.Errorf("%w: no text content extracted from document", ErrInvalidDocument)
	}
	return buf.String(), nil
}
