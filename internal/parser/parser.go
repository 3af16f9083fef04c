// Package parser extracts plain text from the document formats a policy
// document is usually delivered in.
package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"policy-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

// Parse detects the document type and extracts its text
func Parse(name, contentType string, data []byte) (string, models.DocumentType, error) {
	docType, err := Detect(name, contentType, data)
	if err != nil {
		return "", "", err
	}
	text, err := Extract(docType, name, data)
	if err != nil {
		return "", docType, err
	}
	return text, docType, nil
}

// Detect works out the document type from the file extension, then the
// content type, then the leading bytes.
func Detect(name, contentType string, data []byte) (models.DocumentType, error) {
	if t, ok := typeFromExt(strings.ToLower(filepath.Ext(name))); ok {
		return t, nil
	}
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if t, ok := typeFromMIME(mt); ok {
				return t, nil
			}
		}
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return models.DocumentTypePDF, nil
	case bytes.HasPrefix(data, []byte("PK")):
		return sniffZip(data)
	case utf8.Valid(data):
		return models.DocumentTypeText, nil
	}
	if strings.HasPrefix(http.DetectContentType(data), "text/") {
		return models.DocumentTypeText, nil
	}
	return "", fmt.Errorf("%w: unsupported document format", models.ErrDocumentParse)
}

func typeFromExt(ext string) (models.DocumentType, bool) {
	switch ext {
	case ".pdf":
		return models.DocumentTypePDF, true
	case ".docx":
		return models.DocumentTypeDOCX, true
	case ".pptx":
		return models.DocumentTypePPTX, true
	case ".xlsx", ".xlsm", ".xltx":
		return models.DocumentTypeXLSX, true
	case ".md", ".markdown":
		return models.DocumentTypeMarkdown, true
	case ".txt", ".text":
		return models.DocumentTypeText, true
	}
	return "", false
}

func typeFromMIME(mt string) (models.DocumentType, bool) {
	switch mt {
	case "application/pdf":
		return models.DocumentTypePDF, true
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return models.DocumentTypeDOCX, true
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return models.DocumentTypePPTX, true
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return models.DocumentTypeXLSX, true
	case "text/markdown", "text/x-markdown":
		return models.DocumentTypeMarkdown, true
	case "text/plain", "text/html":
		return models.DocumentTypeText, true
	}
	return "", false
}

// sniffZip tells the office formats apart by their main part
func sniffZip(data []byte) (models.DocumentType, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: zip container: %v", models.ErrDocumentParse, err)
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return models.DocumentTypeDOCX, nil
		case strings.HasPrefix(f.Name, "ppt/"):
			return models.DocumentTypePPTX, nil
		case strings.HasPrefix(f.Name, "xl/"):
			return models.DocumentTypeXLSX, nil
		}
	}
	return "", fmt.Errorf("%w: zip archive is not an office document", models.ErrDocumentParse)
}

// Extract returns the raw text of data interpreted as docType. The name is
// only used to pick the spreadsheet reader.
func Extract(docType models.DocumentType, name string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch docType {
	case models.DocumentTypePDF:
		text, err = parsePDF(data)
	case models.DocumentTypeDOCX:
		text, err = parseDOCX(data)
	case models.DocumentTypePPTX:
		text, err = parsePPTX(data)
	case models.DocumentTypeXLSX:
		ext := strings.ToLower(filepath.Ext(name))
		if ext == ".xlsm" || ext == ".xltx" {
			text, err = parseExcelize(data)
		} else {
			text, err = parseXLSX(data)
		}
	case models.DocumentTypeMarkdown:
		text, err = markdownToText(data)
	case models.DocumentTypeText:
		text = string(data)
	default:
		return "", fmt.Errorf("%w: unsupported document type %q", models.ErrDocumentParse, docType)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrDocumentParse, docType, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s document has no extractable text", models.ErrDocumentParse, docType)
	}

	log.Debug().Str("type", string(docType)).Int("bytes", len(data)).Int("chars", utf8.RuneCountInString(text)).Msg("Extracted document text")
	return text, nil
}

func parsePDF(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(pageText)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()

	return xmlText(r.Editable().GetContent())
}

func parsePPTX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, "ppt/slides/slide")
		if name == f.Name || !strings.HasSuffix(name, ".xml") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(name, ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var b strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		slideText, err := xmlText(string(content))
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.num, err)
		}
		b.WriteString(slideText)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func parseXLSX(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

// parseExcelize handles macro-enabled workbooks and templates
func parseExcelize(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

// xmlText collects the character data of <t> runs in an office XML part.
// Paragraph ends become blank lines, tabs and breaks are kept.
func xmlText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteString("\t")
			case "br":
				b.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
