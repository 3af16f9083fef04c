package parser

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag/internal/models"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func slideXML(texts ...string) string {
	s := `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree>`
	for _, t := range texts {
		s += `<p:sp><p:txBody><a:p><a:r><a:t>` + t + `</a:t></a:r></a:p></p:txBody></p:sp>`
	}
	return s + `</p:spTree></p:cSld></p:sld>`
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		contentType string
		data        []byte
		want        models.DocumentType
	}{
		{"pdf extension", "policy.PDF", "", nil, models.DocumentTypePDF},
		{"docx extension", "policy.docx", "", nil, models.DocumentTypeDOCX},
		{"xlsm extension", "rates.xlsm", "", nil, models.DocumentTypeXLSX},
		{"markdown extension", "README.md", "", nil, models.DocumentTypeMarkdown},
		{"content type pdf", "", "application/pdf", nil, models.DocumentTypePDF},
		{"content type with params", "", "text/plain; charset=utf-8", nil, models.DocumentTypeText},
		{"pdf magic", "download", "application/octet-stream", []byte("%PDF-1.7\n..."), models.DocumentTypePDF},
		{"plain utf8", "", "", []byte("Grace period is 30 days."), models.DocumentTypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.file, tt.contentType, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_SniffsOfficeContainers(t *testing.T) {
	tests := map[string]models.DocumentType{
		"word/document.xml":     models.DocumentTypeDOCX,
		"ppt/slides/slide1.xml": models.DocumentTypePPTX,
		"xl/workbook.xml":       models.DocumentTypeXLSX,
	}
	for part, want := range tests {
		data := zipOf(t, map[string]string{part: "<x/>"})
		got, err := Detect("blob", "", data)
		require.NoError(t, err)
		assert.Equal(t, want, got, part)
	}

	_, err := Detect("blob", "", zipOf(t, map[string]string{"other.txt": "x"}))
	assert.ErrorIs(t, err, models.ErrDocumentParse)
}

func TestDetect_Binary(t *testing.T) {
	_, err := Detect("", "", []byte{0x00, 0x01, 0x80, 0xff})
	assert.ErrorIs(t, err, models.ErrDocumentParse)
}

func TestParse_Text(t *testing.T) {
	text, docType, err := Parse("policy.txt", "", []byte("Waiting period: 2 years."))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTypeText, docType)
	assert.Equal(t, "Waiting period: 2 years.", text)
}

func TestParse_EmptyText(t *testing.T) {
	_, _, err := Parse("policy.txt", "", []byte("  \n "))
	assert.ErrorIs(t, err, models.ErrDocumentParse)
}

func TestParse_Markdown(t *testing.T) {
	src := "# Coverage\n\nThe policy covers **in-patient** care\nand day care.\n\n- Item one\n- Item two\n\n| Benefit | Limit |\n|---|---|\n| Room | 1% |\n"
	text, docType, err := Parse("policy.md", "", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTypeMarkdown, docType)
	assert.Contains(t, text, "Coverage\n\n")
	assert.Contains(t, text, "The policy covers in-patient care\nand day care.")
	assert.Contains(t, text, "Item one")
	assert.Contains(t, text, "Item two")
	assert.Contains(t, text, "Room\t1%")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "#")
}

func TestParse_PPTXInSlideOrder(t *testing.T) {
	data := zipOf(t, map[string]string{
		"ppt/slides/slide10.xml":           slideXML("Ten"),
		"ppt/slides/slide2.xml":            slideXML("Two"),
		"ppt/slides/slide1.xml":            slideXML("One", "Uno"),
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
	})
	text, docType, err := Parse("deck.pptx", "", data)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTypePPTX, docType)
	assert.Equal(t, []string{"One", "Uno", "Two", "Ten"}, strings.Fields(text))
}

func TestParse_CorruptPDF(t *testing.T) {
	_, _, err := Parse("policy.pdf", "", []byte("%PDF-1.4 not really a pdf"))
	assert.ErrorIs(t, err, models.ErrDocumentParse)
}

func TestXMLText(t *testing.T) {
	content := `<w:document xmlns:w="w"><w:body>` +
		`<w:p><w:r><w:t>Section 1.</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve"> Definitions</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Line</w:t><w:br/><w:t>break</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	text, err := xmlText(content)
	require.NoError(t, err)
	assert.Equal(t, "Section 1.\t Definitions\n\nLine\nbreak\n\n", text)
}

func TestExtract_UnknownType(t *testing.T) {
	_, err := Extract(models.DocumentType("odt"), "x.odt", []byte("x"))
	assert.ErrorIs(t, err, models.ErrDocumentParse)
}
