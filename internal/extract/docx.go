package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// wParagraph matches one paragraph, attributes included.
	wParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	// wText matches <w:t>text</w:t> with any attributes.
	wText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

func readZipFile(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return data, true, err
	}
	return nil, false, nil
}

// docxMainDocumentPath reads the main part name from [Content_Types].xml.
func docxMainDocumentPath(zr *zip.Reader) string {
	data, ok, err := readZipFile(zr, contentTypesPath)
	if !ok || err != nil {
		return docxDocumentXMLPath
	}
	for _, re := range []*regexp.Regexp{partNameRe, partNameRe2} {
		if m := re.FindSubmatch(data); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDocumentXMLPath
}

// extractDOCX returns one line per paragraph. Runs inside a paragraph are concatenated
// as-is since Word splits runs in the middle of words.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	docPath := docxMainDocumentPath(zr)
	docXML, ok, err := readZipFile(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", docPath, err)
	}
	if !ok {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}

	var lines []string
	for _, para := range wParagraph.FindAll(docXML, -1) {
		var b strings.Builder
		for _, run := range wText.FindAllSubmatch(para, -1) {
			b.WriteString(html.UnescapeString(string(run[1])))
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
