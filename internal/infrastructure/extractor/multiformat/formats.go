package multiformat

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

type family int

const (
	familyOther family = iota
	familyImage
	familyAudioVideo
)

const (
	mediaDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mediaODT  = "application/vnd.oasis.opendocument.text"
	mediaXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mediaPPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

type decoderFunc func(raw []byte, maxChars int) (string, error)

var structuredDecoders = map[string]decoderFunc{
	"application/pdf":       decodePDF,
	mediaDOCX:               decodeDOCX,
	mediaODT:                decodeODT,
	mediaXLSX:               decodeXLSX,
	mediaPPTX:               decodePPTX,
	"text/html":             decodeHTML,
	"application/xhtml+xml": decodeHTML,
	"application/json":      decodePlain,
	"application/xml":       decodePlain,
	"application/x-yaml":    decodePlain,
	"application/yaml":      decodePlain,
}

func familyOf(mediaType string) family {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return familyImage
	case strings.HasPrefix(mediaType, "audio/"), strings.HasPrefix(mediaType, "video/"):
		return familyAudioVideo
	default:
		return familyOther
	}
}

func decoderFor(mediaType string) (decoderFunc, bool) {
	if decode, ok := structuredDecoders[mediaType]; ok {
		return decode, true
	}
	if strings.HasPrefix(mediaType, "text/") {
		return decodePlain, true
	}
	return nil, false
}

func decodePlain(raw []byte, _ int) (string, error) {
	if bytes.IndexByte(raw, 0) >= 0 {
		return "", errors.New("binary content in text file")
	}
	if !utf8.Valid(raw) {
		return strings.ToValidUTF8(string(raw), ""), nil
	}
	return string(raw), nil
}

func decodePDF(raw []byte, maxChars int) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	out := newBudgetWriter(maxChars)
	for i := 1; i <= reader.NumPage() && !out.Full(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		out.WriteString(text)
		out.WriteString("\n")
	}
	return out.String(), nil
}

func decodeXLSX(raw []byte, maxChars int) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	out := newBudgetWriter(maxChars)
	for _, sheet := range book.GetSheetList() {
		if out.Full() {
			break
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		out.WriteString(sheet)
		out.WriteString("\n")
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) == 0 {
				continue
			}
			out.WriteString(strings.Join(cells, "\t"))
			out.WriteString("\n")
			if out.Full() {
				break
			}
		}
	}
	return out.String(), nil
}

func decodeDOCX(raw []byte, maxChars int) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	out := newBudgetWriter(maxChars)
	if err := xmlTextFromZip(archive, "word/document.xml", "t", out); err != nil {
		return "", err
	}
	return out.String(), nil
}

func decodeODT(raw []byte, maxChars int) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open odt: %w", err)
	}
	out := newBudgetWriter(maxChars)
	if err := xmlTextFromZip(archive, "content.xml", "", out); err != nil {
		return "", err
	}
	return out.String(), nil
}

func decodePPTX(raw []byte, maxChars int) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}

	type slide struct {
		name string
		num  int
	}
	var slides []slide
	for _, f := range archive.File {
		if !strings.HasPrefix(f.Name, "ppt/slides/slide") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(f.Name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{name: f.Name, num: num})
	}
	if len(slides) == 0 {
		return "", errors.New("pptx has no slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	out := newBudgetWriter(maxChars)
	for _, s := range slides {
		if out.Full() {
			break
		}
		if err := xmlTextFromZip(archive, s.name, "t", out); err != nil {
			return "", err
		}
	}
	return out.String(), nil
}

// xmlTextFromZip collects character data from one archive member. When
// textElement is set, only character data inside elements with that local
// name is kept. Paragraph and heading ends become line breaks.
func xmlTextFromZip(archive *zip.Reader, member, textElement string, out *budgetWriter) error {
	file, err := archive.Open(member)
	if err != nil {
		return fmt.Errorf("open %s: %w", member, err)
	}
	defer file.Close()

	decoder := xml.NewDecoder(file)
	depth := 0
	for !out.Full() {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse %s: %w", member, err)
		}
		switch el := token.(type) {
		case xml.StartElement:
			if el.Name.Local == textElement {
				depth++
			}
			if el.Name.Local == "tab" {
				out.WriteString("\t")
			}
		case xml.EndElement:
			if el.Name.Local == textElement && depth > 0 {
				depth--
			}
			if el.Name.Local == "p" || el.Name.Local == "h" {
				out.WriteString("\n")
			}
		case xml.CharData:
			if textElement == "" || depth > 0 {
				out.WriteString(string(el))
			}
		}
	}
	return nil
}

func decodeHTML(raw []byte, maxChars int) (string, error) {
	tokenizer := html.NewTokenizer(bytes.NewReader(raw))
	out := newBudgetWriter(maxChars)
	skipDepth := 0
	for !out.Full() {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if errors.Is(tokenizer.Err(), io.EOF) {
				return out.String(), nil
			}
			return "", fmt.Errorf("parse html: %w", tokenizer.Err())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isSkippedHTMLElement(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isSkippedHTMLElement(string(name)) && skipDepth > 0 {
				skipDepth--
			}
			out.WriteString(" ")
		case html.TextToken:
			if skipDepth == 0 {
				out.WriteString(string(tokenizer.Text()))
			}
		}
	}
	return out.String(), nil
}

func isSkippedHTMLElement(name string) bool {
	switch name {
	case "script", "style", "noscript", "template":
		return true
	default:
		return false
	}
}
