package service

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/tieubaoca/docrag/types"
)

// DocxExtractor reads paragraph text from word/document.xml.
type DocxExtractor struct{}

func (DocxExtractor) Extract(_ context.Context, path string) (*Extraction, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, &types.ExtractionError{FileType: types.FileTypeDOCX, Err: err}
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		text, err := readDocumentXML(file)
		if err != nil {
			return nil, &types.ExtractionError{FileType: types.FileTypeDOCX, Err: err}
		}
		return &Extraction{Text: text}, nil
	}
	return nil, &types.ExtractionError{
		FileType: types.FileTypeDOCX,
		Err:      errors.New("word/document.xml not found"),
	}
}

// readDocumentXML joins the text of every w:p in document order, one line
// per paragraph. Runs nested in hyperlinks, insertions, smart tags and
// content controls count toward their paragraph.
func readDocumentXML(file *zip.File) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var (
		paragraphs []string
		current    strings.Builder
		paraDepth  int
		propsDepth int
		inText     bool
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch tok := token.(type) {
		case xml.StartElement:
			switch tok.Name.Local {
			case "p":
				paraDepth++
			case "pPr", "rPr":
				propsDepth++
			case "t":
				inText = paraDepth > 0
			case "tab":
				if paraDepth > 0 && propsDepth == 0 {
					current.WriteByte('\t')
				}
			case "br", "cr":
				if paraDepth > 0 && propsDepth == 0 {
					current.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch tok.Name.Local {
			case "pPr", "rPr":
				propsDepth--
			case "t":
				inText = false
			case "p":
				if paraDepth == 0 {
					continue
				}
				paraDepth--
				if paraDepth == 0 {
					paragraphs = append(paragraphs, current.String())
					current.Reset()
				}
			}
		case xml.CharData:
			if inText {
				current.Write(tok)
			}
		}
	}
	return strings.TrimSpace(strings.Join(paragraphs, "\n")), nil
}
