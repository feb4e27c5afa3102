// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"

	"github.com/pdiddy/citation-engine/pkg/types"
)

const (
	docxBody = "word/document.xml"
	docxRels = "word/_rels/document.xml.rels"
)

// convertDOCX renders the main document part of a Word file as HTML and
// converts that to Markdown.
func convertDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", &types.ParseError{Path: path, Reason: "unreadable docx", Err: err}
	}
	defer zr.Close()

	var body, rels *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case docxBody:
			body = f
		case docxRels:
			rels = f
		}
	}
	if body == nil {
		return "", &types.ParseError{Path: path, Reason: "docx has no " + docxBody}
	}

	links := map[string]string{}
	if rels != nil {
		if links, err = readRelationships(rels); err != nil {
			return "", &types.ParseError{Path: path, Reason: "reading relationships", Err: err}
		}
	}

	rc, err := body.Open()
	if err != nil {
		return "", &types.ParseError{Path: path, Reason: "opening " + docxBody, Err: err}
	}
	defer rc.Close()

	htmlDoc, err := docxToHTML(rc, links)
	if err != nil {
		return "", &types.ParseError{Path: path, Reason: "parsing " + docxBody, Err: err}
	}
	return htmlToMarkdown(htmlDoc)
}

// htmlToMarkdown converts HTML with GitHub-style tables.
func htmlToMarkdown(htmlDoc string) (string, error) {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.Table())
	out, err := conv.ConvertString(htmlDoc)
	if err != nil {
		return "", fmt.Errorf("converting html to markdown: %w", err)
	}
	return strings.TrimSpace(out) + "\n", nil
}

type relationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
		Mode   string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// readRelationships returns hyperlink targets by relationship id.
func readRelationships(f *zip.File) (map[string]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var rels relationships
	if err := xml.NewDecoder(rc).Decode(&rels); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rels.Items))
	for _, r := range rels.Items {
		out[r.ID] = r.Target
	}
	return out, nil
}

// paragraph accumulates one w:p element.
type paragraph struct {
	style  string
	list   bool
	inline strings.Builder
}

func (p *paragraph) tag() string {
	s := strings.ToLower(p.style)
	switch {
	case s == "title":
		return "h1"
	case strings.HasPrefix(s, "heading") && len(s) == len("heading")+1:
		level := s[len(s)-1]
		if level >= '1' && level <= '6' {
			return "h" + string(level)
		}
	}
	return "p"
}

// docxToHTML walks WordprocessingML and emits headings, paragraphs, list
// items, tables, bold and italic runs, and hyperlinks.
func docxToHTML(r io.Reader, links map[string]string) (string, error) {
	dec := xml.NewDecoder(r)
	var out strings.Builder
	var para *paragraph
	inList := false
	var bold, italic, inText bool
	var href string
	cellDepth := 0
	cellText := false

	closeList := func() {
		if inList {
			out.WriteString("</ul>\n")
			inList = false
		}
	}

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
			case "p":
				para = &paragraph{}
			case "pStyle":
				if para != nil {
					para.style = attr(t, "val")
				}
			case "numPr":
				if para != nil {
					para.list = true
				}
			case "r":
				bold, italic = false, false
			case "b":
				bold = attr(t, "val") != "0" && attr(t, "val") != "false"
			case "i":
				italic = attr(t, "val") != "0" && attr(t, "val") != "false"
			case "t":
				inText = true
			case "tab":
				if para != nil {
					para.inline.WriteString(" ")
				}
			case "br":
				if para != nil {
					para.inline.WriteString("<br>")
				}
			case "hyperlink":
				href = links[attr(t, "id")]
				if href == "" && attr(t, "anchor") != "" {
					href = "#" + attr(t, "anchor")
				}
				if para != nil && href != "" {
					fmt.Fprintf(&para.inline, `<a href="%s">`, html.EscapeString(href))
				}
			case "tbl":
				closeList()
				out.WriteString("<table>\n")
			case "tr":
				out.WriteString("<tr>")
			case "tc":
				cellDepth++
				cellText = false
				out.WriteString("<td>")
			}

		case xml.CharData:
			if inText && para != nil {
				text := html.EscapeString(string(t))
				switch {
				case bold && italic:
					text = "<strong><em>" + text + "</em></strong>"
				case bold:
					text = "<strong>" + text + "</strong>"
				case italic:
					text = "<em>" + text + "</em>"
				}
				para.inline.WriteString(text)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "hyperlink":
				if para != nil && href != "" {
					para.inline.WriteString("</a>")
				}
				href = ""
			case "p":
				if para == nil {
					continue
				}
				content := strings.TrimSpace(para.inline.String())
				switch {
				case content == "":
				case cellDepth > 0:
					// Table cells hold inline text only.
					if cellText {
						out.WriteString(" ")
					}
					out.WriteString(content)
					cellText = true
				case para.list:
					if !inList {
						out.WriteString("<ul>\n")
						inList = true
					}
					fmt.Fprintf(&out, "<li>%s</li>\n", content)
				default:
					closeList()
					tag := para.tag()
					fmt.Fprintf(&out, "<%s>%s</%s>\n", tag, content, tag)
				}
				para = nil
			case "tc":
				cellDepth--
				out.WriteString("</td>")
			case "tr":
				out.WriteString("</tr>\n")
			case "tbl":
				out.WriteString("</table>\n")
			}
		}
	}
	closeList()
	return out.String(), nil
}

func attr(e xml.StartElement, local string) string {
	for _, a := range e.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
