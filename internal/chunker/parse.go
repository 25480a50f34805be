package chunker

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// element is one structural unit extracted from a document before
// windowing. Section headers above the element are already prefixed onto
// text so the context survives chunk boundaries.
type element struct {
	text    string
	meta    map[string]string
	isTable bool
}

// parseElements dispatches on file extension. Unknown formats return no
// elements, which triggers the plain-text fallback in Split.
func parseElements(data []byte, fileName string) ([]element, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".html", ".htm", ".xhtml":
		return parseHTML(data)
	case ".md", ".markdown", ".txt", ".text", "":
		return parseText(string(data)), nil
	default:
		return nil, nil
	}
}

// headerStack tracks the current section breadcrumb while walking a
// document top to bottom.
type headerStack struct {
	levels []int
	titles []string
}

func (h *headerStack) push(level int, title string) {
	for len(h.levels) > 0 && h.levels[len(h.levels)-1] >= level {
		h.levels = h.levels[:len(h.levels)-1]
		h.titles = h.titles[:len(h.titles)-1]
	}
	h.levels = append(h.levels, level)
	h.titles = append(h.titles, title)
}

// breadcrumb returns the joined titles of all open sections.
func (h *headerStack) breadcrumb() string {
	return strings.Join(h.titles, " > ")
}

// parent returns the breadcrumb excluding the innermost section, used for
// heading elements themselves.
func (h *headerStack) parent() string {
	if len(h.titles) == 0 {
		return ""
	}
	return strings.Join(h.titles[:len(h.titles)-1], " > ")
}

// newElement builds an element, prefixing the section breadcrumb onto the
// text so retrieval keeps its context.
func newElement(text, elType, headers string, page int) element {
	meta := map[string]string{MetaElementType: elType}
	if page > 0 {
		meta[MetaPageNumber] = strconv.Itoa(page)
	}
	if headers != "" {
		meta[MetaSectionHeaders] = headers
		text = headers + "\n\n" + text
	}
	return element{
		text:    text,
		meta:    meta,
		isTable: elType == elementTable,
	}
}

// parseHTML extracts headings, paragraphs, list items and tables in
// document order.
func parseHTML(data []byte) ([]element, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var (
		elements []element
		headers  headerStack
	)
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote, pre, table").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		switch tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			title := normalizeSpace(s.Text())
			if title == "" {
				return
			}
			level := int(tag[1] - '0')
			headers.push(level, title)
			elements = append(elements, newElement(title, elementTitle, headers.parent(), 0))
		case "table":
			text := tableText(s)
			if text == "" {
				return
			}
			elements = append(elements, newElement(text, elementTable, headers.breadcrumb(), 0))
		case "li":
			text := normalizeSpace(s.Text())
			if text == "" {
				return
			}
			elements = append(elements, newElement(text, elementListItem, headers.breadcrumb(), 0))
		default:
			// Skip paragraphs nested in table cells; the table element
			// already carries their text.
			if s.ParentsFiltered("table").Length() > 0 {
				return
			}
			text := normalizeSpace(s.Text())
			if text == "" {
				return
			}
			elements = append(elements, newElement(text, elementNarrative, headers.breadcrumb(), 0))
		}
	})
	return elements, nil
}

// tableText renders a table as one block, rows on separate lines and cells
// tab-joined.
func tableText(table *goquery.Selection) string {
	var rows []string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, normalizeSpace(cell.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, strings.Join(cells, "\t"))
		}
	})
	return strings.Join(rows, "\n")
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseText walks markdown or plain text line by line. Headings open
// sections, pipe-delimited lines accumulate into table blocks, blank lines
// close paragraphs. Form feeds separate pages.
func parseText(text string) []element {
	var elements []element
	pages := strings.Split(text, "\f")
	multiPage := len(pages) > 1

	for pageIdx, page := range pages {
		pageNum := 0
		if multiPage {
			pageNum = pageIdx + 1
		}

		var (
			headers   headerStack
			paragraph []string
			table     []string
		)
		flushParagraph := func() {
			if len(paragraph) == 0 {
				return
			}
			text := strings.TrimSpace(strings.Join(paragraph, "\n"))
			paragraph = nil
			if text != "" {
				elements = append(elements, newElement(text, elementNarrative, headers.breadcrumb(), pageNum))
			}
		}
		flushTable := func() {
			if len(table) == 0 {
				return
			}
			text := strings.TrimSpace(strings.Join(table, "\n"))
			table = nil
			if text != "" {
				elements = append(elements, newElement(text, elementTable, headers.breadcrumb(), pageNum))
			}
		}

		for _, line := range strings.Split(page, "\n") {
			trimmed := strings.TrimSpace(line)
			switch {
			case isTableLine(trimmed):
				flushParagraph()
				table = append(table, trimmed)
			case trimmed == "":
				flushParagraph()
				flushTable()
			case strings.HasPrefix(trimmed, "#"):
				flushParagraph()
				flushTable()
				level, title := parseHeading(trimmed)
				if title == "" {
					continue
				}
				headers.push(level, title)
				elements = append(elements, newElement(title, elementTitle, headers.parent(), pageNum))
			default:
				flushTable()
				paragraph = append(paragraph, trimmed)
			}
		}
		flushParagraph()
		flushTable()
	}
	return elements
}

// isTableLine reports whether a line looks like a markdown table row.
func isTableLine(line string) bool {
	return strings.HasPrefix(line, "|") && strings.Count(line, "|") >= 2
}

// parseHeading splits "## Title" into level and title. Lines of only hash
// marks yield an empty title.
func parseHeading(line string) (int, string) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 {
		level = 6
	}
	return level, strings.TrimSpace(line[level:])
}

// plainElements is the last-resort extraction: the whole text, page by
// page, with no structure recovered.
func plainElements(text string) []element {
	var elements []element
	pages := strings.Split(text, "\f")
	multiPage := len(pages) > 1
	for pageIdx, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		pageNum := 0
		if multiPage {
			pageNum = pageIdx + 1
		}
		elements = append(elements, newElement(page, elementPage, "", pageNum))
	}
	return elements
}
