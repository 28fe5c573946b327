package pagination

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
)

// page is one decoded listing response.
type page struct {
	// total is nil when the collection element carries no total attribute.
	total *int
	items [][]byte
}

// rawElement captures an item element without interpreting its content.
type rawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

// parsePage finds the single collection element anywhere in the response and
// returns its item children in document order.
func parsePage(r io.Reader, c Collection, pageNum int) (*page, error) {
	dec := xml.NewDecoder(r)
	// review bodies carry HTML entities such as &nbsp;
	dec.Entity = xml.HTMLEntity

	var result *page
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, syntaxError(c, pageNum, "malformed XML", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != c.Name {
			continue
		}
		if result != nil {
			return nil, &SchemaError{Collection: c.Name, Page: pageNum, Reason: "more than one <" + c.Name + "> element"}
		}

		result = &page{}
		for _, attr := range start.Attr {
			if attr.Name.Local != "total" {
				continue
			}
			total, err := strconv.Atoi(attr.Value)
			if err != nil || total < 0 {
				return nil, &SchemaError{Collection: c.Name, Page: pageNum, Reason: "invalid total attribute " + strconv.Quote(attr.Value), Err: err}
			}
			result.total = &total
		}

		if result.items, err = readItems(dec, c.Item); err != nil {
			return nil, syntaxError(c, pageNum, "malformed <"+c.Item+"> element", err)
		}
	}

	if result == nil {
		return nil, &SchemaError{Collection: c.Name, Page: pageNum, Reason: "no <" + c.Name + "> element"}
	}
	return result, nil
}

// syntaxError reports decoder syntax errors as schema errors. Failures of the
// underlying reader are returned unchanged.
func syntaxError(c Collection, pageNum int, reason string, err error) error {
	var syn *xml.SyntaxError
	if !errors.As(err, &syn) {
		return err
	}
	return &SchemaError{Collection: c.Name, Page: pageNum, Reason: reason, Err: err}
}

// readItems consumes the collection element's content up to its end tag.
func readItems(dec *xml.Decoder, item string) ([][]byte, error) {
	var items [][]byte
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.EndElement:
			return items, nil
		case xml.StartElement:
			if t.Name.Local != item {
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}
			var el rawElement
			if err := dec.DecodeElement(&el, &t); err != nil {
				return nil, err
			}
			items = append(items, el.marshal())
		}
	}
}

// marshal rebuilds the element with its original inner XML.
func (el *rawElement) marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte('<')
	buf.WriteString(el.XMLName.Local)
	for _, a := range el.Attrs {
		buf.WriteByte(' ')
		if a.Name.Space == "xmlns" {
			buf.WriteString("xmlns:")
		}
		buf.WriteString(a.Name.Local)
		buf.WriteString(`="`)
		_ = xml.EscapeText(&buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	buf.WriteByte('>')
	buf.Write(el.Inner)
	buf.WriteString("</")
	buf.WriteString(el.XMLName.Local)
	buf.WriteByte('>')
	return buf.Bytes()
}
