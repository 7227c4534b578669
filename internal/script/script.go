// Package script parses TwiML-dialect call scripts into a generic
// element tree. The parser does not know the verb set; it preserves
// names, attributes, trimmed text content, and child elements so the
// flow engine can interpret them.
package script

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Element is one parsed script instruction.
type Element struct {
	Name     string
	Value    string
	Attrs    map[string]string
	Children []*Element
}

// Attr returns the named attribute, or def if absent.
func (e *Element) Attr(name, def string) string {
	if v, ok := e.Attrs[name]; ok {
		return v
	}
	return def
}

// ParseError indicates a malformed script document.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse script: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// RootName is the expected document root element.
const RootName = "Response"

// Parse decodes a script document and returns the ordered child
// elements of the <Response> root. A document that is not well-formed
// XML, or whose root is not <Response>, yields a *ParseError.
func Parse(data []byte) ([]*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	root, err := parseRoot(dec)
	if err != nil {
		return nil, &ParseError{Cause: err}
	}
	if root.Name != RootName {
		return nil, &ParseError{Cause: fmt.Errorf("unexpected root element <%s>", root.Name)}
	}
	return root.Children, nil
}

// parseRoot finds the first start element and parses it recursively.
func parseRoot(dec *xml.Decoder) (*Element, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("empty document")
			}
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return parseElement(dec, start)
		}
	}
}

// parseElement consumes tokens until the matching end element,
// collecting text and nested children in document order.
func parseElement(dec *xml.Decoder, start xml.StartElement) (*Element, error) {
	el := &Element{
		Name:  start.Name.Local,
		Attrs: make(map[string]string, len(start.Attr)),
	}
	for _, a := range start.Attr {
		el.Attrs[a.Name.Local] = a.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("unexpected EOF inside <%s>", el.Name)
			}
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, t)
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			el.Value = strings.TrimSpace(text.String())
			return el, nil
		}
	}
}
