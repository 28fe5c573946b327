package model

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// node is a minimal element tree. Only element structure, attributes and
// character data survive; comments and processing instructions are dropped.
type node struct {
	name     string
	attrs    []xml.Attr
	text     string
	children []*node
}

// readTree decodes a whole document into a tree rooted at its document element.
func readTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	// review bodies carry HTML entities such as &nbsp;
	dec.Entity = xml.HTMLEntity

	var (
		root  *node
		stack []*node
		text  []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local, attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
			text = append(text, &strings.Builder{})
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}
		case xml.EndElement:
			n := stack[len(stack)-1]
			n.text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		}
	}

	if root == nil {
		return nil, fmt.Errorf("decode document: no root element")
	}
	return root, nil
}

// find returns the elements reached by following the slash separated child
// names of path, in document order.
func (n *node) find(path string) []*node {
	current := []*node{n}
	for _, step := range strings.Split(path, "/") {
		var next []*node
		for _, c := range current {
			for _, child := range c.children {
				if child.name == step {
					next = append(next, child)
				}
			}
		}
		current = next
	}
	return current
}

// descendants returns every element named name below n, in document order.
func (n *node) descendants(name string) []*node {
	var out []*node
	var walk func(*node)
	walk = func(e *node) {
		for _, c := range e.children {
			if c.name == name {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// texts returns the trimmed text of every element at path, empty ones
// included.
func (n *node) texts(path string) []string {
	var out []string
	for _, e := range n.find(path) {
		out = append(out, e.text)
	}
	return out
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// The accessors below are the only way parse.go reads the tree. Each one
// states the cardinality of the field it extracts.

// oneElement requires exactly one element at path. Elements compare by identity,
// so two elements are always inconsistent.
func oneElement(n *node, path string) (*node, error) {
	e, err := The(n.find(path))
	if err != nil {
		return nil, &CardinalityError{Field: path, Err: err}
	}
	return e, nil
}

// oneText requires exactly one distinct text value at path. An empty element
// next to a non-empty one is inconsistent, not absent.
func oneText(n *node, path string) (string, error) {
	s, err := The(n.texts(path))
	if err == nil && s == "" {
		err = ErrEmpty
	}
	if err != nil {
		return "", &CardinalityError{Field: path, Err: err}
	}
	return s, nil
}

// optionalText treats no elements, or only empty ones, as absent. Otherwise
// every element must carry the same text.
func optionalText(n *node, path string) (string, bool, error) {
	values := n.texts(path)
	if len(values) == 0 {
		return "", false, nil
	}
	s, err := The(values)
	if err != nil {
		return "", false, &CardinalityError{Field: path, Err: err}
	}
	return s, s != "", nil
}

// manyText returns every non-empty text value at path in order.
func manyText(n *node, path string) []string {
	var out []string
	for _, s := range n.texts(path) {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// manyAttr returns the attribute of every element at path in order. An element
// without the attribute is an error.
func manyAttr(n *node, path, attr string) ([]string, error) {
	var out []string
	for _, e := range n.find(path) {
		v, ok := e.attr(attr)
		if !ok {
			return nil, &CardinalityError{Field: path + "/@" + attr, Err: ErrEmpty}
		}
		out = append(out, v)
	}
	return out, nil
}
