// Package xmltree provides best-effort field extraction from protocol XML.
// Device responses are queried by local element name, ignoring namespaces,
// because vendors disagree on prefixes and schema details. Extraction is not
// schema-validated: a missing field is an empty result, not an error.
package xmltree

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/wildnest/camgate/internal/errors"
)

// Tree wraps a parsed XML document for namespace-agnostic field lookup.
type Tree struct {
	doc *etree.Document
}

// Parse builds a tree from raw XML. Malformed input yields a typed
// protocol-parse error so callers can degrade instead of failing hard.
func Parse(data []byte) (*Tree, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errors.New(err).
			Component("xmltree").
			Category(errors.CategoryProtocolParse).
			Context("operation", "parse").
			Build()
	}
	if doc.Root() == nil {
		return nil, errors.Newf("document has no root element").
			Component("xmltree").
			Category(errors.CategoryProtocolParse).
			Context("operation", "parse").
			Build()
	}
	return &Tree{doc: doc}, nil
}

// First returns the first descendant element with the given local name, or
// nil when absent.
func (t *Tree) First(local string) *etree.Element {
	return t.doc.FindElement("//" + local)
}

// All returns every descendant element with the given local name.
func (t *Tree) All(local string) []*etree.Element {
	return t.doc.FindElements("//" + local)
}

// Text returns the trimmed text of the first element with the given local
// name, or empty when absent.
func (t *Tree) Text(local string) string {
	el := t.First(local)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// ChildText returns the trimmed text of the first descendant of el with the
// given local name, or empty when absent.
func ChildText(el *etree.Element, local string) string {
	if el == nil {
		return ""
	}
	child := el.FindElement(".//" + local)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}

// Attr returns the value of the named attribute on the first element with
// the given local name, or empty when absent.
func (t *Tree) Attr(local, attr string) string {
	el := t.First(local)
	if el == nil {
		return ""
	}
	return el.SelectAttrValue(attr, "")
}
