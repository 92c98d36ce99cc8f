// Package xmlutil holds the etree helpers shared by the message, schema,
// ack and delivery packages. Lookups match on local names so prefixed and
// unprefixed documents are treated alike.
package xmlutil

import (
	"errors"
	"strings"

	"github.com/beevik/etree"
)

// ErrEmptyDocument is returned when parsed input has no root element.
var ErrEmptyDocument = errors.New("xml document has no root element")

// FindChild returns the first direct child element with the given local name.
func FindChild(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			return child
		}
	}
	return nil
}

// FindPath follows a chain of direct children by local name.
func FindPath(el *etree.Element, locals ...string) *etree.Element {
	current := el
	for _, local := range locals {
		current = FindChild(current, local)
		if current == nil {
			return nil
		}
	}
	return current
}

// FindDescendant returns the first element below el, depth first, with the
// given local name. el itself is not considered.
func FindDescendant(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			return child
		}
		if found := FindDescendant(child, local); found != nil {
			return found
		}
	}
	return nil
}

// ChildText returns the trimmed text of a direct child, and whether the
// child exists and is non-empty.
func ChildText(el *etree.Element, local string) (string, bool) {
	child := FindChild(el, local)
	if child == nil {
		return "", false
	}
	text := strings.TrimSpace(child.Text())
	return text, text != ""
}

func isNamespaceDecl(attr etree.Attr) bool {
	return attr.Space == "xmlns" || (attr.Space == "" && attr.Key == "xmlns")
}

// Detach returns a deep copy of el that can stand alone as a document root.
// Namespace declarations inherited from ancestors are copied onto it.
func Detach(el *etree.Element) *etree.Element {
	cp := el.Copy()

	declared := make(map[string]bool)
	for _, attr := range cp.Attr {
		if isNamespaceDecl(attr) {
			declared[attr.FullKey()] = true
		}
	}

	for parent := el.Parent(); parent != nil; parent = parent.Parent() {
		for _, attr := range parent.Attr {
			if !isNamespaceDecl(attr) || declared[attr.FullKey()] {
				continue
			}
			cp.CreateAttr(attr.FullKey(), attr.Value)
			declared[attr.FullKey()] = true
		}
	}

	return cp
}

// ToString serializes a detached copy of el.
func ToString(el *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(Detach(el))
	return doc.WriteToString()
}

// ToBytes serializes a detached copy of el.
func ToBytes(el *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.SetRoot(Detach(el))
	return doc.WriteToBytes()
}

// Parse reads an XML document and returns its root element.
func Parse(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrEmptyDocument
	}
	return root, nil
}
