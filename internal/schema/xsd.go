package schema

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"li-gateway/internal/xmlutil"

	"github.com/beevik/etree"
	"github.com/lestrrat-go/libxml2"
	"github.com/lestrrat-go/libxml2/xsd"
)

// compiledSchema is an XSD compiled by libxml2.
type compiledSchema struct {
	path   string
	mu     sync.RWMutex
	schema *xsd.Schema
}

// CompileFile parses and compiles the XSD at path.
func CompileFile(path string) (Schema, error) {
	s, err := xsd.ParseFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	return &compiledSchema{path: path, schema: s}, nil
}

// Validate serializes el on its own and validates it against the schema.
func (c *compiledSchema) Validate(el *etree.Element) error {
	raw, err := xmlutil.ToString(el)
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	doc, err := libxml2.ParseString(raw)
	if err != nil {
		return fmt.Errorf("parse message: %w", err)
	}
	defer doc.Free()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.schema == nil {
		return fmt.Errorf("schema %s has been freed", c.path)
	}

	if err := c.schema.Validate(doc); err != nil {
		return flatten(err)
	}
	return nil
}

// Free releases the native schema.
func (c *compiledSchema) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schema != nil {
		c.schema.Free()
		c.schema = nil
	}
}

type multiError interface {
	Errors() []error
}

// flatten joins libxml2's per-node validation errors into one message.
func flatten(err error) error {
	var me multiError
	if !stderrors.As(err, &me) || len(me.Errors()) == 0 {
		return err
	}

	parts := make([]string, 0, len(me.Errors()))
	for _, e := range me.Errors() {
		parts = append(parts, strings.TrimSpace(e.Error()))
	}
	return stderrors.New(strings.Join(parts, "; "))
}
