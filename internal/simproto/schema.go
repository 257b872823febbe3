package simproto

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		out := map[string]*jsonschema.Schema{}
		for _, typ := range []string{TypeHello, TypeWelcome, TypeCall, TypeResult} {
			name := "schemas/" + strings.ToLower(typ) + ".schema.json"
			b, err := schemaFS.ReadFile(name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("%s: %w", name, err)
				return
			}
			s, err := c.Compile(name)
			if err != nil {
				schemasErr = fmt.Errorf("%s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks a raw message against the schema for its declared type.
func Validate(raw []byte) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	base, err := DecodeBase(raw)
	if err != nil {
		return err
	}
	s, ok := all[base.Type]
	if !ok {
		return fmt.Errorf("unknown message type %q", base.Type)
	}
	var v any
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	if err := d.Decode(&v); err != nil {
		return err
	}
	return s.Validate(v)
}
