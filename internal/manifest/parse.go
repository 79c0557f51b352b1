package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// ParseError reports a manifest that is not well-formed JSON or does not
// match the manifest schema.
type ParseError struct {
	// Problems holds one entry per schema violation, "field: description".
	Problems []string
	Err      error
}

func (e *ParseError) Error() string {
	if len(e.Problems) > 0 {
		return fmt.Sprintf("malformed manifest: %s", strings.Join(e.Problems, "; "))
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed manifest: %v", e.Err)
	}
	return "malformed manifest"
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes raw manifest bytes into a Manifest.
func Parse(data []byte) (*Manifest, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &ParseError{Err: errors.New("empty document")}
	}

	s, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load manifest schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		// Not JSON at all.
		return nil, &ParseError{Err: err}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, &ParseError{Problems: problems}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &m, nil
}

// UnmarshalJSON accepts both the object and the string author forms.
func (a *Author) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = parseAuthorString(s)
		return nil
	}

	type plain Author
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Author(p)
	return nil
}

// parseAuthorString splits the "Name <email> (url)" shorthand.
func parseAuthorString(s string) Author {
	var a Author
	if i := strings.Index(s, "("); i >= 0 {
		if j := strings.Index(s[i:], ")"); j > 0 {
			a.URL = strings.TrimSpace(s[i+1 : i+j])
			s = s[:i] + s[i+j+1:]
		}
	}
	if i := strings.Index(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			a.Email = strings.TrimSpace(s[i+1 : i+j])
			s = s[:i] + s[i+j+1:]
		}
	}
	a.Name = strings.TrimSpace(s)
	return a
}
