package manifest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryDocument = `{
  "name": "valid-js-addon",
  "version": "1.0.0",
  "description": "Shows a timer",
  "main": "index.js",
  "addonTitle": "Valid JS Addon",
  "ankidroidJsApi": "0.0.1",
  "addonType": "note-editor",
  "icon": "T",
  "keywords": ["ankidroid-js-addon"],
  "author": "Jane Doe <jane@example.com> (https://example.com)",
  "license": "MIT",
  "homepage": "https://github.com/example/valid-js-addon#readme",
  "_id": "valid-js-addon@1.0.0",
  "_nodeVersion": "16.13.0",
  "dist": {
    "tarball": "https://registry.npmjs.org/valid-js-addon/-/valid-js-addon-1.0.0.tgz",
    "shasum": "5ba3b1f0d0f3b6a3e1e8fbbd1f0f4d9e5f1b2a3c",
    "integrity": "sha512-AAAA",
    "fileCount": 3
  }
}`

func TestParse_RegistryDocument(t *testing.T) {
	m, err := Parse([]byte(registryDocument))
	require.NoError(t, err)

	assert.Equal(t, "valid-js-addon", m.Name)
	assert.Equal(t, "Valid JS Addon", m.DisplayTitle)
	assert.Equal(t, KindNoteEditor, m.Kind)
	assert.Equal(t, "T", m.Icon)
	assert.Equal(t, "0.0.1", m.APIVersion)
	assert.Equal(t, []string{Keyword}, m.Keywords)
	assert.Equal(t, "sha512-AAAA", m.Dist.Integrity)
	assert.Equal(t, Author{Name: "Jane Doe", Email: "jane@example.com", URL: "https://example.com"}, m.Author)
	assert.Equal(t, "valid-js-addon.tgz", m.ArchiveName())

	assert.NoError(t, Validate(m, DefaultAPIVersion))
}

func TestParse_AuthorObject(t *testing.T) {
	m, err := Parse([]byte(`{"name":"x","author":{"name":"Jane","email":"j@example.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, Author{Name: "Jane", Email: "j@example.com"}, m.Author)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"not json", "<html>502 Bad Gateway</html>"},
		{"truncated", `{"name": "x"`},
		{"array", `[]`},
		{"keywords not array", `{"name":"x","keywords":"ankidroid-js-addon"}`},
		{"name not string", `{"name":42}`},
		{"dist not object", `{"name":"x","dist":"https://example.com/x.tgz"}`},
		{"keyword not string", `{"keywords":["ok",1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.doc))
			assert.Nil(t, m)

			var perr *ParseError
			require.True(t, errors.As(err, &perr), "expected *ParseError, got %v", err)
			assert.Contains(t, perr.Error(), "malformed manifest")
		})
	}
}

func TestParse_SchemaProblemsNameField(t *testing.T) {
	_, err := Parse([]byte(`{"name":42}`))

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.NotEmpty(t, perr.Problems)
	assert.Contains(t, perr.Problems[0], "name")
}

func TestParse_MissingFieldsAreValidatorConcern(t *testing.T) {
	m, err := Parse([]byte(`{"name":"x"}`))
	require.NoError(t, err)

	rej := rejection(t, Validate(m, DefaultAPIVersion))
	assert.Equal(t, ReasonMissingField, rej.Reason)
}

func TestParse_NullIsAbsence(t *testing.T) {
	tests := []struct {
		field string
		want  Reason
	}{
		{"name", ReasonMissingField},
		{"homepage", ReasonMissingField},
		{"keywords", ReasonMissingKeyword},
		{"icon", ReasonIconRequired},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			var doc map[string]any
			require.NoError(t, json.Unmarshal([]byte(registryDocument), &doc))
			doc[tt.field] = nil
			data, err := json.Marshal(doc)
			require.NoError(t, err)

			m, err := Parse(data)
			require.NoError(t, err)

			rej := rejection(t, Validate(m, DefaultAPIVersion))
			assert.Equal(t, tt.want, rej.Reason)
		})
	}
}

func TestParse_NullOptionalFields(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(registryDocument), &doc))
	doc["author"] = nil
	doc["license"] = nil
	doc["dist"] = nil
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	m, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Author{}, m.Author)
	assert.NoError(t, Validate(m, DefaultAPIVersion))

	rej := rejection(t, CheckDistribution(m))
	assert.Equal(t, ReasonMissingField, rej.Reason)
}
