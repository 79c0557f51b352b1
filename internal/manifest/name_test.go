package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameFromInput(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"valid-js-addon", "valid-js-addon"},
		{"  valid-js-addon\n", "valid-js-addon"},
		{"\u00a0valid-js-addon\u00a0", "valid-js-addon"},
		{"npm i valid-js-addon", "valid-js-addon"},
		{"npm\u00a0i\u00a0valid-js-addon", "valid-js-addon"},
		{"npm install valid-js-addon", "valid-js-addon"},
		{"https://www.npmjs.com/package/valid-js-addon", "valid-js-addon"},
		{"https://www.npmjs.com/package/valid-js-addon/v/1.0.2", "valid-js-addon"},
		{"https://www.npmjs.com/package/valid-js-addon?activeTab=readme", "valid-js-addon"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NameFromInput(tt.input))
		})
	}
}

func TestKind(t *testing.T) {
	assert.True(t, KindReviewer.Valid())
	assert.True(t, KindNoteEditor.Valid())
	assert.False(t, Kind("toolbar").Valid())
	assert.Equal(t, "note-editor", KindNoteEditor.String())
}
