package manifest

import (
	"strings"
	"unicode"
)

// packagePagePrefix is the public package page URL users tend to paste.
const packagePagePrefix = "https://www.npmjs.com/package/"

// NameFromInput extracts an addon name from user input. Accepted forms are a
// bare name, an "npm i <name>" command line, or a package page URL such as
// https://www.npmjs.com/package/<name>/v/1.0.0?activeTab=readme.
//
// The result is not validated; pass it through CheckName before use.
func NameFromInput(input string) string {
	s := strings.TrimFunc(input, isSpace)

	if rest, ok := strings.CutPrefix(s, packagePagePrefix); ok {
		if i := strings.IndexAny(rest, "/?#"); i >= 0 {
			rest = rest[:i]
		}
		return strings.TrimFunc(rest, isSpace)
	}

	fields := strings.FieldsFunc(s, isSpace)
	if len(fields) >= 3 && fields[0] == "npm" && (fields[1] == "i" || fields[1] == "install") {
		return fields[2]
	}

	return s
}

// isSpace reports Unicode white space, which includes the non-breaking
// spaces that show up when commands are copied from a rendered web page.
func isSpace(r rune) bool {
	return unicode.IsSpace(r)
}
