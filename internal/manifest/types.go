package manifest

// Kind is the integration point an addon targets
type Kind string

const (
	// KindReviewer addons run inside the card reviewer
	KindReviewer Kind = "reviewer"
	// KindNoteEditor addons run inside the note editor and must ship an icon
	KindNoteEditor Kind = "note-editor"
)

// Kinds lists every supported addon kind.
var Kinds = []Kind{KindReviewer, KindNoteEditor}

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a supported kind
func (k Kind) Valid() bool {
	return k == KindReviewer || k == KindNoteEditor
}

// Keyword is the sentinel every manifest must list in its keywords to opt
// into the addon contract.
const Keyword = "ankidroid-js-addon"

// DefaultAPIVersion is the JS API version the host implements.
const DefaultAPIVersion = "0.0.1"

// Manifest is the registry-published metadata describing one addon package.
type Manifest struct {
	Name         string   `json:"name"`
	DisplayTitle string   `json:"addonTitle"`
	Icon         string   `json:"icon,omitempty"`
	Version      string   `json:"version"`
	Description  string   `json:"description,omitempty"`
	Main         string   `json:"main"`
	APIVersion   string   `json:"ankidroidJsApi"`
	Kind         Kind     `json:"addonType"`
	Keywords     []string `json:"keywords"`
	Author       Author   `json:"author,omitempty"`
	License      string   `json:"license,omitempty"`
	Homepage     string   `json:"homepage"`
	Dist         Dist     `json:"dist"`
}

// Author is the package author. The registry publishes it either as an object
// or as a plain "Name <email> (url)" string; both decode into Name.
type Author struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Dist describes the distributable archive.
type Dist struct {
	Tarball      string `json:"tarball"`
	Shasum       string `json:"shasum,omitempty"`
	Integrity    string `json:"integrity,omitempty"`
	NPMSignature string `json:"npm-signature,omitempty"`
}

// ArchiveName is the file name the archive is downloaded under.
func (m *Manifest) ArchiveName() string {
	return m.Name + ".tgz"
}

// HasKeyword reports whether the manifest lists kw.
func (m *Manifest) HasKeyword(kw string) bool {
	for _, k := range m.Keywords {
		if k == kw {
			return true
		}
	}
	return false
}
