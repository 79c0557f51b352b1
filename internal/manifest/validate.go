package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Reason identifies which rule rejected a manifest
type Reason int

const (
	// ReasonMissingField indicates a required field is absent or blank
	ReasonMissingField Reason = iota + 1
	// ReasonMissingKeyword indicates the sentinel keyword is not listed
	ReasonMissingKeyword
	// ReasonUnsafeName indicates the name cannot be used as a directory name
	ReasonUnsafeName
	// ReasonUnsupportedKind indicates addonType is not a known kind
	ReasonUnsupportedKind
	// ReasonIconRequired indicates a note-editor addon without an icon
	ReasonIconRequired
	// ReasonUnparseableVersion indicates the API version is not semver
	ReasonUnparseableVersion
	// ReasonAPIMismatch indicates the API version differs from the host's
	ReasonAPIMismatch
	// ReasonMalformed indicates the manifest document could not be parsed
	ReasonMalformed
)

// String returns the string representation of the reason
func (r Reason) String() string {
	switch r {
	case ReasonMissingField:
		return "missing field"
	case ReasonMissingKeyword:
		return "missing keyword"
	case ReasonUnsafeName:
		return "unsafe name"
	case ReasonUnsupportedKind:
		return "unsupported kind"
	case ReasonIconRequired:
		return "icon required"
	case ReasonUnparseableVersion:
		return "unparseable version"
	case ReasonAPIMismatch:
		return "api mismatch"
	case ReasonMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Rejection is returned by Validate when a manifest breaks the addon contract.
type Rejection struct {
	Reason Reason
	Field  string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("manifest rejected: %s: %s", r.Reason, r.Detail)
	}
	return fmt.Sprintf("manifest rejected: %s (%s): %s", r.Reason, r.Field, r.Detail)
}

// MaxNameLength is the registry's limit on package names.
const MaxNameLength = 214

// nameRe is the lowercase registry name class. Scoped names are not
// accepted because the name becomes a single directory.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Validate checks m against the addon contract for a host implementing
// hostAPI. Rules are applied in order and the first failure is returned.
func Validate(m *Manifest, hostAPI string) error {
	if m == nil {
		return &Rejection{Reason: ReasonMalformed, Detail: "no manifest"}
	}

	required := []struct {
		field string
		value string
	}{
		{"name", m.Name},
		{"addonTitle", m.DisplayTitle},
		{"main", m.Main},
		{"ankidroidJsApi", m.APIVersion},
		{"addonType", string(m.Kind)},
		{"homepage", m.Homepage},
	}
	for _, r := range required {
		if isBlank(r.value) {
			return &Rejection{Reason: ReasonMissingField, Field: r.field, Detail: "required field is blank"}
		}
	}

	if len(m.Keywords) == 0 {
		return &Rejection{Reason: ReasonMissingKeyword, Field: "keywords", Detail: "no keywords listed"}
	}
	if !m.HasKeyword(Keyword) {
		return &Rejection{Reason: ReasonMissingKeyword, Field: "keywords", Detail: fmt.Sprintf("keywords do not contain %q", Keyword)}
	}

	if err := CheckName(m.Name); err != nil {
		return &Rejection{Reason: ReasonUnsafeName, Field: "name", Detail: err.Error()}
	}

	if !m.Kind.Valid() {
		return &Rejection{Reason: ReasonUnsupportedKind, Field: "addonType", Detail: fmt.Sprintf("unsupported addon type %q", m.Kind)}
	}

	if m.Kind == KindNoteEditor && isBlank(m.Icon) {
		return &Rejection{Reason: ReasonIconRequired, Field: "icon", Detail: "note-editor addons must declare an icon"}
	}

	got, err := semver.StrictNewVersion(strings.TrimSpace(m.APIVersion))
	if err != nil {
		return &Rejection{Reason: ReasonUnparseableVersion, Field: "ankidroidJsApi", Detail: err.Error()}
	}
	want, err := semver.StrictNewVersion(hostAPI)
	if err != nil {
		return &Rejection{Reason: ReasonUnparseableVersion, Field: "ankidroidJsApi", Detail: fmt.Sprintf("host api version %q: %v", hostAPI, err)}
	}
	if !got.Equal(want) {
		return &Rejection{Reason: ReasonAPIMismatch, Field: "ankidroidJsApi", Detail: fmt.Sprintf("addon targets %s, host supports %s", got, want)}
	}

	return nil
}

// CheckDistribution rejects a registry manifest that does not say where its
// archive lives. Installed package.json files carry no dist block, so this is
// separate from Validate.
func CheckDistribution(m *Manifest) error {
	if isBlank(m.Dist.Tarball) {
		return &Rejection{Reason: ReasonMissingField, Field: "dist.tarball", Detail: "required field is blank"}
	}
	u, err := url.Parse(m.Dist.Tarball)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return &Rejection{Reason: ReasonMalformed, Field: "dist.tarball", Detail: fmt.Sprintf("%q is not an http(s) URL", m.Dist.Tarball)}
	}
	return nil
}

// CheckName reports why name is unusable as an addon directory name, or nil.
func CheckName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name is empty")
	case len(name) > MaxNameLength:
		return fmt.Errorf("name exceeds %d characters", MaxNameLength)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("name %q contains a path separator", name)
	case name == "." || name == "..":
		return fmt.Errorf("name %q is a relative path element", name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("name %q contains a parent directory segment", name)
	case !nameRe.MatchString(name):
		return fmt.Errorf("name %q must match %s", name, nameRe.String())
	}
	return nil
}

// isBlank reports whether s is empty or whitespace only
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
