package extract

import "fmt"

// Kind classifies an extraction failure
type Kind int

const (
	// KindMalformed indicates a corrupt archive or one that breaks a limit
	KindMalformed Kind = iota + 1
	// KindTraversal indicates an entry that resolves outside the target
	KindTraversal
	// KindUnsupportedEntry indicates a link, device or other special entry
	KindUnsupportedEntry
	// KindIO indicates a local filesystem failure
	KindIO
	// KindCancelled indicates the context was cancelled between entries
	KindCancelled
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindTraversal:
		return "traversal"
	case KindUnsupportedEntry:
		return "unsupported_entry"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SecurityRelevant reports whether the failure indicates a hostile archive.
func (k Kind) SecurityRelevant() bool {
	return k == KindTraversal || k == KindUnsupportedEntry
}

// ExtractionError describes why an extraction was aborted.
type ExtractionError struct {
	Kind  Kind
	Entry string
	Err   error
}

func newError(kind Kind, entry string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Entry: entry, Err: err}
}

func (e *ExtractionError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("extract (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %q (%s): %v", e.Entry, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
