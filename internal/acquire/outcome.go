package acquire

import (
	"fmt"

	"github.com/krmanik/ankiaddons/internal/manifest"
)

// Kind classifies how an acquisition ended.
type Kind int

const (
	Installed Kind = iota + 1
	// Rejected means the manifest broke the addon contract. Retrying
	// without a different package will not help.
	Rejected
	// NetworkUnavailable means the registry could not be reached.
	NetworkUnavailable
	NotFound
	// DownloadFailed means the download subsystem gave up on the archive.
	DownloadFailed
	Cancelled
	ExtractionFailed
	VerificationFailed
	// Failed covers local problems such as permissions or a busy addon.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Installed:
		return "installed"
	case Rejected:
		return "rejected"
	case NetworkUnavailable:
		return "network_unavailable"
	case NotFound:
		return "not_found"
	case DownloadFailed:
		return "download_failed"
	case Cancelled:
		return "cancelled"
	case ExtractionFailed:
		return "extraction_failed"
	case VerificationFailed:
		return "verification_failed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Retryable reports whether trying the same request again may succeed.
func (k Kind) Retryable() bool {
	return k == NetworkUnavailable || k == DownloadFailed
}

// Outcome is the result of one acquisition.
type Outcome struct {
	Kind Kind
	// Name is the normalized addon name that was requested.
	Name string
	// Manifest is set once the registry manifest parsed.
	Manifest *manifest.Manifest
	// Reason is set for Rejected.
	Reason manifest.Reason
	Err    error
	// Path is the installed addon directory, set for Installed.
	Path string
}

func (o Outcome) String() string {
	switch {
	case o.Kind == Installed:
		return fmt.Sprintf("%s %s installed to %s", o.Name, o.Manifest.Version, o.Path)
	case o.Err != nil:
		return fmt.Sprintf("%s: %s: %v", o.Name, o.Kind, o.Err)
	default:
		return fmt.Sprintf("%s: %s", o.Name, o.Kind)
	}
}
