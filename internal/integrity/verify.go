// Package integrity verifies downloaded addon archives against the checksums
// and signature published in their manifest.
package integrity

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // the registry still publishes sha1 shasums
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/manifest"
)

// Method indicates how an archive was verified
type Method int

const (
	// MethodNone indicates no checksum was published
	MethodNone Method = iota
	// MethodIntegrity indicates a Subresource Integrity digest was checked
	MethodIntegrity
	// MethodShasum indicates the legacy sha1 shasum was checked
	MethodShasum
	// MethodSignature indicates the registry PGP signature was checked
	MethodSignature
)

// String returns the string representation of the verification method
func (m Method) String() string {
	switch m {
	case MethodIntegrity:
		return "integrity"
	case MethodShasum:
		return "shasum"
	case MethodSignature:
		return "signature"
	case MethodNone:
		return "none"
	default:
		return "unknown"
	}
}

var (
	// ErrMismatch is returned when a digest does not match the archive.
	ErrMismatch = errors.New("checksum mismatch")
	// ErrSignatureRequired is returned when a signature is required but the
	// manifest does not carry one.
	ErrSignatureRequired = errors.New("signature required but not published")
	// ErrUnsupported is returned for an integrity string with no usable hash.
	ErrUnsupported = errors.New("no supported hash algorithm")
)

// Error reports a failed verification.
type Error struct {
	Method Method
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s verification failed: %v", e.Method, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result lists the checks an archive passed.
type Result struct {
	Checksum  Method
	Signature bool
	Signer    string
}

// Verifier checks archives against manifest dist metadata
type Verifier struct {
	keyring          openpgp.EntityList
	requireSignature bool
	logger           logging.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithKeyring sets the keys registry signatures are checked against.
func WithKeyring(keyring openpgp.EntityList) Option {
	return func(v *Verifier) { v.keyring = keyring }
}

// WithRequireSignature makes a missing or unverifiable signature a failure.
func WithRequireSignature(require bool) Option {
	return func(v *Verifier) { v.requireSignature = require }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(v *Verifier) { v.logger = logging.OrNop(l) }
}

// NewVerifier creates a new verifier
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{logger: logging.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the archive at path against m.Dist. The integrity digest is
// preferred over the legacy shasum. A registry signature is checked when one
// is published and a keyring is configured.
func (v *Verifier) Verify(path string, m *manifest.Manifest) (Result, error) {
	var result Result

	switch {
	case m.Dist.Integrity != "":
		if err := verifyIntegrity(path, m.Dist.Integrity); err != nil {
			return result, &Error{Method: MethodIntegrity, Err: err}
		}
		result.Checksum = MethodIntegrity
	case m.Dist.Shasum != "":
		if err := verifyShasum(path, m.Dist.Shasum); err != nil {
			return result, &Error{Method: MethodShasum, Err: err}
		}
		result.Checksum = MethodShasum
	default:
		v.logger.Warn("manifest publishes no checksum", "addon", m.Name, "version", m.Version)
	}

	signer, err := v.verifySignature(m)
	if err != nil {
		return result, &Error{Method: MethodSignature, Err: err}
	}
	if signer != "" {
		result.Signature = true
		result.Signer = signer
	}

	v.logger.Debug("archive verified", "addon", m.Name, "checksum", result.Checksum.String(), "signed", result.Signature)
	return result, nil
}

// verifySignature checks the registry signature over
// "<name>@<version>:<integrity>" and returns the signer's identity.
func (v *Verifier) verifySignature(m *manifest.Manifest) (string, error) {
	sig := m.Dist.NPMSignature
	switch {
	case sig == "" && v.requireSignature:
		return "", ErrSignatureRequired
	case sig == "":
		return "", nil
	case len(v.keyring) == 0 && v.requireSignature:
		return "", errors.New("no keyring configured")
	case len(v.keyring) == 0:
		v.logger.Debug("skipping signature check, no keyring configured", "addon", m.Name)
		return "", nil
	}

	message := fmt.Sprintf("%s@%s:%s", m.Name, m.Version, m.Dist.Integrity)
	signer, err := openpgp.CheckArmoredDetachedSignature(v.keyring, strings.NewReader(message), strings.NewReader(sig), nil)
	if err != nil {
		return "", fmt.Errorf("verify signature: %w", err)
	}

	if id := signer.PrimaryIdentity(); id != nil {
		return id.Name, nil
	}
	return signer.PrimaryKey.KeyIdString(), nil
}

// LoadKeyring reads an armored or binary public keyring from path.
func LoadKeyring(path string) (openpgp.EntityList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}

	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

// sriAlgorithms lists supported SRI hashes, strongest first.
var sriAlgorithms = []struct {
	name string
	new  func() hash.Hash
}{
	{"sha512", sha512.New},
	{"sha384", sha512.New384},
	{"sha256", sha256.New},
	{"sha1", sha1.New},
}

// verifyIntegrity checks a Subresource Integrity string such as
// "sha512-<base64>". When several hashes are listed the strongest supported
// one must match.
func verifyIntegrity(path, integrity string) error {
	digests := make(map[string][]string)
	for _, token := range strings.Fields(integrity) {
		algo, value, ok := strings.Cut(token, "-")
		if !ok {
			continue
		}
		// Options after '?' are reserved and ignored.
		value, _, _ = strings.Cut(value, "?")
		digests[algo] = append(digests[algo], value)
	}

	for _, a := range sriAlgorithms {
		expected, ok := digests[a.name]
		if !ok {
			continue
		}
		sum, err := hashFile(path, a.new())
		if err != nil {
			return err
		}
		actual := base64.StdEncoding.EncodeToString(sum)
		for _, e := range expected {
			if e == actual {
				return nil
			}
		}
		return fmt.Errorf("%w: %s\nactual:   %s\nexpected: %s", ErrMismatch, a.name, actual, strings.Join(expected, " "))
	}

	return fmt.Errorf("%w in %q", ErrUnsupported, integrity)
}

// verifyShasum checks the hex sha1 digest.
func verifyShasum(path, shasum string) error {
	sum, err := hashFile(path, sha1.New()) //nolint:gosec
	if err != nil {
		return err
	}
	actual := hex.EncodeToString(sum)
	if !strings.EqualFold(actual, strings.TrimSpace(shasum)) {
		return fmt.Errorf("%w:\nactual:   %s\nexpected: %s", ErrMismatch, actual, shasum)
	}
	return nil
}

func hashFile(path string, h hash.Hash) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(h, file); err != nil {
		return nil, fmt.Errorf("hash archive: %w", err)
	}
	return h.Sum(nil), nil
}
