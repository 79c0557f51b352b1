// Package manifest parses and validates addon manifests published to the
// package registry.
//
// A manifest is parsed in two steps. The raw JSON is first checked against an
// embedded JSON schema so that wrongly-typed fields surface as a structured
// ParseError instead of a decoding panic or a zero value, then it is decoded
// into a Manifest. Unknown fields are ignored.
//
// Validate applies the addon contract to a parsed manifest. It is pure and
// returns either nil or a *Rejection describing the first rule that failed.
package manifest
