// Package canonical produces the canonical JSON serialization used for all
// content-addressed identity in lockstep: config hashes, snapshot ids, and
// golden-file comparison.
//
// The encoding follows RFC 8785 for structure and strings: object keys are
// sorted by UTF-16 code units, strings are NFC normalized, HTML characters
// are not escaped, and U+2028/U+2029 appear literally. Numbers diverge from
// RFC 8785 in one documented way: floats use Go's shortest round-trip form,
// which is stable across platforms and process runs, and decimal amounts are
// serialized as normalized strings so that numerically equal money values
// canonicalize identically while float-level noise does not collapse.
//
// Two serializations are equal if and only if the underlying values are
// canonically equal. Hashes computed over this encoding are therefore stable
// identifiers for "the same logical input".
package canonical
