// Package pathkey canonicalizes asset path references into stable lookup keys.
//
// Paths baked into binary model files come in every shape imaginable:
// Windows drive-absolute, file: URLs, backslash-separated, mixed case.
// Normalize collapses all of them into one key form so that archive members
// and embedded references land on the same map entry.
package pathkey

import "strings"

// Normalize canonicalizes a path or URL into a lookup key.
// Normalize(Normalize(x)) == Normalize(x) for any input; chained prefixes
// like "file:///C:/tex.png" need more than one pass, so the transform chain
// runs to a fixpoint. Always returns a string, possibly empty.
func Normalize(path string) string {
	s := normalizeOnce(path)
	for {
		n := normalizeOnce(s)
		if n == s {
			return s
		}
		s = n
	}
}

// normalizeOnce applies one round of the transform chain. Order matters:
// separators, relative prefix, drive prefix, file scheme, leading slash,
// whitespace, case.
func normalizeOnce(path string) string {
	s := strings.ReplaceAll(path, "\\", "/")
	s = strings.TrimPrefix(s, "./")
	if len(s) >= 3 && s[1] == ':' && s[2] == '/' && isASCIILetter(s[0]) {
		s = s[3:]
	}
	if rest, ok := stripFold(s, "file:"); ok {
		s = strings.TrimLeft(rest, "/")
	}
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimSpace(s)
	return strings.ToLower(s)
}

// Basename returns the final path segment of a key.
func Basename(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// stripFold removes prefix case-insensitively.
func stripFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
