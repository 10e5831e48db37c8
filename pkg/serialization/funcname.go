package serialization

import (
	"strings"
	"unicode"
)

// RemoteFunctionName converts a local lowerCamelCase function name to the
// backend's snake_case spelling: every upper-case rune becomes '_' followed by
// its lower-case form.
func RemoteFunctionName(local string) string {
	var b strings.Builder
	b.Grow(len(local) + 4)
	for _, r := range local {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LocalFunctionName is the inverse of RemoteFunctionName.
func LocalFunctionName(remote string) string {
	var b strings.Builder
	b.Grow(len(remote))
	upperNext := false
	for _, r := range remote {
		if r == '_' {
			upperNext = true
			continue
		}
		if upperNext {
			r = unicode.ToUpper(r)
			upperNext = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsLocalFunctionName reports whether name is a well-formed local name:
// a lower-case letter followed by letters and digits.
func IsLocalFunctionName(name string) bool {
	for i, r := range name {
		switch {
		case i == 0 && !unicode.IsLower(r):
			return false
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			return false
		}
	}
	return name != ""
}

// IsRemoteFunctionName reports whether name is a well-formed remote name:
// lower-case words of letters and digits joined by single underscores, where
// each underscore is followed by a letter.
func IsRemoteFunctionName(name string) bool {
	prevUnderscore := true
	for _, r := range name {
		switch {
		case r == '_':
			if prevUnderscore {
				return false
			}
			prevUnderscore = true
		case unicode.IsUpper(r):
			return false
		case prevUnderscore && !unicode.IsLetter(r):
			return false
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			return false
		default:
			prevUnderscore = false
		}
	}
	return name != "" && !prevUnderscore
}
