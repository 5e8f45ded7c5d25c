package manifest

import (
	"go/token"
	"strings"
	"unicode"
)

// GoPackageName converts a project name to a Go package name.
// "my-app" -> "myapp", "Models" -> "models", "" -> "units"
func GoPackageName(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '-' || r == '_' || r == '.' || unicode.IsSpace(r):
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	name := strings.TrimLeftFunc(sb.String(), unicode.IsDigit)
	if name == "" {
		return "units"
	}
	if token.IsKeyword(name) {
		return name + "units"
	}
	return name
}

// IsGoPackageName reports whether name can be used as the package clause
// of generated source.
func IsGoPackageName(name string) bool {
	return token.IsIdentifier(name) && name != "_" && !strings.ContainsFunc(name, unicode.IsUpper)
}
