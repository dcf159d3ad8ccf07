// Package template implements the Template Resolver: it parses the
// @module and ${var} references that make up a persona template or a
// module's own content, and recursively resolves them into plain text
// given a caller-supplied module lookup, tracking a resolution stack for
// cycle detection and a recursion-depth counter along the way.
//
// Go's regexp package (RE2) has no negative lookbehind, so escape
// detection for \@name is done as a second pass over each match rather
// than baked into the module-reference pattern itself.
package template

import (
	"fmt"
	"regexp"
	"sort"
)

// Kind distinguishes the two reference forms the parser recognizes.
type Kind int

const (
	// KindModule is an @name module reference.
	KindModule Kind = iota
	// KindVariable is a ${name} variable reference.
	KindVariable
)

func (k Kind) String() string {
	switch k {
	case KindModule:
		return "module"
	case KindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Reference is one @name or ${name} occurrence found in a template.
type Reference struct {
	Kind       Kind
	Name       string
	Start, End int // byte offsets into the parsed text, End exclusive
}

// WarningCode identifies the taxonomy entries from §7 that the parser
// itself can raise (InvalidReference for malformed @ sequences here;
// the rest are raised during resolution, see resolver.go).
type WarningCode string

const (
	WarningInvalidReference WarningCode = "InvalidReference"
	WarningCycle            WarningCode = "Cycle"
	WarningRecursionLimit   WarningCode = "RecursionLimit"
)

// Warning is a non-fatal condition surfaced alongside resolved text.
type Warning struct {
	Code    WarningCode
	Message string
	Start   int
	End     int
}

var (
	// wordRunPattern finds the maximal word-character run following '@',
	// used both to recognize valid references and to flag invalid-looking ones.
	wordRunPattern = regexp.MustCompile(`@([A-Za-z0-9_]+)`)
	// validModuleName is the reference-matching grammar from §4.1 (not the
	// stricter, length-bounded §3 module-naming invariant).
	validModuleName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	// variablePattern matches ${name} exactly as specified in §4.1.
	variablePattern = regexp.MustCompile(`\$\{([a-z_][a-z0-9_]*)\}`)
)

// Parse extracts ordered module and variable references from template
// text. Backslash-escaped \@name sequences are not references (the
// backslash is stripped by the resolver when that span is emitted
// verbatim). Invalid-looking @ sequences (uppercase, digit-first, etc.)
// are reported as warnings and left out of the reference list so they
// pass through untouched.
func Parse(text string) ([]Reference, []Warning) {
	var refs []Reference
	var warnings []Warning

	for _, m := range wordRunPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		nameStart, nameEnd := m[2], m[3]
		name := text[nameStart:nameEnd]

		if isEscaped(text, start) {
			continue
		}

		if validModuleName.MatchString(name) {
			refs = append(refs, Reference{Kind: KindModule, Name: name, Start: start, End: end})
			continue
		}

		warnings = append(warnings, Warning{
			Code:    WarningInvalidReference,
			Message: fmt.Sprintf("invalid module reference syntax: @%s", name),
			Start:   start,
			End:     end,
		})
	}

	for _, m := range variablePattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		nameStart, nameEnd := m[2], m[3]
		refs = append(refs, Reference{
			Kind:  KindVariable,
			Name:  text[nameStart:nameEnd],
			Start: start,
			End:   end,
		})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Start < refs[j].Start })

	return refs, warnings
}

// isEscaped reports whether the rune immediately preceding the byte
// offset start is an unescaped backslash.
func isEscaped(text string, start int) bool {
	if start == 0 {
		return false
	}
	return text[start-1] == '\\'
}

// StripEscapes removes the backslash from \@name escape sequences,
// turning them into their literal @name form. Applied to literal spans
// of text that are emitted verbatim during resolution (resolver.go);
// never applied to already-resolved module bodies or substituted
// variable values.
func StripEscapes(text string) string {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '\\' && i+1 < len(text) && text[i+1] == '@' {
			continue
		}
		out = append(out, text[i])
	}
	return string(out)
}
