// Package assembler splices a user's code fragment into a problem template.
package assembler

import (
	"regexp"
	"strings"

	"codearena/internal/language"
	pkgerrors "codearena/pkg/errors"
)

// markerPattern matches the first start/end sentinel pair, comment style // or #.
var markerPattern = regexp.MustCompile(`(//|#)\s*User Code Starts[\s\S]*?(//|#)\s*User Code Ends`)

// Assemble replaces the template's first marker region, sentinels included, with fragment.
// The fragment is inserted verbatim; marker-like text inside it is never interpreted.
func Assemble(fragment string, lang language.Lang, template string) (string, error) {
	if !lang.Valid() {
		return "", pkgerrors.New(pkgerrors.LanguageNotSupported)
	}
	if template == "" {
		return "", pkgerrors.Newf(pkgerrors.TemplateMissing, "no %s template", lang)
	}
	loc := markerPattern.FindStringIndex(template)
	if loc == nil {
		return "", pkgerrors.Newf(pkgerrors.TemplateMarkerNotFound, "%s template has no user code markers", lang)
	}

	var b strings.Builder
	b.Grow(len(template) - (loc[1] - loc[0]) + len(fragment))
	b.WriteString(template[:loc[0]])
	b.WriteString(fragment)
	b.WriteString(template[loc[1]:])
	return b.String(), nil
}
