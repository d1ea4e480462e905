package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"codearena/internal/language"
	"codearena/internal/problem/repository"
	pkgerrors "codearena/pkg/errors"
)

const templateDir = "boilerplate-full"

// TemplateLoader reads the full-program template of a problem for a language.
type TemplateLoader struct {
	assets repository.AssetStore
}

func NewTemplateLoader(assets repository.AssetStore) *TemplateLoader {
	return &TemplateLoader{assets: assets}
}

// Load returns the template text. Both "solution.ext" and "Solution.ext" are accepted.
func (l *TemplateLoader) Load(ctx context.Context, problemName string, lang language.Lang) (string, error) {
	if !lang.Valid() {
		return "", pkgerrors.New(pkgerrors.LanguageNotSupported)
	}
	file := lang.TemplateFile()
	for _, candidate := range []string{file, swapFirstCase(file)} {
		data, err := l.assets.ReadFile(ctx, path.Join(problemName, templateDir, candidate))
		if err == nil {
			if strings.TrimSpace(string(data)) == "" {
				break
			}
			return string(data), nil
		}
		if errors.Is(err, repository.ErrAssetNotFound) {
			continue
		}
		if errors.Is(err, repository.ErrInvalidPath) {
			return "", pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return "", pkgerrors.Wrapf(err, pkgerrors.StorageError, "read template failed")
	}
	return "", pkgerrors.Newf(pkgerrors.TemplateMissing, "problem %s has no %s template", problemName, lang)
}

func swapFirstCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	if unicode.IsUpper(r) {
		r = unicode.ToLower(r)
	} else {
		r = unicode.ToUpper(r)
	}
	return string(r) + s[size:]
}
