// Package language enumerates the languages a submission may be written in.
package language

import (
	"fmt"
	"strings"
)

// Lang is a supported submission language.
type Lang int

const (
	C Lang = iota + 1
	Cpp
	Python
	Java
	JavaScript
)

// Spec binds a language to its executor id and template file.
type Spec struct {
	Name         string
	ExecutorID   int
	TemplateFile string
	Extension    string
}

var specs = map[Lang]Spec{
	C:          {Name: "c", ExecutorID: 50, TemplateFile: "solution.c", Extension: "c"},
	Cpp:        {Name: "cpp", ExecutorID: 54, TemplateFile: "solution.cpp", Extension: "cpp"},
	Python:     {Name: "python", ExecutorID: 71, TemplateFile: "solution.py", Extension: "py"},
	Java:       {Name: "java", ExecutorID: 62, TemplateFile: "Solution.java", Extension: "java"},
	JavaScript: {Name: "javascript", ExecutorID: 63, TemplateFile: "solution.js", Extension: "js"},
}

// All returns every supported language in declaration order.
func All() []Lang {
	return []Lang{C, Cpp, Python, Java, JavaScript}
}

// Parse maps a client language name to Lang. Matching is case-insensitive.
func Parse(name string) (Lang, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, l := range All() {
		if specs[l].Name == normalized {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unsupported language %q", name)
}

// Valid reports whether l is a known language.
func (l Lang) Valid() bool {
	_, ok := specs[l]
	return ok
}

// Spec returns the language binding. It panics on an unknown language.
func (l Lang) Spec() Spec {
	s, ok := specs[l]
	if !ok {
		panic(fmt.Sprintf("language: unknown value %d", int(l)))
	}
	return s
}

func (l Lang) String() string {
	if s, ok := specs[l]; ok {
		return s.Name
	}
	return fmt.Sprintf("Lang(%d)", int(l))
}

// ExecutorID is the executor's numeric language id.
func (l Lang) ExecutorID() int { return l.Spec().ExecutorID }

// TemplateFile is the template file name inside a problem's boilerplate directory.
func (l Lang) TemplateFile() string { return l.Spec().TemplateFile }

// Names lists the client-facing names, for validation messages.
func Names() []string {
	out := make([]string, 0, len(specs))
	for _, l := range All() {
		out = append(out, specs[l].Name)
	}
	return out
}
