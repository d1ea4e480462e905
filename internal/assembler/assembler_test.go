package assembler_test

import (
	"testing"

	"codearena/internal/assembler"
	"codearena/internal/language"
	pkgerrors "codearena/pkg/errors"
)

const cppTemplate = `#include <bits/stdc++.h>
using namespace std;

// User Code Starts
int solve(int a, int b) { return 0; }
// User Code Ends

int main() {
    int a, b; cin >> a >> b;
    cout << solve(a, b);
}
`

const pythonTemplate = `import sys

# User Code Starts
def solve(a, b):
    pass
# User Code Ends

a, b = map(int, sys.stdin.read().split())
print(solve(a, b))
`

func TestAssemble(t *testing.T) {
	cases := []struct {
		name     string
		lang     language.Lang
		template string
		fragment string
		want     string
	}{
		{
			name:     "cpp slash markers",
			lang:     language.Cpp,
			template: cppTemplate,
			fragment: "int solve(int a, int b) { return a + b; }",
			want: `#include <bits/stdc++.h>
using namespace std;

int solve(int a, int b) { return a + b; }

int main() {
    int a, b; cin >> a >> b;
    cout << solve(a, b);
}
`,
		},
		{
			name:     "python hash markers",
			lang:     language.Python,
			template: pythonTemplate,
			fragment: "def solve(a, b):\n    return a + b",
			want: `import sys

def solve(a, b):
    return a + b

a, b = map(int, sys.stdin.read().split())
print(solve(a, b))
`,
		},
		{
			name:     "dollar signs are literal",
			lang:     language.JavaScript,
			template: "// User Code Starts\n// User Code Ends\nmain();",
			fragment: "const s = `${x}$1$$`;",
			want:     "const s = `${x}$1$$`;\nmain();",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := assembler.Assemble(tc.fragment, tc.lang, tc.template)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Assemble mismatch\n got: %q\nwant: %q", got, tc.want)
			}
		})
	}
}

func TestAssembleAnchorsToTemplateMarkers(t *testing.T) {
	template := "head\n// User Code Starts\nstub\n// User Code Ends\ntail // User Code Starts x // User Code Ends\n"
	fragment := "// User Code Starts\nmine\n// User Code Ends"

	got, err := assembler.Assemble(fragment, language.Cpp, template)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := "head\n" + fragment + "\ntail // User Code Starts x // User Code Ends\n"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestAssembleErrors(t *testing.T) {
	cases := []struct {
		name     string
		lang     language.Lang
		template string
		code     pkgerrors.ErrorCode
	}{
		{"missing template", language.Java, "", pkgerrors.TemplateMissing},
		{"no markers", language.Java, "class Solution {}", pkgerrors.TemplateMarkerNotFound},
		{"only start marker", language.C, "// User Code Starts\nint x;", pkgerrors.TemplateMarkerNotFound},
		{"unknown language", language.Lang(42), cppTemplate, pkgerrors.LanguageNotSupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := assembler.Assemble("x", tc.lang, tc.template)
			if !pkgerrors.Is(err, tc.code) {
				t.Fatalf("err = %v, want code %d", err, tc.code)
			}
		})
	}
}
