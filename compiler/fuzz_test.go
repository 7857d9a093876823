package compiler

import (
	"testing"
)

// FuzzLexer checks that the lexer never panics and always terminates.
func FuzzLexer(f *testing.F) {
	seeds := []string{
		`( ) [ ] { } , . ;`,
		`42 0x2a 1_000 3.14 .5 1e-9 2E+3 1e+`,
		`"str" 'str' "esc\n\t\"" "open`,
		"a\n\n# comment\nb \\\n c",
		`x += 1; y -= 2; z *= 3`,
		`kernel main() { delay(1*us) }`,
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, input string) {
		toks := NewLexer(input).Tokenize()
		if len(toks) == 0 || toks[len(toks)-1].Type != TokenEOF {
			t.Fatalf("token stream does not end with EOF")
		}
	})
}

// FuzzCompile checks that parsing and analysis never panic, and that a
// failed compilation always reports at least one diagnostic.
func FuzzCompile(f *testing.F) {
	seeds := []string{
		"kernel main() {\n    pass\n}",
		"exception E(ValueError)\nrecord R(a, b)\nrpc f, g\n",
		"kernel main(n) {\n    for i in range(n) {\n        if i > 2 {\n            break\n        }\n    }\n}",
		"kernel main() {\n    try {\n        raise KeyError(1)\n    } except KeyError as e {\n        raise\n    } else {\n        pass\n    } finally {\n        pass\n    }\n}",
		"kernel main() {\n    parallel {\n        sequential {\n            delay_mu(1)\n        }\n    }\n}",
		"kernel main() { x = (1, [2, 3], none)[1][0] }",
		"kernel { }",
		"try { }",
		"kernel main() { else }",
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, input string) {
		_, err := Compile("fuzz", input, testEnv{})
		if err == nil {
			return
		}
		if cerr, ok := err.(*Error); ok && len(cerr.Diagnostics) == 0 {
			t.Fatalf("compile error without diagnostics for %q", input)
		}
	})
}
