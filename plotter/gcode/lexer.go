package gcode

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// LineLexer splits one G-code line into words and comments.
// Every byte matches some rule, so lexing a line never fails.
var LineLexer = lexer.MustSimple([]lexer.SimpleRule{
	// ( ... ) comments, an unclosed one runs to end of line
	{Name: "Comment", Pattern: `\([^)]*\)?`},

	// ; to end of line
	{Name: "LineComment", Pattern: `;[^\n]*`},

	{Name: "Whitespace", Pattern: `\s+`},

	// Command word or parameter token
	{Name: "Word", Pattern: `[^\s;(]+`},
})

var wordType = LineLexer.Symbols()["Word"]

// words returns the non-comment tokens of a line
func words(line string) ([]string, error) {
	lex, err := LineLexer.LexString("", line)
	if err != nil {
		return nil, err
	}
	tokens, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, tok := range tokens {
		if tok.Type == wordType {
			out = append(out, tok.Value)
		}
	}
	return out, nil
}
