package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"eggplot/plotter"
)

var errNotNumeric = errors.New("not a numeric parameter")

// ParseWarning describes a token that was dropped while parsing
type ParseWarning struct {
	Line  int
	Token string
	Err   error
}

func (w ParseWarning) Error() string {
	return fmt.Sprintf("line %d: dropped %q: %v", w.Line, w.Token, w.Err)
}

func (w ParseWarning) Unwrap() error {
	return w.Err
}

// Program is a fully parsed G-code file
type Program struct {
	Commands []plotter.ToolCommand
	Warnings []ParseWarning
}

var commandKinds = map[string]plotter.Kind{
	"G0":  plotter.RapidMove,
	"G00": plotter.RapidMove,
	"G1":  plotter.LinearMove,
	"G01": plotter.LinearMove,
	"G2":  plotter.ArcMove,
	"G02": plotter.ArcMove,
	"G3":  plotter.ArcMove,
	"G03": plotter.ArcMove,
	"M3":  plotter.PenDown,
	"M03": plotter.PenDown,
	"M5":  plotter.PenUp,
	"M05": plotter.PenUp,
	"M2":  plotter.ProgramEnd,
	"M02": plotter.ProgramEnd,
	"M30": plotter.ProgramEnd,
}

// Parser handles G-code parsing
type Parser struct {
	line     int
	warnings []ParseWarning
}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads and parses a whole program
func Parse(r io.Reader) (*Program, error) {
	p := NewParser()
	prog := &Program{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd, err := p.ParseLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		if cmd != nil {
			prog.Commands = append(prog.Commands, *cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}

	prog.Warnings = p.Warnings()
	return prog, nil
}

// ParseString parses a program held in memory
func ParseString(text string) (*Program, error) {
	return Parse(strings.NewReader(text))
}

// ParseLine parses the next line of G-code. Blank and comment-only lines
// return a nil command.
func (p *Parser) ParseLine(line string) (*plotter.ToolCommand, error) {
	p.line++

	tokens, err := words(line)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", p.line, err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	word := strings.ToUpper(tokens[0])
	cmd := &plotter.ToolCommand{
		Kind:   commandKinds[word],
		Word:   word,
		Params: make(map[byte]float64),
		Raw:    strings.TrimSpace(line),
		Line:   p.line,
	}

	// Feedrate on its own line, either "F" or "F1500"
	if cmd.Kind == plotter.Unknown && word[0] == 'F' {
		if word == "F" {
			cmd.Kind = plotter.SetFeedrate
		} else if v, err := parseValue(word[1:]); err == nil {
			cmd.Kind = plotter.SetFeedrate
			cmd.Params['F'] = v
		}
	}

	for _, tok := range tokens[1:] {
		letter, value, err := parseParameter(tok)
		if err != nil {
			p.warnings = append(p.warnings, ParseWarning{Line: p.line, Token: tok, Err: err})
			continue
		}
		cmd.Params[letter] = value
	}

	return cmd, nil
}

// Warnings returns the tokens dropped so far
func (p *Parser) Warnings() []ParseWarning {
	return p.warnings
}

// parseParameter splits a token like "X10.5" into its key and value
func parseParameter(tok string) (byte, float64, error) {
	if len(tok) < 2 || !isLetter(tok[0]) {
		return 0, 0, errNotNumeric
	}
	value, err := parseValue(tok[1:])
	if err != nil {
		return 0, 0, err
	}
	return toUpper(tok[0]), value, nil
}

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errNotNumeric
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotNumeric
	}
	return v, nil
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
