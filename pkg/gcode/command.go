// Package gcode provides parsing, typed representation, and lossless
// re-serialization of G-code lines for post-processing.
//
// A parsed line keeps its original text. Lines that no transform touches
// are reproduced byte-for-byte; only lines a transform modifies are
// re-rendered from the structured form.
package gcode

import (
	"strings"
)

// Param is a single letter-number word as authored on the line.
type Param struct {
	// Letter is the uppercase parameter letter (X, Y, Z, E, F, S, ...).
	Letter byte

	// Value is the parsed numeric value. Only meaningful when Valid.
	Value float64

	// Raw is the token exactly as authored, including the letter.
	Raw string

	// Valid reports whether the numeric part parsed. Invalid tokens are
	// ignored for state tracking but still re-emitted verbatim.
	Valid bool
}

// Command is one G-code line. Exactly one of the structured form and the
// raw text is authoritative for output: Raw until a transform modifies
// the command, the structured form after.
type Command struct {
	// Code is the uppercase command word ("G1", "M104"). Empty for
	// blank lines, comment-only lines, and lines that did not parse.
	Code string

	// Params holds the letter parameters in authored order.
	Params []Param

	// Comment is the trailing text after ';', without the delimiter.
	// Empty when the line has no comment.
	Comment string

	// HasComment distinguishes "no comment" from an empty comment
	// (a line ending in a bare ';').
	HasComment bool

	// Raw is the original line text without the trailing newline.
	Raw string

	// Modified is set when a transform changed the structured form,
	// making it authoritative over Raw.
	Modified bool
}

// New creates a synthesized command with the given code. Synthesized
// commands have no raw text and always render from the structured form.
func New(code string) *Command {
	return &Command{Code: strings.ToUpper(code), Modified: true}
}

// IsMove reports whether the command is a G0/G1 linear move.
func (c *Command) IsMove() bool {
	return c.Code == "G0" || c.Code == "G1"
}

// IsComment reports whether the line carries no command at all.
func (c *Command) IsComment() bool {
	return c.Code == ""
}

// Has reports whether the command carries a valid parameter for letter.
func (c *Command) Has(letter byte) bool {
	_, ok := c.Float(letter)
	return ok
}

// Float returns the value of the parameter for letter. The second result
// is false when the parameter is absent or did not parse.
func (c *Command) Float(letter byte) (float64, bool) {
	for i := range c.Params {
		if c.Params[i].Letter == letter && c.Params[i].Valid {
			return c.Params[i].Value, true
		}
	}
	return 0, false
}

// FloatDefault returns the parameter value or def when absent.
func (c *Command) FloatDefault(letter byte, def float64) float64 {
	if v, ok := c.Float(letter); ok {
		return v
	}
	return def
}

// Set updates the parameter for letter, appending it if absent. The
// command becomes modified and renders from the structured form.
func (c *Command) Set(letter byte, value float64) {
	c.Modified = true
	for i := range c.Params {
		if c.Params[i].Letter == letter {
			c.Params[i].Value = value
			c.Params[i].Raw = formatParam(letter, value)
			c.Params[i].Valid = true
			return
		}
	}
	c.Params = append(c.Params, Param{
		Letter: letter,
		Value:  value,
		Raw:    formatParam(letter, value),
		Valid:  true,
	})
}

// Drop removes the parameter for letter if present.
func (c *Command) Drop(letter byte) {
	for i := range c.Params {
		if c.Params[i].Letter == letter {
			c.Params = append(c.Params[:i], c.Params[i+1:]...)
			c.Modified = true
			return
		}
	}
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	dup := *c
	dup.Params = make([]Param, len(c.Params))
	copy(dup.Params, c.Params)
	return &dup
}
