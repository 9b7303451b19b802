package gcode

import (
	"strconv"
	"strings"
)

// ParseLine converts one raw text line into a Command. It never fails:
// a line that does not match the command-word convention comes back as a
// raw passthrough with an empty Code, and a parameter token whose number
// does not parse is kept verbatim but marked invalid.
func ParseLine(line string) *Command {
	cmd := &Command{Raw: line}

	body := line
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		cmd.Comment = line[idx+1:]
		cmd.HasComment = true
		body = line[:idx]
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return cmd
	}
	if !isCommandWord(fields[0]) {
		return cmd
	}

	cmd.Code = strings.ToUpper(fields[0])
	for _, tok := range fields[1:] {
		p := Param{Raw: tok}
		if len(tok) >= 1 && isLetter(tok[0]) {
			p.Letter = upper(tok[0])
			if v, err := strconv.ParseFloat(tok[1:], 64); err == nil {
				p.Value = v
				p.Valid = true
			}
		}
		cmd.Params = append(cmd.Params, p)
	}
	return cmd
}

// isCommandWord reports whether tok is a command like G1, M104, or T0.
// A fractional code (G38.2) is accepted.
func isCommandWord(tok string) bool {
	if len(tok) < 2 || !isLetter(tok[0]) {
		return false
	}
	if _, err := strconv.ParseFloat(tok[1:], 64); err != nil {
		return false
	}
	return true
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}
