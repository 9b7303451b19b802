package gcode

import (
	"math"
	"strconv"
	"strings"
)

// Render produces the output text for a command. Untouched commands
// reproduce their original line exactly; modified and synthesized
// commands are rendered from the structured form with a fixed numeric
// policy and the comment suffix reattached.
func Render(c *Command) string {
	if !c.Modified {
		return c.Raw
	}

	var sb strings.Builder
	sb.WriteString(c.Code)
	for i := range c.Params {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(c.Params[i].Raw)
	}
	if c.HasComment {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(';')
		sb.WriteString(c.Comment)
	}
	return sb.String()
}

// formatParam renders a parameter token. Feedrates, setpoints, and
// index-like parameters are integers on the wire; coordinates and
// extrusion amounts use up to three decimals with trailing zeros
// trimmed, matching common slicer output.
func formatParam(letter byte, value float64) string {
	switch letter {
	case 'F', 'S', 'T', 'P', 'B', 'R':
		return string(letter) + strconv.Itoa(int(math.Round(value)))
	default:
		return string(letter) + FormatFloat(value)
	}
}

// FormatFloat renders value with three decimals, trimming trailing
// zeros and a dangling decimal point.
func FormatFloat(value float64) string {
	s := strconv.FormatFloat(value, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "-0" || s == "" {
		s = "0"
	}
	return s
}
