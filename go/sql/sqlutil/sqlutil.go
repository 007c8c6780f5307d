// Package sqlutil has helpers for assembling multi-row SQL statements.
package sqlutil

import (
	"strconv"
	"strings"
)

// ValuesPlaceholders returns the placeholder groups for a multi-row INSERT,
// e.g. ValuesPlaceholders(2, 3) returns ($1,$2),($3,$4),($5,$6). Panics if
// either argument is not positive, since that is always a programming error.
func ValuesPlaceholders(valuesPerRow, numRows int) string {
	if valuesPerRow <= 0 || numRows <= 0 {
		panic("ValuesPlaceholders needs at least one row and one value per row")
	}
	var sb strings.Builder
	// Up to 5 bytes per value: "$NNN," .
	sb.Grow(5 * valuesPerRow * numRows)
	arg := 1
	for row := 0; row < numRows; row++ {
		if row > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for v := 0; v < valuesPerRow; v++ {
			if v > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(arg))
			arg++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
