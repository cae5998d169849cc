// formatação de valores numéricos para headers, sem fmt e sem notação científica.

package ratelimit

import "strconv"

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
