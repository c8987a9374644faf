package infrastructure

import (
	"fmt"
	"strings"
	"time"
)

// FormatPalomas formats an amount with thousand separators
func FormatPalomas(amount int64) string {
	if amount < 0 {
		return "-" + FormatPalomas(-amount)
	}

	str := fmt.Sprintf("%d", amount)
	n := len(str)
	if n <= 3 {
		return str
	}

	var result strings.Builder
	for i, digit := range str {
		if i > 0 && (n-i)%3 == 0 {
			result.WriteRune(',')
		}
		result.WriteRune(digit)
	}
	return result.String()
}

// FormatDiscordTimestamp formats a time as a Discord timestamp rendered in the reader's timezone.
// Format types: "d" short date, "f" short date/time, "R" relative time.
func FormatDiscordTimestamp(t time.Time, format string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), format)
}
