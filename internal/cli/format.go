package cli

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatMoney formats an amount with thousands separators and two decimals,
// e.g. -12,345.60. The account currency is implied.
func FormatMoney(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := groupThousands(parts[0]) + "." + parts[1]
	if negative && result != "0.00" {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPnL formats profit or loss with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatMoney(pnl)
	if pnl > 0 && formatted != "0.00" {
		return "+" + formatted
	}
	return formatted
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatProgress formats an optional progress percentage; nil prints "n/a".
func FormatProgress(pct *float64) string {
	if pct == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *pct)
}

// FormatProfitFactor formats a profit factor, marking the capped value.
func FormatProfitFactor(pf float64, capped bool) string {
	if capped {
		return fmt.Sprintf("%.0f (no losses)", pf)
	}
	if math.IsInf(pf, 0) || math.IsNaN(pf) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", pf)
}

// FormatDateTime formats an instant in loc (nil means UTC).
func FormatDateTime(t time.Time, layout string, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc == nil {
		loc = time.UTC
	}
	if layout == "" {
		layout = "2006-01-02 15:04"
	}
	return t.In(loc).Format(layout)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
