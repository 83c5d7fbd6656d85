package generic

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// =============================================================================
// MONEY FORMATTING - Human-readable amounts for calculation details
// =============================================================================

// CurrencySymbol prefixes formatted amounts. Set once at startup.
var CurrencySymbol = "$"

// Separators come from the display locale; digits come from the decimal
// string.
var groupSeparator, decimalSeparator = localeSeparators(language.English)

func localeSeparators(tag language.Tag) (group, point string) {
	p := message.NewPrinter(tag)
	group = strings.TrimSuffix(strings.TrimPrefix(p.Sprint(number.Decimal(1000)), "1"), "000")
	point = strings.TrimSuffix(strings.TrimPrefix(p.Sprint(number.Decimal(0.5, number.Scale(1))), "0"), "5")
	return group, point
}

// FormatMoney renders an amount like "$1,234.50". Only used for display
// text; stored amounts stay decimal strings.
func FormatMoney(d decimal.Decimal) string {
	s := RoundMoney(d).StringFixed(CurrencyPlaces)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString(CurrencySymbol)
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(groupSeparator)
		}
		b.WriteRune(c)
	}
	if frac != "" {
		b.WriteString(decimalSeparator)
		b.WriteString(frac)
	}
	return b.String()
}

// FormatPercent renders "10%".
func FormatPercent(d decimal.Decimal) string {
	return d.String() + "%"
}
