package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// priceToken matches either a grouped amount (a space, apostrophe, "." or
// "," before every run of exactly three digits) or a plain amount with an
// optional decimal part. Two amounts separated by a space stay apart.
var priceToken = regexp.MustCompile(`\d{1,3}(?:[\s\x{00a0}'.,]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)?`)

// ParsePrice reads the first amount in text and rounds it to whole units.
//
// Separators: when both "," and "." occur, the last one is the decimal
// separator. A lone separator followed by exactly three digits groups
// thousands; repeated separators always do.
func ParsePrice(text string) (int, error) {
	token := priceToken.FindString(text)
	if token == "" {
		return 0, fmt.Errorf("no amount in %q", text)
	}

	token = strings.Map(func(r rune) rune {
		if r == '\'' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, token)

	amount, err := decimal.NewFromString(normalizeSeparators(token))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", token, err)
	}
	return int(amount.Round(0).IntPart()), nil
}

func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		return singleSeparator(s, ",")
	case lastDot >= 0:
		return singleSeparator(s, ".")
	default:
		return s
	}
}

func singleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	idx := strings.Index(s, sep)
	if len(s)-idx-1 == 3 {
		return strings.Replace(s, sep, "", 1)
	}
	return strings.Replace(s, sep, ".", 1)
}
