package analytics

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/ksred/marketracker-api/internal/marketdata"
	"github.com/shopspring/decimal"
)

// IncomeItem is one row of the dashboard income grid
type IncomeItem struct {
	Label    string  `json:"label"`
	Value    string  `json:"value"`
	CSSClass string  `json:"css_class"`
	RawValue float64 `json:"raw_value"`
}

var (
	positiveItems = []string{
		"total revenue", "gross profit", "operating income", "net income",
		"interest income", "other income expense", "pretax income",
	}
	negativeItems = []string{
		"total expenses", "operating expense", "cost of revenue",
		"interest expense", "tax provision", "research and development",
		"selling general and administration",
	}
)

// IncomeGrid turns the latest income statement into display rows. Zero
// rows are skipped.
func IncomeGrid(stmt *marketdata.IncomeStatement) []IncomeItem {
	items := []IncomeItem{}
	if stmt == nil {
		return items
	}
	for _, li := range stmt.Items {
		if li.Value == 0 || math.IsNaN(li.Value) {
			continue
		}
		items = append(items, IncomeItem{
			Label:    li.Label,
			Value:    formatAmount(li.Value),
			CSSClass: cssClass(li.Label),
			RawValue: li.Value,
		})
	}
	return items
}

func cssClass(label string) string {
	l := strings.ToLower(label)
	for _, p := range positiveItems {
		if strings.Contains(l, p) {
			return "positive"
		}
	}
	for _, n := range negativeItems {
		if strings.Contains(l, n) {
			return "negative"
		}
	}
	return ""
}

// formatAmount renders dollars scaled to B, M or K with two decimals
func formatAmount(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return usd(v/1e9) + "B"
	case abs >= 1e6:
		return usd(v/1e6) + "M"
	case abs >= 1e3:
		return usd(v/1e3) + "K"
	default:
		return usd(v)
	}
}

func usd(amount float64) string {
	cur := money.GetCurrency(money.USD)
	factor := decimal.New(1, int32(cur.Fraction))
	cents := decimal.NewFromFloat(amount).Mul(factor).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

var powerWords = []string{"thousand", "million", "billion", "trillion", "quadrillion"}

// IntWord renders large integers as words, e.g. 2.9 trillion. Values below
// one thousand are printed as is.
func IntWord(v float64) string {
	n := int64(v)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	if n < 1000 {
		return sign + strconv.FormatInt(n, 10)
	}

	f := float64(n)
	for i := len(powerWords) - 1; i >= 0; i-- {
		power := math.Pow(1000, float64(i+1))
		if f < power {
			continue
		}
		chopped := f / power
		// 999.96 million rounds up to the next word
		if i+1 < len(powerWords) && fmt.Sprintf("%.1f", chopped) == "1000.0" {
			return fmt.Sprintf("%s1.0 %s", sign, powerWords[i+1])
		}
		return fmt.Sprintf("%s%.1f %s", sign, chopped, powerWords[i])
	}
	return sign + strconv.FormatInt(n, 10)
}
