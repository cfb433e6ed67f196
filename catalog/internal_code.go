// Package catalog holds the pure rules that turn provider listings into one
// shared product space.
package catalog

import (
	"fmt"
	"strings"

	"github.com/deveasyclick/billpay/models"
	"github.com/shopspring/decimal"
)

// Electricity plans.
const (
	PlanPrepaid  = "prepaid"
	PlanPostpaid = "postpaid"
)

// knownBillers are canonical biller names. Order matters: the first name
// contained in a raw biller name wins.
var knownBillers = []string{
	"mtn", "airtel", "glo", "9mobile",
	"dstv", "gotv", "startimes", "showmax",
	"spectranet", "smile",
}

// billerAliases maps legacy or provider-specific names onto a known biller.
var billerAliases = map[string]string{
	"t2":       "9mobile",
	"etisalat": "9mobile",
}

// electricityDistributors maps a short distributor key to the substrings
// providers use for it. Kaduna precedes Abuja because "kaedco" contains "aedc".
var electricityDistributors = []struct {
	key     string
	aliases []string
}{
	{"ikeja", []string{"ikedc", "ikeja electric"}},
	{"eko", []string{"ekedc", "eko electric"}},
	{"kaduna", []string{"kaedco", "kaduna electric"}},
	{"abuja", []string{"aedc", "abuja electric"}},
	{"kano", []string{"kedco", "kano electric"}},
	{"portharcourt", []string{"phed", "port harcourt", "portharcourt"}},
	{"jos", []string{"jed", "jos electric"}},
	{"enugu", []string{"eedc", "enugu electric"}},
	{"ibadan", []string{"ibedc", "ibadan electric"}},
	{"benin", []string{"bedc", "benin electric"}},
	{"aba", []string{"aba power", "aba electric"}},
	{"yola", []string{"yedc", "yola electric"}},
}

// IsKnownBiller reports whether a raw biller name resolves to a canonical biller.
func IsKnownBiller(raw string, category models.BillCategory) bool {
	name := NormalizeBillerName(raw, category)
	if category == models.CategoryElectricity {
		for _, d := range electricityDistributors {
			if d.key == name {
				return true
			}
		}
		return false
	}
	if category == models.CategoryGaming {
		return name != ""
	}
	for _, b := range knownBillers {
		if b == name {
			return true
		}
	}
	return false
}

// NormalizeBillerName resolves a provider biller label ("T2 Mobile Data",
// "IKEDC Prepaid") to its canonical short name. Unknown names are returned
// lower-cased and trimmed.
func NormalizeBillerName(raw string, category models.BillCategory) string {
	lower := strings.ToLower(strings.TrimSpace(raw))

	if category == models.CategoryElectricity {
		for _, d := range electricityDistributors {
			if strings.Contains(lower, d.key) {
				return d.key
			}
			for _, alias := range d.aliases {
				if strings.Contains(lower, alias) {
					return d.key
				}
			}
		}
		return lower
	}
	if category == models.CategoryGaming {
		return lower
	}

	for _, word := range strings.Fields(lower) {
		if canonical, ok := billerAliases[word]; ok {
			return canonical
		}
	}
	for _, b := range knownBillers {
		if strings.Contains(lower, b) {
			return b
		}
	}
	for alias, canonical := range billerAliases {
		if strings.Contains(lower, alias) {
			return canonical
		}
	}
	return lower
}

// Offer is the provider-independent part of a listing needed to derive an
// internal code.
type Offer struct {
	BillerName string
	Category   models.BillCategory
	Amount     int64 // kobo
	Plan       string
}

// InternalCode derives the identity shared by equivalent offers across
// providers. Static categories use {name}-{category}; electricity appends the
// plan; dynamic categories append the price in naira.
func InternalCode(o Offer) string {
	name := NormalizeBillerName(o.BillerName, o.Category)
	category := strings.ToLower(string(o.Category))

	var code string
	switch {
	case o.Category.IsDynamic():
		code = fmt.Sprintf("%s %s %d", name, category, ToMajor(o.Amount))
	case o.Category == models.CategoryElectricity:
		plan := o.Plan
		if plan == "" {
			plan = PlanPrepaid
		}
		code = fmt.Sprintf("%s %s %s", name, category, plan)
	default:
		code = fmt.Sprintf("%s %s", name, category)
	}
	return kebab(code)
}

// ElectricityPlan infers the plan from a provider label, defaulting to prepaid.
func ElectricityPlan(label string) string {
	if strings.Contains(strings.ToLower(label), PlanPostpaid) {
		return PlanPostpaid
	}
	return PlanPrepaid
}

// ToMajor converts kobo to whole naira, rounding half away from zero.
func ToMajor(minor int64) int64 {
	return decimal.New(minor, -2).Round(0).IntPart()
}

// ToMinor converts a naira amount to kobo, rounding half away from zero.
func ToMinor(major decimal.Decimal) int64 {
	return major.Shift(2).Round(0).IntPart()
}

func kebab(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "-"))
}
