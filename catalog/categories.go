package catalog

import (
	"strings"

	"github.com/deveasyclick/billpay/models"
)

// categoryLabels maps each provider's category labels (as seen in sandbox and
// production feeds) onto a canonical category. Labels missing here are not
// synced.
var categoryLabels = map[models.ProviderName]map[string]models.BillCategory{
	models.ProviderInterswitch: {
		"mobile recharge":             models.CategoryAirtime,
		"airtime and data":            models.CategoryData,
		"airtel data":                 models.CategoryData,
		"mobile data":                 models.CategoryData,
		"utility bills":               models.CategoryElectricity,
		"utilities":                   models.CategoryElectricity,
		"cable tv bills":              models.CategoryTV,
		"cable tv":                    models.CategoryTV,
		"betting, lottery and gaming": models.CategoryGaming,
	},
	models.ProviderVTPass: {
		"airtime":          models.CategoryAirtime,
		"data":             models.CategoryData,
		"tv-subscription":  models.CategoryTV,
		"electricity-bill": models.CategoryElectricity,
	},
}

// ResolveCategory looks up a provider category label in the mapping table.
// Matching is case and surrounding-space insensitive.
func ResolveCategory(provider models.ProviderName, label string) (models.BillCategory, bool) {
	labels, ok := categoryLabels[provider]
	if !ok {
		return "", false
	}
	category, ok := labels[strings.ToLower(strings.TrimSpace(label))]
	return category, ok
}
