package providers

import (
	"github.com/deveasyclick/billpay/catalog"
	"github.com/deveasyclick/billpay/models"
)

type vtpassService struct {
	category  models.BillCategory
	name      string
	serviceID string
}

// vtpassServices is the set of VTPass services we sell. Data and TV services
// are expanded into their live variations at sync time.
var vtpassServices = []vtpassService{
	{models.CategoryAirtime, "MTN", "mtn"},
	{models.CategoryAirtime, "GLO", "glo"},
	{models.CategoryAirtime, "AIRTEL", "airtel"},
	{models.CategoryAirtime, "9MOBILE", "etisalat"},

	{models.CategoryData, "MTN", "mtn-data"},
	{models.CategoryData, "GLO", "glo-data"},
	{models.CategoryData, "AIRTEL", "airtel-data"},
	{models.CategoryData, "9MOBILE", "etisalat-data"},
	{models.CategoryData, "SPECTRANET", "spectranet"},
	{models.CategoryData, "SMILE", "smile-direct"},

	{models.CategoryTV, "DSTV", "dstv"},
	{models.CategoryTV, "GOTV", "gotv"},
	{models.CategoryTV, "STARTIMES", "startimes"},
	{models.CategoryTV, "SHOWMAX", "showmax"},

	{models.CategoryElectricity, "Ikeja Electric", "ikeja-electric"},
	{models.CategoryElectricity, "Eko Electric", "eko-electric"},
	{models.CategoryElectricity, "Abuja Electric", "abuja-electric"},
	{models.CategoryElectricity, "Kano Electric", "kano-electric"},
	{models.CategoryElectricity, "Port Harcourt Electric", "portharcourt-electric"},
	{models.CategoryElectricity, "Jos Electric", "jos-electric"},
	{models.CategoryElectricity, "Kaduna Electric", "kaduna-electric"},
	{models.CategoryElectricity, "Enugu Electric", "enugu-electric"},
	{models.CategoryElectricity, "Ibadan Electric", "ibadan-electric"},
	{models.CategoryElectricity, "Benin Electric", "benin-electric"},
	{models.CategoryElectricity, "Aba Electric", "aba-electric"},
	{models.CategoryElectricity, "Yola Electric", "yola-electric"},
}

// staticOffers returns the user-amount offers of a non-dynamic service.
// Electricity is listed once per plan.
func (s vtpassService) staticOffers() []Offer {
	if s.category == models.CategoryElectricity {
		offers := make([]Offer, 0, 2)
		for _, plan := range []string{catalog.PlanPrepaid, catalog.PlanPostpaid} {
			offers = append(offers, Offer{
				BillerCode:  s.serviceID,
				BillerName:  s.name,
				Category:    s.category,
				Name:        s.name + " " + plan,
				PaymentCode: plan,
				AmountType:  models.AmountTypeUserDefined,
				Plan:        plan,
			})
		}
		return offers
	}
	return []Offer{{
		BillerCode:  s.serviceID,
		BillerName:  s.name,
		Category:    s.category,
		Name:        s.name,
		PaymentCode: s.serviceID,
		AmountType:  models.AmountTypeUserDefined,
	}}
}
