package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deveasyclick/billpay/catalog"
	"github.com/deveasyclick/billpay/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	vtpassConfirmationRounds = 3
	vtpassDefaultPhone       = "+2348111111111"
)

// VTPass response codes accepted on /pay. 099 means the charge is still processing.
const (
	vtpassCodeOK         = "000"
	vtpassCodeProcessing = "099"
)

type VTPassConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	PublicKey string
	// DefaultPhone fills the phone field for categories where the customer id
	// is not a phone number.
	DefaultPhone string
	Timeout      time.Duration
}

// VTPassProvider implements BillingProvider using the VTPass API.
type VTPassProvider struct {
	cfg        VTPassConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewVTPassProvider creates a new VTPassProvider.
func NewVTPassProvider(cfg VTPassConfig, logger *zap.Logger) *VTPassProvider {
	if cfg.DefaultPhone == "" {
		cfg.DefaultPhone = vtpassDefaultPhone
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &VTPassProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// ---- VTPass API request/response structs ----

// flexAmount accepts both numeric and quoted amounts; providers mix them.
type flexAmount struct {
	decimal.Decimal
}

func (a *flexAmount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("amount %q: %w", s, err)
	}
	a.Decimal = d
	return nil
}

// kobo reads a naira amount as kobo.
func (a flexAmount) kobo() int64 {
	return catalog.ToMinor(a.Decimal)
}

// units reads an amount already quoted in kobo.
func (a flexAmount) units() int64 {
	return a.Round(0).IntPart()
}

type vtpassTransaction struct {
	Status        string     `json:"status"`
	ProductName   string     `json:"product_name"`
	UniqueElement string     `json:"unique_element"`
	Amount        flexAmount `json:"amount"`
	TransactionID string     `json:"transactionId"`
}

type vtpassTransactionResponse struct {
	Code                string `json:"code"`
	ResponseDescription string `json:"response_description"`
	RequestID           string `json:"requestId"`
	Content             struct {
		Transactions vtpassTransaction `json:"transactions"`
	} `json:"content"`
	Amount        flexAmount `json:"amount"`
	PurchasedCode string     `json:"purchased_code"`
	Token         string     `json:"token"`
	Units         string     `json:"units"`
}

type vtpassVariation struct {
	VariationCode   string     `json:"variation_code"`
	Name            string     `json:"name"`
	VariationAmount flexAmount `json:"variation_amount"`
	FixedPrice      string     `json:"fixedPrice"`
}

type vtpassVariationsResponse struct {
	ResponseDescription string `json:"response_description"`
	Content             struct {
		ServiceName string            `json:"ServiceName"`
		ServiceID   string            `json:"serviceID"`
		Variations  []vtpassVariation `json:"variations"`
	} `json:"content"`
}

type vtpassVerifyResponse struct {
	Code    string `json:"code"`
	Content struct {
		CustomerName  string     `json:"Customer_Name"`
		MinimumAmount flexAmount `json:"Minimum_Amount"`
		Error         string     `json:"error"`
	} `json:"content"`
}

// ---- BillingProvider implementation ----

func (v *VTPassProvider) Name() models.ProviderName { return models.ProviderVTPass }

func (v *VTPassProvider) ConfirmationRounds() int { return vtpassConfirmationRounds }

func (v *VTPassProvider) Supports(category models.BillCategory) bool {
	switch category {
	case models.CategoryAirtime, models.CategoryData, models.CategoryTV, models.CategoryElectricity:
		return true
	default:
		return false
	}
}

// Pay purchases a bill through VTPass. The payment reference is used as the
// VTPass request_id, which makes the call idempotent on their side.
func (v *VTPassProvider) Pay(ctx context.Context, req PayRequest) (Result, error) {
	payload, err := v.buildPayload(req)
	if err != nil {
		return Result{}, fmt.Errorf("vtpass Pay: %w", err)
	}

	var resp vtpassTransactionResponse
	raw, err := v.doRequest(ctx, http.MethodPost, "/pay", payload, &resp)
	if err != nil {
		return Result{}, fmt.Errorf("vtpass Pay: %w", err)
	}
	if resp.Code != vtpassCodeOK && resp.Code != vtpassCodeProcessing {
		return Result{}, fmt.Errorf("vtpass Pay: code %s: %s", resp.Code, resp.ResponseDescription)
	}
	return v.toResult(req.Reference, resp, raw), nil
}

// Confirm requeries a transaction by request_id.
func (v *VTPassProvider) Confirm(ctx context.Context, reference string) (Result, error) {
	var resp vtpassTransactionResponse
	raw, err := v.doRequest(ctx, http.MethodPost, "/requery", map[string]string{"request_id": reference}, &resp)
	if err != nil {
		return Result{}, fmt.Errorf("vtpass Confirm: %w", err)
	}
	if resp.Code != vtpassCodeOK {
		return Result{}, fmt.Errorf("vtpass Confirm: code %s: %s", resp.Code, resp.ResponseDescription)
	}
	return v.toResult(reference, resp, raw), nil
}

// ListOffers returns the built-in static services plus the live variations
// of every data and TV service. A service whose variations cannot be fetched
// is skipped.
func (v *VTPassProvider) ListOffers(ctx context.Context) ([]Offer, error) {
	var offers []Offer
	for _, svc := range vtpassServices {
		if !svc.category.IsDynamic() {
			offers = append(offers, svc.staticOffers()...)
			continue
		}

		variations, err := v.serviceVariations(ctx, svc.serviceID)
		if err != nil {
			v.logger.Warn("Failed to fetch VTPass variations",
				zap.String("service_id", svc.serviceID),
				zap.Error(err),
			)
			continue
		}
		for _, variant := range variations {
			offers = append(offers, Offer{
				BillerCode:  svc.serviceID,
				BillerName:  svc.name,
				Category:    svc.category,
				Name:        variant.Name,
				PaymentCode: variant.VariationCode,
				Amount:      variant.VariationAmount.kobo(),
				AmountType:  models.AmountTypeFixed,
			})
		}
	}
	return offers, nil
}

// ValidateCustomer verifies a smartcard or meter number via merchant-verify.
func (v *VTPassProvider) ValidateCustomer(ctx context.Context, req CustomerLookup) (models.Customer, error) {
	body := map[string]string{
		"billersCode": req.CustomerID,
		"serviceID":   req.PaymentCode,
	}
	if req.Type != "" {
		body["type"] = req.Type
	}

	var resp vtpassVerifyResponse
	if _, err := v.doRequest(ctx, http.MethodPost, "/merchant-verify", body, &resp); err != nil {
		return models.Customer{}, fmt.Errorf("vtpass ValidateCustomer: %w", err)
	}
	if resp.Code != vtpassCodeOK || resp.Content.Error != "" {
		return models.Customer{}, fmt.Errorf("vtpass ValidateCustomer: code %s: %s", resp.Code, resp.Content.Error)
	}
	return models.Customer{
		CustomerID: req.CustomerID,
		Name:       resp.Content.CustomerName,
		Amount:     resp.Content.MinimumAmount.kobo(),
	}, nil
}

func (v *VTPassProvider) serviceVariations(ctx context.Context, serviceID string) ([]vtpassVariation, error) {
	var resp vtpassVariationsResponse
	if _, err := v.doRequest(ctx, http.MethodGet, "/service-variations?serviceID="+serviceID, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseDescription != vtpassCodeOK {
		return nil, fmt.Errorf("service variations %s: %w", serviceID, ErrUnexpectedResponse)
	}
	return resp.Content.Variations, nil
}

// buildPayload shapes the /pay body for each category.
func (v *VTPassProvider) buildPayload(req PayRequest) (map[string]any, error) {
	payload := map[string]any{
		"request_id": req.Reference,
		"serviceID":  req.BillerCode,
	}
	switch req.Category {
	case models.CategoryAirtime:
		payload["phone"] = req.CustomerID
		payload["amount"] = toNaira(req.Amount)
	case models.CategoryData:
		payload["phone"] = req.CustomerID
		payload["billersCode"] = v.cfg.DefaultPhone
		payload["variation_code"] = req.PaymentCode
	case models.CategoryTV:
		payload["phone"] = v.cfg.DefaultPhone
		payload["billersCode"] = req.CustomerID
		payload["variation_code"] = req.PaymentCode
		payload["subscription_type"] = "change"
	case models.CategoryElectricity:
		plan := req.Plan
		if plan == "" {
			plan = req.PaymentCode
		}
		payload["phone"] = v.cfg.DefaultPhone
		payload["billersCode"] = req.CustomerID
		payload["variation_code"] = plan
		payload["amount"] = toNaira(req.Amount)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCategory, req.Category)
	}
	return payload, nil
}

func (v *VTPassProvider) toResult(reference string, resp vtpassTransactionResponse, raw []byte) Result {
	tx := resp.Content.Transactions
	amount := tx.Amount
	if amount.IsZero() {
		amount = resp.Amount
	}

	metadata := map[string]any{"status": tx.Status}
	if tx.TransactionID != "" {
		metadata["transactionId"] = tx.TransactionID
	}
	if resp.PurchasedCode != "" {
		metadata["purchasedCode"] = resp.PurchasedCode
	}
	if resp.Token != "" {
		metadata["token"] = resp.Token
	}
	if resp.Units != "" {
		metadata["units"] = resp.Units
	}

	return Result{
		Status:    vtpassOutcome(tx.Status),
		Amount:    amount.kobo(),
		Reference: reference,
		Message:   resp.ResponseDescription,
		Metadata:  metadata,
		Raw:       raw,
	}
}

func vtpassOutcome(status string) Outcome {
	switch strings.ToLower(status) {
	case "delivered":
		return OutcomeSuccessful
	case "failed", "reversed":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// toNaira renders kobo as a JSON number in naira.
func toNaira(kobo int64) json.Number {
	return json.Number(decimal.New(kobo, -2).String())
}

// ---- HTTP helper ----

func (v *VTPassProvider) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(v.cfg.BaseURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("api-key", v.cfg.APIKey)
	if method == http.MethodGet {
		req.Header.Set("public-key", v.cfg.PublicKey)
	} else {
		req.Header.Set("secret-key", v.cfg.SecretKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return respBytes, fmt.Errorf("vtpass API error (status %d): %w", resp.StatusCode, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBytes, fmt.Errorf("vtpass API error (status %d): %s", resp.StatusCode, string(respBytes))
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return respBytes, fmt.Errorf("decode response: %w", err)
		}
	}
	return respBytes, nil
}
