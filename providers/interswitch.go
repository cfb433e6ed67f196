package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/deveasyclick/billpay/catalog"
	"github.com/deveasyclick/billpay/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	interswitchConfirmationRounds = 5
	interswitchAPIPath            = "/quicktellerservice/api/v5"
	interswitchListConcurrency    = 5
	// Airtime items above this amount with a minimum-amount type are bundles,
	// not open airtime.
	interswitchMaxAirtimeAmount = 5000
)

type InterswitchConfig struct {
	BaseURL         string
	PaymentBaseURL  string
	AuthURL         string
	BasicToken      string
	TerminalID      string
	ReferencePrefix string
	Timeout         time.Duration
}

// InterswitchProvider implements BillingProvider using the Interswitch
// Quickteller service API.
type InterswitchProvider struct {
	cfg        InterswitchConfig
	httpClient *http.Client
	tokens     *TokenCache
	logger     *zap.Logger
}

// NewInterswitchProvider creates a new InterswitchProvider. Token cache options
// (clock, expiry buffer) are forwarded to its TokenCache.
func NewInterswitchProvider(cfg InterswitchConfig, logger *zap.Logger, opts ...TokenCacheOption) *InterswitchProvider {
	if cfg.PaymentBaseURL == "" {
		cfg.PaymentBaseURL = cfg.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	p := &InterswitchProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	p.tokens = NewTokenCache(p.fetchToken, opts...)
	return p
}

// ---- Interswitch API request/response structs ----

type interswitchTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type interswitchPayRequest struct {
	PaymentCode      string `json:"paymentCode"`
	CustomerID       string `json:"customerId"`
	CustomerMobile   string `json:"customerMobile"`
	Amount           string `json:"amount"`
	RequestReference string `json:"requestReference"`
}

type interswitchTransactionResponse struct {
	ResponseCode         string         `json:"ResponseCode"`
	ResponseCodeGrouping string         `json:"ResponseCodeGrouping"`
	ResponseDescription  string         `json:"ResponseDescription"`
	TransactionRef       string         `json:"TransactionRef"`
	ApprovedAmount       flexAmount     `json:"ApprovedAmount"`
	Amount               flexAmount     `json:"Amount"`
	RechargePIN          string         `json:"RechargePIN"`
	AdditionalInfo       map[string]any `json:"AdditionalInfo"`
}

type interswitchBiller struct {
	ID   json.Number `json:"Id"`
	Name string      `json:"Name"`
}

type interswitchCategory struct {
	ID      json.Number         `json:"Id"`
	Name    string              `json:"Name"`
	Billers []interswitchBiller `json:"Billers"`
}

type interswitchBillersResponse struct {
	BillerList struct {
		Category []interswitchCategory `json:"Category"`
	} `json:"BillerList"`
}

type interswitchPaymentItem struct {
	ID          string      `json:"Id"`
	Name        string      `json:"Name"`
	BillerName  string      `json:"BillerName"`
	BillerID    json.Number `json:"BillerId"`
	PaymentCode string      `json:"PaymentCode"`
	Amount      flexAmount  `json:"Amount"`
	AmountType  int         `json:"AmountType"`
}

type interswitchPaymentItemsResponse struct {
	PaymentItems []interswitchPaymentItem `json:"PaymentItems"`
}

type interswitchCustomerRequest struct {
	Customers  []interswitchCustomerRef `json:"customers"`
	TerminalID string                   `json:"TerminalId"`
}

type interswitchCustomerRef struct {
	PaymentCode string `json:"PaymentCode"`
	CustomerID  string `json:"CustomerId"`
}

type interswitchCustomersResponse struct {
	Customers []struct {
		CustomerID   string     `json:"CustomerId"`
		FullName     string     `json:"FullName"`
		Amount       flexAmount `json:"Amount"`
		ResponseCode string     `json:"ResponseCode"`
	} `json:"Customers"`
}

// ---- BillingProvider implementation ----

func (p *InterswitchProvider) Name() models.ProviderName { return models.ProviderInterswitch }

func (p *InterswitchProvider) ConfirmationRounds() int { return interswitchConfirmationRounds }

func (p *InterswitchProvider) Supports(category models.BillCategory) bool {
	return category.IsKnown()
}

// Pay submits a Quickteller transaction. Every category uses the same body;
// the payment code selects the product.
func (p *InterswitchProvider) Pay(ctx context.Context, req PayRequest) (Result, error) {
	if !p.Supports(req.Category) {
		return Result{}, fmt.Errorf("interswitch Pay: %w: %s", ErrUnsupportedCategory, req.Category)
	}
	body := interswitchPayRequest{
		PaymentCode:      req.PaymentCode,
		CustomerID:       req.CustomerID,
		CustomerMobile:   req.CustomerID,
		Amount:           strconv.FormatInt(req.Amount, 10),
		RequestReference: p.cfg.ReferencePrefix + req.Reference,
	}

	var resp interswitchTransactionResponse
	raw, err := p.doRequest(ctx, http.MethodPost, p.cfg.BaseURL+interswitchAPIPath+"/Transactions", body, &resp)
	if err != nil {
		return Result{}, fmt.Errorf("interswitch Pay: %w", err)
	}
	return p.toResult(req.Reference, resp, raw), nil
}

// Confirm looks a transaction up by our prefixed request reference.
func (p *InterswitchProvider) Confirm(ctx context.Context, reference string) (Result, error) {
	endpoint := p.cfg.PaymentBaseURL + interswitchAPIPath + "/Transactions?requestRef=" +
		url.QueryEscape(p.cfg.ReferencePrefix+reference)

	var resp interswitchTransactionResponse
	raw, err := p.doRequest(ctx, http.MethodGet, endpoint, nil, &resp)
	if err != nil {
		return Result{}, fmt.Errorf("interswitch Confirm: %w", err)
	}
	return p.toResult(reference, resp, raw), nil
}

// ListOffers walks the biller tree: supported categories, then known billers,
// then each biller's payment items. Billers are fetched concurrently and a
// failing biller is skipped.
func (p *InterswitchProvider) ListOffers(ctx context.Context) ([]Offer, error) {
	var billers interswitchBillersResponse
	if _, err := p.doRequest(ctx, http.MethodGet, p.cfg.BaseURL+interswitchAPIPath+"/services", nil, &billers); err != nil {
		return nil, fmt.Errorf("interswitch ListOffers: %w", err)
	}

	type target struct {
		biller   interswitchBiller
		category models.BillCategory
	}
	var targets []target
	for _, c := range billers.BillerList.Category {
		category, ok := catalog.ResolveCategory(models.ProviderInterswitch, c.Name)
		if !ok {
			continue
		}
		for _, b := range c.Billers {
			if b.ID.String() == "" || !catalog.IsKnownBiller(b.Name, category) {
				continue
			}
			targets = append(targets, target{biller: b, category: category})
		}
	}

	// One slot per target keeps the listing order whatever order the calls finish in.
	results := make([][]Offer, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(interswitchListConcurrency)
	for i, t := range targets {
		g.Go(func() error {
			items, err := p.billerItems(gctx, t.biller, t.category)
			if err != nil {
				p.logger.Warn("Failed to fetch Interswitch biller items",
					zap.String("biller", t.biller.Name),
					zap.String("biller_id", t.biller.ID.String()),
					zap.Error(err),
				)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("interswitch ListOffers: %w", err)
	}

	var offers []Offer
	for _, items := range results {
		offers = append(offers, items...)
	}
	return offers, nil
}

// ValidateCustomer resolves the account name for a customer id.
func (p *InterswitchProvider) ValidateCustomer(ctx context.Context, req CustomerLookup) (models.Customer, error) {
	body := interswitchCustomerRequest{
		Customers:  []interswitchCustomerRef{{PaymentCode: req.PaymentCode, CustomerID: req.CustomerID}},
		TerminalID: p.cfg.TerminalID,
	}

	var resp interswitchCustomersResponse
	if _, err := p.doRequest(ctx, http.MethodPost, p.cfg.BaseURL+interswitchAPIPath+"/Transactions/validatecustomers", body, &resp); err != nil {
		return models.Customer{}, fmt.Errorf("interswitch ValidateCustomer: %w", err)
	}
	if len(resp.Customers) == 0 {
		return models.Customer{}, fmt.Errorf("interswitch ValidateCustomer: %w", ErrUnexpectedResponse)
	}
	c := resp.Customers[0]
	return models.Customer{
		CustomerID: req.CustomerID,
		Name:       c.FullName,
		Amount:     c.Amount.units(),
	}, nil
}

func (p *InterswitchProvider) billerItems(ctx context.Context, biller interswitchBiller, category models.BillCategory) ([]Offer, error) {
	endpoint := p.cfg.BaseURL + interswitchAPIPath + "/services/options?serviceid=" + url.QueryEscape(biller.ID.String())

	var resp interswitchPaymentItemsResponse
	if _, err := p.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(resp.PaymentItems))
	for _, item := range resp.PaymentItems {
		amount := item.Amount.units()
		if category == models.CategoryAirtime && amount > interswitchMaxAirtimeAmount && item.AmountType > models.AmountTypeFixed {
			continue
		}

		billerName := item.BillerName
		if billerName == "" {
			billerName = biller.Name
		}
		name := item.Name
		if name == "" {
			name = item.ID
		}
		billerCode := item.BillerID.String()
		if billerCode == "" {
			billerCode = biller.ID.String()
		}

		offer := Offer{
			BillerCode:  billerCode,
			BillerName:  billerName,
			Category:    category,
			Name:        name,
			PaymentCode: item.PaymentCode,
			Amount:      amount,
			AmountType:  item.AmountType,
		}
		switch category {
		case models.CategoryElectricity:
			offer.Plan = catalog.ElectricityPlan(billerName + " " + item.Name)
		case models.CategoryGaming:
			offer.Name = billerName
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func (p *InterswitchProvider) toResult(reference string, resp interswitchTransactionResponse, raw []byte) Result {
	amount := resp.ApprovedAmount
	if amount.IsZero() {
		amount = resp.Amount
	}

	metadata := map[string]any{"responseCode": resp.ResponseCode}
	if resp.TransactionRef != "" {
		metadata["transactionRef"] = resp.TransactionRef
	}
	if resp.RechargePIN != "" {
		metadata["rechargePin"] = resp.RechargePIN
	}
	for k, v := range resp.AdditionalInfo {
		metadata[k] = v
	}

	return Result{
		Status:    interswitchOutcome(resp.ResponseCodeGrouping),
		Amount:    amount.units(),
		Reference: reference,
		Message:   resp.ResponseDescription,
		Metadata:  metadata,
		Raw:       raw,
	}
}

func interswitchOutcome(grouping string) Outcome {
	switch strings.ToUpper(grouping) {
	case "SUCCESSFUL":
		return OutcomeSuccessful
	case "FAILED":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// ---- Auth ----

func (p *InterswitchProvider) fetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.AuthURL, strings.NewReader("{}"))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+p.cfg.BasicToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("interswitch auth error (status %d): %s", resp.StatusCode, string(b))
	}

	var tok interswitchTokenResponse
	if err := json.Unmarshal(b, &tok); err != nil {
		return "", 0, fmt.Errorf("decode token: %w", err)
	}
	return tok.AccessToken, time.Duration(tok.ExpiresIn) * time.Second, nil
}

// ---- HTTP helper ----

// doRequest sends an authenticated request. A 401 drops the cached token and
// the request is retried once with a fresh one.
func (p *InterswitchProvider) doRequest(ctx context.Context, method, endpoint string, body interface{}, out interface{}) ([]byte, error) {
	raw, err := p.send(ctx, method, endpoint, body, out)
	if errors.Is(err, ErrUnauthorized) {
		p.tokens.Invalidate()
		raw, err = p.send(ctx, method, endpoint, body, out)
	}
	return raw, err
}

func (p *InterswitchProvider) send(ctx context.Context, method, endpoint string, body interface{}, out interface{}) ([]byte, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("TerminalId", p.cfg.TerminalID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return respBytes, fmt.Errorf("interswitch API error (status %d): %w", resp.StatusCode, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBytes, fmt.Errorf("interswitch API error (status %d): %s", resp.StatusCode, string(respBytes))
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return respBytes, fmt.Errorf("decode response: %w", err)
		}
	}
	return respBytes, nil
}
