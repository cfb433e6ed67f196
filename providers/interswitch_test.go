package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deveasyclick/billpay/models"
	"github.com/deveasyclick/billpay/providers"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type interswitchStub struct {
	authCalls int32
	// rejectFirst makes the first authenticated call return 401.
	rejectFirst int32
	mux         *http.ServeMux
}

func newInterswitch(t *testing.T, stub *interswitchStub) *providers.InterswitchProvider {
	t.Helper()
	root := http.NewServeMux()
	root.HandleFunc("/passport/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic basic-token", r.Header.Get("Authorization"))
		n := atomic.AddInt32(&stub.authCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "bearer-" + string(rune('0'+n)),
			"expires_in":   3600,
		})
	})
	root.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TERM01", r.Header.Get("TerminalId"))
		if atomic.CompareAndSwapInt32(&stub.rejectFirst, 1, 0) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		stub.mux.ServeHTTP(w, r)
	})
	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)

	return providers.NewInterswitchProvider(providers.InterswitchConfig{
		BaseURL:         srv.URL,
		AuthURL:         srv.URL + "/passport/oauth/token",
		BasicToken:      "basic-token",
		TerminalID:      "TERM01",
		ReferencePrefix: "BP",
	}, zap.NewNop())
}

func TestInterswitchPay_Successful(t *testing.T) {
	stub := &interswitchStub{mux: http.NewServeMux()}
	var body map[string]any
	var auth string
	stub.mux.HandleFunc("/quicktellerservice/api/v5/Transactions", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"ResponseCode": "90000", "ResponseCodeGrouping": "SUCCESSFUL", "TransactionRef": "ISW-1", "ApprovedAmount": "50000"}`))
	})
	p := newInterswitch(t, stub)

	res, err := p.Pay(context.Background(), providers.PayRequest{
		Reference:   "202401011200ABC",
		Category:    models.CategoryAirtime,
		CustomerID:  "08030000000",
		Amount:      50000,
		PaymentCode: "10902",
	})

	assert.NoError(t, err)
	assert.Equal(t, providers.OutcomeSuccessful, res.Status)
	assert.Equal(t, int64(50000), res.Amount)
	assert.Equal(t, "ISW-1", res.Metadata["transactionRef"])
	assert.Equal(t, "Bearer bearer-1", auth)
	assert.Equal(t, "BP202401011200ABC", body["requestReference"])
	assert.Equal(t, "50000", body["amount"])
	assert.Equal(t, "10902", body["paymentCode"])
}

func TestInterswitchPay_RetriesOnceAfterUnauthorized(t *testing.T) {
	stub := &interswitchStub{mux: http.NewServeMux()}
	var auth string
	stub.mux.HandleFunc("/quicktellerservice/api/v5/Transactions", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"ResponseCodeGrouping": "PENDING"}`))
	})
	p := newInterswitch(t, stub)

	// Prime the cache, then have the next call rejected.
	_, err := p.Confirm(context.Background(), "ref")
	assert.NoError(t, err)
	atomic.StoreInt32(&stub.rejectFirst, 1)

	res, err := p.Pay(context.Background(), providers.PayRequest{
		Reference: "ref", Category: models.CategoryData, Amount: 100, PaymentCode: "1",
	})
	assert.NoError(t, err)
	assert.Equal(t, providers.OutcomePending, res.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.authCalls))
	assert.Equal(t, "Bearer bearer-2", auth)
}

func TestInterswitchConfirm_Grouping(t *testing.T) {
	cases := map[string]providers.Outcome{
		"SUCCESSFUL": providers.OutcomeSuccessful,
		"FAILED":     providers.OutcomeFailed,
		"PENDING":    providers.OutcomePending,
		"":           providers.OutcomePending,
	}
	for grouping, want := range cases {
		t.Run("grouping="+grouping, func(t *testing.T) {
			stub := &interswitchStub{mux: http.NewServeMux()}
			stub.mux.HandleFunc("/quicktellerservice/api/v5/Transactions", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "BPref-9", r.URL.Query().Get("requestRef"))
				_, _ = w.Write([]byte(`{"ResponseCodeGrouping": "` + grouping + `"}`))
			})
			p := newInterswitch(t, stub)

			res, err := p.Confirm(context.Background(), "ref-9")
			assert.NoError(t, err)
			assert.Equal(t, want, res.Status)
		})
	}
}

func TestInterswitchListOffers(t *testing.T) {
	stub := &interswitchStub{mux: http.NewServeMux()}
	stub.mux.HandleFunc("/quicktellerservice/api/v5/services", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"BillerList": {"Category": [
			{"Id": 4, "Name": "Mobile Recharge", "Billers": [
				{"Id": 109, "Name": "MTN Nigeria"},
				{"Id": 999, "Name": "Unknown Telco"}
			]},
			{"Id": 1, "Name": "Utility Bills", "Billers": [
				{"Id": 204, "Name": "Ikeja Electric"}
			]},
			{"Id": 2, "Name": "Unlisted Category", "Billers": [
				{"Id": 300, "Name": "MTN Nigeria"}
			]},
			{"Id": 9, "Name": "Betting, Lottery and Gaming", "Billers": [
				{"Id": 500, "Name": "Bet9ja"}
			]}
		]}}`))
	})
	stub.mux.HandleFunc("/quicktellerservice/api/v5/services/options", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("serviceid") {
		case "109":
			_, _ = w.Write([]byte(`{"PaymentItems": [
				{"Id": "1", "Name": "MTN Airtime", "BillerName": "MTN Nigeria", "BillerId": 109, "PaymentCode": "10901", "Amount": "0", "AmountType": 0},
				{"Id": "2", "Name": "MTN Bundle", "BillerName": "MTN Nigeria", "BillerId": 109, "PaymentCode": "10902", "Amount": "150000", "AmountType": 2}
			]}`))
		case "204":
			_, _ = w.Write([]byte(`{"PaymentItems": [
				{"Id": "3", "Name": "Prepaid", "BillerName": "Ikeja Electric", "BillerId": 204, "PaymentCode": "20401", "Amount": 0, "AmountType": 0},
				{"Id": "4", "Name": "Postpaid", "BillerName": "Ikeja Electric", "BillerId": 204, "PaymentCode": "20402", "Amount": 0, "AmountType": 0}
			]}`))
		case "500":
			w.WriteHeader(http.StatusBadGateway)
		default:
			t.Errorf("unexpected serviceid %q", r.URL.Query().Get("serviceid"))
		}
	})
	p := newInterswitch(t, stub)

	offers, err := p.ListOffers(context.Background())
	assert.NoError(t, err)

	codes := make([]string, 0, len(offers))
	plans := map[string]string{}
	for _, o := range offers {
		codes = append(codes, o.PaymentCode)
		plans[o.PaymentCode] = o.Plan
	}
	// The bundle is dropped, the failing gaming biller is skipped.
	assert.Equal(t, []string{"10901", "20401", "20402"}, codes)
	assert.Equal(t, "prepaid", plans["20401"])
	assert.Equal(t, "postpaid", plans["20402"])
}

func TestInterswitchListOffers_OrderIgnoresLatency(t *testing.T) {
	// Both billers normalise to the same internal code; the slow one is listed first.
	for _, slow := range []string{"109", "110"} {
		t.Run("slow="+slow, func(t *testing.T) {
			stub := &interswitchStub{mux: http.NewServeMux()}
			stub.mux.HandleFunc("/quicktellerservice/api/v5/services", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"BillerList": {"Category": [
					{"Id": 4, "Name": "Mobile Recharge", "Billers": [
						{"Id": 109, "Name": "MTN Nigeria"},
						{"Id": 110, "Name": "MTN VTU"}
					]}
				]}}`))
			})
			stub.mux.HandleFunc("/quicktellerservice/api/v5/services/options", func(w http.ResponseWriter, r *http.Request) {
				id := r.URL.Query().Get("serviceid")
				if id == slow {
					time.Sleep(50 * time.Millisecond)
				}
				_, _ = w.Write([]byte(`{"PaymentItems": [
					{"Id": "` + id + `", "Name": "MTN Airtime", "BillerName": "MTN", "BillerId": ` + id + `, "PaymentCode": "` + id + `01", "Amount": "0", "AmountType": 0}
				]}`))
			})
			p := newInterswitch(t, stub)

			offers, err := p.ListOffers(context.Background())
			assert.NoError(t, err)

			codes := make([]string, 0, len(offers))
			for _, o := range offers {
				codes = append(codes, o.PaymentCode)
			}
			assert.Equal(t, []string{"10901", "11001"}, codes)
		})
	}
}

func TestInterswitchValidateCustomer(t *testing.T) {
	stub := &interswitchStub{mux: http.NewServeMux()}
	stub.mux.HandleFunc("/quicktellerservice/api/v5/Transactions/validatecustomers", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "TERM01", body["TerminalId"])
		_, _ = w.Write([]byte(`{"Customers": [{"CustomerId": "1234", "FullName": "ADA OBI", "Amount": "0", "ResponseCode": "90000"}]}`))
	})
	p := newInterswitch(t, stub)

	c, err := p.ValidateCustomer(context.Background(), providers.CustomerLookup{CustomerID: "1234", PaymentCode: "20401"})
	assert.NoError(t, err)
	assert.Equal(t, "ADA OBI", c.Name)
	assert.Equal(t, "1234", c.CustomerID)
}

func TestInterswitch_SupportsGaming(t *testing.T) {
	p := providers.NewInterswitchProvider(providers.InterswitchConfig{}, zap.NewNop())
	assert.True(t, p.Supports(models.CategoryGaming))
	assert.Equal(t, 5, p.ConfirmationRounds())
}
