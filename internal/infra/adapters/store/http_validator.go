package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/adapter"
)

var _ adapter.StoreValidator = (*HTTPValidator)(nil)

// HTTPValidator talks to the receipt validation service that fronts the
// App Store Server API and the Google Play Developer API.
//
// Transport failures and 5xx answers are returned as errors so callers can
// retry. A 4xx answer is a definitive rejection of the receipt.
type HTTPValidator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPValidator(baseURL, apiKey string, timeout time.Duration) (*HTTPValidator, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid store base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPValidator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type validateRequest struct {
	Platform        string `json:"platform"`
	TransactionData string `json:"transaction_data"`
	IsSubscription  bool   `json:"is_subscription"`
	ProductID       string `json:"product_id"`
}

type validateResponse struct {
	Valid                 bool   `json:"valid"`
	ProductID             string `json:"product_id"`
	OrderID               string `json:"order_id"`
	Environment           string `json:"environment"`
	IsSubscription        bool   `json:"is_subscription"`
	ActiveSubscriptionSKU string `json:"active_subscription_product_id"`
	Error                 string `json:"error"`
}

type statusRequest struct {
	Platform string `json:"platform"`
	OrderID  string `json:"order_id"`
}

type statusResponse struct {
	Active bool `json:"active"`
}

func (v *HTTPValidator) ValidateStoreTransaction(ctx context.Context, req adapter.ValidateRequest) (*adapter.ValidationResult, error) {
	sku := req.AppStoreProductRef
	if req.Platform == model.PlatformAndroid {
		sku = req.PlayMarketProductRef
	}
	body := validateRequest{
		Platform:        string(req.Platform),
		TransactionData: req.TransactionData,
		IsSubscription:  req.IsSubscription,
		ProductID:       sku,
	}

	var out validateResponse
	status, err := v.post(ctx, "/v1/transactions/validate", body, &out)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("store rejected receipt with status %d", status)
		}
		return &adapter.ValidationResult{IsValid: false, Error: msg}, nil
	}
	return &adapter.ValidationResult{
		IsValid:                      out.Valid,
		AppProductSku:                out.ProductID,
		StoreOrderIdentifier:         out.OrderID,
		Environment:                  out.Environment,
		IsSubscription:               out.IsSubscription,
		ActiveSubscriptionProductSku: out.ActiveSubscriptionSKU,
		Error:                        out.Error,
	}, nil
}

func (v *HTTPValidator) ValidateSubscription(ctx context.Context, platform model.Platform, storeOrderIdentifier string) (*adapter.SubscriptionStatus, error) {
	var out statusResponse
	status, err := v.post(ctx, "/v1/subscriptions/status", statusRequest{Platform: string(platform), OrderID: storeOrderIdentifier}, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &adapter.SubscriptionStatus{IsActive: false}, nil
	}
	if status >= 400 {
		return nil, fmt.Errorf("subscription status: unexpected status %d", status)
	}
	return &adapter.SubscriptionStatus{IsActive: out.Active}, nil
}

// post sends body as JSON and decodes the answer into out. 5xx answers are errors;
// the status code is returned for everything else.
func (v *HTTPValidator) post(ctx context.Context, path string, body, out any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("store request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("store request %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= 400 {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("decode store response: %w", err)
	}
	return resp.StatusCode, nil
}
