package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/money"
)

// InvoiceRequest describes what the customer has to pay.
type InvoiceRequest struct {
	OrderNumber string // e.g. "order-42", echoed back by the callback
	OrderName   string
	Amount      money.Amount // in USD
	Email       string
}

type Invoice struct {
	ID  string `json:"invoice_id"`
	URL string `json:"invoice_url"`
}

// InvoiceProvider creates hosted crypto invoices.
type InvoiceProvider interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}

type PlisioClient struct {
	apiKey      string
	baseURL     string
	callbackURL string
	http        *http.Client
	log         *logger.Logger
}

func NewPlisioClient(apiKey, baseURL, callbackURL string, log *logger.Logger) *PlisioClient {
	return &PlisioClient{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		callbackURL: callbackURL,
		http:        &http.Client{Timeout: 15 * time.Second},
		log:         log,
	}
}

type plisioResponse struct {
	Status string `json:"status"`
	Data   struct {
		TxnID      string `json:"txn_id"`
		InvoiceURL string `json:"invoice_url"`
		Message    string `json:"message"`
	} `json:"data"`
}

func gatewayError(err error, message string) error {
	return apperr.Wrap(err, apperr.KindExternalGateway, message)
}

// CreateInvoice calls GET /api/v1/invoices/new.
func (c *PlisioClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("source_currency", "USD")
	q.Set("source_amount", req.Amount.String())
	q.Set("order_number", req.OrderNumber)
	q.Set("order_name", req.OrderName)
	if req.Email != "" {
		q.Set("email", req.Email)
	}
	if c.callbackURL != "" {
		// json=true makes the callback a JSON body instead of a form post.
		q.Set("callback_url", withJSONFlag(c.callbackURL))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/invoices/new?"+q.Encode(), nil)
	if err != nil {
		return nil, gatewayError(err, "Could not create crypto invoice")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Errorw("plisio request failed", "order_number", req.OrderNumber, "error", err)
		return nil, gatewayError(err, "Crypto payment provider is unavailable, please retry")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, gatewayError(err, "Crypto payment provider is unavailable, please retry")
	}

	var out plisioResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.log.Errorw("plisio returned invalid json", "status", resp.StatusCode, "order_number", req.OrderNumber)
		return nil, gatewayError(err, "Crypto payment provider returned an invalid response")
	}
	if resp.StatusCode != http.StatusOK || out.Status != "success" || out.Data.TxnID == "" {
		c.log.Errorw("plisio rejected invoice", "status", resp.StatusCode, "order_number", req.OrderNumber, "message", out.Data.Message)
		return nil, gatewayError(fmt.Errorf("plisio: status %d: %s", resp.StatusCode, out.Data.Message),
			"Crypto payment provider rejected the invoice")
	}

	c.log.Infow("plisio invoice created", "order_number", req.OrderNumber, "txn_id", out.Data.TxnID)
	return &Invoice{ID: out.Data.TxnID, URL: out.Data.InvoiceURL}, nil
}

func withJSONFlag(callback string) string {
	u, err := url.Parse(callback)
	if err != nil {
		return callback
	}
	q := u.Query()
	q.Set("json", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// Event is what a provider callback means for the paid-for record.
type Event int

const (
	EventIgnored Event = iota
	EventConfirmed
	EventFailed
)

func (e Event) String() string {
	switch e {
	case EventConfirmed:
		return "confirmed"
	case EventFailed:
		return "failed"
	}
	return "ignored"
}

// EventForStatus maps a Plisio invoice status to an Event.
func EventForStatus(status string) Event {
	switch strings.ToLower(status) {
	case "completed", "mismatch":
		return EventConfirmed
	case "expired", "error", "cancelled", "cancelled duplicate":
		return EventFailed
	}
	return EventIgnored
}

// Callback is a verified Plisio callback.
type Callback struct {
	TxnID       string
	OrderNumber string
	Status      string
	Event       Event
}

// VerifyPlisioCallback checks verify_hash on a JSON callback body and
// decodes it. The hash is HMAC-SHA1, keyed with the API secret, over the
// compact JSON of the payload without verify_hash, keys in received order.
func VerifyPlisioCallback(body []byte, secret string) (*Callback, error) {
	signed, hash, fields, err := splitVerifyHash(body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "Malformed callback payload")
	}
	if hash == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "Missing callback signature")
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(signed)
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(hash)
	if err != nil || !hmac.Equal(expected, got) {
		return nil, apperr.New(apperr.KindUnauthorized, "Invalid callback signature")
	}

	cb := &Callback{
		TxnID:       fields["txn_id"],
		OrderNumber: fields["order_number"],
		Status:      fields["status"],
	}
	cb.Event = EventForStatus(cb.Status)
	return cb, nil
}

// SignPlisioPayload returns the verify_hash Plisio would attach to payload.
func SignPlisioPayload(payload []byte, secret string) (string, error) {
	signed, _, _, err := splitVerifyHash(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(signed)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// splitVerifyHash walks the top-level object, drops verify_hash and
// re-emits the rest compactly in the original key order. String and number
// fields are also returned by name.
func splitVerifyHash(body []byte) (signed []byte, hash string, fields map[string]string, err error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, "", nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, "", nil, fmt.Errorf("callback body is not a JSON object")
	}

	fields = make(map[string]string)
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, "", nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, "", nil, fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, "", nil, err
		}

		if s, ok := scalar(raw); ok {
			fields[key] = s
		}
		if key == "verify_hash" {
			hash = fields[key]
			continue
		}

		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeKey(&buf, key); err != nil {
			return nil, "", nil, err
		}
		if err := json.Compact(&buf, raw); err != nil {
			return nil, "", nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, "", nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), hash, fields, nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	var kb bytes.Buffer
	enc := json.NewEncoder(&kb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(kb.Bytes(), "\n"))
	buf.WriteByte(':')
	return nil
}

func scalar(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// Reference kinds carried in the invoice order_number.
const (
	RefOrder  = "order"
	RefTopup  = "topup"
	RefCrypto = "crypto"
)

// OrderNumber builds the order_number sent to the provider.
func OrderNumber(kind string, id int64) string {
	return kind + "-" + strconv.FormatInt(id, 10)
}

// ParseOrderNumber splits an order_number built by OrderNumber.
func ParseOrderNumber(s string) (kind string, id int64, err error) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 {
		return "", 0, apperr.Validationf("Unknown order number %q", s)
	}
	kind = s[:i]
	id, err = strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, apperr.Validationf("Unknown order number %q", s)
	}
	switch kind {
	case RefOrder, RefTopup, RefCrypto:
		return kind, id, nil
	}
	return "", 0, apperr.Validationf("Unknown order number %q", s)
}
