package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Currency is the only currency the bot moves.
const Currency = "USDC"

// Transfer is the API's view of a submitted or historic transfer.
type Transfer struct {
	ID        string
	Status    string
	Type      string
	Amount    string
	Currency  string
	Fee       string
	CreatedAt time.Time
	// Counterparty is the payee email, wallet address or bank name, whichever the API reports.
	Counterparty string
}

func parseTransfer(v gjson.Result) Transfer {
	t := Transfer{
		ID:       v.Get("id").String(),
		Status:   v.Get("status").String(),
		Type:     v.Get("type").String(),
		Amount:   v.Get("amount").String(),
		Currency: v.Get("currency").String(),
		Fee:      v.Get("totalFee").String(),
		Counterparty: firstString(v,
			"destinationAccount.payeeEmail",
			"destinationAccount.payeeDisplayName",
			"destinationAccount.walletAddress",
			"destinationAccount.bankName",
		),
	}
	if ts, err := time.Parse(time.RFC3339, v.Get("createdAt").String()); err == nil {
		t.CreatedAt = ts
	}
	return t
}

func transferBody(amount float64) []byte {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "amount", amount)
	body, _ = sjson.SetBytes(body, "currency", Currency)
	return body
}

// SendEmail transfers amount to the account registered under email.
func (c *Client) SendEmail(ctx context.Context, token string, amount float64, email string) (Transfer, error) {
	body, _ := sjson.SetBytes(transferBody(amount), "email", email)
	raw, err := c.Do(ctx, http.MethodPost, "/api/transfers/send", body, token)
	if err != nil {
		return Transfer{}, err
	}
	return parseTransfer(gjson.ParseBytes(raw)), nil
}

// SendWallet transfers amount to an external wallet address.
func (c *Client) SendWallet(ctx context.Context, token string, amount float64, address string) (Transfer, error) {
	body, _ := sjson.SetBytes(transferBody(amount), "walletAddress", address)
	raw, err := c.Do(ctx, http.MethodPost, "/api/transfers/wallet-withdraw", body, token)
	if err != nil {
		return Transfer{}, err
	}
	return parseTransfer(gjson.ParseBytes(raw)), nil
}

// QuoteRequest asks for a bank withdrawal quote.
type QuoteRequest struct {
	Amount float64
	BankID string
}

// Quote is a signed withdrawal quote. Payload and Signature must be echoed back on submit.
type Quote struct {
	Payload   string
	Signature string
	Fee       string
	Receive   string
}

// OfframpQuote requests a quote for withdrawing to a bank account.
func (c *Client) OfframpQuote(ctx context.Context, token string, req QuoteRequest) (Quote, error) {
	body := transferBody(req.Amount)
	body, _ = sjson.SetBytes(body, "sourceCountry", "none")
	body, _ = sjson.SetBytes(body, "preferredBankAccountId", req.BankID)
	raw, err := c.Do(ctx, http.MethodPost, "/api/quotes/offramp", body, token)
	if err != nil {
		return Quote{}, err
	}
	res := gjson.ParseBytes(raw)
	q := Quote{
		Payload:   res.Get("quotePayload").String(),
		Signature: res.Get("quoteSignature").String(),
	}
	// The payload is itself a JSON document with the fee breakdown.
	if inner := gjson.Parse(q.Payload); inner.IsObject() {
		q.Fee = inner.Get("totalFee").String()
		q.Receive = inner.Get("toAmount").String()
	}
	if q.Fee == "" {
		q.Fee = firstString(res, "totalFee", "fee")
	}
	if q.Payload == "" || q.Signature == "" {
		return Quote{}, &Error{Status: http.StatusOK, Message: "The withdrawal quote is unavailable."}
	}
	return q, nil
}

// Withdrawal is a confirmed bank withdrawal.
type Withdrawal struct {
	Quote                 Quote
	PurposeCode           string
	SourceOfFunds         string
	RecipientRelationship string
	Note                  string
}

// Offramp submits a withdrawal against a quote.
func (c *Client) Offramp(ctx context.Context, token string, w Withdrawal) (Transfer, error) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "quotePayload", w.Quote.Payload)
	body, _ = sjson.SetBytes(body, "quoteSignature", w.Quote.Signature)
	body, _ = sjson.SetBytes(body, "purposeCode", w.PurposeCode)
	body, _ = sjson.SetBytes(body, "sourceOfFunds", w.SourceOfFunds)
	body, _ = sjson.SetBytes(body, "recipientRelationship", w.RecipientRelationship)
	if w.Note != "" {
		body, _ = sjson.SetBytes(body, "note", w.Note)
	}
	raw, err := c.Do(ctx, http.MethodPost, "/api/transfers/offramp", body, token)
	if err != nil {
		return Transfer{}, err
	}
	return parseTransfer(gjson.ParseBytes(raw)), nil
}

// HistoryPage is one page of transfers.
type HistoryPage struct {
	Page    int
	Limit   int
	Count   int
	HasMore bool
	Items   []Transfer
}

// History lists transfers, newest first.
func (c *Client) History(ctx context.Context, token string, page, limit int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	path := "/api/transfers?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	raw, err := c.Do(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return HistoryPage{}, err
	}
	res := gjson.ParseBytes(raw)
	hp := HistoryPage{
		Page:    int(res.Get("page").Int()),
		Limit:   int(res.Get("limit").Int()),
		Count:   int(res.Get("count").Int()),
		HasMore: res.Get("hasMore").Bool(),
	}
	if hp.Page == 0 {
		hp.Page = page
	}
	if hp.Limit == 0 {
		hp.Limit = limit
	}
	for _, v := range res.Get("data").Array() {
		hp.Items = append(hp.Items, parseTransfer(v))
	}
	return hp, nil
}
