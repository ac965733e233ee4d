package gateway

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Wallet is one organization wallet.
type Wallet struct {
	ID        string
	Address   string
	Network   string
	Type      string
	IsDefault bool
}

// TokenBalance is one token held by a wallet.
type TokenBalance struct {
	Symbol  string
	Balance string
	Address string
}

// WalletBalances groups the balances of one wallet.
type WalletBalances struct {
	WalletID  string
	Network   string
	IsDefault bool
	Balances  []TokenBalance
}

// Balance is the balance of the default wallet.
type Balance struct {
	Amount   float64
	Symbol   string
	WalletID string
}

// DepositAddress is where funds can be sent.
type DepositAddress struct {
	Address string
	Network string
}

func parseWallet(v gjson.Result) Wallet {
	return Wallet{
		ID:        v.Get("id").String(),
		Address:   v.Get("walletAddress").String(),
		Network:   v.Get("network").String(),
		Type:      v.Get("walletType").String(),
		IsDefault: v.Get("isDefault").Bool(),
	}
}

// listOf returns the array at the top level or under "data".
func listOf(raw []byte) []gjson.Result {
	res := gjson.ParseBytes(raw)
	if res.IsArray() {
		return res.Array()
	}
	return res.Get("data").Array()
}

// Wallets lists the organization's wallets.
func (c *Client) Wallets(ctx context.Context, token string) ([]Wallet, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/api/wallets", nil, token)
	if err != nil {
		return nil, err
	}
	items := listOf(raw)
	out := make([]Wallet, 0, len(items))
	for _, v := range items {
		out = append(out, parseWallet(v))
	}
	return out, nil
}

// DefaultWallet returns the wallet used for transfers.
func (c *Client) DefaultWallet(ctx context.Context, token string) (Wallet, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/api/wallets/default", nil, token)
	if err != nil {
		return Wallet{}, err
	}
	w := parseWallet(gjson.ParseBytes(raw))
	w.IsDefault = true
	return w, nil
}

// SetDefaultWallet makes walletID the default wallet.
func (c *Client) SetDefaultWallet(ctx context.Context, token, walletID string) (Wallet, error) {
	body, _ := sjson.SetBytes([]byte(`{}`), "walletId", walletID)
	raw, err := c.Do(ctx, http.MethodPost, "/api/wallets/default", body, token)
	if err != nil {
		return Wallet{}, err
	}
	w := parseWallet(gjson.ParseBytes(raw))
	if w.ID == "" {
		w.ID = walletID
	}
	w.IsDefault = true
	return w, nil
}

// Balance returns the default wallet's balance.
func (c *Client) Balance(ctx context.Context, token string) (Balance, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/api/wallets/balance", nil, token)
	if err != nil {
		return Balance{}, err
	}
	res := gjson.ParseBytes(raw)
	symbol := res.Get("symbol").String()
	if symbol == "" {
		symbol = "USDC"
	}
	return Balance{
		Amount:   res.Get("balance").Float(),
		Symbol:   symbol,
		WalletID: res.Get("walletId").String(),
	}, nil
}

// Balances returns the token balances of every wallet.
func (c *Client) Balances(ctx context.Context, token string) ([]WalletBalances, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/api/wallets/balances", nil, token)
	if err != nil {
		return nil, err
	}
	items := listOf(raw)
	out := make([]WalletBalances, 0, len(items))
	for _, v := range items {
		wb := WalletBalances{
			WalletID:  v.Get("walletId").String(),
			Network:   v.Get("network").String(),
			IsDefault: v.Get("isDefault").Bool(),
		}
		for _, b := range v.Get("balances").Array() {
			wb.Balances = append(wb.Balances, TokenBalance{
				Symbol:  b.Get("symbol").String(),
				Balance: b.Get("balance").String(),
				Address: b.Get("address").String(),
			})
		}
		out = append(out, wb)
	}
	return out, nil
}

// DepositAddress returns the address for depositing currency.
func (c *Client) DepositAddress(ctx context.Context, token, currency string) (DepositAddress, error) {
	body, _ := sjson.SetBytes([]byte(`{}`), "currency", currency)
	raw, err := c.Do(ctx, http.MethodPost, "/api/wallets/deposit", body, token)
	if err != nil {
		return DepositAddress{}, err
	}
	res := gjson.ParseBytes(raw)
	addr := firstString(res, "address", "walletAddress")
	if addr == "" {
		return DepositAddress{}, &Error{Status: http.StatusOK, Message: "No deposit address is available."}
	}
	return DepositAddress{Address: addr, Network: res.Get("network").String()}, nil
}
