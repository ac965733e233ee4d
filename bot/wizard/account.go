package wizard

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/copperxbot/bot/gateway"
)

func (m *Machine) balance(ctx context.Context, userID int64) (Result, error) {
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	wallets, err := m.gw.Balances(ctx, creds.Token)
	if err != nil {
		return withClear(gatewayFailed(ctx, "balances", err, backToMenu())), nil
	}
	if len(wallets) == 0 {
		return Result{Reply: textReply("No wallets found.", backToMenu()), Patch: clearOnly()}, nil
	}

	var b strings.Builder
	b.WriteString("*Your balances*\n")
	for _, w := range wallets {
		b.WriteString("\n")
		b.WriteString(walletTitle(w.WalletID, w.Network, w.IsDefault))
		if len(w.Balances) == 0 {
			b.WriteString("\n  • 0 USDC")
			continue
		}
		for _, tb := range w.Balances {
			fmt.Fprintf(&b, "\n  • %s %s", md(tb.Balance), md(tb.Symbol))
		}
	}
	return Result{Reply: textReply(b.String(), backToMenu()), Patch: clearOnly()}, nil
}

func walletTitle(id, network string, isDefault bool) string {
	title := "Wallet `" + shortID(id) + "`"
	if network != "" {
		title += " on " + md(network)
	}
	if isDefault {
		title += " (default)"
	}
	return title
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:6] + "…" + id[len(id)-4:]
}

func (m *Machine) deposit(ctx context.Context, userID int64) (Result, error) {
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	addr, err := m.gw.DepositAddress(ctx, creds.Token, gateway.Currency)
	if err != nil {
		return withClear(gatewayFailed(ctx, "deposit_address", err, backToMenu())), nil
	}
	text := "Deposit Address: `" + addr.Address + "`"
	if addr.Network != "" {
		text += "\nNetwork: " + md(addr.Network)
	}
	text += "\nSend USDC here."
	return Result{Reply: textReply(text, backToMenu()), Patch: clearOnly()}, nil
}

func (m *Machine) profile(ctx context.Context, userID int64) (Result, error) {
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	p, err := m.gw.Profile(ctx, creds.Token)
	if err != nil {
		return withClear(gatewayFailed(ctx, "profile", err, backToMenu())), nil
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	lines := []string{"*Profile*", "Email: " + md(p.Email)}
	if name != "" {
		lines = append(lines, "Name: "+md(name))
	}
	if p.Role != "" {
		lines = append(lines, "Role: "+md(p.Role))
	}
	if p.Status != "" {
		lines = append(lines, "Status: "+md(p.Status))
	}
	if p.WalletAddress != "" {
		lines = append(lines, "Wallet: `"+p.WalletAddress+"`")
	}
	return Result{Reply: textReply(strings.Join(lines, "\n"), backToMenu()), Patch: clearOnly()}, nil
}

func (m *Machine) kyc(ctx context.Context, userID int64) (Result, error) {
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	k, err := m.gw.KYC(ctx, creds.Token)
	if err != nil {
		return withClear(gatewayFailed(ctx, "kyc", err, backToMenu())), nil
	}
	text := "No KYC record found. Complete KYC on the Copperx web app to enable withdrawals."
	if k.Found {
		text = "KYC status: *" + md(k.Status) + "*"
		if k.Type != "" {
			text += " (" + md(k.Type) + ")"
		}
	}
	return Result{Reply: textReply(text, backToMenu()), Patch: clearOnly()}, nil
}

func (m *Machine) history(ctx context.Context, userID int64, pageArg string) (Result, error) {
	page := 1
	if pageArg != "" {
		n, err := strconv.Atoi(pageArg)
		if err != nil || n < 1 {
			return staleButton(), nil
		}
		page = n
	}
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	hp, err := m.gw.History(ctx, creds.Token, page, m.opts.HistoryPageSize)
	if err != nil {
		return withClear(gatewayFailed(ctx, "history", err, backToMenu())), nil
	}
	if len(hp.Items) == 0 {
		text := "No transactions yet."
		if page > 1 {
			text = "No more transactions."
		}
		return Result{Reply: textReply(text, backToMenu()), Patch: clearOnly()}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Transactions* (page %d)\n", hp.Page)
	for _, t := range hp.Items {
		b.WriteString("\n• ")
		if !t.CreatedAt.IsZero() {
			b.WriteString(t.CreatedAt.UTC().Format("2006-01-02") + " ")
		}
		currency := t.Currency
		if currency == "" {
			currency = gateway.Currency
		}
		fmt.Fprintf(&b, "%s %s %s", md(t.Type), md(t.Amount), md(currency))
		if t.Counterparty != "" {
			b.WriteString(" → " + md(t.Counterparty))
		}
		if t.Status != "" {
			b.WriteString(" (" + md(t.Status) + ")")
		}
	}

	var nav []Button
	if hp.Page > 1 {
		nav = append(nav, btnData("« Prev", ActHistory, pageLabel(hp.Page-1)))
	}
	if hp.HasMore {
		nav = append(nav, btnData("Next »", ActHistory, pageLabel(hp.Page+1)))
	}
	return Result{Reply: textReply(b.String(), nav, backToMenu()), Patch: clearOnly()}, nil
}

func (m *Machine) beginWallets(ctx context.Context, userID int64) (Result, error) {
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	wallets, err := m.gw.Wallets(ctx, creds.Token)
	if err != nil {
		return withClear(gatewayFailed(ctx, "wallets", err, backToMenu())), nil
	}
	if len(wallets) == 0 {
		return Result{Reply: textReply("No wallets found.", backToMenu()), Patch: clearOnly()}, nil
	}
	st := SetDefaultWallet{Wallets: make([]WalletOption, 0, len(wallets))}
	for _, w := range wallets {
		label := shortID(w.Address)
		if label == "" {
			label = shortID(w.ID)
		}
		if w.Network != "" {
			label += " (" + w.Network + ")"
		}
		st.Wallets = append(st.Wallets, WalletOption{ID: w.ID, Label: label})
		if w.IsDefault {
			st.SelectedWalletID = w.ID
		}
	}
	return m.enter(st, walletsReply(st)), nil
}

func walletsReply(st SetDefaultWallet) Reply {
	kb := make([][]Button, 0, len(st.Wallets)+1)
	for _, w := range st.Wallets {
		label := w.Label
		if w.ID == st.SelectedWalletID {
			label = "✅ " + label
		}
		kb = append(kb, row(btnData(label, ActWalletSelect, w.ID)))
	}
	kb = append(kb, row(btn("Confirm", ActWalletConfirm), btn("Cancel", ActCancel)))
	return Reply{Text: "Select your default wallet:", Keyboard: kb}
}

func (m *Machine) selectWallet(st SetDefaultWallet, id string) Result {
	if !st.has(id) {
		return staleButton()
	}
	st.SelectedWalletID = id
	return m.enter(st, walletsReply(st))
}

func (m *Machine) confirmWallet(ctx context.Context, userID int64, st SetDefaultWallet) (Result, error) {
	if st.SelectedWalletID == "" {
		return Result{Reply: walletsReply(st)}, nil
	}
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	if _, err := m.gw.SetDefaultWallet(ctx, creds.Token, st.SelectedWalletID); err != nil {
		return gatewayFailed(ctx, "set_default_wallet", err, cancelRow()), nil
	}
	label := st.SelectedWalletID
	for _, w := range st.Wallets {
		if w.ID == st.SelectedWalletID {
			label = w.Label
		}
	}
	return Result{
		Reply: textReply("Default wallet set to "+md(label)+".", backToMenu()),
		Patch: clearOnly(),
	}, nil
}

// withClear ends any flow alongside a reply from an operation that starts none.
func withClear(r Result) Result {
	r.Patch = clearOnly()
	return r
}
