package wizard

import (
	"context"
	"fmt"
)

// pendingTransfer is stored server-side until the user answers the confirmation.
type pendingTransfer struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
}

func transferTypeReply() Reply {
	return textReply("Choose transfer type:",
		row(btn("To Email", ActTransferEmail), btn("To Wallet", ActTransferWallet)),
		cancelRow(),
	)
}

func (m *Machine) beginTransfer(ctx context.Context, userID int64) (Result, error) {
	_, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	return m.enter(TransferType{}, transferTypeReply()), nil
}

// amountStep parses an amount and moves to the step built by next.
func (m *Machine) amountStep(input string, next func(float64) State, prompt string) (Result, error) {
	amount, ok := parseAmount(input)
	if !ok {
		return invalidAmount(), nil
	}
	return m.enter(next(amount), textReply(prompt, cancelRow())), nil
}

func (m *Machine) transferEmailRecipient(ctx context.Context, userID int64, st TransferEmailRecipient, input string) (Result, error) {
	if !validEmail(input) {
		return Result{Reply: textReply("Invalid email. Please enter the recipient email:", cancelRow())}, nil
	}
	return m.quoteTransfer(ctx, userID, kindTransferEmail, st.Amount, input)
}

func (m *Machine) transferWalletAddress(ctx context.Context, userID int64, st TransferWalletAddress, input string) (Result, error) {
	if !validAddress(input) {
		return Result{Reply: textReply("Invalid wallet address. Please enter the wallet address:", cancelRow())}, nil
	}
	return m.quoteTransfer(ctx, userID, kindTransferWallet, st.Amount, input)
}

// quoteTransfer checks the default wallet covers amount, then parks the transfer for confirmation.
func (m *Machine) quoteTransfer(ctx context.Context, userID int64, kind string, amount float64, recipient string) (Result, error) {
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	bal, err := m.gw.Balance(ctx, creds.Token)
	if err != nil {
		return gatewayFailed(ctx, "balance", err, cancelRow()), nil
	}
	if amount > bal.Amount {
		return Result{
			Reply: textReply(fmt.Sprintf("Insufficient balance: you have %s, requested %s.", usdc(bal.Amount), usdc(amount)),
				backToMenu()),
			Patch: clearOnly(),
		}, nil
	}

	id, err := m.pending.Put(ctx, userID, kind, pendingTransfer{Amount: amount, Recipient: recipient})
	if err != nil {
		return Result{}, fmt.Errorf("wizard: park transfer: %w", err)
	}
	text := fmt.Sprintf("Confirm transfer of %s to %s?", usdc(amount), md(recipient))
	return Result{Reply: confirmReply(text, id), Patch: clearOnly()}, nil
}

func confirmReply(text, id string) Reply {
	return textReply(text, confirmRow(id)...)
}

func confirmRow(id string) [][]Button {
	return [][]Button{row(btnData("Yes", ActConfirm, id), btnData("No", ActDecline, id))}
}
