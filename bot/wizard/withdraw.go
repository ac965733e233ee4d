package wizard

import (
	"context"
	"fmt"
	"strings"

	"github.com/m3rciful/copperxbot/bot/gateway"
)

// pendingWithdraw is the confirmed draft plus the quote it was priced with.
type pendingWithdraw struct {
	Draft     WithdrawDraft `json:"draft"`
	Payload   string        `json:"quotePayload"`
	Signature string        `json:"quoteSignature"`
	Fee       string        `json:"fee,omitempty"`
}

func (p pendingWithdraw) quote() gateway.Quote {
	return gateway.Quote{Payload: p.Payload, Signature: p.Signature, Fee: p.Fee}
}

func (m *Machine) beginWithdraw(ctx context.Context, userID int64) (Result, error) {
	_, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	return m.enter(WithdrawAmount{}, promptAmount("withdraw")), nil
}

func (m *Machine) withdrawBank(st WithdrawBank, input string) Result {
	if input == "" || strings.ContainsAny(input, " \t\n") {
		return Result{Reply: textReply("Please enter a valid bank account ID:", cancelRow())}
	}
	d := st.Draft
	d.BankID = input
	return m.enter(WithdrawPurpose{Draft: d}, choiceReply("Choose the purpose of the withdrawal:", purposeCodes))
}

func choiceReply(text string, list []choice) Reply {
	buttons := make([]Button, 0, len(list))
	for _, c := range list {
		buttons = append(buttons, btnData(c.Label, ActWithdrawChoice, c.Code))
	}
	kb := make([][]Button, 0, len(buttons)/2+2)
	for i := 0; i < len(buttons); i += 2 {
		kb = append(kb, buttons[i:min(i+2, len(buttons))])
	}
	kb = append(kb, cancelRow())
	return Reply{Text: text, Keyboard: kb}
}

// withdrawChoice applies a purpose, source or relationship code, tapped or typed.
func (m *Machine) withdrawChoice(state State, input string) (Result, error) {
	switch st := state.(type) {
	case WithdrawPurpose:
		c, ok := matchChoice(purposeCodes, input)
		if !ok {
			return Result{Reply: choiceReply("Please pick one of the listed purposes:", purposeCodes)}, nil
		}
		d := st.Draft
		d.PurposeCode = c.Code
		return m.enter(WithdrawSource{Draft: d}, choiceReply("Choose the source of funds:", sourceCodes)), nil

	case WithdrawSource:
		c, ok := matchChoice(sourceCodes, input)
		if !ok {
			return Result{Reply: choiceReply("Please pick one of the listed sources:", sourceCodes)}, nil
		}
		d := st.Draft
		d.SourceOfFunds = c.Code
		return m.enter(WithdrawRelationship{Draft: d}, choiceReply("Who is the recipient to you?", relationshipCodes)), nil

	case WithdrawRelationship:
		c, ok := matchChoice(relationshipCodes, input)
		if !ok {
			return Result{Reply: choiceReply("Please pick one of the listed relationships:", relationshipCodes)}, nil
		}
		d := st.Draft
		d.RecipientRelationship = c.Code
		return m.enter(WithdrawNote{Draft: d}, textReply("Add a note for this withdrawal, or skip:",
			row(btn("Skip", ActSkipNote)), cancelRow())), nil
	}
	return staleButton(), nil
}

func (m *Machine) withdrawNote(ctx context.Context, userID int64, st WithdrawNote, note string) (Result, error) {
	if len(note) > maxNoteLen {
		return Result{Reply: textReply(fmt.Sprintf("The note is too long (max %d characters). Please shorten it:", maxNoteLen),
			row(btn("Skip", ActSkipNote)), cancelRow())}, nil
	}
	d := st.Draft
	d.Note = note
	return m.quoteWithdraw(ctx, userID, d)
}

// quoteWithdraw prices the withdrawal and parks it for confirmation.
func (m *Machine) quoteWithdraw(ctx context.Context, userID int64, d WithdrawDraft) (Result, error) {
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}
	q, err := m.gw.OfframpQuote(ctx, creds.Token, gateway.QuoteRequest{Amount: d.Amount, BankID: d.BankID})
	if err != nil {
		return gatewayFailed(ctx, "offramp_quote", err, cancelRow()), nil
	}

	id, err := m.pending.Put(ctx, userID, kindWithdraw, pendingWithdraw{
		Draft:     d,
		Payload:   q.Payload,
		Signature: q.Signature,
		Fee:       q.Fee,
	})
	if err != nil {
		return Result{}, fmt.Errorf("wizard: park withdrawal: %w", err)
	}

	fee := q.Fee
	if fee == "" {
		fee = "0"
	}
	text := fmt.Sprintf("Confirm withdrawal of %s to bank %s?\nFee: %s USDC", usdc(d.Amount), md(d.BankID), md(fee))
	if q.Receive != "" {
		text += "\nYou receive: " + md(q.Receive)
	}
	return Result{Reply: confirmReply(text, id), Patch: clearOnly()}, nil
}
