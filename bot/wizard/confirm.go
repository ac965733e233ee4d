package wizard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/m3rciful/copperxbot/bot/gateway"
	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/session"
)

func expiredConfirmation() Result {
	return Result{
		Reply: textReply("This confirmation has expired or was already used.", backToMenu()),
		Patch: clearOnly(),
	}
}

// confirm submits a parked action. The credential is checked before the record is claimed,
// so a user who has to log in again can still answer afterwards. A failed submit releases the
// claim and offers the same buttons again.
func (m *Machine) confirm(ctx context.Context, userID int64, id string) (Result, error) {
	creds, res, ok, err := m.authorize(ctx, userID)
	if !ok || err != nil {
		return res, err
	}

	var raw json.RawMessage
	kind, err := m.pending.Claim(ctx, userID, id, &raw)
	if session.IsNotFound(err) {
		return expiredConfirmation(), nil
	}
	if isInfra(err) {
		return Result{}, fmt.Errorf("wizard: claim confirmation: %w", err)
	}

	var (
		op     string
		reply  string
		submit error
	)
	switch kind {
	case kindTransferEmail, kindTransferWallet:
		var p pendingTransfer
		if err := json.Unmarshal(raw, &p); err != nil {
			return m.dropConfirmation(ctx, userID, id)
		}
		op = kind
		reply, submit = m.submitTransfer(ctx, creds, kind, p)
	case kindWithdraw:
		var p pendingWithdraw
		if err := json.Unmarshal(raw, &p); err != nil {
			return m.dropConfirmation(ctx, userID, id)
		}
		op = "offramp"
		reply, submit = m.submitWithdraw(ctx, creds, p)
	default:
		logger.LogEvent(ctx, logger.Wizard, slog.LevelWarn, "wizard.unknown_confirmation",
			slog.Int64("user_id", userID),
			slog.String("kind", kind),
		)
		return m.dropConfirmation(ctx, userID, id)
	}

	if submit != nil {
		if err := m.pending.Release(ctx, userID, id); err != nil {
			return Result{}, fmt.Errorf("wizard: release confirmation: %w", err)
		}
		return gatewayFailed(ctx, op, submit, confirmRow(id)...), nil
	}
	if err := m.pending.Discard(ctx, userID, id); err != nil {
		logger.LogEvent(ctx, logger.Wizard, slog.LevelWarn, "wizard.discard_failed",
			slog.String("kind", kind),
			slog.String("err", err.Error()),
		)
	}
	return Result{Reply: textReply(reply, backToMenu()), Patch: clearOnly()}, nil
}

func (m *Machine) dropConfirmation(ctx context.Context, userID int64, id string) (Result, error) {
	if err := m.pending.Discard(ctx, userID, id); err != nil {
		return Result{}, fmt.Errorf("wizard: discard confirmation: %w", err)
	}
	return expiredConfirmation(), nil
}

func (m *Machine) submitTransfer(ctx context.Context, creds session.Credentials, kind string, p pendingTransfer) (string, error) {
	var err error
	if kind == kindTransferEmail {
		_, err = m.gw.SendEmail(ctx, creds.Token, p.Amount, p.Recipient)
	} else {
		_, err = m.gw.SendWallet(ctx, creds.Token, p.Amount, p.Recipient)
	}
	if err != nil {
		return "", err
	}
	logger.LogEvent(ctx, logger.Wizard, slog.LevelInfo, "wizard.transfer",
		slog.String("status", "ok"),
		slog.String("kind", kind),
	)
	return fmt.Sprintf("Transferred %s to %s!", usdc(p.Amount), md(p.Recipient)), nil
}

func (m *Machine) submitWithdraw(ctx context.Context, creds session.Credentials, p pendingWithdraw) (string, error) {
	q := p.quote()
	if m.opts.RequoteOnConfirm {
		fresh, err := m.gw.OfframpQuote(ctx, creds.Token, gateway.QuoteRequest{Amount: p.Draft.Amount, BankID: p.Draft.BankID})
		if err != nil {
			return "", err
		}
		q = fresh
	}
	_, err := m.gw.Offramp(ctx, creds.Token, gateway.Withdrawal{
		Quote:                 q,
		PurposeCode:           p.Draft.PurposeCode,
		SourceOfFunds:         p.Draft.SourceOfFunds,
		RecipientRelationship: p.Draft.RecipientRelationship,
		Note:                  p.Draft.Note,
	})
	if err != nil {
		return "", err
	}
	logger.LogEvent(ctx, logger.Wizard, slog.LevelInfo, "wizard.withdraw",
		slog.String("status", "ok"),
		slog.Bool("requoted", m.opts.RequoteOnConfirm),
	)
	text := fmt.Sprintf("Withdrawal of %s to bank %s initiated!", usdc(p.Draft.Amount), md(p.Draft.BankID))
	if m.opts.RequoteOnConfirm && q.Fee != "" && q.Fee != p.Fee {
		text += "\nFee was updated to " + md(q.Fee) + " USDC."
	}
	return text, nil
}

// decline drops the parked action. Unknown ids are fine: the answer is the same.
func (m *Machine) decline(ctx context.Context, userID int64, id string) (Result, error) {
	if err := m.pending.Discard(ctx, userID, id); err != nil {
		return Result{}, fmt.Errorf("wizard: discard confirmation: %w", err)
	}
	return cancelled(), nil
}
