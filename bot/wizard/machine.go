// Package wizard holds the per-user conversation: the typed steps of every flow, the
// transition function and the runner that applies one turn against the session store.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/copperxbot/bot/gateway"
	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/session"
)

// DefaultLoginTTL applies when neither the API nor the token states an expiry.
const DefaultLoginTTL = time.Hour

// DefaultHistoryPageSize is the number of transfers per history page.
const DefaultHistoryPageSize = 5

// Gateway is the part of the financial API the flows use.
type Gateway interface {
	RequestOTP(ctx context.Context, email string) (string, error)
	VerifyOTP(ctx context.Context, email, otp, sid string) (gateway.Auth, error)
	Profile(ctx context.Context, token string) (gateway.Profile, error)
	KYC(ctx context.Context, token string) (gateway.KYC, error)
	Wallets(ctx context.Context, token string) ([]gateway.Wallet, error)
	SetDefaultWallet(ctx context.Context, token, walletID string) (gateway.Wallet, error)
	Balance(ctx context.Context, token string) (gateway.Balance, error)
	Balances(ctx context.Context, token string) ([]gateway.WalletBalances, error)
	DepositAddress(ctx context.Context, token, currency string) (gateway.DepositAddress, error)
	SendEmail(ctx context.Context, token string, amount float64, email string) (gateway.Transfer, error)
	SendWallet(ctx context.Context, token string, amount float64, address string) (gateway.Transfer, error)
	OfframpQuote(ctx context.Context, token string, req gateway.QuoteRequest) (gateway.Quote, error)
	Offramp(ctx context.Context, token string, w gateway.Withdrawal) (gateway.Transfer, error)
	History(ctx context.Context, token string, page, limit int) (gateway.HistoryPage, error)
}

// Credentials re-reads the stored credential; ok is false when it is missing or expired.
type Credentials interface {
	Credentials(ctx context.Context, userID int64) (session.Credentials, bool, error)
	Now() time.Time
}

// Confirmations stores actions waiting for a yes/no answer.
type Confirmations interface {
	Put(ctx context.Context, userID int64, kind string, payload any) (string, error)
	Claim(ctx context.Context, userID int64, id string, out any) (string, error)
	Release(ctx context.Context, userID int64, id string) error
	Discard(ctx context.Context, userID int64, id string) error
}

// Options tunes a Machine.
type Options struct {
	// RequoteOnConfirm fetches a fresh withdrawal quote when the user confirms instead of
	// submitting the one shown.
	RequoteOnConfirm bool
	LoginTTL         time.Duration
	HistoryPageSize  int
}

// Effect is a side effect run after the turn's session update is stored.
type Effect interface {
	effect() string
}

// Subscribe starts deposit notifications for the user.
type Subscribe struct {
	Credentials session.Credentials
}

// Unsubscribe stops deposit notifications for the user.
type Unsubscribe struct{}

func (Subscribe) effect() string   { return "subscribe" }
func (Unsubscribe) effect() string { return "unsubscribe" }

// Result is the outcome of one transition.
type Result struct {
	Reply   Reply
	Patch   session.Patch
	Effects []Effect
}

// Machine decides transitions. It keeps no per-user state.
type Machine struct {
	gw      Gateway
	creds   Credentials
	pending Confirmations
	opts    Options
}

// NewMachine builds a Machine.
func NewMachine(gw Gateway, creds Credentials, pending Confirmations, opts Options) *Machine {
	if opts.LoginTTL <= 0 {
		opts.LoginTTL = DefaultLoginTTL
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = DefaultHistoryPageSize
	}
	return &Machine{gw: gw, creds: creds, pending: pending, opts: opts}
}

// Transition computes the reply and session change for ev. The error return is reserved for
// infrastructure failures; user and gateway errors become replies.
func (m *Machine) Transition(ctx context.Context, userID int64, s session.Session, ev Event) (Result, error) {
	switch e := ev.(type) {
	case Command:
		return m.onCommand(ctx, userID, s, e)
	case Action:
		return m.onAction(ctx, userID, s, e)
	case Text:
		return m.onText(ctx, userID, s, e)
	}
	return Result{}, fmt.Errorf("wizard: unsupported event %T", ev)
}

func (m *Machine) onCommand(ctx context.Context, userID int64, s session.Session, e Command) (Result, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e.Name), "/"))
	if name == CmdStart {
		return m.start(s, e.FirstName), nil
	}
	act, ok := commandActions[name]
	if !ok {
		return Result{Reply: textReply("Unknown command. Send /help to see what I can do.")}, nil
	}
	return m.onAction(ctx, userID, s, Action{ID: act, FirstName: e.FirstName})
}

func (m *Machine) onAction(ctx context.Context, userID int64, s session.Session, a Action) (Result, error) {
	switch a.ID {
	case ActMainMenu:
		return m.mainMenu(s, ""), nil
	case ActCancel:
		return cancelled(), nil
	case ActHelp:
		return help(), nil
	case ActLogin:
		return m.beginLogin(), nil
	case ActLogout:
		return logout(), nil
	case ActBalance:
		return m.balance(ctx, userID)
	case ActDeposit:
		return m.deposit(ctx, userID)
	case ActProfile:
		return m.profile(ctx, userID)
	case ActKYC:
		return m.kyc(ctx, userID)
	case ActHistory:
		return m.history(ctx, userID, a.Arg(0))
	case ActTransfer:
		return m.beginTransfer(ctx, userID)
	case ActTransferEmail:
		return m.enter(TransferEmailAmount{}, promptAmount("transfer")), nil
	case ActTransferWallet:
		return m.enter(TransferWalletAmount{}, promptAmount("transfer")), nil
	case ActWithdraw:
		return m.beginWithdraw(ctx, userID)
	case ActWallets:
		return m.beginWallets(ctx, userID)
	case ActConfirm:
		return m.confirm(ctx, userID, a.Arg(0))
	case ActDecline:
		return m.decline(ctx, userID, a.Arg(0))
	}

	// The remaining buttons act on the step in progress.
	state, res, ok := m.current(ctx, userID, s)
	if !ok {
		return res, nil
	}
	switch a.ID {
	case ActWalletSelect:
		if st, isWallet := state.(SetDefaultWallet); isWallet {
			return m.selectWallet(st, a.Arg(0)), nil
		}
	case ActWalletConfirm:
		if st, isWallet := state.(SetDefaultWallet); isWallet {
			return m.confirmWallet(ctx, userID, st)
		}
	case ActWithdrawChoice:
		return m.withdrawChoice(state, a.Arg(0))
	case ActSkipNote:
		if st, isNote := state.(WithdrawNote); isNote {
			return m.quoteWithdraw(ctx, userID, st.Draft)
		}
	}
	return staleButton(), nil
}

func (m *Machine) onText(ctx context.Context, userID int64, s session.Session, t Text) (Result, error) {
	if s.Idle() {
		return Result{}, nil
	}
	state, res, ok := m.current(ctx, userID, s)
	if !ok {
		return res, nil
	}
	input := strings.TrimSpace(t.Text)

	switch st := state.(type) {
	case LoginEmail:
		return m.loginEmail(ctx, input)
	case LoginOTP:
		return m.loginOTP(ctx, st, input)
	case TransferType:
		return Result{Reply: transferTypeReply()}, nil
	case TransferEmailAmount:
		return m.amountStep(input, func(v float64) State { return TransferEmailRecipient{Amount: v} }, "Please enter the recipient email:")
	case TransferWalletAmount:
		return m.amountStep(input, func(v float64) State { return TransferWalletAddress{Amount: v} }, "Please enter the wallet address:")
	case TransferEmailRecipient:
		return m.transferEmailRecipient(ctx, userID, st, input)
	case TransferWalletAddress:
		return m.transferWalletAddress(ctx, userID, st, input)
	case WithdrawAmount:
		return m.amountStep(input, func(v float64) State { return WithdrawBank{Draft: WithdrawDraft{Amount: v}} }, "Please enter the bank account ID:")
	case WithdrawBank:
		return m.withdrawBank(st, input), nil
	case WithdrawPurpose, WithdrawSource, WithdrawRelationship:
		return m.withdrawChoice(st, input)
	case WithdrawNote:
		return m.withdrawNote(ctx, userID, st, input)
	case SetDefaultWallet:
		return Result{Reply: textReply("Please use the buttons to pick a wallet.")}, nil
	}
	return corrupted(), nil
}

// current decodes the stored step. When it is missing or corrupt, ok is false and res resets the user.
func (m *Machine) current(ctx context.Context, userID int64, s session.Session) (State, Result, bool) {
	if s.Wizard == nil {
		return nil, staleButton(), false
	}
	state, err := Decode(*s.Wizard)
	if err != nil {
		logger.LogEvent(ctx, logger.Wizard, slog.LevelWarn, "wizard.corrupt_state",
			slog.Int64("user_id", userID),
			slog.String("step", logger.SanitizeLimit(s.Wizard.Step, 64)),
			slog.String("err", err.Error()),
		)
		return nil, corrupted(), false
	}
	return state, Result{}, true
}

// enter replaces the wizard with next.
func (m *Machine) enter(next State, reply Reply) Result {
	w, err := Encode(next)
	if err != nil {
		// Every State marshals; treat the impossible case as a reset.
		return corrupted()
	}
	return Result{Reply: reply, Patch: session.SetWizard(w)}
}

// authorize re-reads the credential right before a gateway call. When the user must log in,
// ok is false and res is the reply to send; the wizard is cleared.
func (m *Machine) authorize(ctx context.Context, userID int64) (session.Credentials, Result, bool, error) {
	creds, ok, err := m.creds.Credentials(ctx, userID)
	if err != nil {
		return session.Credentials{}, Result{}, false, fmt.Errorf("wizard: read credentials: %w", err)
	}
	if !ok {
		return session.Credentials{}, loginRequired(), false, nil
	}
	return creds, Result{}, true, nil
}

// gatewayFailed reports a gateway error verbatim and leaves the session as it is.
func gatewayFailed(ctx context.Context, op string, err error, rows ...[]Button) Result {
	logger.LogEvent(ctx, logger.Wizard, slog.LevelWarn, "wizard.gateway_error",
		slog.String("op", op),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
	return Result{Reply: textReply("Error: "+md(gateway.UserMessage(err)), rows...)}
}

// isInfra tells store failures apart from domain outcomes.
func isInfra(err error) bool {
	return err != nil && !errors.Is(err, session.ErrNotFound)
}
