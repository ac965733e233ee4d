// Package dispatch turns Telegram updates into wizard events and wizard replies into messages.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/copperxbot/bot/wizard"
	"github.com/m3rciful/copperxbot/core/logger"
	tg "github.com/m3rciful/copperxbot/core/telegram"
	"github.com/m3rciful/copperxbot/core/telegram/callbacks"
	"github.com/m3rciful/copperxbot/core/telegram/commands"
	"github.com/m3rciful/copperxbot/core/telegram/helpers"
	"github.com/m3rciful/copperxbot/core/telegram/keyboard"
)

const (
	failedText = "Something went wrong. Please try again later."
	staleText  = "This button is no longer active."
)

// Turns runs conversation turns. *wizard.Runner implements it.
type Turns interface {
	Handle(ctx context.Context, userID int64, ev wizard.Event) (wizard.Reply, error)
	InProgress(ctx context.Context, userID int64) (bool, error)
}

type commandDef struct {
	name        string
	description string
}

var commandDefs = []commandDef{
	{wizard.CmdStart, "Start the bot"},
	{wizard.CmdMenu, "Show the main menu"},
	{wizard.CmdLogin, "Log in with your Copperx email"},
	{wizard.CmdBalance, "Show wallet balances"},
	{wizard.CmdDeposit, "Show the deposit address"},
	{wizard.CmdTransfer, "Send USDC by email or to a wallet"},
	{wizard.CmdWithdraw, "Withdraw USDC to a bank account"},
	{wizard.CmdWallets, "Choose the default wallet"},
	{wizard.CmdHistory, "Show recent transfers"},
	{wizard.CmdProfile, "Show your profile"},
	{wizard.CmdKYC, "Show your KYC status"},
	{wizard.CmdLogout, "Log out"},
	{wizard.CmdCancel, "Cancel the current operation"},
	{wizard.CmdHelp, "Show help"},
}

var exactActions = []string{
	wizard.ActMainMenu,
	wizard.ActLogin,
	wizard.ActBalance,
	wizard.ActDeposit,
	wizard.ActTransfer,
	wizard.ActWithdraw,
	wizard.ActWallets,
	wizard.ActProfile,
	wizard.ActKYC,
	wizard.ActLogout,
	wizard.ActHelp,
	wizard.ActTransferEmail,
	wizard.ActTransferWallet,
	wizard.ActCancel,
	wizard.ActWalletConfirm,
	wizard.ActSkipNote,
}

type actionPattern struct {
	action string
	re     *regexp.Regexp
}

// History is a pattern so that a bare tap and a page tap share one route.
var actionPatterns = []actionPattern{
	{wizard.ActConfirm, regexp.MustCompile(`^wizard_confirm\|([0-9a-f-]{36})$`)},
	{wizard.ActDecline, regexp.MustCompile(`^wizard_decline\|([0-9a-f-]{36})$`)},
	{wizard.ActWalletSelect, regexp.MustCompile(`^wizard_wallet_select\|([\w-]{1,64})$`)},
	{wizard.ActHistory, regexp.MustCompile(`^wizard_history(?:\|(\d{1,6}))?$`)},
	{wizard.ActWithdrawChoice, regexp.MustCompile(`^wizard_withdraw_choice\|([a-z_]{1,32})$`)},
}

// Dispatcher feeds commands, button taps and flow text into the wizard.
type Dispatcher struct {
	turns Turns
}

// New returns a Dispatcher over turns.
func New(turns Turns) *Dispatcher {
	return &Dispatcher{turns: turns}
}

// Register adds every command and callback the wizard understands to reg.
func (d *Dispatcher) Register(reg *tg.Registry) error {
	if reg == nil {
		return errors.New("dispatch: nil registry")
	}
	for _, def := range commandDefs {
		reg.RegisterCommand("/"+def.name, commands.Command{
			Handler:     d.command(def.name),
			Description: def.description,
		})
	}
	for _, act := range exactActions {
		if err := reg.RegisterCallback(act, d.action(act)); err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
	}
	for _, p := range actionPatterns {
		if err := reg.RegisterCallbackPattern(p.action, p.re, d.action(p.action)); err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
	}
	reg.SetCallbackNotFound(staleButton)
	return nil
}

// InProgress reports whether text from userID belongs to a flow.
func (d *Dispatcher) InProgress(ctx context.Context, userID int64) (bool, error) {
	return d.turns.InProgress(ctx, userID)
}

// HandleText passes a flow answer to the wizard.
func (d *Dispatcher) HandleText(c tele.Context) error {
	return d.run(c, wizard.Text{Text: c.Text(), FirstName: firstName(c)})
}

func (d *Dispatcher) command(name string) tele.HandlerFunc {
	return func(c tele.Context) error {
		return d.run(c, wizard.Command{Name: name, FirstName: firstName(c)})
	}
}

func (d *Dispatcher) action(id string) tele.HandlerFunc {
	return func(c tele.Context) error {
		var args []string
		for _, a := range callbacks.Args(c) {
			if a != "" {
				args = append(args, a)
			}
		}
		return d.run(c, wizard.Action{ID: id, Args: args, FirstName: firstName(c)})
	}
}

func (d *Dispatcher) run(c tele.Context, ev wizard.Event) error {
	user := c.Sender()
	if user == nil {
		return nil
	}
	ctx := helpers.BuildContext(c)
	reply, err := d.turns.Handle(ctx, user.ID, ev)
	if err != nil {
		if sendErr := helpers.SendMD(c, failedText); sendErr != nil {
			logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "dispatch.reply_failed",
				slog.String("err", logger.SanitizeLimit(sendErr.Error(), 256)),
			)
		}
		return err
	}
	if reply.Empty() {
		return nil
	}
	return helpers.SendMD(c, reply.Text, Markup(reply))
}

// Markup renders the reply keyboard, or nil when there is none.
func Markup(r wizard.Reply) *tele.ReplyMarkup {
	if len(r.Keyboard) == 0 {
		return nil
	}
	rows := make([][]keyboard.InlineBtn, 0, len(r.Keyboard))
	for _, row := range r.Keyboard {
		btns := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			btns = append(btns, keyboard.InlineBtn{Text: b.Label, Unique: b.Action, Data: b.Data})
		}
		rows = append(rows, btns)
	}
	return keyboard.InlineButtonsRows(rows...)
}

func staleButton(c tele.Context) error {
	return c.Respond(&tele.CallbackResponse{Text: staleText})
}

func firstName(c tele.Context) string {
	if u := c.Sender(); u != nil {
		return strings.TrimSpace(u.FirstName)
	}
	return ""
}

// Pusher delivers bridge notifications through the bot bound at startup.
type Pusher struct {
	bot atomic.Pointer[helpers.Messenger]
}

// Bind sets the bot used for pushes.
func (p *Pusher) Bind(bot helpers.Messenger) {
	if bot == nil {
		p.bot.Store(nil)
		return
	}
	p.bot.Store(&bot)
}

// Notify sends text to the user's private chat.
func (p *Pusher) Notify(ctx context.Context, userID int64, text string) error {
	bot := p.bot.Load()
	if bot == nil {
		return errors.New("dispatch: no bot bound for push")
	}
	return helpers.SendTo(ctx, *bot, userID, text)
}
