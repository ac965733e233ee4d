package wizard

import (
	"strconv"
	"strings"

	"github.com/m3rciful/copperxbot/core/session"
	"github.com/m3rciful/copperxbot/core/telegram/format"
)

func md(s string) string {
	return format.MD(s)
}

func clearOnly() session.Patch {
	return session.Patch{ClearWizard: true}
}

func (m *Machine) start(s session.Session, firstName string) Result {
	if s.HasSeenGreeting {
		return m.mainMenu(s, "")
	}
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "User"
	}
	p := session.Greeted()
	p.ClearWizard = true
	return Result{
		Reply: textReply(
			"Hello, "+md(name)+"! Welcome to the Copperx USDC Bot.\nClick below to begin:",
			row(btn("Start", ActMainMenu)),
		),
		Patch: p,
	}
}

// mainMenu drops any flow in progress. The layout depends on whether the user is logged in.
func (m *Machine) mainMenu(s session.Session, prefix string) Result {
	text := "What would you like to do?"
	if prefix != "" {
		text = prefix + "\n\n" + text
	}
	var kb [][]Button
	if s.Authenticated(m.creds.Now()) {
		kb = [][]Button{
			row(btn("Check Balance", ActBalance), btn("Deposit", ActDeposit)),
			row(btn("Transfer", ActTransfer), btn("Withdraw", ActWithdraw)),
			row(btn("Wallets", ActWallets), btn("History", ActHistory)),
			row(btn("Profile", ActProfile), btn("KYC", ActKYC)),
			row(btn("Help", ActHelp), btn("Logout", ActLogout)),
		}
	} else {
		kb = [][]Button{
			row(btn("Login", ActLogin), btn("Check Balance", ActBalance)),
			row(btn("Deposit", ActDeposit), btn("Transfer", ActTransfer)),
			row(btn("Withdraw", ActWithdraw), btn("Help", ActHelp)),
		}
	}
	return Result{Reply: Reply{Text: text, Keyboard: kb}, Patch: clearOnly()}
}

func backToMenu() []Button {
	return row(btn("Back to Menu", ActMainMenu))
}

func cancelRow() []Button {
	return row(btn("Cancel", ActCancel))
}

func cancelled() Result {
	return Result{
		Reply: textReply("Action cancelled. Return to the menu?", row(btn("Yes", ActMainMenu))),
		Patch: clearOnly(),
	}
}

func help() Result {
	text := "Here's how to use the bot:\n" +
		"- Login: Authenticate with your email.\n" +
		"- Check Balance: View your wallet balances.\n" +
		"- Deposit: Get a deposit address.\n" +
		"- Transfer: Send USDC to an email or wallet.\n" +
		"- Withdraw: Withdraw USDC to a bank.\n" +
		"- Wallets: Choose your default wallet.\n" +
		"- History: Browse your transfers.\n" +
		"Send /cancel at any time to stop the current action.\n" +
		"Click below to return to the menu:"
	return Result{Reply: textReply(text, backToMenu()), Patch: clearOnly()}
}

func loginRequired() Result {
	return Result{
		Reply: textReply("You need to log in first.", row(btn("Login", ActLogin))),
		Patch: clearOnly(),
	}
}

func logout() Result {
	return Result{
		Reply:   textReply("You have been logged out.", backToMenu()),
		Patch:   session.Patch{Logout: true, ClearWizard: true},
		Effects: []Effect{Unsubscribe{}},
	}
}

func staleButton() Result {
	return Result{Reply: textReply("This button is no longer active.", backToMenu())}
}

func corrupted() Result {
	return Result{
		Reply: textReply("Your previous action could not be resumed and was reset. Please start again.", backToMenu()),
		Patch: clearOnly(),
	}
}

func promptAmount(verb string) Reply {
	return textReply("Please enter the amount to "+verb+" (e.g., 10):", cancelRow())
}

func invalidAmount() Result {
	return Result{Reply: textReply("Invalid amount. Please enter a positive number (e.g., 10):", cancelRow())}
}

func usdc(v float64) string {
	return format.Amount(v) + " USDC"
}

func pageLabel(page int) string {
	return strconv.Itoa(page)
}
