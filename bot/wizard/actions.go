package wizard

// Button actions. Those taking a payload are matched as "<action>|<payload>".
const (
	ActMainMenu       = "wizard_main_menu"
	ActLogin          = "wizard_login"
	ActBalance        = "wizard_balance"
	ActDeposit        = "wizard_deposit"
	ActTransfer       = "wizard_transfer"
	ActWithdraw       = "wizard_withdraw"
	ActWallets        = "wizard_wallets"
	ActHistory        = "wizard_history"
	ActProfile        = "wizard_profile"
	ActKYC            = "wizard_kyc"
	ActLogout         = "wizard_logout"
	ActHelp           = "wizard_help"
	ActTransferEmail  = "wizard_transfer_email"
	ActTransferWallet = "wizard_transfer_wallet"
	ActCancel         = "wizard_cancel"
	ActWalletConfirm  = "wizard_wallet_confirm"
	ActSkipNote       = "wizard_withdraw_skip_note"

	ActConfirm        = "wizard_confirm"
	ActDecline        = "wizard_decline"
	ActWalletSelect   = "wizard_wallet_select"
	ActWithdrawChoice = "wizard_withdraw_choice"
)

// Commands understood by the machine.
const (
	CmdStart    = "start"
	CmdMenu     = "menu"
	CmdLogin    = "login"
	CmdBalance  = "balance"
	CmdDeposit  = "deposit"
	CmdTransfer = "transfer"
	CmdWithdraw = "withdraw"
	CmdWallets  = "wallets"
	CmdHistory  = "history"
	CmdProfile  = "profile"
	CmdKYC      = "kyc"
	CmdLogout   = "logout"
	CmdCancel   = "cancel"
	CmdHelp     = "help"
)

// commandActions maps commands onto the button that starts the same thing.
var commandActions = map[string]string{
	CmdMenu:     ActMainMenu,
	CmdLogin:    ActLogin,
	CmdBalance:  ActBalance,
	CmdDeposit:  ActDeposit,
	CmdTransfer: ActTransfer,
	CmdWithdraw: ActWithdraw,
	CmdWallets:  ActWallets,
	CmdHistory:  ActHistory,
	CmdProfile:  ActProfile,
	CmdKYC:      ActKYC,
	CmdLogout:   ActLogout,
	CmdCancel:   ActCancel,
	CmdHelp:     ActHelp,
}

// Pending confirmation kinds.
const (
	kindTransferEmail  = "transfer_email"
	kindTransferWallet = "transfer_wallet"
	kindWithdraw       = "withdraw"
)

type choice struct {
	Code  string
	Label string
}

var (
	purposeCodes = []choice{
		{"self", "Self"},
		{"salary", "Salary"},
		{"gift", "Gift"},
		{"income", "Income"},
		{"saving", "Saving"},
		{"education_support", "Education"},
		{"family", "Family"},
		{"home_improvement", "Home improvement"},
		{"reimbursement", "Reimbursement"},
	}
	sourceCodes = []choice{
		{"salary", "Salary"},
		{"savings", "Savings"},
		{"lottery", "Lottery"},
		{"investment", "Investment"},
		{"loan", "Loan"},
		{"business_income", "Business income"},
		{"others", "Others"},
	}
	relationshipCodes = []choice{
		{"self", "Self"},
		{"spouse", "Spouse"},
		{"son", "Son"},
		{"daughter", "Daughter"},
		{"father", "Father"},
		{"mother", "Mother"},
		{"other", "Other"},
	}
)
