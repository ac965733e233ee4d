package wizard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/m3rciful/copperxbot/core/session"
)

// ErrCorruptState means a stored wizard cannot be resumed: the step is unknown or its data
// is malformed or incomplete.
var ErrCorruptState = errors.New("wizard: corrupt state")

// Persisted step names.
const (
	StepLoginEmail             = "login_email"
	StepLoginOTP               = "login_otp"
	StepTransferType           = "transfer_type"
	StepTransferEmailAmount    = "transfer_email_amount"
	StepTransferWalletAmount   = "transfer_wallet_amount"
	StepTransferEmailRecipient = "transfer_email_recipient"
	StepTransferWalletAddress  = "transfer_wallet_address"
	StepWithdrawAmount         = "withdraw_amount"
	StepWithdrawBank           = "withdraw_bank"
	StepWithdrawPurpose        = "withdraw_purpose"
	StepWithdrawSource         = "withdraw_source"
	StepWithdrawRelationship   = "withdraw_relationship"
	StepWithdrawNote           = "withdraw_note"
	StepSetDefaultWallet       = "set_default_wallet"
)

// State is one step of a flow together with the data collected so far.
// The set of implementations is closed.
type State interface {
	Step() string
	validate() error
}

type (
	LoginEmail struct{}

	LoginOTP struct {
		Email string `json:"email"`
		SID   string `json:"sid"`
	}

	TransferType struct{}

	TransferEmailAmount struct{}

	TransferWalletAmount struct{}

	TransferEmailRecipient struct {
		Amount float64 `json:"amount"`
	}

	TransferWalletAddress struct {
		Amount float64 `json:"amount"`
	}

	WithdrawAmount struct{}

	WithdrawBank struct {
		Draft WithdrawDraft `json:"withdrawData"`
	}

	WithdrawPurpose struct {
		Draft WithdrawDraft `json:"withdrawData"`
	}

	WithdrawSource struct {
		Draft WithdrawDraft `json:"withdrawData"`
	}

	WithdrawRelationship struct {
		Draft WithdrawDraft `json:"withdrawData"`
	}

	WithdrawNote struct {
		Draft WithdrawDraft `json:"withdrawData"`
	}

	SetDefaultWallet struct {
		Wallets          []WalletOption `json:"wallets"`
		SelectedWalletID string         `json:"selectedWalletId,omitempty"`
	}
)

// WithdrawDraft accumulates the bank withdrawal across its steps.
type WithdrawDraft struct {
	Amount                float64 `json:"amount"`
	BankID                string  `json:"bankId,omitempty"`
	PurposeCode           string  `json:"purposeCode,omitempty"`
	SourceOfFunds         string  `json:"sourceOfFunds,omitempty"`
	RecipientRelationship string  `json:"recipientRelationship,omitempty"`
	Note                  string  `json:"note,omitempty"`
}

// WalletOption is a selectable wallet in the default wallet step.
type WalletOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (LoginEmail) Step() string             { return StepLoginEmail }
func (LoginOTP) Step() string               { return StepLoginOTP }
func (TransferType) Step() string           { return StepTransferType }
func (TransferEmailAmount) Step() string    { return StepTransferEmailAmount }
func (TransferWalletAmount) Step() string   { return StepTransferWalletAmount }
func (TransferEmailRecipient) Step() string { return StepTransferEmailRecipient }
func (TransferWalletAddress) Step() string  { return StepTransferWalletAddress }
func (WithdrawAmount) Step() string         { return StepWithdrawAmount }
func (WithdrawBank) Step() string           { return StepWithdrawBank }
func (WithdrawPurpose) Step() string        { return StepWithdrawPurpose }
func (WithdrawSource) Step() string         { return StepWithdrawSource }
func (WithdrawRelationship) Step() string   { return StepWithdrawRelationship }
func (WithdrawNote) Step() string           { return StepWithdrawNote }
func (SetDefaultWallet) Step() string       { return StepSetDefaultWallet }

func (LoginEmail) validate() error           { return nil }
func (TransferType) validate() error         { return nil }
func (TransferEmailAmount) validate() error  { return nil }
func (TransferWalletAmount) validate() error { return nil }
func (WithdrawAmount) validate() error       { return nil }

func (s LoginOTP) validate() error {
	if s.Email == "" || s.SID == "" {
		return errors.New("missing email or sid")
	}
	return nil
}

func (s TransferEmailRecipient) validate() error { return checkAmount(s.Amount) }
func (s TransferWalletAddress) validate() error  { return checkAmount(s.Amount) }
func (s WithdrawBank) validate() error           { return s.Draft.require(false, false, false, false) }
func (s WithdrawPurpose) validate() error        { return s.Draft.require(true, false, false, false) }
func (s WithdrawSource) validate() error         { return s.Draft.require(true, true, false, false) }
func (s WithdrawRelationship) validate() error   { return s.Draft.require(true, true, true, false) }
func (s WithdrawNote) validate() error           { return s.Draft.require(true, true, true, true) }

func (s SetDefaultWallet) validate() error {
	if len(s.Wallets) == 0 {
		return errors.New("no wallets")
	}
	if s.SelectedWalletID != "" && !s.has(s.SelectedWalletID) {
		return errors.New("selected wallet not listed")
	}
	return nil
}

func (s SetDefaultWallet) has(id string) bool {
	for _, w := range s.Wallets {
		if w.ID == id {
			return true
		}
	}
	return false
}

func (d WithdrawDraft) require(bank, purpose, source, relationship bool) error {
	if err := checkAmount(d.Amount); err != nil {
		return err
	}
	switch {
	case bank && d.BankID == "":
		return errors.New("missing bank id")
	case purpose && d.PurposeCode == "":
		return errors.New("missing purpose")
	case source && d.SourceOfFunds == "":
		return errors.New("missing source of funds")
	case relationship && d.RecipientRelationship == "":
		return errors.New("missing relationship")
	}
	return nil
}

func checkAmount(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("invalid amount %v", v)
	}
	return nil
}

// Encode converts s into its stored form.
func Encode(s State) (session.WizardState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return session.WizardState{}, fmt.Errorf("encode %s: %w", s.Step(), err)
	}
	return session.WizardState{Step: s.Step(), Data: data}, nil
}

// Decode restores a State. Unknown steps and malformed or incomplete data yield ErrCorruptState.
func Decode(w session.WizardState) (State, error) {
	var s State
	switch w.Step {
	case StepLoginEmail:
		s = decodeAs[LoginEmail](w.Data)
	case StepLoginOTP:
		s = decodeAs[LoginOTP](w.Data)
	case StepTransferType:
		s = decodeAs[TransferType](w.Data)
	case StepTransferEmailAmount:
		s = decodeAs[TransferEmailAmount](w.Data)
	case StepTransferWalletAmount:
		s = decodeAs[TransferWalletAmount](w.Data)
	case StepTransferEmailRecipient:
		s = decodeAs[TransferEmailRecipient](w.Data)
	case StepTransferWalletAddress:
		s = decodeAs[TransferWalletAddress](w.Data)
	case StepWithdrawAmount:
		s = decodeAs[WithdrawAmount](w.Data)
	case StepWithdrawBank:
		s = decodeAs[WithdrawBank](w.Data)
	case StepWithdrawPurpose:
		s = decodeAs[WithdrawPurpose](w.Data)
	case StepWithdrawSource:
		s = decodeAs[WithdrawSource](w.Data)
	case StepWithdrawRelationship:
		s = decodeAs[WithdrawRelationship](w.Data)
	case StepWithdrawNote:
		s = decodeAs[WithdrawNote](w.Data)
	case StepSetDefaultWallet:
		s = decodeAs[SetDefaultWallet](w.Data)
	default:
		return nil, fmt.Errorf("%w: unknown step %q", ErrCorruptState, w.Step)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: malformed data for %s", ErrCorruptState, w.Step)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, w.Step, err)
	}
	return s, nil
}

// decodeAs returns nil when data is not a JSON object of T.
func decodeAs[T State](data json.RawMessage) State {
	var v T
	if len(bytes.TrimSpace(data)) == 0 {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}
