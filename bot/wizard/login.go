package wizard

import (
	"context"
	"log/slog"

	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/session"
)

func (m *Machine) beginLogin() Result {
	return m.enter(LoginEmail{}, textReply("Please enter your email address:", cancelRow()))
}

func (m *Machine) loginEmail(ctx context.Context, email string) (Result, error) {
	if !validEmail(email) {
		return Result{Reply: textReply("That doesn't look like an email address. Please try again:", cancelRow())}, nil
	}
	sid, err := m.gw.RequestOTP(ctx, email)
	if err != nil {
		return gatewayFailed(ctx, "request_otp", err, cancelRow()), nil
	}
	return m.enter(LoginOTP{Email: email, SID: sid},
		textReply("OTP sent to your email. Please enter the OTP:", cancelRow())), nil
}

func (m *Machine) loginOTP(ctx context.Context, st LoginOTP, otp string) (Result, error) {
	if !validOTP(otp) {
		return Result{Reply: textReply("Please enter the code from the email:", cancelRow())}, nil
	}
	auth, err := m.gw.VerifyOTP(ctx, st.Email, otp, st.SID)
	if err != nil {
		return gatewayFailed(ctx, "verify_otp", err, cancelRow()), nil
	}

	expires := auth.ExpiresAt
	if expires.IsZero() {
		expires = m.creds.Now().Add(m.opts.LoginTTL)
	}
	res := Result{
		Reply: textReply("Authenticated! You'll receive deposit notifications.\nWhat next?",
			row(btn("Main Menu", ActMainMenu))),
		Patch: session.Authenticate(auth.Token, auth.OrganizationID, expires),
	}
	if auth.OrganizationID != "" {
		res.Effects = []Effect{Subscribe{Credentials: session.Credentials{
			Token:          auth.Token,
			OrganizationID: auth.OrganizationID,
			ExpiresAt:      expires,
		}}}
	}
	logger.LogEvent(ctx, logger.Wizard, slog.LevelInfo, "wizard.login",
		slog.String("status", "ok"),
		slog.Bool("expiry_from_api", !auth.ExpiresAt.IsZero()),
	)
	return res, nil
}
