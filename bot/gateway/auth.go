package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Auth is the credential returned by a successful OTP verification.
type Auth struct {
	Token          string
	OrganizationID string
	// ExpiresAt is zero when neither the response nor the token states an expiry.
	ExpiresAt time.Time
}

// RequestOTP emails a one-time code and returns the OTP session id.
func (c *Client) RequestOTP(ctx context.Context, email string) (string, error) {
	body, _ := sjson.SetBytes([]byte(`{}`), "email", email)
	raw, err := c.Do(ctx, http.MethodPost, "/api/auth/email-otp/request", body, "")
	if err != nil {
		return "", err
	}
	sid := gjson.GetBytes(raw, "sid").String()
	if sid == "" {
		return "", &Error{Status: http.StatusOK, Message: "The login service did not return a session id."}
	}
	return sid, nil
}

// VerifyOTP exchanges the code for a bearer token.
func (c *Client) VerifyOTP(ctx context.Context, email, otp, sid string) (Auth, error) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "email", email)
	body, _ = sjson.SetBytes(body, "otp", otp)
	body, _ = sjson.SetBytes(body, "sid", sid)
	raw, err := c.Do(ctx, http.MethodPost, "/api/auth/email-otp/authenticate", body, "")
	if err != nil {
		return Auth{}, err
	}

	res := gjson.ParseBytes(raw)
	auth := Auth{
		Token:          firstString(res, "accessToken", "token"),
		OrganizationID: firstString(res, "user.organizationId", "organizationId"),
	}
	if auth.Token == "" {
		return Auth{}, &Error{Status: http.StatusOK, Message: "The login service did not return a token."}
	}
	if exp := res.Get("expireAt"); exp.Exists() {
		if t, err := time.Parse(time.RFC3339, exp.String()); err == nil {
			auth.ExpiresAt = t
		}
	}
	if auth.ExpiresAt.IsZero() {
		auth.ExpiresAt = TokenExpiry(auth.Token)
	}
	return auth, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying it. Opaque tokens yield zero.
func TokenExpiry(token string) time.Time {
	if strings.Count(token, ".") != 2 {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Profile is the authenticated user.
type Profile struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	OrganizationID string
	Role           string
	Status         string
	WalletAddress  string
}

// Profile loads /api/auth/me.
func (c *Client) Profile(ctx context.Context, token string) (Profile, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/api/auth/me", nil, token)
	if err != nil {
		return Profile{}, err
	}
	res := gjson.ParseBytes(raw)
	return Profile{
		ID:             res.Get("id").String(),
		Email:          res.Get("email").String(),
		FirstName:      res.Get("firstName").String(),
		LastName:       res.Get("lastName").String(),
		OrganizationID: res.Get("organizationId").String(),
		Role:           res.Get("role").String(),
		Status:         res.Get("status").String(),
		WalletAddress:  firstString(res, "walletAddress", "relayerAddress"),
	}, nil
}

// KYC is the most recent verification of the organization.
type KYC struct {
	Found  bool
	Status string
	Type   string
}

// KYC loads the latest KYC record.
func (c *Client) KYC(ctx context.Context, token string) (KYC, error) {
	raw, err := c.Do(ctx, http.MethodGet, "/api/kycs?page=1&limit=1", nil, token)
	if err != nil {
		return KYC{}, err
	}
	first := gjson.GetBytes(raw, "data.0")
	if !first.Exists() {
		return KYC{}, nil
	}
	return KYC{
		Found:  true,
		Status: first.Get("status").String(),
		Type:   first.Get("type").String(),
	}, nil
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
