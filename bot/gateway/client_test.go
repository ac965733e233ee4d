package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", APIKey: "api-key", HTTPClient: srv.Client()})
}

func TestResponseError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message string", 400, `{"message":"Invalid amount"}`, "Invalid amount"},
		{"message list", 422, `{"message":["amount too small","email invalid"]}`, "amount too small; email invalid"},
		{"error string", 500, `{"error":"boom"}`, "boom"},
		{"error object", 403, `{"error":{"message":"forbidden org"}}`, "forbidden org"},
		{"status text", 502, `<html>bad gateway</html>`, "Bad Gateway"},
		{"ok with error", 200, `{"error":"OTP expired"}`, "OTP expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := responseError(tc.status, []byte(tc.body))
			require.Error(t, err)
			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tc.status, gwErr.Status)
			assert.Equal(t, tc.want, gwErr.Message)
		})
	}

	assert.NoError(t, responseError(200, []byte(`{"sid":"x"}`)))
	assert.NoError(t, responseError(200, []byte(`{"sid":"x","error":null}`)))
	assert.NoError(t, responseError(204, nil))
	assert.NoError(t, responseError(200, []byte(`[{"error":"nested"}]`)))
}

func TestDoBearerFallsBackToAPIKey(t *testing.T) {
	var seen atomic.Value
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{}`)
	})

	_, err := c.Do(context.Background(), http.MethodGet, "/api/wallets", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Bearer api-key", seen.Load())

	_, err = c.Do(context.Background(), http.MethodGet, "/api/wallets", nil, "user-token")
	require.NoError(t, err)
	assert.Equal(t, "Bearer user-token", seen.Load())
}

func TestDoSendsJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "b", gjson.GetBytes(body, "a").String())
		_, _ = io.WriteString(w, `{"ok":true}`)
	})

	raw, err := c.Do(context.Background(), http.MethodPost, "/x", map[string]string{"a": "b"}, "")
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(raw, "ok").Bool())
}

func TestUserMessageAndUnauthorized(t *testing.T) {
	err := &Error{Status: http.StatusUnauthorized, Message: "Unauthorized"}
	assert.Equal(t, "Unauthorized", UserMessage(err))
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, "GATEWAY_401", err.Code())

	assert.Equal(t, "The service is unavailable, please try again later.", UserMessage(io.EOF))
	assert.False(t, IsUnauthorized(io.EOF))
}

func TestRequestOTP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/email-otp/request", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "a@b.com", gjson.GetBytes(body, "email").String())
		_, _ = io.WriteString(w, `{"email":"a@b.com","sid":"sid-1"}`)
	})

	sid, err := c.RequestOTP(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "sid-1", sid)
}

func TestVerifyOTPExpirySources(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)

	cases := []struct {
		name string
		body string
		want Auth
	}{
		{
			name: "expireAt field",
			body: `{"accessToken":"tok","expireAt":"2031-05-06T07:08:09Z","user":{"organizationId":"org-1"}}`,
			want: Auth{Token: "tok", OrganizationID: "org-1", ExpiresAt: time.Date(2031, 5, 6, 7, 8, 9, 0, time.UTC)},
		},
		{
			name: "jwt exp claim",
			body: `{"token":"` + signed + `","organizationId":"org-2"}`,
			want: Auth{Token: signed, OrganizationID: "org-2", ExpiresAt: exp},
		},
		{
			name: "opaque token",
			body: `{"accessToken":"opaque","user":{"organizationId":"org-3"}}`,
			want: Auth{Token: "opaque", OrganizationID: "org-3"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				assert.Equal(t, "123456", gjson.GetBytes(body, "otp").String())
				assert.Equal(t, "sid-1", gjson.GetBytes(body, "sid").String())
				_, _ = io.WriteString(w, tc.body)
			})
			auth, err := c.VerifyOTP(context.Background(), "a@b.com", "123456", "sid-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want.Token, auth.Token)
			assert.Equal(t, tc.want.OrganizationID, auth.OrganizationID)
			assert.True(t, tc.want.ExpiresAt.Equal(auth.ExpiresAt), "got %s", auth.ExpiresAt)
		})
	}
}

func TestVerifyOTPRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Invalid OTP","statusCode":401}`)
	})
	_, err := c.VerifyOTP(context.Background(), "a@b.com", "000000", "sid")
	require.Error(t, err)
	assert.Equal(t, "Invalid OTP", UserMessage(err))
}
