package gateway

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ChannelAuth is the signature the push service expects when subscribing to a private channel.
type ChannelAuth struct {
	Auth        string
	ChannelData string
}

// AuthorizeChannel signs a subscription of socketID to channel.
func (c *Client) AuthorizeChannel(ctx context.Context, token, socketID, channel string) (ChannelAuth, error) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "socket_id", socketID)
	body, _ = sjson.SetBytes(body, "channel_name", channel)
	raw, err := c.Do(ctx, http.MethodPost, "/api/notifications/auth", body, token)
	if err != nil {
		return ChannelAuth{}, err
	}
	res := gjson.ParseBytes(raw)
	auth := res.Get("auth").String()
	if auth == "" {
		return ChannelAuth{}, &Error{Status: http.StatusOK, Message: "channel authorization missing"}
	}
	return ChannelAuth{Auth: auth, ChannelData: res.Get("channel_data").String()}, nil
}
