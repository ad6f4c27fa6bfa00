// Package discordrest is a thin REST client for the handful of Discord
// endpoints the gateway supervisor needs: resolving /gateway/bot and posting
// lifecycle embeds to a logging channel. Grounded on Sandwich-Producer's
// client/client.go, generalized with jsoniter like the rest of the module.
package discordrest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnauthorized is returned when Discord rejects the configured token.
var ErrUnauthorized = errors.New("discordrest: invalid token")

// Client is a minimal REST client scoped to gateway bootstrapping.
type Client struct {
	Token string

	HTTP      *http.Client
	UserAgent string

	APIVersion string
	URLHost    string
	URLScheme  string
}

// NewClient builds a Client using Discord's default host/scheme/version,
// mirroring Sandwich-Producer's NewClient.
func NewClient(token string) *Client {
	return &Client{
		Token:      token,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
		UserAgent:  "DiscordBot (sandwich-dispatch, 1.0)",
		APIVersion: "9",
		URLHost:    "discord.com",
		URLScheme:  "https",
	}
}

// GatewayBotResponse is the decoded /gateway/bot response.
type GatewayBotResponse struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfterMS   int `json:"reset_after"`
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

// GatewayBot resolves the recommended shard count and identify concurrency.
func (c *Client) GatewayBot(ctx context.Context) (GatewayBotResponse, error) {
	var out GatewayBotResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/gateway/bot", nil)
	if err != nil {
		return out, err
	}
	if err := c.fetchJSON(req, &out); err != nil {
		return out, fmt.Errorf("discordrest: gateway/bot: %w", err)
	}
	return out, nil
}

// Embed is a minimal Discord embed, enough for lifecycle log messages.
type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
}

type executeWebhookBody struct {
	Embeds []Embed `json:"embeds"`
}

// PostEmbed sends a single embed to a channel via bot-token message create,
// used by the lifecycle logger.
func (c *Client) PostEmbed(ctx context.Context, channelID string, embed Embed) error {
	body, err := json.Marshal(executeWebhookBody{Embeds: []Embed{embed}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/channels/"+channelID+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.fetchJSON(req, nil)
}

func (c *Client) fetchJSON(req *http.Request, out interface{}) error {
	res, err := c.do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// do fills in host/scheme/version and the standard headers the way the
// teacher's HandleRequest does, then performs the request.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.URL.Path = "/api/v" + c.APIVersion + req.URL.Path
	if req.URL.Host == "" {
		req.URL.Host = c.URLHost
	}
	if req.URL.Scheme == "" {
		req.URL.Scheme = c.URLScheme
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bot "+c.Token)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		res.Body.Close()
		return nil, ErrUnauthorized
	}
	return res, nil
}
