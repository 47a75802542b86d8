// Package sessionservice implements the single outbound call the client
// half makes during online-mode login: looking up the authenticated
// profile for a username + server-id hash: the proxy authenticates a
// freshly-encrypted client by calling this endpoint with the username and
// the computed server-id hash.
package sessionservice

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/blockproxy/blockproxy/internal/identity"
)

// DefaultEndpoint is the vanilla session service's hasJoined endpoint.
const DefaultEndpoint = "https://sessionserver.mojang.com/session/minecraft/hasJoined"

// Property is one signed profile property (e.g. "textures").
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// Profile is the authenticated identity returned for a username.
type Profile struct {
	ID         uuid.UUID
	Name       string
	Properties []Property
}

type hasJoinedResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`
}

// ErrNotAuthenticated is returned when the session service reports the
// player never completed a matching join (a non-200 response or an empty
// profile).
var ErrNotAuthenticated = errors.New("sessionservice: player has not joined")

// Client looks up authenticated profiles.
type Client struct {
	http     *resty.Client
	endpoint string
}

// New returns a Client using DefaultEndpoint. Pass a custom endpoint for
// testing against a fake session service.
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{http: resty.New(), endpoint: endpoint}
}

// HasJoined performs the hasJoined GET for username against the given
// server-id hash (computed from the server id, shared secret, and DER
// public key) and returns the authenticated profile.
func (c *Client) HasJoined(ctx context.Context, username, serverIDHash string) (Profile, error) {
	var body hasJoinedResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"username": username,
			"serverId": serverIDHash,
		}).
		SetResult(&body).
		Get(c.endpoint)
	if err != nil {
		return Profile{}, errors.Wrap(err, "sessionservice: request failed")
	}
	if resp.StatusCode() != 200 || body.ID == "" {
		return Profile{}, ErrNotAuthenticated
	}

	id, err := identity.ParseAuthenticated(body.ID)
	if err != nil {
		return Profile{}, errors.Wrap(err, "sessionservice: malformed uuid")
	}

	return Profile{ID: id, Name: body.Name, Properties: body.Properties}, nil
}

// String implements fmt.Stringer for debug logging.
func (p Profile) String() string {
	return fmt.Sprintf("%s<%s>", p.Name, p.ID)
}
