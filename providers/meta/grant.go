package meta

import (
	"context"
	"time"

	social "github.com/goliatone/go-social"
)

// Login is the outcome of a Facebook Login code exchange.
type Login struct {
	Token     *Token
	LongLived bool
	Pages     []Page
	Granted   []string
}

// CompleteLogin exchanges the code, upgrades to a long-lived token and
// lists the authorized pages. A failed upgrade keeps the short-lived token.
// A failed permissions lookup leaves Granted empty.
func (c *Client) CompleteLogin(ctx context.Context, code string, logger social.Logger) (*Login, error) {
	token, err := c.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	login := &Login{Token: token}
	if long, err := c.LongLived(ctx, token.AccessToken); err != nil {
		logger.Warn("graph long-lived token upgrade failed", "provider", c.provider, "error", err)
	} else {
		login.Token = long
		login.LongLived = true
	}

	pages, err := c.Pages(ctx, login.Token.AccessToken)
	if err != nil {
		return nil, err
	}
	login.Pages = pages

	granted, err := c.Permissions(ctx, login.Token.AccessToken)
	if err != nil {
		logger.Warn("graph permissions lookup failed", "provider", c.provider, "error", err)
	}
	login.Granted = granted

	return login, nil
}

// PageConnection maps a page to a facebook Connection.
func PageConnection(login *Login, page *Page, requested []string, now time.Time) *social.Connection {
	conn := &social.Connection{
		Provider:          social.ProviderFacebook,
		AccessToken:       login.Token.AccessToken,
		ProviderAccountID: page.ID,
		AccountType:       social.AccountTypePage,
		DisplayName:       page.Name,
		AvatarURL:         page.PictureURL(),
		ExpiresAt:         login.Token.ExpiresAt(now),
		ScopeGrant: social.ScopeGrant{
			Requested: requested,
			Granted:   login.Granted,
		},
	}
	conn.SetMetadata(MetadataPageToken, page.AccessToken)
	conn.SetMetadata(MetadataPageID, page.ID)
	conn.SetMetadata(MetadataPageName, page.Name)
	return conn
}

// InstagramConnection maps a page's linked business account to an
// instagram Connection.
func InstagramConnection(login *Login, page *Page, ig *InstagramAccount, requested []string, now time.Time) *social.Connection {
	display := ig.Name
	if display == "" {
		display = ig.Username
	}
	conn := &social.Connection{
		Provider:          social.ProviderInstagram,
		AccessToken:       login.Token.AccessToken,
		ProviderAccountID: ig.ID,
		AccountType:       social.AccountTypeBusiness,
		DisplayName:       display,
		Username:          ig.Username,
		AvatarURL:         ig.ProfilePictureURL,
		ExpiresAt:         login.Token.ExpiresAt(now),
		ScopeGrant: social.ScopeGrant{
			Requested: requested,
			Granted:   login.Granted,
		},
	}
	conn.SetMetadata(MetadataPageToken, page.AccessToken)
	conn.SetMetadata(MetadataPageID, page.ID)
	conn.SetMetadata(MetadataPageName, page.Name)
	return conn
}

// PageToken returns the page token stored on conn, falling back to the
// user token.
func PageToken(conn *social.Connection) string {
	if token := conn.MetadataString(MetadataPageToken); token != "" {
		return token
	}
	return conn.AccessToken
}

// Refresh renews the long-lived user token when conn expires inside window
// and re-reads the parent page token with it. Connections outside the
// window are returned unchanged.
func (c *Client) Refresh(ctx context.Context, conn *social.Connection, window time.Duration, now time.Time) (*social.Connection, error) {
	if conn == nil || !conn.ExpiresWithin(window, now) {
		return conn, nil
	}

	token, err := c.LongLived(ctx, conn.AccessToken)
	if err != nil {
		return nil, err
	}

	out := conn.Clone()
	out.AccessToken = token.AccessToken
	out.ExpiresAt = token.ExpiresAt(now)
	out.UpdatedAt = now

	if pageID := conn.MetadataString(MetadataPageID); pageID != "" {
		page, err := c.Page(ctx, token.AccessToken, pageID)
		if err != nil {
			return nil, err
		}
		if page.AccessToken != "" {
			out.SetMetadata(MetadataPageToken, page.AccessToken)
		}
	}
	return out, nil
}
