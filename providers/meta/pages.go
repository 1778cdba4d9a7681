package meta

import (
	"context"
	"net/url"
)

const pageFields = "id,name,access_token,category,picture{url},instagram_business_account{id,username,name,profile_picture_url}"

// Page is a Facebook Page the user administers.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Category    string `json:"category"`
	Picture     struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
	InstagramBusinessAccount *InstagramAccount `json:"instagram_business_account,omitempty"`
}

// PictureURL returns the page avatar.
func (p *Page) PictureURL() string {
	if p == nil {
		return ""
	}
	return p.Picture.Data.URL
}

// InstagramAccount is an Instagram Business or Creator account linked to a
// Page.
type InstagramAccount struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

// Pages lists the Pages the token can manage, following pagination.
func (c *Client) Pages(ctx context.Context, accessToken string) ([]Page, error) {
	var pages []Page
	params := url.Values{"fields": {pageFields}, "limit": {"100"}}

	for range 10 {
		var resp struct {
			Data   []Page `json:"data"`
			Paging struct {
				Cursors struct {
					After string `json:"after"`
				} `json:"cursors"`
				Next string `json:"next"`
			} `json:"paging"`
		}
		if err := c.Get(ctx, "pages", "/me/accounts", accessToken, params, &resp); err != nil {
			return nil, err
		}
		pages = append(pages, resp.Data...)
		if resp.Paging.Next == "" || resp.Paging.Cursors.After == "" {
			break
		}
		params = url.Values{"fields": {pageFields}, "limit": {"100"}, "after": {resp.Paging.Cursors.After}}
	}
	return pages, nil
}

// Page fetches one Page, including its page token, with a user token.
func (c *Client) Page(ctx context.Context, accessToken, pageID string) (*Page, error) {
	var page Page
	params := url.Values{"fields": {pageFields}}
	if err := c.Get(ctx, "page", "/"+pageID, accessToken, params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// InstagramAccount fetches the live profile of an Instagram business account.
func (c *Client) InstagramAccount(ctx context.Context, accessToken, igID string) (*InstagramAccount, error) {
	var account InstagramAccount
	params := url.Values{"fields": {"id,username,name,profile_picture_url"}}
	if err := c.Get(ctx, "instagram_account", "/"+igID, accessToken, params, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// SelectPage picks target when present among pages, else the first page.
func SelectPage(pages []Page, target string) *Page {
	if len(pages) == 0 {
		return nil
	}
	if target != "" {
		for i := range pages {
			if pages[i].ID == target {
				return &pages[i]
			}
		}
	}
	return &pages[0]
}

// FindInstagram returns the first page with a linked Instagram business
// account, preferring preferred.
func FindInstagram(pages []Page, preferred string) (*Page, *InstagramAccount) {
	if preferred != "" {
		for i := range pages {
			if pages[i].ID == preferred && pages[i].InstagramBusinessAccount != nil {
				return &pages[i], pages[i].InstagramBusinessAccount
			}
		}
	}
	for i := range pages {
		if ig := pages[i].InstagramBusinessAccount; ig != nil && ig.ID != "" {
			return &pages[i], ig
		}
	}
	return nil, nil
}
