package facebook

import (
	"context"
	"net/http"
	"net/url"
	"time"

	social "github.com/goliatone/go-social"
	"github.com/goliatone/go-social/providers/meta"
)

// DefaultRefreshWindow is how long before expiry the long-lived token is
// re-exchanged.
const DefaultRefreshWindow = 7 * 24 * time.Hour

// Config holds Facebook Page configuration.
type Config struct {
	meta.Config

	Scopes        []string
	RefreshWindow time.Duration
	// TempDir is where media is spooled before multipart upload.
	TempDir string

	Logger social.Logger
	Clock  social.Clock
}

// DefaultScopes returns the scopes needed to post to a Page.
func DefaultScopes() []string {
	return []string{"public_profile", "pages_show_list", "pages_read_engagement", "pages_manage_posts"}
}

// InstagramScopes are added when the login should also connect Instagram.
func InstagramScopes() []string {
	return []string{"instagram_basic", "instagram_content_publish", "business_management"}
}

// Adapter implements social.Adapter for Facebook Pages.
type Adapter struct {
	config Config
	graph  *meta.Client
	logger social.Logger
	now    social.Clock
}

var _ social.Adapter = (*Adapter)(nil)

// New creates a Facebook adapter.
func New(cfg Config) *Adapter {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = DefaultRefreshWindow
	}
	return &Adapter{
		config: cfg,
		graph:  meta.New(social.ProviderFacebook, cfg.Config),
		logger: social.NormalizeLogger(cfg.Logger),
		now:    social.NormalizeClock(cfg.Clock),
	}
}

// Name implements social.Adapter.
func (a *Adapter) Name() social.Provider {
	return social.ProviderFacebook
}

func (a *Adapter) scopes(opts ...social.AuthOption) []string {
	cfg := social.ApplyAuthOptions(a.config.Scopes, opts...)
	if cfg.Instagram {
		return social.ApplyAuthOptions(cfg.Scopes, social.WithScopes(InstagramScopes()...)).Scopes
	}
	return cfg.Scopes
}

// AuthURL implements social.Adapter.
func (a *Adapter) AuthURL(_ context.Context, state string, opts ...social.AuthOption) (*social.AuthRedirect, error) {
	if !a.graph.Configured() {
		return nil, social.NewPublishError(social.KindConfig, social.ProviderFacebook, "facebook app credentials are not configured")
	}
	cfg := social.ApplyAuthOptions(nil, opts...)
	scopes := a.scopes(opts...)

	return &social.AuthRedirect{
		URL:    a.graph.AuthURL(state, scopes, cfg.Prompt),
		Scopes: scopes,
	}, nil
}

// CompleteAuth implements social.Adapter. The grant always holds the
// facebook connection and, when Instagram was requested and a page has a
// linked business account, the instagram connection too.
func (a *Adapter) CompleteAuth(ctx context.Context, params social.CallbackParams) (*social.Grant, error) {
	login, err := a.graph.CompleteLogin(ctx, params.Code, a.logger)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderFacebook, social.PhaseAuth, err)
	}

	target := params.Option(social.OptionTarget)
	page := meta.SelectPage(login.Pages, target)
	if page == nil {
		return nil, social.NewPublishError(social.KindAuthFailed, social.ProviderFacebook,
			"no Facebook Page was authorized; grant access to at least one Page and reconnect")
	}

	opts := social.AuthOptionsFromState(params.State)
	requested := a.scopes(opts...)
	now := a.now()

	grant := &social.Grant{
		Provider:    social.ProviderFacebook,
		Connections: []*social.Connection{meta.PageConnection(login, page, requested, now)},
	}

	if params.Option(social.OptionInstagram) == "true" {
		igPage, ig := meta.FindInstagram(login.Pages, page.ID)
		if ig == nil {
			a.logger.Warn("facebook login requested instagram but no business account is linked", "page_id", page.ID)
		} else {
			grant.Connections = append(grant.Connections, meta.InstagramConnection(login, igPage, ig, requested, now))
		}
	}

	return grant, nil
}

// RefreshIfNeeded implements social.Adapter.
func (a *Adapter) RefreshIfNeeded(ctx context.Context, conn *social.Connection) (*social.Connection, error) {
	out, err := a.graph.Refresh(ctx, conn, a.config.RefreshWindow, a.now())
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderFacebook, social.PhaseRefresh, err)
	}
	return out, nil
}

// Profile implements social.Adapter.
func (a *Adapter) Profile(ctx context.Context, conn *social.Connection) (*social.Profile, error) {
	page, err := a.graph.Page(ctx, conn.AccessToken, conn.ProviderAccountID)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderFacebook, social.PhaseProfile, err)
	}
	return mapProfile(page), nil
}

// resolvePage returns the page id and token to post with. A TargetID other
// than the connected page needs its own page token.
func (a *Adapter) resolvePage(ctx context.Context, conn *social.Connection, target string) (string, string, error) {
	if target == "" || target == conn.ProviderAccountID {
		return conn.ProviderAccountID, meta.PageToken(conn), nil
	}
	page, err := a.graph.Page(ctx, conn.AccessToken, target)
	if err != nil {
		return "", "", err
	}
	if page.AccessToken == "" {
		return "", "", providerError("page_token", http.StatusForbidden, "page_not_managed", "the user does not manage page "+target, nil)
	}
	return page.ID, page.AccessToken, nil
}

type graphPostResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

func (r graphPostResponse) remoteID() string {
	if r.PostID != "" {
		return r.PostID
	}
	return r.ID
}

// Publish implements social.Adapter.
func (a *Adapter) Publish(ctx context.Context, conn *social.Connection, req *social.PublishRequest) (*social.PublishResult, error) {
	pageID, token, err := a.resolvePage(ctx, conn, req.TargetID)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderFacebook, social.PhasePublish, err)
	}

	var resp graphPostResponse
	switch req.Kind {
	case social.KindImage:
		err = a.publishFile(ctx, pageID, token, req, social.MaxImageBytes, &resp)
	case social.KindVideo:
		err = a.publishFile(ctx, pageID, token, req, social.MaxVideoBytes, &resp)
	case social.KindLink:
		form := url.Values{"message": {req.Text}, "link": {req.Link.URL}}
		err = a.graph.PostForm(ctx, "feed", "/"+pageID+"/feed", token, form, &resp)
	default:
		form := url.Values{"message": {req.Text}}
		err = a.graph.PostForm(ctx, "feed", "/"+pageID+"/feed", token, form, &resp)
	}
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderFacebook, social.PhasePublish, err)
	}

	id := resp.remoteID()
	if id == "" {
		return nil, social.NewPublishError(social.KindProviderUnavailable, social.ProviderFacebook, "graph response carried no post id")
	}

	return &social.PublishResult{
		Success:      true,
		Provider:     social.ProviderFacebook,
		RemotePostID: id,
		Permalink:    "https://www.facebook.com/" + id,
	}, nil
}

// publishFile spools the media to a temp file and uploads it as multipart.
// The temp file is removed on every exit path.
func (a *Adapter) publishFile(ctx context.Context, pageID, token string, req *social.PublishRequest, limit int64, out *graphPostResponse) error {
	payload, err := social.LoadMedia(ctx, a.graph.HTTPClient(), social.ProviderFacebook, req.Media, limit)
	if err != nil {
		return err
	}

	path, cleanup, err := social.SpoolMedia(a.config.TempDir, payload)
	defer cleanup()
	if err != nil {
		return err
	}

	if req.Kind == social.KindVideo {
		fields := map[string]string{"description": req.Text}
		return a.graph.PostFile(ctx, "videos", meta.HostVideo, "/"+pageID+"/videos", token, fields, "source", path, out)
	}
	fields := map[string]string{"caption": req.Text}
	return a.graph.PostFile(ctx, "photos", meta.HostGraph, "/"+pageID+"/photos", token, fields, "source", path, out)
}

func providerError(operation string, status int, code, description string, err error) *social.ProviderError {
	return &social.ProviderError{
		Provider:    string(social.ProviderFacebook),
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}
