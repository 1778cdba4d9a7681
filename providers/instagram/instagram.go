package instagram

import (
	"context"
	"net/url"
	"time"

	social "github.com/goliatone/go-social"
	"github.com/goliatone/go-social/providers/meta"
)

const (
	// MaxCaptionRunes is the caption limit of the content publishing API.
	MaxCaptionRunes = 2200

	DefaultRefreshWindow = 7 * 24 * time.Hour
)

// NoBusinessAccountMessage is the guidance shown when no page has a linked
// Instagram professional account.
const NoBusinessAccountMessage = "no Instagram Business or Creator account is linked to your Facebook Pages; " +
	"link one in the Page settings and reconnect"

// Config holds Instagram configuration. Instagram shares the Facebook app.
type Config struct {
	meta.Config

	Scopes        []string
	RefreshWindow time.Duration

	// MediaHost publishes local media at a public URL.
	MediaHost social.MediaHost
	// ImageGenerator renders an image from the caption when the post has none.
	ImageGenerator social.TextToImage

	Logger social.Logger
	Clock  social.Clock
}

// DefaultScopes returns the scopes needed to publish to a business account.
func DefaultScopes() []string {
	return []string{
		"public_profile", "pages_show_list", "pages_read_engagement",
		"instagram_basic", "instagram_content_publish", "business_management",
	}
}

// Adapter implements social.Adapter for Instagram business accounts.
type Adapter struct {
	config Config
	graph  *meta.Client
	logger social.Logger
	now    social.Clock
}

var _ social.Adapter = (*Adapter)(nil)

// New creates an Instagram adapter.
func New(cfg Config) *Adapter {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = DefaultRefreshWindow
	}
	return &Adapter{
		config: cfg,
		graph:  meta.New(social.ProviderInstagram, cfg.Config),
		logger: social.NormalizeLogger(cfg.Logger),
		now:    social.NormalizeClock(cfg.Clock),
	}
}

// Name implements social.Adapter.
func (a *Adapter) Name() social.Provider {
	return social.ProviderInstagram
}

// AuthURL implements social.Adapter.
func (a *Adapter) AuthURL(_ context.Context, state string, opts ...social.AuthOption) (*social.AuthRedirect, error) {
	if !a.graph.Configured() {
		return nil, social.NewPublishError(social.KindConfig, social.ProviderInstagram, "facebook app credentials are not configured")
	}
	cfg := social.ApplyAuthOptions(a.config.Scopes, opts...)
	return &social.AuthRedirect{
		URL:    a.graph.AuthURL(state, cfg.Scopes, cfg.Prompt),
		Scopes: cfg.Scopes,
	}, nil
}

// CompleteAuth implements social.Adapter. The grant holds only the
// instagram connection.
func (a *Adapter) CompleteAuth(ctx context.Context, params social.CallbackParams) (*social.Grant, error) {
	login, err := a.graph.CompleteLogin(ctx, params.Code, a.logger)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderInstagram, social.PhaseAuth, err)
	}
	if len(login.Pages) == 0 {
		return nil, social.NewPublishError(social.KindAuthFailed, social.ProviderInstagram,
			"no Facebook Page was authorized; grant access to the Page linked to your Instagram account")
	}

	page, ig := meta.FindInstagram(login.Pages, params.Option(social.OptionTarget))
	if ig == nil {
		return nil, social.NewPublishError(social.KindNoBusinessAccount, social.ProviderInstagram, NoBusinessAccountMessage)
	}

	requested := social.ApplyAuthOptions(a.config.Scopes, social.AuthOptionsFromState(params.State)...).Scopes
	return &social.Grant{
		Provider:    social.ProviderInstagram,
		Connections: []*social.Connection{meta.InstagramConnection(login, page, ig, requested, a.now())},
	}, nil
}

// RefreshIfNeeded implements social.Adapter.
func (a *Adapter) RefreshIfNeeded(ctx context.Context, conn *social.Connection) (*social.Connection, error) {
	out, err := a.graph.Refresh(ctx, conn, a.config.RefreshWindow, a.now())
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderInstagram, social.PhaseRefresh, err)
	}
	return out, nil
}

// Profile implements social.Adapter.
func (a *Adapter) Profile(ctx context.Context, conn *social.Connection) (*social.Profile, error) {
	account, err := a.graph.InstagramAccount(ctx, meta.PageToken(conn), conn.ProviderAccountID)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderInstagram, social.PhaseProfile, err)
	}
	return mapProfile(account), nil
}

// Publish implements social.Adapter: create a media container, then
// publish it by creation id.
func (a *Adapter) Publish(ctx context.Context, conn *social.Connection, req *social.PublishRequest) (*social.PublishResult, error) {
	if req.Kind == social.KindVideo {
		return nil, social.NewPublishError(social.KindValidation, social.ProviderInstagram, "video posts are not supported on instagram")
	}

	caption := req.Text
	if req.Kind == social.KindLink && req.Link != nil {
		caption = joinCaption(caption, req.Link.URL)
	}
	caption = social.TruncateRunes(caption, MaxCaptionRunes)

	imageURL, err := a.imageURL(ctx, conn, req)
	if err != nil {
		return nil, err
	}

	token := meta.PageToken(conn)
	igID := conn.ProviderAccountID

	var container struct {
		ID string `json:"id"`
	}
	form := url.Values{"image_url": {imageURL}, "caption": {caption}}
	if err := a.graph.PostForm(ctx, "media", "/"+igID+"/media", token, form, &container); err != nil {
		return nil, social.ClassifyProviderError(social.ProviderInstagram, social.PhasePublish, err)
	}
	if container.ID == "" {
		return nil, social.NewPublishError(social.KindProviderUnavailable, social.ProviderInstagram, "media container was not created")
	}

	var published struct {
		ID string `json:"id"`
	}
	form = url.Values{"creation_id": {container.ID}}
	if err := a.graph.PostForm(ctx, "media_publish", "/"+igID+"/media_publish", token, form, &published); err != nil {
		return nil, social.ClassifyProviderError(social.ProviderInstagram, social.PhasePublish, err)
	}
	if published.ID == "" {
		return nil, social.NewPublishError(social.KindProviderUnavailable, social.ProviderInstagram, "media container was not published")
	}

	result := &social.PublishResult{
		Success:      true,
		Provider:     social.ProviderInstagram,
		RemotePostID: published.ID,
	}

	var media struct {
		Permalink string `json:"permalink"`
	}
	if err := a.graph.Get(ctx, "permalink", "/"+published.ID, token, url.Values{"fields": {"permalink"}}, &media); err != nil {
		a.logger.Debug("instagram permalink lookup failed", "media_id", published.ID, "error", err)
	} else {
		result.Permalink = media.Permalink
	}

	return result, nil
}

// imageURL resolves the public image for the container: a hosted URL,
// then local media through the media host, then a generated image.
func (a *Adapter) imageURL(ctx context.Context, conn *social.Connection, req *social.PublishRequest) (string, error) {
	media := req.Media
	if media != nil && media.URL != "" && !media.IsLocal() {
		return media.URL, nil
	}

	var payload *social.MediaPayload
	switch {
	case media.IsLocal():
		p, err := social.LoadMedia(ctx, a.graph.HTTPClient(), social.ProviderInstagram, media, social.MaxImageBytes)
		if err != nil {
			return "", err
		}
		payload = p
	case a.config.ImageGenerator == nil:
		return "", social.NewPublishError(social.KindValidation, social.ProviderInstagram,
			"instagram posts need an image and no image generator is configured")
	default:
		p, err := a.config.ImageGenerator.Generate(ctx, req.Text)
		if err != nil {
			return "", social.ClassifyProviderError(social.ProviderInstagram, social.PhasePublish, err)
		}
		a.logger.Info("instagram image generated from caption", "user_id", conn.UserID)
		payload = p
	}

	if payload.IsVideo() {
		return "", social.NewPublishError(social.KindValidation, social.ProviderInstagram, "video posts are not supported on instagram")
	}
	if a.config.MediaHost == nil {
		return "", social.NewPublishError(social.KindConfig, social.ProviderInstagram, "no media host is configured for instagram uploads")
	}

	hosted, err := a.config.MediaHost.Host(ctx, conn.UserID, payload)
	if err != nil {
		return "", social.ClassifyProviderError(social.ProviderInstagram, social.PhasePublish, err)
	}
	return hosted, nil
}

func joinCaption(text, link string) string {
	if text == "" {
		return link
	}
	return text + "\n\n" + link
}
