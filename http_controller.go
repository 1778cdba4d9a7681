package social

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// DefaultUserIDKey is the router locals key holding the caller's user id.
const DefaultUserIDKey = "user_id"

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// DashboardURL is where callbacks land with a status flag.
	DashboardURL string

	// UserIDKey is the locals key set by the session middleware.
	UserIDKey string

	// AllowQueryUserID lets the auth route take ?userId= when there is no
	// session, for frontends that navigate to it directly.
	AllowQueryUserID bool

	// RequireSession guards routes that need a caller.
	RequireSession router.MiddlewareFunc

	// UploadDir holds multipart media while a publish runs. Defaults to
	// os.TempDir().
	UploadDir string

	Logger Logger
}

// HTTPController exposes the connect, status and publish routes.
type HTTPController struct {
	connector *Connector
	publisher *Publisher
	status    *StatusService
	config    HTTPConfig
	logger    Logger
}

// NewHTTPController creates the controller.
func NewHTTPController(connector *Connector, publisher *Publisher, status *StatusService, cfg HTTPConfig) *HTTPController {
	if cfg.DashboardURL == "" {
		cfg.DashboardURL = "/"
	}
	if cfg.UserIDKey == "" {
		cfg.UserIDKey = DefaultUserIDKey
	}
	return &HTTPController{
		connector: connector,
		publisher: publisher,
		status:    status,
		config:    cfg,
		logger:    normalizeLogger(cfg.Logger),
	}
}

// RegisterRoutes mounts everything under group, normally /api/social.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	var guard []router.MiddlewareFunc
	if c.config.RequireSession != nil {
		guard = append(guard, c.config.RequireSession)
	}
	var optional []router.MiddlewareFunc
	if c.config.RequireSession != nil && !c.config.AllowQueryUserID {
		optional = guard
	}

	group.Get("/providers", c.ListProviders)
	group.Get("/status", c.StatusAll, guard...)
	group.Get("/:provider/auth", c.BeginAuth, optional...)
	group.Get("/:provider/callback", c.Callback)
	group.Get("/:provider/status", c.Status, guard...)
	group.Delete("/:provider/disconnect", c.Disconnect, guard...)
	group.Post("/:provider/posts", c.Publish, guard...)
	group.Post("/:provider/share", c.Publish, guard...)
}

// ListProviders returns the configured providers.
func (c *HTTPController) ListProviders(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{
		"success":   true,
		"providers": c.connector.Providers(),
	})
}

// BeginAuth returns the consent URL as JSON; the frontend redirects.
func (c *HTTPController) BeginAuth(ctx router.Context) error {
	provider, err := ParseProvider(ctx.Param("provider"))
	if err != nil {
		return c.errorResponse(ctx, err)
	}

	userID := c.userID(ctx)
	if userID == "" && c.config.AllowQueryUserID {
		userID = ctx.Query("userId")
	}
	if userID == "" {
		return c.unauthorized(ctx)
	}

	var opts []AuthOption
	if truthy(ctx.Query("instagram")) {
		opts = append(opts, WithInstagram())
	}
	if target := ctx.Query("target"); target != "" {
		opts = append(opts, WithTarget(target))
	}
	if prompt := ctx.Query("prompt"); prompt != "" {
		opts = append(opts, WithPrompt(prompt))
	}

	redirect, err := c.connector.BeginAuth(ctx.Context(), userID, provider, opts...)
	if err != nil {
		return c.errorResponse(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":  true,
		"authUrl":  redirect.URL,
		"provider": provider,
	})
}

// Callback completes the handshake and sends the browser to the dashboard
// with ?<provider>=connected or ?<provider>=error&reason=<kind>.
func (c *HTTPController) Callback(ctx router.Context) error {
	name := ctx.Param("provider")
	provider, err := ParseProvider(name)
	if err != nil {
		return ctx.Redirect(appendQueryParam(c.config.DashboardURL, "error", "unsupported_provider"), http.StatusTemporaryRedirect)
	}

	req := CallbackRequest{
		State:            ctx.Query("state"),
		Code:             ctx.Query("code"),
		Verifier:         ctx.Query("oauth_verifier"),
		RequestToken:     ctx.Query("oauth_token"),
		Error:            ctx.Query("error"),
		ErrorDescription: ctx.Query("error_description"),
	}
	if req.Error == "" && ctx.Query("denied") != "" {
		req.Error = "access_denied"
	}

	outcome, err := c.connector.CompleteAuth(ctx.Context(), provider, req)
	if err != nil {
		target := appendQueryParam(c.config.DashboardURL, string(provider), "error")
		target = appendQueryParam(target, "reason", string(KindOf(err)))
		return ctx.Redirect(target, http.StatusTemporaryRedirect)
	}

	if outcome.Status == OutcomeContinue {
		return ctx.Redirect(c.config.DashboardURL, http.StatusTemporaryRedirect)
	}

	target := c.config.DashboardURL
	for _, conn := range outcome.Connections {
		target = appendQueryParam(target, string(conn.Provider), OutcomeConnected)
	}
	return ctx.Redirect(target, http.StatusTemporaryRedirect)
}

// Status reports one provider.
func (c *HTTPController) Status(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.unauthorized(ctx)
	}
	provider, err := ParseProvider(ctx.Param("provider"))
	if err != nil {
		return c.errorResponse(ctx, err)
	}

	status, err := c.status.Status(ctx.Context(), userID, provider)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	return ctx.JSON(router.StatusOK, status)
}

// StatusAll reports every provider.
func (c *HTTPController) StatusAll(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.unauthorized(ctx)
	}
	statuses, err := c.status.StatusAll(ctx.Context(), userID)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"success":   true,
		"providers": statuses,
	})
}

// Disconnect removes the connection; repeated calls succeed.
func (c *HTTPController) Disconnect(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.unauthorized(ctx)
	}
	provider, err := ParseProvider(ctx.Param("provider"))
	if err != nil {
		return c.errorResponse(ctx, err)
	}

	if err := c.connector.Disconnect(ctx.Context(), userID, provider); err != nil {
		return c.errorResponse(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"success":  true,
		"provider": provider,
	})
}

// PublishPayload is the JSON body of the publish route. Media is either a
// hosted URL or base64 data.
type PublishPayload struct {
	Text            string `json:"text"`
	PostType        string `json:"postType"`
	MediaURL        string `json:"mediaUrl,omitempty"`
	MediaData       string `json:"mediaData,omitempty"`
	MediaName       string `json:"mediaName,omitempty"`
	MediaType       string `json:"mediaType,omitempty"`
	LinkURL         string `json:"linkUrl,omitempty"`
	LinkName        string `json:"linkName,omitempty"`
	LinkDescription string `json:"linkDescription,omitempty"`
	TargetID        string `json:"targetId,omitempty"`
}

// ToRequest maps the payload to a PublishRequest.
func (p *PublishPayload) ToRequest(userID string, provider Provider) (*PublishRequest, error) {
	kind, err := ParsePublishKind(p.PostType)
	if err != nil {
		return nil, err
	}

	req := &PublishRequest{
		UserID:   userID,
		Provider: provider,
		Kind:     kind,
		Text:     p.Text,
		TargetID: p.TargetID,
	}

	if p.MediaURL != "" || p.MediaData != "" {
		media := &MediaRef{
			URL:         p.MediaURL,
			Filename:    p.MediaName,
			ContentType: p.MediaType,
		}
		if p.MediaData != "" {
			data, err := decodeMediaData(p.MediaData)
			if err != nil {
				return nil, NewPublishError(KindValidation, provider, "mediaData is not valid base64").WithCause(err)
			}
			media.Data = data
			media.URL = ""
		}
		req.Media = media
		if p.PostType == "" {
			req.Kind = KindImage
			if strings.HasPrefix(p.MediaType, "video/") {
				req.Kind = KindVideo
			}
		}
	}

	if p.LinkURL != "" {
		req.Link = &LinkAttachment{
			URL:         p.LinkURL,
			Title:       p.LinkName,
			Description: p.LinkDescription,
		}
		if p.PostType == "" {
			req.Kind = KindLink
		}
	}

	return req, nil
}

// Publish handles POST /:provider/posts.
func (c *HTTPController) Publish(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.unauthorized(ctx)
	}
	provider, err := ParseProvider(ctx.Param("provider"))
	if err != nil {
		return c.errorResponse(ctx, err)
	}

	payload := new(PublishPayload)
	var upload *MediaRef
	if boundary, ok := multipartBoundary(ctx.Header("Content-Type")); ok {
		ref, cleanup, err := c.bindMultipart(ctx.Body(), boundary, payload)
		if err != nil {
			return c.errorResponse(ctx, NewPublishError(KindValidation, provider, "invalid multipart body").WithCause(err))
		}
		defer cleanup()
		upload = ref
	} else if err := ctx.Bind(payload); err != nil {
		return c.errorResponse(ctx, NewPublishError(KindValidation, provider, "invalid request body").WithCause(err))
	}

	req, err := payload.ToRequest(userID, provider)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	if upload != nil {
		req.Media = upload
		if payload.PostType == "" && req.Kind == KindText {
			req.Kind = KindImage
			if strings.HasPrefix(upload.ContentType, "video/") {
				req.Kind = KindVideo
			}
		}
	}

	result, err := c.publisher.Publish(ctx.Context(), req)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	return ctx.JSON(router.StatusOK, result)
}

func (c *HTTPController) userID(ctx router.Context) string {
	switch v := ctx.Locals(c.config.UserIDKey).(type) {
	case string:
		return v
	case interface{ GetUserID() string }:
		return v.GetUserID()
	default:
		return ""
	}
}

func (c *HTTPController) unauthorized(ctx router.Context) error {
	return ctx.JSON(router.StatusUnauthorized, map[string]any{
		"success":      false,
		"message":      "authentication required",
		"requiresAuth": false,
	})
}

// errorResponse renders {success:false, message, kind, requiresAuth}.
func (c *HTTPController) errorResponse(ctx router.Context, err error) error {
	perr := AsPublishError(err)
	rich := perr.RichError()

	status := rich.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		c.logger.Error("social request failed", "kind", perr.Kind, "provider", perr.Provider, "error", err)
	}

	body := map[string]any{
		"success":      false,
		"message":      perr.Message,
		"kind":         perr.Kind,
		"requiresAuth": perr.Kind.RequiresAuth(),
		"retryable":    perr.Retryable,
	}
	if perr.Provider != "" {
		body["provider"] = perr.Provider
	}
	return ctx.JSON(status, body)
}

// multipartFileField is the form field carrying the uploaded image or video.
const multipartFileField = "media"

func multipartBoundary(contentType string) (string, bool) {
	if contentType == "" {
		return "", false
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		return "", false
	}
	return params["boundary"], true
}

// bindMultipart fills payload from the form fields and spools the media part
// to UploadDir. The returned cleanup removes the spooled file.
func (c *HTTPController) bindMultipart(body []byte, boundary string, payload *PublishPayload) (*MediaRef, func(), error) {
	fields := map[string]*string{
		"text":            &payload.Text,
		"postType":        &payload.PostType,
		"mediaUrl":        &payload.MediaURL,
		"mediaName":       &payload.MediaName,
		"mediaType":       &payload.MediaType,
		"linkUrl":         &payload.LinkURL,
		"linkName":        &payload.LinkName,
		"linkDescription": &payload.LinkDescription,
		"targetId":        &payload.TargetID,
	}

	var ref *MediaRef
	cleanup := func() {
		if ref != nil && ref.Path != "" {
			_ = os.Remove(ref.Path)
		}
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}

		name := part.FormName()
		if name == multipartFileField && part.FileName() != "" {
			if ref != nil {
				part.Close()
				cleanup()
				return nil, func() {}, goerrors.New("more than one media part", goerrors.CategoryValidation)
			}
			ref = &MediaRef{Filename: part.FileName(), ContentType: part.Header.Get("Content-Type")}
			ref.Path, err = c.spoolPart(part)
			part.Close()
			if err != nil {
				ref = nil
				return nil, func() {}, err
			}
			continue
		}

		if target, ok := fields[name]; ok {
			value, err := io.ReadAll(io.LimitReader(part, 64<<10))
			part.Close()
			if err != nil {
				cleanup()
				return nil, func() {}, err
			}
			*target = string(value)
			continue
		}
		part.Close()
	}

	if ref != nil {
		if payload.MediaName != "" {
			ref.Filename = payload.MediaName
		}
		if payload.MediaType != "" {
			ref.ContentType = payload.MediaType
		}
		if ref.ContentType == "application/octet-stream" {
			ref.ContentType = ""
		}
	}
	return ref, cleanup, nil
}

func (c *HTTPController) spoolPart(part io.Reader) (string, error) {
	f, err := os.CreateTemp(c.config.UploadDir, "social-upload-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(part, MaxVideoBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxVideoBytes {
		err = goerrors.New(fmt.Sprintf("media exceeds %d bytes", MaxVideoBytes), goerrors.CategoryValidation)
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func decodeMediaData(s string) ([]byte, error) {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return data, nil
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
