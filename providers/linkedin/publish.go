package linkedin

import (
	"bytes"
	"context"
	"io"
	"net/http"

	social "github.com/goliatone/go-social"
)

// MaxCommentaryRunes is the share commentary limit.
const MaxCommentaryRunes = 3000

const (
	recipeImage = "urn:li:digitalmediaRecipe:feedshare-image"
	recipeVideo = "urn:li:digitalmediaRecipe:feedshare-video"

	shareContentKey = "com.linkedin.ugc.ShareContent"
	visibilityKey   = "com.linkedin.ugc.MemberNetworkVisibility"
	uploadHTTPKey   = "com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"
)

type text struct {
	Text string `json:"text"`
}

type shareMedia struct {
	Status      string `json:"status"`
	Media       string `json:"media,omitempty"`
	OriginalURL string `json:"originalUrl,omitempty"`
	Title       *text  `json:"title,omitempty"`
	Description *text  `json:"description,omitempty"`
}

type shareContent struct {
	ShareCommentary    text         `json:"shareCommentary"`
	ShareMediaCategory string       `json:"shareMediaCategory"`
	Media              []shareMedia `json:"media,omitempty"`
}

type ugcPost struct {
	Author          string                  `json:"author"`
	LifecycleState  string                  `json:"lifecycleState"`
	SpecificContent map[string]shareContent `json:"specificContent"`
	Visibility      map[string]string       `json:"visibility"`
}

type registerUploadRequest struct {
	RegisterUploadRequest struct {
		Recipes              []string              `json:"recipes"`
		Owner                string                `json:"owner"`
		ServiceRelationships []serviceRelationship `json:"serviceRelationships"`
	} `json:"registerUploadRequest"`
}

type serviceRelationship struct {
	RelationshipType string `json:"relationshipType"`
	Identifier       string `json:"identifier"`
}

type registerUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism map[string]struct {
			UploadURL string            `json:"uploadUrl"`
			Headers   map[string]string `json:"headers"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}

// Publish implements social.Adapter.
func (a *Adapter) Publish(ctx context.Context, conn *social.Connection, req *social.PublishRequest) (*social.PublishResult, error) {
	result := &social.PublishResult{Provider: social.ProviderLinkedIn}
	author := a.author(conn, req)

	commentary := social.TruncateRunes(req.Text, MaxCommentaryRunes)
	if commentary != req.Text {
		result.Warn("post text was truncated to fit linkedin's limit")
	}

	content := shareContent{
		ShareCommentary:    text{Text: commentary},
		ShareMediaCategory: "NONE",
	}

	switch req.Kind {
	case social.KindLink:
		if req.Link != nil {
			media := shareMedia{Status: "READY", OriginalURL: req.Link.URL}
			if req.Link.Title != "" {
				media.Title = &text{Text: req.Link.Title}
			}
			if req.Link.Description != "" {
				media.Description = &text{Text: req.Link.Description}
			}
			content.ShareMediaCategory = "ARTICLE"
			content.Media = []shareMedia{media}
		}
	case social.KindImage, social.KindVideo:
		if req.Media.IsZero() {
			return nil, social.NewPublishError(social.KindValidation, social.ProviderLinkedIn, "media is required for "+string(req.Kind)+" posts")
		}
		category, asset, err := a.uploadMedia(ctx, conn, author, req)
		if err != nil {
			return nil, err
		}
		content.ShareMediaCategory = category
		content.Media = []shareMedia{{Status: "READY", Media: asset}}
	}

	post := ugcPost{
		Author:          author,
		LifecycleState:  "PUBLISHED",
		SpecificContent: map[string]shareContent{shareContentKey: content},
		Visibility:      map[string]string{visibilityKey: "PUBLIC"},
	}

	var created struct {
		ID string `json:"id"`
	}
	headers, err := a.call(ctx, "ugc_post", http.MethodPost, "/v2/ugcPosts", conn.AccessToken, post, &created)
	if err != nil {
		return nil, social.ClassifyProviderError(social.ProviderLinkedIn, social.PhasePublish, err)
	}

	id := headers.Get("X-RestLi-Id")
	if id == "" {
		id = created.ID
	}

	result.Success = true
	result.RemotePostID = id
	if id != "" {
		result.Permalink = "https://www.linkedin.com/feed/update/" + id
	}
	return result, nil
}

// author picks the organization from the request, then from the
// connection, falling back to the member.
func (a *Adapter) author(conn *social.Connection, req *social.PublishRequest) string {
	if req.TargetID != "" {
		return organizationURN(req.TargetID)
	}
	if org := conn.MetadataString(MetadataOrganizationID); org != "" {
		return organizationURN(org)
	}
	if urn := conn.MetadataString(MetadataPersonURN); urn != "" {
		return urn
	}
	return personURN(conn.ProviderAccountID)
}

func (a *Adapter) uploadMedia(ctx context.Context, conn *social.Connection, owner string, req *social.PublishRequest) (string, string, error) {
	limit := int64(social.MaxImageBytes)
	if req.Kind == social.KindVideo {
		limit = social.MaxVideoBytes
	}
	payload, err := social.LoadMedia(ctx, a.httpClient, social.ProviderLinkedIn, req.Media, limit)
	if err != nil {
		return "", "", err
	}

	category, recipe := "IMAGE", recipeImage
	if req.Kind == social.KindVideo || payload.IsVideo() {
		category, recipe = "VIDEO", recipeVideo
	}

	var register registerUploadRequest
	register.RegisterUploadRequest.Recipes = []string{recipe}
	register.RegisterUploadRequest.Owner = owner
	register.RegisterUploadRequest.ServiceRelationships = []serviceRelationship{
		{RelationshipType: "OWNER", Identifier: "urn:li:userGeneratedContent"},
	}

	var registered registerUploadResponse
	if _, err := a.call(ctx, "register_upload", http.MethodPost, "/v2/assets?action=registerUpload", conn.AccessToken, register, &registered); err != nil {
		return "", "", social.ClassifyProviderError(social.ProviderLinkedIn, social.PhasePublish, err)
	}

	mechanism, ok := registered.Value.UploadMechanism[uploadHTTPKey]
	if !ok || mechanism.UploadURL == "" || registered.Value.Asset == "" {
		return "", "", social.NewPublishError(social.KindProviderUnavailable, social.ProviderLinkedIn, "linkedin did not return an upload url")
	}

	if err := a.putBinary(ctx, conn.AccessToken, mechanism.UploadURL, mechanism.Headers, payload); err != nil {
		return "", "", social.ClassifyProviderError(social.ProviderLinkedIn, social.PhasePublish, err)
	}

	a.logger.Debug("linkedin media uploaded", "asset", registered.Value.Asset, "bytes", payload.Size())
	return category, registered.Value.Asset, nil
}

func (a *Adapter) putBinary(ctx context.Context, accessToken, uploadURL string, headers map[string]string, payload *social.MediaPayload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(payload.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", payload.ContentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return providerError("upload", 0, "", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return decodeError("upload", resp.StatusCode, body)
	}
	return nil
}
