package social

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// PublishKind is the shape of a post.
type PublishKind string

const (
	KindText  PublishKind = "text"
	KindImage PublishKind = "image"
	KindVideo PublishKind = "video"
	KindLink  PublishKind = "link"
)

// ParsePublishKind maps a loose post type to a PublishKind. Empty means text.
func ParsePublishKind(s string) (PublishKind, error) {
	switch k := PublishKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindText, nil
	case KindText, KindImage, KindVideo, KindLink:
		return k, nil
	default:
		return "", NewPublishError(KindValidation, "", "unsupported post type: "+s)
	}
}

// MediaRef points at the media attached to a post. Exactly one of Path,
// Data or URL is expected; Path and Data are local, URL is already hosted.
type MediaRef struct {
	Path        string `json:"path,omitempty"`
	Data        []byte `json:"-"`
	URL         string `json:"url,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// IsZero reports whether the ref carries no media at all.
func (m *MediaRef) IsZero() bool {
	return m == nil || (m.Path == "" && len(m.Data) == 0 && m.URL == "")
}

// IsLocal reports whether the media must be uploaded from this process.
func (m *MediaRef) IsLocal() bool {
	return m != nil && (m.Path != "" || len(m.Data) > 0)
}

// LinkAttachment is a link-with-preview payload.
type LinkAttachment struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// PublishRequest is the provider agnostic publish input.
type PublishRequest struct {
	UserID   string          `json:"user_id"`
	Provider Provider        `json:"provider"`
	Kind     PublishKind     `json:"kind"`
	Text     string          `json:"text"`
	Media    *MediaRef       `json:"media,omitempty"`
	Link     *LinkAttachment `json:"link,omitempty"`
	TargetID string          `json:"target_id,omitempty"`
}

// Validate checks the request shape. Provider specific rules, like
// Instagram requiring an image, live in the adapters.
func (r *PublishRequest) Validate() error {
	if r == nil {
		return NewPublishError(KindValidation, "", "publish request is required")
	}

	textRules := []validation.Rule{}
	if r.Kind == KindText {
		textRules = append(textRules, validation.Required.Error("text is required for text posts"))
	}

	err := validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Provider, validation.Required, validation.In(
			ProviderTwitter, ProviderFacebook, ProviderInstagram, ProviderLinkedIn,
		)),
		validation.Field(&r.Kind, validation.Required, validation.In(
			KindText, KindImage, KindVideo, KindLink,
		)),
		validation.Field(&r.Text, textRules...),
	)
	if err != nil {
		return wrapValidation(r.Provider, err)
	}

	switch r.Kind {
	case KindImage:
		// Instagram renders the caption when no image is given.
		if r.Media.IsZero() && r.Provider != ProviderInstagram {
			return NewPublishError(KindValidation, r.Provider, "media is required for image posts")
		}
	case KindVideo:
		if r.Media.IsZero() {
			return NewPublishError(KindValidation, r.Provider, "media is required for video posts")
		}
	case KindLink:
		if r.Link == nil {
			return NewPublishError(KindValidation, r.Provider, "link is required for link posts")
		}
		if err := validation.ValidateStruct(r.Link,
			validation.Field(&r.Link.URL, validation.Required, is.URL),
		); err != nil {
			return wrapValidation(r.Provider, err)
		}
	}

	return nil
}

func wrapValidation(provider Provider, err error) error {
	perr := NewPublishError(KindValidation, provider, err.Error())
	perr.Err = err
	return perr
}

// PublishResult is the normalized outcome of a publish call.
type PublishResult struct {
	Success      bool          `json:"success"`
	Provider     Provider      `json:"provider"`
	RemotePostID string        `json:"remote_post_id,omitempty"`
	Permalink    string        `json:"permalink,omitempty"`
	Degraded     bool          `json:"degraded,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Error        *PublishError `json:"error,omitempty"`
}

// Warn marks the result as degraded and records why.
func (r *PublishResult) Warn(msg string) {
	r.Degraded = true
	r.Warnings = append(r.Warnings, msg)
}

// FailedResult wraps a publish error into a result.
func FailedResult(provider Provider, err error) *PublishResult {
	return &PublishResult{
		Success:  false,
		Provider: provider,
		Error:    AsPublishError(err),
	}
}
