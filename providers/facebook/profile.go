package facebook

import (
	social "github.com/goliatone/go-social"
	"github.com/goliatone/go-social/providers/meta"
)

func mapProfile(page *meta.Page) *social.Profile {
	if page == nil {
		return nil
	}

	return &social.Profile{
		ProviderAccountID: page.ID,
		DisplayName:       page.Name,
		AvatarURL:         page.PictureURL(),
		ProfileURL:        "https://www.facebook.com/" + page.ID,
	}
}
