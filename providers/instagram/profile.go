package instagram

import (
	social "github.com/goliatone/go-social"
	"github.com/goliatone/go-social/providers/meta"
)

func mapProfile(account *meta.InstagramAccount) *social.Profile {
	if account == nil {
		return nil
	}

	display := account.Name
	if display == "" {
		display = account.Username
	}
	profile := &social.Profile{
		ProviderAccountID: account.ID,
		DisplayName:       display,
		Username:          account.Username,
		AvatarURL:         account.ProfilePictureURL,
	}
	if account.Username != "" {
		profile.ProfileURL = "https://www.instagram.com/" + account.Username
	}
	return profile
}
