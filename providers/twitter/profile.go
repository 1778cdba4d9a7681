package twitter

import social "github.com/goliatone/go-social"

type twitterUser struct {
	IDStr                string `json:"id_str"`
	Name                 string `json:"name"`
	ScreenName           string `json:"screen_name"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https"`
}

func mapProfile(user *twitterUser) *social.Profile {
	if user == nil {
		return nil
	}

	profile := &social.Profile{
		ProviderAccountID: user.IDStr,
		DisplayName:       user.Name,
		Username:          user.ScreenName,
		AvatarURL:         user.ProfileImageURLHTTPS,
	}
	if user.ScreenName != "" {
		profile.ProfileURL = "https://twitter.com/" + user.ScreenName
	}
	return profile
}
