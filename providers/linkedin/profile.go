package linkedin

import (
	"strings"

	social "github.com/goliatone/go-social"
)

// userInfo is the OpenID Connect userinfo payload.
type userInfo struct {
	Sub        string `json:"sub"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
	Email      string `json:"email"`
}

func (u *userInfo) displayName() string {
	if u.Name != "" {
		return u.Name
	}
	return strings.TrimSpace(u.GivenName + " " + u.FamilyName)
}

func mapProfile(info *userInfo) *social.Profile {
	if info == nil {
		return nil
	}
	return &social.Profile{
		ProviderAccountID: info.Sub,
		DisplayName:       info.displayName(),
		AvatarURL:         info.Picture,
	}
}
