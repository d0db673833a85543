package auth

import (
	"golang.org/x/oauth2"
)

// DefaultScopes are the permissions the app asks for at login.
var DefaultScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-top-read",
	"playlist-modify-public",
	"playlist-modify-private",
	"user-read-playback-state",
	"streaming",
}

// BuildAuthorizationURL returns the authorization endpoint URL that starts a
// PKCE login. scope is omitted when scopes is empty.
func BuildAuthorizationURL(authURL, clientID, redirectURI, challenge, state string, scopes []string) string {
	conf := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: authURL},
	}
	return conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
	)
}
