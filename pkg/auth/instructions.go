package auth

import (
	"fmt"
	"io"
	"strings"
)

// TokenScopes are the permissions a harvest token needs
const TokenScopes = "photos,wall,messages,offline"

// AuthorizeURL returns the implicit flow URL that issues a user token for
// the given application id.
func AuthorizeURL(appID string) string {
	return "https://oauth.vk.com/authorize?client_id=" + appID +
		"&display=page&redirect_uri=https://oauth.vk.com/blank.html" +
		"&scope=" + TokenScopes + "&response_type=token&v=5.131"
}

// ShowTokenGuide writes step-by-step instructions for obtaining a token
func ShowTokenGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	lines := []string{
		rule,
		"OBTAINING A VK ACCESS TOKEN",
		rule,
		"",
		"1. Open this address in a browser where you are logged in to VK,",
		"   replacing <APP_ID> with the id of a standalone VK application:",
		"",
		"   " + AuthorizeURL("<APP_ID>"),
		"",
		"2. Allow the requested permissions (" + TokenScopes + ").",
		"",
		"3. You are redirected to a blank page. Its address contains",
		"   #access_token=<TOKEN>&expires_in=0&user_id=...",
		"   Copy everything between 'access_token=' and the next '&'.",
		"",
		"Keep the token private: it grants access to your messages.",
		"The offline scope makes it long lived; revoke it from the VK",
		"security settings when you no longer need it.",
		rule,
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

// ExtractToken accepts either a bare token or the whole redirect address
// and returns the token.
func ExtractToken(input string) string {
	input = strings.TrimSpace(input)
	_, fragment, found := strings.Cut(input, "access_token=")
	if !found {
		return input
	}
	token, _, _ := strings.Cut(fragment, "&")
	return token
}
