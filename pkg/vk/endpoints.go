package vk

import (
	"net/url"
	"strings"
)

// API methods used by the harvester
const (
	MethodWallGet               = "wall.get"
	MethodFaveGetPosts          = "fave.getPosts"
	MethodGetHistoryAttachments = "messages.getHistoryAttachments"
)

// MethodURL joins the endpoint and method name into the request URL,
// adding the credentials and API version to params.
func MethodURL(endpoint, method, token, version string, params url.Values) string {
	query := url.Values{}
	for key, values := range params {
		query[key] = append([]string(nil), values...)
	}
	query.Set("access_token", token)
	query.Set("v", version)

	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint + method + "?" + query.Encode()
}

// RedactToken hides the access token in a request URL for logging.
func RedactToken(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("access_token") {
		q.Set("access_token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
