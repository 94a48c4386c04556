// Package vk provides a client for the VK method API.
//
// This package includes:
//   - Call, which invokes a paginated collection method and decodes one Page
//   - FetchStream, which opens the byte stream of an image URL
//   - models for posts, photo attachments and attachment history items
//
// Transport failures come back as *errors.Error. An error reported by the
// API inside a successful response is not a Go error; it is carried on
// Page.Error so the caller can treat it with its own severity.
//
// Example usage:
//
//	client := vk.NewClient(vk.Options{
//	    Endpoint:    config.DefaultEndpoint,
//	    AccessToken: token,
//	    APIVersion:  config.DefaultAPIVersion,
//	    Limiter:     ratelimit.New(3),
//	}, log)
//
//	page, err := client.Call(ctx, vk.MethodWallGet, url.Values{"domain": {"durov"}})
package vk
