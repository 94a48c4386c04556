package vk

import (
	"encoding/json"

	"vkharvest/pkg/errors"
)

// Envelope is the top level body of every API method response. Exactly one
// of Response and Error is set.
type Envelope struct {
	Response *Page            `json:"response"`
	Error    *errors.APIError `json:"error"`
}

// Page is one page of a paginated collection.
type Page struct {
	// Count is the total number of items in the collection. Only offset
	// paginated methods report it.
	Count int `json:"count"`

	// Items are kept raw; each collection decodes its own item shape.
	Items []json.RawMessage `json:"items"`

	// NextFrom is the cursor of the following page for cursor paginated
	// methods. Empty on the last page.
	NextFrom string `json:"next_from"`

	// Error is set when the API rejected the request.
	Error *errors.APIError `json:"-"`
}

// Post is a wall or bookmarked post
type Post struct {
	ID          int64        `json:"id"`
	OwnerID     int64        `json:"owner_id"`
	Date        int64        `json:"date"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is a typed media attachment. Only photo attachments are decoded.
type Attachment struct {
	Type  string `json:"type"`
	Photo *Photo `json:"photo,omitempty"`
}

// Photo is a photo with its available renditions
type Photo struct {
	ID      int64       `json:"id"`
	OwnerID int64       `json:"owner_id"`
	Date    int64       `json:"date"`
	Sizes   []PhotoSize `json:"sizes"`
}

// PhotoSize is one rendition of a photo. Renditions are ordered from the
// smallest to the largest.
type PhotoSize struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// HistoryItem is one entry of a conversation attachment history
type HistoryItem struct {
	MessageID  int64      `json:"message_id"`
	FromID     int64      `json:"from_id"`
	Attachment Attachment `json:"attachment"`
}

// AttachmentTypePhoto marks photo attachments
const AttachmentTypePhoto = "photo"

// LargestURL returns the URL of the last listed rendition, or "" if the
// photo has none.
func (p *Photo) LargestURL() string {
	if p == nil || len(p.Sizes) == 0 {
		return ""
	}
	return p.Sizes[len(p.Sizes)-1].URL
}
