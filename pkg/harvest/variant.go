package harvest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"vkharvest/internal/downloader"
	"vkharvest/pkg/errors"
	"vkharvest/pkg/ui"
	"vkharvest/pkg/vk"
)

// Kind names a collection variant
type Kind string

const (
	KindWall      Kind = "wall"
	KindFavorites Kind = "fave"
	KindChat      Kind = "chat"
)

const (
	// ChatPeerOffset is added to a chat room number to form its peer id
	ChatPeerOffset = 2000000000

	// FavoritesDomain is the fixed addressing target of the bookmarks feed
	FavoritesDomain = "#fave"

	roomMarker = "c"
	idMarker   = "id"
)

// nameLayout formats artifact timestamps
const nameLayout = "20060102-150405"

// timeZone is the zone artifact timestamps are rendered in
var timeZone = time.Local

// Variant is one of the collection kinds the harvester can drain: a
// WallFeed (which also serves the favorites feed) or a ChatAttachments
// history. The set is closed.
type Variant interface {
	Kind() Kind
	// Label identifies the collection in progress output and logs.
	Label() string
	// Dir is the destination subdirectory, relative to the output root.
	Dir() string
	// Method and Params describe the request for the next page.
	Method() string
	Params() url.Values
	// Total derives the progress total from the first page.
	Total(page *vk.Page) int
	// Advance moves the cursor past page.
	Advance(page *vk.Page) error
	// Tasks expands one raw item into the images it references.
	Tasks(item json.RawMessage) ([]downloader.Task, error)
	// Exhausted reports, after Advance, whether page was the last one.
	Exhausted(page *vk.Page) bool
	// Position returns the number of items passed so far for offset
	// paginated variants.
	Position() (int, bool)

	sealed()
}

func artifactName(unix int64, suffix string) string {
	return time.Unix(unix, 0).In(timeZone).Format(nameLayout) + "-" + suffix + ".jpg"
}

func validateIdentifier(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return &errors.ParseError{Input: s, Reason: "not a collection identifier"}
	}
	return nil
}

// WallFeed pages through a wall, or through the favorites feed, by offset.
type WallFeed struct {
	kind     Kind
	method   string
	label    string
	dir      string
	pageSize int
	offset   int

	ownerAddressed bool
	ownerID        int64
	domain         string
}

// NewWallFeed creates a wall variant. An identifier of the form c<N> (a
// chat room) or id<N> (a numeric user) is addressed by owner id; anything
// else is passed through as a domain name.
func NewWallFeed(identifier string, pageSize, startOffset int) (*WallFeed, error) {
	if err := validateIdentifier(identifier); err != nil {
		return nil, err
	}
	if err := validatePaging(pageSize, startOffset); err != nil {
		return nil, err
	}

	w := &WallFeed{
		kind:     KindWall,
		method:   vk.MethodWallGet,
		label:    identifier,
		dir:      path.Join("walls", identifier),
		pageSize: pageSize,
		offset:   startOffset,
		domain:   identifier,
	}
	if id, ok := resolveOwner(identifier); ok {
		w.ownerAddressed = true
		w.ownerID = id
		w.domain = ""
	}
	return w, nil
}

// NewFavorites creates the bookmarks variant
func NewFavorites(pageSize, startOffset int) (*WallFeed, error) {
	if err := validatePaging(pageSize, startOffset); err != nil {
		return nil, err
	}

	return &WallFeed{
		kind:     KindFavorites,
		method:   vk.MethodFaveGetPosts,
		label:    FavoritesDomain,
		dir:      "faves",
		pageSize: pageSize,
		offset:   startOffset,
		domain:   FavoritesDomain,
	}, nil
}

func validatePaging(pageSize, offset int) error {
	if pageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if offset < 0 {
		return fmt.Errorf("start offset cannot be negative, got %d", offset)
	}
	return nil
}

// resolveOwner translates the room and numeric id forms to an owner id
func resolveOwner(identifier string) (int64, bool) {
	if n, ok := markedNumber(identifier, roomMarker); ok {
		return n + ChatPeerOffset, true
	}
	if n, ok := markedNumber(identifier, idMarker); ok {
		return n, true
	}
	return 0, false
}

func markedNumber(s, marker string) (int64, bool) {
	rest, ok := strings.CutPrefix(s, marker)
	if !ok || rest == "" || rest[0] < '0' || rest[0] > '9' {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (w *WallFeed) Kind() Kind     { return w.kind }
func (w *WallFeed) Label() string  { return w.label }
func (w *WallFeed) Dir() string    { return w.dir }
func (w *WallFeed) Method() string { return w.method }
func (w *WallFeed) sealed()        {}

// OwnerAddressed reports whether requests carry owner_id instead of domain
func (w *WallFeed) OwnerAddressed() bool { return w.ownerAddressed }

// Offset returns the offset of the next page
func (w *WallFeed) Offset() int { return w.offset }

func (w *WallFeed) Params() url.Values {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(w.offset))
	params.Set("count", strconv.Itoa(w.pageSize))
	if w.ownerAddressed {
		params.Set("owner_id", strconv.FormatInt(w.ownerID, 10))
	} else {
		params.Set("domain", w.domain)
	}
	return params
}

func (w *WallFeed) Total(page *vk.Page) int {
	return page.Count
}

func (w *WallFeed) Advance(page *vk.Page) error {
	w.offset += w.pageSize
	return nil
}

func (w *WallFeed) Exhausted(page *vk.Page) bool {
	return w.offset >= page.Count
}

func (w *WallFeed) Position() (int, bool) {
	return w.offset, true
}

// Tasks yields one task per photo attachment, suffixed with the
// attachment's index within the post.
func (w *WallFeed) Tasks(item json.RawMessage) ([]downloader.Task, error) {
	var post vk.Post
	if err := json.Unmarshal(item, &post); err != nil {
		return nil, fmt.Errorf("failed to decode post: %w", err)
	}

	var tasks []downloader.Task
	for i, attachment := range post.Attachments {
		if attachment.Type != vk.AttachmentTypePhoto {
			continue
		}
		photoURL := attachment.Photo.LargestURL()
		if photoURL == "" {
			continue
		}
		tasks = append(tasks, downloader.Task{
			URL:  photoURL,
			Name: artifactName(post.Date, fmt.Sprintf("%02d", i)),
		})
	}
	return tasks, nil
}

// ChatAttachments pages backwards through the photos of a conversation
// using the server issued cursor.
type ChatAttachments struct {
	label    string
	peerID   int64
	pageSize int
	cursor   string
}

// NewChatAttachments creates a chat variant. peer is a numeric peer id or
// c<N> for chat room N. startCursor, if set, must be a valid cursor token.
func NewChatAttachments(peer string, pageSize int, startCursor string) (*ChatAttachments, error) {
	if err := validateIdentifier(peer); err != nil {
		return nil, err
	}
	if err := validatePaging(pageSize, 0); err != nil {
		return nil, err
	}

	peerID, err := ParsePeer(peer)
	if err != nil {
		return nil, err
	}

	if startCursor != "" {
		if _, err := ParseChatCursor(startCursor); err != nil {
			return nil, err
		}
	}

	return &ChatAttachments{
		label:    peer,
		peerID:   peerID,
		pageSize: pageSize,
		cursor:   startCursor,
	}, nil
}

// ParsePeer translates a peer identifier to a numeric peer id
func ParsePeer(peer string) (int64, error) {
	if n, ok := markedNumber(peer, roomMarker); ok {
		return n + ChatPeerOffset, nil
	}
	n, err := strconv.ParseInt(peer, 10, 64)
	if err != nil {
		return 0, &errors.ParseError{Input: peer, Reason: "peer must be numeric or c<N>"}
	}
	return n, nil
}

func (c *ChatAttachments) Kind() Kind     { return KindChat }
func (c *ChatAttachments) Label() string  { return c.label }
func (c *ChatAttachments) Dir() string    { return path.Join("chats", c.label) }
func (c *ChatAttachments) Method() string { return vk.MethodGetHistoryAttachments }
func (c *ChatAttachments) sealed()        {}

// PeerID returns the translated peer id
func (c *ChatAttachments) PeerID() int64 { return c.peerID }

// Cursor returns the cursor of the next page
func (c *ChatAttachments) Cursor() string { return c.cursor }

func (c *ChatAttachments) Params() url.Values {
	params := url.Values{}
	params.Set("media_type", "photo")
	if c.cursor != "" {
		params.Set("start_from", c.cursor)
	}
	params.Set("count", strconv.Itoa(c.pageSize))
	params.Set("peer_id", strconv.FormatInt(c.peerID, 10))
	return params
}

// Total is the message id the first page's cursor points at, or the item
// count when the first page is also the last.
func (c *ChatAttachments) Total(page *vk.Page) int {
	if page.NextFrom == "" {
		return len(page.Items)
	}
	cursor, err := ParseChatCursor(page.NextFrom)
	if err != nil {
		return ui.UnknownMax
	}
	return int(cursor.MessageID)
}

func (c *ChatAttachments) Advance(page *vk.Page) error {
	if page.NextFrom != "" {
		if _, err := ParseChatCursor(page.NextFrom); err != nil {
			return err
		}
		if page.NextFrom == c.cursor {
			return fmt.Errorf("history did not advance past %s", c.cursor)
		}
	}
	c.cursor = page.NextFrom
	return nil
}

func (c *ChatAttachments) Exhausted(page *vk.Page) bool {
	return c.cursor == ""
}

func (c *ChatAttachments) Position() (int, bool) {
	return 0, false
}

// Tasks yields the item's photo, suffixed with the photo id
func (c *ChatAttachments) Tasks(item json.RawMessage) ([]downloader.Task, error) {
	var entry vk.HistoryItem
	if err := json.Unmarshal(item, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode history item: %w", err)
	}

	photo := entry.Attachment.Photo
	photoURL := photo.LargestURL()
	if photoURL == "" {
		return nil, nil
	}
	return []downloader.Task{{
		URL:  photoURL,
		Name: artifactName(photo.Date, strconv.FormatInt(photo.ID, 10)),
	}}, nil
}
