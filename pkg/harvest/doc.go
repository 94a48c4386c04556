// Package harvest drains paginated VK collections and saves every photo
// they reference.
//
// Three collection kinds are supported, each a Variant:
//   - WallFeed pages through a wall by offset (wall.get)
//   - the favorites feed is a WallFeed over fave.getPosts
//   - ChatAttachments follows the next_from cursor of a conversation's
//     photo history (messages.getHistoryAttachments)
//
// A Harvester runs one Session at a time:
//
//	wall, err := harvest.NewWallFeed("durov", 50, 0)
//	if err != nil {
//	    return err
//	}
//	session, err := harvest.NewSession("./data", wall, ui.NewTracker(nil))
//	if err != nil {
//	    return err
//	}
//	summary := harvest.NewHarvester(client, client, 8, log).Run(ctx, session)
//
// Pages are fetched strictly in sequence. All photos of a page are
// downloaded concurrently and the page is finished before the next one is
// requested. Photos already on disk are never fetched again, so an
// interrupted harvest can simply be run again.
//
// Artifacts are named after the timestamp of the post (walls) or photo
// (chats) in local time, followed by the attachment index or the photo id:
//
//	walls/durov/20240309-181502-00.jpg
//	chats/c7/20240309-181502-457239017.jpg
package harvest
