package harvest

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"vkharvest/internal/downloader"
	"vkharvest/pkg/storage"
	"vkharvest/pkg/ui"
)

// Session is one harvest of one collection into its own directory. A
// session owns its variant's cursor and its progress reporter; neither is
// shared with other sessions.
type Session struct {
	ID       string
	Variant  Variant
	Storage  downloader.Storage
	Reporter ui.Reporter
	Dir      string
}

// NewSession prepares the destination directory under root for v. A nil
// reporter tracks progress without drawing it.
func NewSession(root string, v Variant, reporter ui.Reporter) (*Session, error) {
	dir := filepath.Join(root, filepath.FromSlash(v.Dir()))

	store, err := storage.NewManager(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", dir, err)
	}

	if reporter == nil {
		reporter = ui.NewTracker(nil)
	}

	return &Session{
		ID:       uuid.NewString(),
		Variant:  v,
		Storage:  store,
		Reporter: reporter,
		Dir:      dir,
	}, nil
}
