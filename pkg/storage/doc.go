// Package storage writes harvested images to a destination directory.
//
// A Manager owns one directory. Exists answers whether an artifact name is
// already present, which is how repeated harvests skip work they did before.
// Save writes through a temporary file and renames it into place so that a
// crash or failed download never leaves a truncated image under its final
// name.
//
// Usage:
//
//	manager, err := storage.NewManager("data/walls/durov")
//	if err != nil {
//	    return err
//	}
//	if !manager.Exists(name) {
//	    _, err = manager.Save(name, body)
//	}
package storage
