package main

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Walker discovers the files a backup snapshot should contain. Real
// directory walking, ignore-pattern matching, and config-file driven
// selection are an external collaborator (spec §1 Non-goals); this
// interface is the seam such a collaborator plugs into. defaultWalker
// below is the minimal stand-in used when nothing else is wired in: every
// regular file under root, no ignore rules.
type Walker interface {
	Walk(root string, fn func(relPath string, info os.FileInfo) error) error
}

type defaultWalker struct{}

func (defaultWalker) Walk(root string, fn func(relPath string, info os.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info)
	})
}
