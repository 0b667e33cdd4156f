package lookup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inkpad/inkpad"
)

// IndexDir walks dir and indexes every markdown document it finds, returning
// the number of documents indexed. The filename stem stands in for a missing
// frontmatter docId or title.
func IndexDir(ctx context.Context, store Store, dir string) (int, error) {
	indexed := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".md" {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		fm, err := inkpad.ReadFrontmatter(content)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		stem := strings.TrimSuffix(filepath.Base(path), ".md")
		rec := Record{DocID: fm.DocID, Title: fm.Title}
		if rec.DocID == "" {
			rec.DocID = stem
		}
		if rec.Title == "" {
			rec.Title = stem
		}
		if err := store.Put(ctx, rec); err != nil {
			return fmt.Errorf("failed to index %s: %w", path, err)
		}
		indexed++
		return nil
	})
	return indexed, err
}
