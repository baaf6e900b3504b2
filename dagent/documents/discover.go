package documents

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ignore "github.com/sabhiram/go-gitignore"
)

// Discover walks dir and returns every .pptx and .xlsx file not excluded by
// ignoreFile (gitignore syntax, relative to dir). A missing ignore file is fine.
// Hidden directories and Office lock files (~$name) are always skipped.
func Discover(dir, ignoreFile string) (conversation.Documents, error) {
	var docs conversation.Documents

	matcher := ignore.CompileIgnoreLines()
	if ignoreFile != "" {
		p := ignoreFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if _, err := os.Stat(p); err == nil {
			m, err := ignore.CompileIgnoreFile(p)
			if err != nil {
				return docs, err
			}
			matcher = m
		} else if !errors.Is(err, fs.ErrNotExist) {
			return docs, err
		}
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), "~$") || matcher.MatchesPath(rel) {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".pptx":
			docs.PPTXPaths = append(docs.PPTXPaths, p)
		case ".xlsx":
			docs.ExcelPaths = append(docs.ExcelPaths, p)
		}
		return nil
	})
	sort.Strings(docs.PPTXPaths)
	sort.Strings(docs.ExcelPaths)
	return docs, err
}
