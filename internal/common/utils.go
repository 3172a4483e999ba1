package common

import "strings"

var (
	skipFolderList = []string{"$RECYCLE.BIN", ".Spotlight", ".fseventsd", "__MACOSX"}
	skipFileList   = []string{"Thumbs.db", "desktop.ini"}
)

// ShouldSkipFolder reports whether path lies inside a system folder that
// never holds dataset images.
func ShouldSkipFolder(path string) bool {
	for _, item := range skipFolderList {
		if strings.Contains(path, item) {
			return true
		}
	}
	return false
}

// ShouldSkipEntry reports whether a directory entry name should be left out
// of a dataset listing: hidden files, AppleDouble files and OS thumbnails.
func ShouldSkipEntry(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return true
	}
	for _, item := range skipFileList {
		if strings.EqualFold(name, item) {
			return true
		}
	}
	return ShouldSkipFolder(name)
}
