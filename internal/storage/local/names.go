package local

import (
	"regexp"
	"strings"
)

var (
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)
	fileNamePattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`)
)

// ValidSessionID reports whether id is safe to use as a directory name.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// ValidFileName reports whether name is a plain, visible file name with no path components.
func ValidFileName(name string) bool {
	return fileNamePattern.MatchString(name) && !strings.Contains(name, "..")
}

// LinksFileName is the CSV file name for a session.
func LinksFileName(sessionID string) string {
	return "links_" + sessionID + ".csv"
}

// ImagesArchiveName is the download name of a session's ZIP bundle.
func ImagesArchiveName(sessionID string) string {
	return "images_" + sessionID + ".zip"
}
