package helpers

import (
	"net/url"
	"strings"
)

// Turns an absolute file system path into a "file://" URL. Windows-style paths
// with volumes become URL-style paths:
//
//	"/Users/User/a.mjs" => "file:///Users/User/a.mjs"
//	"C:\\Users\\User\\a.mjs" => "file:///C:/Users/User/a.mjs"
func FileURLFromFilePath(filePath string) *url.URL {
	filePath = strings.ReplaceAll(filePath, "\\", "/")
	if !strings.HasPrefix(filePath, "/") {
		filePath = "/" + filePath
	}
	return &url.URL{Scheme: "file", Path: filePath}
}

// Import specifiers always use forward slashes, even on Windows
func ToSlash(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}
