// Package sniff validates binary payloads before they are trusted as assets.
//
// Servers routinely mislabel downloads as application/octet-stream, and
// share-link providers serve HTML interstitials with a 200 status, so
// content is always checked by magic number rather than by transport
// metadata alone.
package sniff

import (
	"bytes"
	"strings"

	"github.com/h2non/filetype"
)

// ZIP local file, end-of-central-directory and data-descriptor signatures.
var zipSignatures = [][2]byte{
	{0x03, 0x04},
	{0x05, 0x06},
	{0x07, 0x08},
}

// LooksLikeZip reports whether b starts with a ZIP signature. It checks the
// first four bytes: "PK" followed by one of the three known signature pairs.
func LooksLikeZip(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	if b[0] != 'P' || b[1] != 'K' {
		return false
	}
	for _, sig := range zipSignatures {
		if b[2] == sig[0] && b[3] == sig[1] {
			return true
		}
	}
	return false
}

// LooksLikeHTML reports whether b is plausibly an HTML document. Used to
// reject error pages and download interstitials served in place of archive
// bytes.
func LooksLikeHTML(b []byte) bool {
	head := b
	if len(head) > 512 {
		head = head[:512]
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")
	lower := bytes.ToLower(trimmed)
	for _, prefix := range []string{"<!doctype html", "<html", "<head", "<body"} {
		if bytes.HasPrefix(lower, []byte(prefix)) {
			return true
		}
	}
	return false
}

// DetectMime sniffs the content type from magic numbers. Returns
// "application/octet-stream" when the content is unrecognized.
func DetectMime(b []byte) string {
	t, err := filetype.Match(b)
	if err != nil || t == filetype.Unknown {
		return "application/octet-stream"
	}
	return t.MIME.Value
}

var mimeByExt = map[string]string{
	"zip":  "application/zip",
	"fbx":  "application/octet-stream",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tga":  "image/x-tga",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"json": "application/json",
	"yaml": "application/yaml",
	"yml":  "application/yaml",
}

// MimeByExtension maps a file extension (with or without the leading dot)
// to a transport MIME type. Unknown extensions map to
// application/octet-stream; callers must not use this to validate content.
func MimeByExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if m, ok := mimeByExt[ext]; ok {
		return m
	}
	return "application/octet-stream"
}
