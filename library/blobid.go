package library

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"mime"
	"slices"
	"strings"

	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/interfaces"
)

// preferredExtensions pins the extension for common types so that blob ids
// do not depend on the mime tables installed on the host.
var preferredExtensions = map[string]string{
	"application/gzip":         ".gz",
	"application/json":         ".json",
	"application/octet-stream": ".bin",
	"application/pdf":          ".pdf",
	"application/xml":          ".xml",
	"application/zip":          ".zip",
	"audio/mpeg":               ".mp3",
	"audio/ogg":                ".oga",
	"audio/wav":                ".wav",
	"image/avif":               ".avif",
	"image/bmp":                ".bmp",
	"image/gif":                ".gif",
	"image/jpeg":               ".jpg",
	"image/png":                ".png",
	"image/svg+xml":            ".svg",
	"image/tiff":               ".tiff",
	"image/webp":               ".webp",
	"text/css":                 ".css",
	"text/csv":                 ".csv",
	"text/html":                ".html",
	"text/markdown":            ".md",
	"text/plain":               ".txt",
	"video/mp4":                ".mp4",
	"video/mpeg":               ".mpeg",
	"video/quicktime":          ".mov",
	"video/webm":               ".webm",
}

// ExtensionForType returns the file extension (with leading dot) used in
// blob ids for a MIME type, or an empty string when none is known. Media
// type parameters are ignored and ".jpe" is normalized to ".jpg".
func ExtensionForType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if mediaType == "" {
		return ""
	}

	ext, ok := preferredExtensions[mediaType]
	if !ok {
		exts, err := mime.ExtensionsByType(mediaType)
		if err != nil || len(exts) == 0 {
			return ""
		}
		ext = slices.Min(exts)
	}
	if ext == ".jpe" {
		ext = ".jpg"
	}
	return ext
}

// BlobIDFor derives the blob id of the content. Prehashed content supplies
// its digest; anything else is streamed through SHA-1 in bounded chunks and
// its body is closed before returning.
func BlobIDFor(c interfaces.Content) (interfaces.BlobID, error) {
	digest, err := sha1Hex(c)
	if err != nil {
		return "", err
	}
	return interfaces.BlobID(digest + ExtensionForType(c.Type())), nil
}

func sha1Hex(c interfaces.Content) (string, error) {
	if pc, ok := c.(interfaces.PrehashedContent); ok {
		return pc.SHA1(), nil
	}

	body, err := c.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open content for hashing: %w", err)
	}
	defer body.Close()

	hasher := sha1.New()
	if _, err := content.Copy(hasher, body, nil, content.DefaultChunkSize); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
