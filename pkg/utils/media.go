package utils

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trueselph/wappgate/pkg/logger"
)

const downloadTimeout = 15 * time.Second

// FileType carries a detected MIME type and its coarse category
// (image, document, audio, video, poll or unknown).
type FileType struct {
	Category string
	MIME     string
}

var mimeCategories = map[string][]string{
	"image": {
		"image/jpeg", "image/png", "image/gif", "image/bmp", "image/webp",
		"image/tiff", "image/svg+xml", "image/x-icon", "image/heic",
		"image/heif", "image/x-raw",
	},
	"document": {
		"application/pdf", "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"text/plain", "text/csv", "text/html", "application/rtf",
		"application/vnd.oasis.opendocument.text",
		"application/vnd.oasis.opendocument.spreadsheet",
		"application/epub+zip",
	},
	"audio": {
		"audio/mpeg", "audio/wav", "audio/ogg", "audio/flac", "audio/aac",
		"audio/mp3", "audio/webm", "audio/amr", "audio/midi", "audio/x-m4a",
		"audio/x-aiff", "audio/x-wav", "audio/x-matroska",
	},
	"video": {
		"video/mp4", "video/mpeg", "video/ogg", "video/webm",
		"video/quicktime", "video/x-msvideo", "video/x-matroska",
		"video/x-flv", "video/x-ms-wmv", "video/3gpp", "video/avi",
	},
	"poll": {
		"application/poll", "application/x-poll-data", "application/poll+json",
	},
}

var extMimes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".m4a":  "audio/x-m4a",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
}

// DetectMimeByExt returns the MIME type for a file path based on its
// extension, or "" when unknown.
func DetectMimeByExt(path string) string {
	return extMimes[strings.ToLower(filepath.Ext(path))]
}

// CategorizeMIME buckets a MIME type into a coarse file category. Unknown or
// generic binary types are retried via the path extension before giving up.
func CategorizeMIME(mime, path string) FileType {
	if mime == "" || mime == "binary/octet-stream" || mime == "application/octet-stream" {
		if byExt := DetectMimeByExt(path); byExt != "" {
			mime = byExt
		} else if mime == "" {
			mime = "unknown/unknown"
		}
	}
	for category, list := range mimeCategories {
		for _, m := range list {
			if m == mime {
				return FileType{Category: category, MIME: mime}
			}
		}
	}
	return FileType{Category: "unknown", MIME: mime}
}

// SanitizeFilename strips path separators and traversal sequences so a
// remote-supplied name is safe to use locally.
func SanitizeFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.ReplaceAll(base, "..", "")
	base = strings.ReplaceAll(base, "/", "_")
	base = strings.ReplaceAll(base, "\\", "_")
	return base
}

// FetchAsBase64 downloads a file and returns its base64-encoded content.
// With forcePrefix the result carries a data: URI prefix with the sniffed
// MIME type, which is the form the gateway's send-file call expects.
func FetchAsBase64(url string, forcePrefix bool) (string, error) {
	client := &http.Client{Timeout: downloadTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return encodeBase64(content, url, forcePrefix), nil
}

// LoadFileAsBase64 reads a local file and base64-encodes it the same way
// FetchAsBase64 does for URLs.
func LoadFileAsBase64(path string, forcePrefix bool) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return encodeBase64(content, path, forcePrefix), nil
}

func encodeBase64(content []byte, name string, forcePrefix bool) string {
	encoded := base64.StdEncoding.EncodeToString(content)
	if !forcePrefix {
		return encoded
	}

	mime := DetectMimeByExt(name)
	if mime == "" {
		mime = http.DetectContentType(content)
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	logger.DebugCF("media", "Encoded file", map[string]interface{}{
		"name": name,
		"mime": mime,
		"size": len(content),
	})
	return fmt.Sprintf("data:%s;base64,%s", mime, encoded)
}

// Truncate shortens a string for log previews.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
