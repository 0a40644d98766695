package fs

import (
	"path/filepath"
	"strings"
	"time"
)

type FileType int

const (
	Document FileType = iota
	Script
	Stylesheet
	Image
	Font
	Data
	Other
)

var (
	suffixToFileType = map[string]FileType{
		// Documents
		".html": Document,
		".htm":  Document,
		// Scripts
		".js":  Script,
		".mjs": Script,
		// Stylesheets
		".css": Stylesheet,
		// Images
		".png":  Image,
		".jpg":  Image,
		".jpeg": Image,
		".gif":  Image,
		".svg":  Image,
		".webp": Image,
		".ico":  Image,
		// Fonts
		".woff":  Font,
		".woff2": Font,
		".ttf":   Font,
		// Data
		".json": Data,
		".map":  Data,
		".txt":  Data,
		".xml":  Data,
	}

	suffixToContentType = map[string]string{
		".html":  "text/html; charset=utf-8",
		".htm":   "text/html; charset=utf-8",
		".js":    "text/javascript; charset=utf-8",
		".mjs":   "text/javascript; charset=utf-8",
		".css":   "text/css; charset=utf-8",
		".png":   "image/png",
		".jpg":   "image/jpeg",
		".jpeg":  "image/jpeg",
		".gif":   "image/gif",
		".svg":   "image/svg+xml",
		".webp":  "image/webp",
		".ico":   "image/x-icon",
		".woff":  "font/woff",
		".woff2": "font/woff2",
		".ttf":   "font/ttf",
		".json":  "application/json",
		".map":   "application/json",
		".txt":   "text/plain; charset=utf-8",
		".xml":   "application/xml",
	}

	fileTypeNames = map[FileType]string{
		Document:   "document",
		Script:     "script",
		Stylesheet: "stylesheet",
		Image:      "image",
		Font:       "font",
		Data:       "data",
		Other:      "other",
	}
)

const defaultContentType = "application/octet-stream"

type (
	File struct {
		Dir          string
		Absolute     string
		Name         string
		Size         int64
		LastModified time.Time
		FileType     FileType
	}
)

func NewFile(absolutePath string, size int64, lastModified time.Time) *File {
	return &File{
		Dir:          filepath.Dir(absolutePath),
		Absolute:     absolutePath,
		Name:         filepath.Base(absolutePath),
		Size:         size,
		LastModified: lastModified,
		FileType:     parseFiletype(filepath.Base(absolutePath)),
	}
}

// ContentType is the MIME type served for the file by a static web host.
func (f *File) ContentType() string {
	ct, ok := suffixToContentType[strings.ToLower(filepath.Ext(f.Name))]
	if !ok {
		return defaultContentType
	}
	return ct
}

func (t FileType) String() string {
	name, ok := fileTypeNames[t]
	if !ok {
		return fileTypeNames[Other]
	}
	return name
}

func parseFiletype(filename string) FileType {
	ext := strings.ToLower(filepath.Ext(filename))
	ft, ok := suffixToFileType[ext]
	if !ok {
		return Other
	}
	return ft
}
