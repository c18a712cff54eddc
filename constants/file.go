package constants

import "strings"

// MaxImageSize is the upper bound accepted by the table recognition
// service; larger files are rejected before dispatch.
const MaxImageSize = 3 * 1024 * 1024

// AllowedExtensions holds the image formats accepted by the recognition
// service.
var AllowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"bmp":  {},
	"gif":  {},
	"tiff": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
