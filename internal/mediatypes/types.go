package mediatypes

// FileType represents the kind of an accepted upload.
type FileType string

const (
	// FileTypeVideo is a video container ffmpeg decodes.
	FileTypeVideo FileType = "video"
	// FileTypeAnimation is an animated image used as a source clip.
	FileTypeAnimation FileType = "animation"
	// FileTypeOther is anything chromi does not accept.
	FileTypeOther FileType = "other"
)

// GIF is the MIME type of every conversion result.
const GIF = "image/gif"

// UploadExtensions maps the accepted upload extensions to their MIME types.
var UploadExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".gif":  GIF,
}

// GetFileType returns the FileType for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".mp4").
func GetFileType(ext string) FileType {
	mime, ok := UploadExtensions[ext]
	switch {
	case !ok:
		return FileTypeOther
	case mime == GIF:
		return FileTypeAnimation
	default:
		return FileTypeVideo
	}
}

// GetMimeType returns the MIME type for an accepted extension, or
// "application/octet-stream".
func GetMimeType(ext string) string {
	if mime, ok := UploadExtensions[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsUpload reports whether ext may be uploaded for conversion.
func IsUpload(ext string) bool {
	return GetFileType(ext) != FileTypeOther
}
