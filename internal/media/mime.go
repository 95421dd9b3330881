package media

import (
	"log"
	"mime"
)

func init() {
	ensureMimeType(".webp", "image/webp")
	ensureMimeType(".svg", "image/svg+xml")
	ensureMimeType(".webm", "video/webm")
	ensureMimeType(".mp4", "video/mp4")
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("media: failed to register MIME type for %s: %v", ext, err)
	}
}
