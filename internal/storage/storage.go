// Package storage moves source and rendered videos between object storage
// and local scratch files.
package storage

import (
	"context"
	"net/url"
	"strings"
)

// ContentTypeMP4 is the content type of every rendered output.
const ContentTypeMP4 = "video/mp4"

// BlobStore fetches and publishes objects. Implementations return
// fault.ErrStorage for every failure.
type BlobStore interface {
	// Download copies bucket/object into dstPath, creating or truncating it.
	Download(ctx context.Context, bucket, object, dstPath string) error
	// Upload copies srcPath to bucket/object and returns the object's
	// public URL.
	Upload(ctx context.Context, bucket, object, srcPath, contentType string) (string, error)
}

// PublicURL is the anonymous HTTPS address of a public GCS object.
func PublicURL(bucket, object string) string {
	segments := strings.Split(object, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "https://storage.googleapis.com/" + bucket + "/" + strings.Join(segments, "/")
}
