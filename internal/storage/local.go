package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/rs/zerolog"
)

// Local is a BlobStore over a directory tree: buckets are subdirectories of
// Root and objects are files below them.
type Local struct {
	Root string
	// BaseURL prefixes returned URLs. Empty means file:// paths.
	BaseURL string
	log     zerolog.Logger
}

func NewLocal(root, baseURL string, log zerolog.Logger) *Local {
	return &Local{
		Root:    root,
		BaseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("component", "storage").Str("backend", "local").Logger(),
	}
}

// resolve maps bucket/object to a path under Root, refusing anything that
// would escape it.
func (l *Local) resolve(bucket, object string) (string, error) {
	if bucket == "" || object == "" {
		return "", fmt.Errorf("bucket and object are required")
	}
	obj := filepath.FromSlash(object)
	if !filepath.IsLocal(bucket) || strings.ContainsRune(bucket, filepath.Separator) || !filepath.IsLocal(obj) {
		return "", fmt.Errorf("%s/%s escapes the storage root", bucket, object)
	}
	return filepath.Join(l.Root, bucket, obj), nil
}

func (l *Local) Download(ctx context.Context, bucket, object, dstPath string) error {
	src, err := l.resolve(bucket, object)
	if err != nil {
		return fault.Storage("download", err)
	}
	if err := ctx.Err(); err != nil {
		return fault.Storage("download", err)
	}
	n, err := copyFile(src, dstPath)
	if err != nil {
		return fault.Storage("download", err)
	}
	l.log.Info().Str("bucket", bucket).Str("object", object).Int64("bytes", n).Msg("downloaded source")
	return nil
}

func (l *Local) Upload(ctx context.Context, bucket, object, srcPath, _ string) (string, error) {
	dst, err := l.resolve(bucket, object)
	if err != nil {
		return "", fault.Storage("upload", err)
	}
	if err := ctx.Err(); err != nil {
		return "", fault.Storage("upload", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fault.Storage("upload", err)
	}
	n, err := copyFile(srcPath, dst)
	if err != nil {
		return "", fault.Storage("upload", err)
	}
	l.log.Info().Str("bucket", bucket).Str("object", object).Int64("bytes", n).Msg("uploaded output")

	if l.BaseURL == "" {
		return "file://" + filepath.ToSlash(dst), nil
	}
	return l.BaseURL + "/" + bucket + "/" + object, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	// Written beside dst and renamed into place, so a failed copy never
	// leaves a truncated object under its final name.
	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".partial-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(out.Name(), 0o644)
	}
	if err == nil {
		err = os.Rename(out.Name(), dst)
	}
	if err != nil {
		os.Remove(out.Name())
		return n, err
	}
	return n, nil
}
