package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcstorage "cloud.google.com/go/storage"
	"github.com/andresmejia3/veil/internal/fault"
	"github.com/rs/zerolog"
)

// GCS is a BlobStore backed by Google Cloud Storage. Credentials come from
// the environment (Application Default Credentials, or
// STORAGE_EMULATOR_HOST for a local emulator).
type GCS struct {
	client *gcstorage.Client
	public bool
	log    zerolog.Logger
}

// NewGCS connects to Cloud Storage. When public is set every upload is made
// readable by allUsers.
func NewGCS(ctx context.Context, public bool, log zerolog.Logger) (*GCS, error) {
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{
		client: client,
		public: public,
		log:    log.With().Str("component", "storage").Str("backend", "gcs").Logger(),
	}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) Download(ctx context.Context, bucket, object, dstPath string) error {
	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return fault.Storage("download", fmt.Errorf("gs://%s/%s does not exist", bucket, object))
		}
		return fault.Storage("download", fmt.Errorf("gs://%s/%s: %w", bucket, object, err))
	}
	defer rc.Close()

	f, err := os.Create(dstPath)
	if err != nil {
		return fault.Storage("download", err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fault.Storage("download", fmt.Errorf("gs://%s/%s: %w", bucket, object, err))
	}

	g.log.Info().Str("bucket", bucket).Str("object", object).Int64("bytes", n).Msg("downloaded source")
	return nil
}

func (g *GCS) Upload(ctx context.Context, bucket, object, srcPath, contentType string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fault.Storage("upload", err)
	}
	defer f.Close()

	// Cancelling the writer's context is the only way to abandon an upload;
	// Close would commit whatever was written so far.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := g.client.Bucket(bucket).Object(object)
	w := obj.NewWriter(wctx)
	w.ContentType = contentType

	n, err := writeObject(w, cancel, f)
	if err != nil {
		return "", fault.Storage("upload", fmt.Errorf("gs://%s/%s: %w", bucket, object, err))
	}

	if g.public {
		if err := obj.ACL().Set(ctx, gcstorage.AllUsers, gcstorage.RoleReader); err != nil {
			g.log.Warn().Err(err).Str("bucket", bucket).Str("object", object).Msg("object uploaded but not made public")
			return "", fault.Storage("make public", fmt.Errorf("gs://%s/%s was uploaded but is not public: %w", bucket, object, err))
		}
	}

	g.log.Info().Str("bucket", bucket).Str("object", object).Int64("bytes", n).Bool("public", g.public).Msg("uploaded output")
	return PublicURL(bucket, object), nil
}

// writeObject streams src into w and commits it with Close. A failed copy
// calls abort instead of Close, so a truncated object is never committed.
func writeObject(w io.WriteCloser, abort context.CancelFunc, src io.Reader) (int64, error) {
	n, err := io.Copy(w, src)
	if err != nil {
		abort()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}
