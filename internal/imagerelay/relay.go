// Package imagerelay copies provider-hosted images into our own bucket so
// product media never depends on a third party keeping URLs alive.
package imagerelay

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cardops/internal/apperr"
	"cardops/internal/util"
)

const (
	maxDimension  = 1600
	objectPrefix  = "products"
	downloadLimit = 20 << 20 // 20 MiB
)

// Relay downloads, normalizes and re-hosts images.
type Relay struct {
	bucket     *storage.BucketHandle
	bucketName string
	http       *http.Client
	logger     *zap.Logger
}

// NewRelay wraps an existing bucket handle.
func NewRelay(client *storage.Client, bucketName string) *Relay {
	return &Relay{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     util.GetLogger(),
	}
}

// RelayImage fetches one image, resizes it to fit within maxDimension on the
// long edge, re-encodes as JPEG and uploads it under a fresh object name.
// Returns the public URL of the uploaded object.
func (r *Relay) RelayImage(ctx context.Context, sourceURL string) (string, error) {
	const op = "imagerelay.RelayImage"

	data, err := r.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", apperr.New(apperr.KindValidation, op, fmt.Errorf("failed to decode image: %w", err))
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxDimension || bounds.Dy() > maxDimension {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpeg.DefaultQuality)); err != nil {
		return "", apperr.New(apperr.KindInternal, op, fmt.Errorf("failed to encode image: %w", err))
	}

	objectName := path.Join(objectPrefix, uuid.New().String()+".jpg")
	if err := r.upload(ctx, objectName, buf.Bytes()); err != nil {
		return "", err
	}

	r.logger.Debug("Relayed image",
		zap.String("source", sourceURL),
		zap.String("object", objectName))

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", r.bucketName, objectName), nil
}

// RelayAll relays every URL in order, dropping individual failures. The
// returned slice preserves the input order of the images that succeeded.
func (r *Relay) RelayAll(ctx context.Context, sourceURLs []string) []string {
	relayed := make([]string, 0, len(sourceURLs))
	for _, src := range sourceURLs {
		hosted, err := r.RelayImage(ctx, src)
		if err != nil {
			util.ImagesDroppedTotal.Inc()
			r.logger.Warn("Dropping image that failed to relay",
				zap.String("source", src),
				zap.Error(err))
			continue
		}
		util.ImagesRelayedTotal.Inc()
		relayed = append(relayed, hosted)
	}
	return relayed
}

func (r *Relay) download(ctx context.Context, sourceURL string) ([]byte, error) {
	const op = "imagerelay.download"

	if !strings.HasPrefix(sourceURL, "http://") && !strings.HasPrefix(sourceURL, "https://") {
		return nil, apperr.Newf(apperr.KindValidation, op, "unsupported image URL %q", sourceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, op, "image not found at %s", sourceURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.KindNetwork, op, "image host returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, downloadLimit))
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, op, err)
	}
	return data, nil
}

func (r *Relay) upload(ctx context.Context, objectName string, data []byte) error {
	const op = "imagerelay.upload"

	w := r.bucket.Object(objectName).NewWriter(ctx)
	w.ContentType = "image/jpeg"
	w.CacheControl = "public, max-age=86400"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return apperr.New(apperr.KindNetwork, op, fmt.Errorf("failed to write object: %w", err))
	}
	if err := w.Close(); err != nil {
		return apperr.New(apperr.KindNetwork, op, fmt.Errorf("failed to finalize object: %w", err))
	}
	return nil
}
