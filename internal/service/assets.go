package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"path"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/logger"
)

var imageExtensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"webp": ".webp",
}

var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// fetchDerivedAssets copies the thumbnail and every artifact of a ready
// video into the blob store and records their keys on v. A failed asset is
// logged and left empty; it never fails the video.
func (c *Coordinator) fetchDerivedAssets(ctx context.Context, v *domain.Video) {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldVideoID: v.ID,
		"index_video_id":    v.IndexVideoID,
	})

	if key, err := c.storeThumbnail(ctx, v.IndexVideoID); err != nil {
		log.WithError(err).Warn("Failed to store thumbnail")
	} else if key == "" {
		log.Info("Index has no thumbnail for video")
	} else {
		v.ThumbnailKey = key
	}

	for _, kind := range domain.ArtifactKinds {
		key, err := c.storeArtifact(ctx, kind, v.IndexVideoID)
		if err != nil {
			log.WithError(err).WithField("artifact", kind).Warn("Failed to store artifact")
			continue
		}
		v.SetArtifactKey(kind, key)
	}
}

func (c *Coordinator) storeThumbnail(ctx context.Context, videoID string) (string, error) {
	thumbURL, err := callGateway(ctx, c, "thumbnail", func(ctx context.Context) (string, error) {
		return c.index.Thumbnail(ctx, videoID)
	})
	if err != nil || thumbURL == "" {
		return "", err
	}

	data, err := callGateway(ctx, c, "fetch_thumbnail", func(ctx context.Context) ([]byte, error) {
		return c.index.Fetch(ctx, thumbURL)
	})
	if err != nil {
		return "", err
	}

	ext := thumbnailExt(thumbURL, data)
	key := "thumbnail/" + videoID + ext
	if err := c.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), imageContentTypes[ext]); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// thumbnailExt takes the extension from the URL path, then from the image
// header, then falls back to .jpg.
func thumbnailExt(rawURL string, data []byte) string {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if _, ok := imageContentTypes[ext]; ok {
			return ext
		}
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if ext, ok := imageExtensions[format]; ok {
			return ext
		}
	}
	return ".jpg"
}

func (c *Coordinator) storeArtifact(ctx context.Context, kind domain.ArtifactKind, videoID string) (string, error) {
	raw, err := callGateway(ctx, c, "artifact", func(ctx context.Context) (json.RawMessage, error) {
		return c.index.Artifact(ctx, kind, videoID)
	})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("invalid %s JSON: %w", kind, err)
	}

	key := string(kind) + "/" + videoID + ".json"
	if err := c.store.Upload(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/json"); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}
