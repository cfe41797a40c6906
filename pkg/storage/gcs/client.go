package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

// maxSignedURLExpiry is the V4 signing limit.
const maxSignedURLExpiry = 7 * 24 * time.Hour

var (
	errNoSigner      = errors.New("gcs signer not initialized")
	errInvalidBucket = errors.New("bucket is required")
	errInvalidObject = errors.New("object is required")
)

// Client signs time-limited read URLs for deliverables stored in GCS.
type Client struct {
	defaultBucket  string
	googleAccessID string
	privateKey     []byte
	now            func() time.Time
}

func NewClient(ctx context.Context, cfg config.DownloadsConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	var raw []byte
	switch {
	case gcp.CredentialsJSON != "":
		raw = []byte(gcp.CredentialsJSON)
	case gcp.ApplicationCredentials != "":
		data, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		raw = data
	default:
		return nil, errors.New("service account credentials are required to sign urls")
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, errors.New("invalid service account credentials")
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs url signer initialized")
	}
	return &Client{
		defaultBucket:  strings.TrimSpace(cfg.BucketName),
		googleAccessID: creds.ClientEmail,
		privateKey:     []byte(creds.PrivateKey),
		now:            time.Now,
	}, nil
}

func (c *Client) DefaultBucket() string {
	if c == nil {
		return ""
	}
	return c.defaultBucket
}

// SignedReadURL returns a V4 signed GET url for object valid for ttl. An empty
// bucket uses the configured deliverables bucket.
func (c *Client) SignedReadURL(bucket, object string, ttl time.Duration) (string, error) {
	if c == nil || c.googleAccessID == "" || len(c.privateKey) == 0 {
		return "", errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		bucket = c.defaultBucket
	}
	if bucket == "" {
		return "", errInvalidBucket
	}
	object = strings.TrimPrefix(strings.TrimSpace(object), "/")
	if object == "" {
		return "", errInvalidObject
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	if ttl > maxSignedURLExpiry {
		ttl = maxSignedURLExpiry
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	signed, err := storage.SignedURL(bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: c.googleAccessID,
		PrivateKey:     c.privateKey,
		Method:         http.MethodGet,
		Expires:        now().Add(ttl),
		Scheme:         storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return signed, nil
}
