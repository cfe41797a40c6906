package downloads

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

const (
	defaultGrantTTL     = 48 * time.Hour
	defaultMaxDownloads = 5
	defaultURLTTL       = 15 * time.Minute
)

type urlSigner interface {
	SignedReadURL(bucket, object string, ttl time.Duration) (string, error)
}

// Deliverable is one purchased digital item needing a grant.
type Deliverable struct {
	OrderItemID    uuid.UUID
	ProductID      uuid.UUID
	DeliverableRef string
}

// RedeemResult is returned for a successful download.
type RedeemResult struct {
	ProductID          uuid.UUID `json:"product_id"`
	DeliverableRef     string    `json:"deliverable_ref"`
	URL                string    `json:"url,omitempty"`
	RemainingDownloads int       `json:"remaining_downloads"`
	ExpiresAt          time.Time `json:"expires_at"`
}

type Service interface {
	WithTx(tx *gorm.DB) Service
	Issue(ctx context.Context, orderID uuid.UUID, items []Deliverable) ([]models.DownloadGrant, error)
	Redeem(ctx context.Context, token string) (*RedeemResult, error)
}

type service struct {
	repo   Repository
	signer urlSigner
	cfg    config.DownloadsConfig
	now    func() time.Time
}

// NewService builds the download service. signer may be nil, in which case
// Redeem returns the deliverable reference without a signed url.
func NewService(repo Repository, signer urlSigner, cfg config.DownloadsConfig) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "downloads repository required")
	}
	if cfg.GrantTTL <= 0 {
		cfg.GrantTTL = defaultGrantTTL
	}
	if cfg.MaxDownloads <= 0 {
		cfg.MaxDownloads = defaultMaxDownloads
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultURLTTL
	}
	return &service{repo: repo, signer: signer, cfg: cfg, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx), signer: s.signer, cfg: s.cfg, now: s.now}
}

func (s *service) Issue(ctx context.Context, orderID uuid.UUID, items []Deliverable) ([]models.DownloadGrant, error) {
	if len(items) == 0 {
		return nil, nil
	}
	expiresAt := s.now().UTC().Add(s.cfg.GrantTTL)
	grants := make([]models.DownloadGrant, 0, len(items))
	for _, item := range items {
		token, err := NewToken()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate download token")
		}
		grants = append(grants, models.DownloadGrant{
			OrderID:        orderID,
			OrderItemID:    item.OrderItemID,
			ProductID:      item.ProductID,
			DeliverableRef: item.DeliverableRef,
			Token:          token,
			ExpiresAt:      expiresAt,
			MaxDownloads:   s.cfg.MaxDownloads,
		})
	}
	if err := s.repo.CreateMany(ctx, grants); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *service) Redeem(ctx context.Context, token string) (*RedeemResult, error) {
	if len(token) != 64 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "download not found")
	}
	grant, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load download grant")
	}
	if grant == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "download not found")
	}

	now := s.now().UTC()
	if !now.Before(grant.ExpiresAt) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "download link has expired")
	}
	ok, err := s.repo.Consume(ctx, grant.ID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record download")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "download limit reached")
	}

	result := &RedeemResult{
		ProductID:          grant.ProductID,
		DeliverableRef:     grant.DeliverableRef,
		RemainingDownloads: grant.MaxDownloads - grant.DownloadCount - 1,
		ExpiresAt:          grant.ExpiresAt,
	}
	if s.signer != nil {
		url, err := s.signer.SignedReadURL("", grant.DeliverableRef, s.cfg.SignedURLTTL)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign download url")
		}
		result.URL = url
	}
	return result, nil
}

// NewToken returns 32 random bytes hex-encoded.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
