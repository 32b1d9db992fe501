package repo

import (
	"context"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

// NotifierRepo delivers digests to a platform receiver
type NotifierRepo interface {
	SendDigest(ctx context.Context, target domain.DigestTarget, digest *domain.Digest) error
}
