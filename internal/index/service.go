package index

import (
	"context"
	"encoding/base64"
	"strconv"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
	"github.com/punchamoorthee/ledgerpay/internal/store"
)

const defaultLimit = 50

// Service serves the eventually consistent listing. An order committed a
// moment ago may be absent here and appear on a later call; GetOrder is the
// strongly consistent alternative for a single order.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

func (s *Service) ListOrders(ctx context.Context, userID string, limit int, pageToken string) (*domain.ListOrdersResponse, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := 0
	if pageToken != "" {
		n, err := DecodePageToken(pageToken)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		offset = n
	}

	entries, err := s.store.ListOrders(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	next := ""
	if len(entries) == limit {
		next = EncodePageToken(offset + limit)
	}
	return &domain.ListOrdersResponse{UserID: userID, Orders: entries, NextPageToken: next}, nil
}

func EncodePageToken(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func DecodePageToken(s string) (int, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, domain.ErrInvalidPageToken
	}
	return n, nil
}
