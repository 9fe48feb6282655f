package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

const draftKeyPrefix = "purchasing:draft:"

// ErrDraftNotFound indicates the draft expired or never existed.
var ErrDraftNotFound = errors.New("console: draft not found")

// DraftRecord is a stored draft. SourceOrderID is set when the draft edits
// an existing Pending order.
type DraftRecord struct {
	ID            string           `json:"id"`
	SourceOrderID int64            `json:"source_order_id,omitempty"`
	Draft         purchasing.Draft `json:"draft"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// DraftStore persists drafts in Redis so they survive console restarts and
// failed submissions.
type DraftStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewDraftStore constructs a DraftStore.
func NewDraftStore(client *redis.Client, ttl time.Duration) *DraftStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DraftStore{client: client, ttl: ttl, now: time.Now}
}

// Create stores a new draft under a fresh id.
func (s *DraftStore) Create(ctx context.Context, draft purchasing.Draft, sourceOrderID int64) (DraftRecord, error) {
	rec := DraftRecord{ID: uuid.NewString(), SourceOrderID: sourceOrderID, Draft: draft}
	if err := s.Save(ctx, &rec); err != nil {
		return DraftRecord{}, err
	}
	return rec, nil
}

// Get loads a draft.
func (s *DraftStore) Get(ctx context.Context, id string) (DraftRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return DraftRecord{}, ErrDraftNotFound
	}
	raw, err := s.client.Get(ctx, draftKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return DraftRecord{}, ErrDraftNotFound
	}
	if err != nil {
		return DraftRecord{}, fmt.Errorf("console: load draft %s: %w", id, err)
	}
	var rec DraftRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return DraftRecord{}, fmt.Errorf("console: decode draft %s: %w", id, err)
	}
	return rec, nil
}

// Save writes the draft and refreshes its expiry.
func (s *DraftStore) Save(ctx context.Context, rec *DraftRecord) error {
	rec.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("console: encode draft %s: %w", rec.ID, err)
	}
	if err := s.client.Set(ctx, draftKeyPrefix+rec.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("console: save draft %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a draft.
func (s *DraftStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, draftKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("console: delete draft %s: %w", id, err)
	}
	return nil
}
