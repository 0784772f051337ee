package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore keeps records in Firestore so replays survive restarts and span instances.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{provider: provider, collection: defaultCollection}, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing firestoreRecord
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			record := existing.toRecord()
			if !record.expired(now) {
				if record.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				state := ReservationStatePending
				if record.Status == StatusCompleted {
					state = ReservationStateCompleted
				}
				result = Reservation{State: state, Record: record}
				return nil
			}
		}

		fresh := firestoreRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      string(StatusPending),
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		if err := tx.Set(ref, fresh); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: fresh.toRecord()}
		return nil
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return Reservation{}, ErrFingerprintMismatch
	}
	if err != nil {
		return Reservation{}, pfirestore.WrapError("idempotency.reserve", err)
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := firestoreRecord{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&record); err != nil {
				return err
			}
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case status.Code(err) != codes.NotFound:
			return err
		}
		record.Status = string(StatusCompleted)
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = storableHeaders(resp.Headers)
		record.ResponseBody = append([]byte(nil), resp.Body...)
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, record)
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	if err != nil {
		return pfirestore.WrapError("idempotency.save", err)
	}
	return nil
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	coll, err := s.provider.Collection(ctx, s.collection)
	if err != nil {
		return 0, err
	}
	docs, err := coll.Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	bulk := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bulk.Delete(doc.Ref); err != nil {
			bulk.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	bulk.End()
	return len(docs), nil
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	coll, err := s.provider.Collection(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(documentID(key)), nil
}
