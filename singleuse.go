package authcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Single-use tokens (password reset, email verification) pair a signed
// token with a Redis ledger record. Signature validity alone never
// redeems: the record must still exist, and consuming it deletes it in
// the same transaction, so a token succeeds exactly once.

const singleUseRecordVersion = 1

var (
	errSingleUseNotFound    = errors.New("single-use record not found")
	errSingleUseUnavailable = errors.New("single-use redis unavailable")
)

type singleUseRecord struct {
	PrincipalID string
	Purpose     string
	ExpiresAt   int64
}

type singleUseStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newSingleUseStore(redisClient redis.UniversalClient, prefix string) *singleUseStore {
	return &singleUseStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *singleUseStore) key(id string) string {
	return s.prefix + ":su:" + id
}

func (s *singleUseStore) Save(ctx context.Context, id string, record *singleUseRecord, ttl time.Duration) error {
	encoded := encodeSingleUseRecord(record)
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errSingleUseUnavailable, err)
	}
	return nil
}

// Consume atomically reads and deletes the record. A concurrent
// consume of the same id makes the WATCH transaction fail for the
// loser, which then observes the record as gone.
func (s *singleUseStore) Consume(ctx context.Context, id, purpose string, now time.Time) (*singleUseRecord, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var consumed *singleUseRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeSingleUseRecord(data)
			if err != nil {
				return err
			}

			if now.Unix() >= record.ExpiresAt || record.Purpose != purpose {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errSingleUseNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = record
			return nil
		}, key)

		switch {
		case err == nil:
			return consumed, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return nil, errSingleUseNotFound
		case errors.Is(err, errSingleUseNotFound):
			return nil, errSingleUseNotFound
		default:
			return nil, fmt.Errorf("%w: %v", errSingleUseUnavailable, err)
		}
	}

	return nil, fmt.Errorf("%w: transaction retries exhausted", errSingleUseUnavailable)
}

func encodeSingleUseRecord(record *singleUseRecord) []byte {
	var buf bytes.Buffer
	buf.WriteByte(singleUseRecordVersion)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(record.ExpiresAt))
	buf.Write(ts[:])
	buf.WriteByte(byte(len(record.Purpose)))
	buf.WriteString(record.Purpose)
	buf.WriteByte(byte(len(record.PrincipalID)))
	buf.WriteString(record.PrincipalID)
	return buf.Bytes()
}

func decodeSingleUseRecord(data []byte) (*singleUseRecord, error) {
	if len(data) < 10 || data[0] != singleUseRecordVersion {
		return nil, errSingleUseNotFound
	}
	ts := binary.BigEndian.Uint64(data[1:9])
	idx := 9
	purpose, idx, ok := readString8(data, idx)
	if !ok {
		return nil, errSingleUseNotFound
	}
	principalID, _, ok := readString8(data, idx)
	if !ok {
		return nil, errSingleUseNotFound
	}
	return &singleUseRecord{
		PrincipalID: principalID,
		Purpose:     purpose,
		ExpiresAt:   int64(ts),
	}, nil
}

func readString8(data []byte, idx int) (string, int, bool) {
	if idx >= len(data) {
		return "", idx, false
	}
	n := int(data[idx])
	idx++
	if idx+n > len(data) {
		return "", idx, false
	}
	return string(data[idx : idx+n]), idx + n, true
}
