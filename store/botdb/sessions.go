package botdb

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"filegate"

	"go.etcd.io/bbolt"
)

// PutSession stores a session authorization, overwriting any previous window
// for the user. Re-authorization replaces, it never extends additively.
func (d *DB) PutSession(_ context.Context, session *filegate.SessionAuthorization) error {
	data, err := d.encode(session)
	if err != nil {
		return err
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		byExpiry := tx.Bucket(bucketSessionsByExpiry)

		userKey := encodeInt64(session.UserID)

		// The old expiry index key is derivable from the old payload, so no
		// reverse index is needed here.
		if old := sessions.Get(userKey); old != nil {
			var prev filegate.SessionAuthorization
			if err := d.decode(old, &prev); err != nil {
				return fmt.Errorf("decoding previous session: %w", err)
			}
			if err := byExpiry.Delete(makeSessionExpiryKey(prev.AuthorizedUntil, prev.UserID)); err != nil {
				return fmt.Errorf("deleting old expiry index: %w", err)
			}
		}

		if err := sessions.Put(userKey, data); err != nil {
			return fmt.Errorf("putting session: %w", err)
		}
		if err := byExpiry.Put(makeSessionExpiryKey(session.AuthorizedUntil, session.UserID), userKey); err != nil {
			return fmt.Errorf("putting expiry index: %w", err)
		}
		return nil
	})
}

// GetSession retrieves the session authorization for a user.
func (d *DB) GetSession(_ context.Context, userID int64) (*filegate.SessionAuthorization, error) {
	var session filegate.SessionAuthorization
	err := d.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSessions).Get(encodeInt64(userID))
		if val == nil {
			return ErrNotFound
		}
		return d.decode(val, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a user's session authorization and its index entry.
func (d *DB) DeleteSession(_ context.Context, userID int64) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		byExpiry := tx.Bucket(bucketSessionsByExpiry)

		userKey := encodeInt64(userID)
		val := sessions.Get(userKey)
		if val == nil {
			return nil
		}

		var session filegate.SessionAuthorization
		if err := d.decode(val, &session); err != nil {
			return fmt.Errorf("decoding session for user %d: %w", userID, err)
		}

		if err := byExpiry.Delete(makeSessionExpiryKey(session.AuthorizedUntil, session.UserID)); err != nil {
			return fmt.Errorf("deleting expiry index: %w", err)
		}
		return sessions.Delete(userKey)
	})
}

// ExpiredSessions returns user ids whose authorization window closed at or
// before the given time, oldest first, up to limit.
func (d *DB) ExpiredSessions(_ context.Context, before time.Time, limit int) ([]int64, error) {
	var users []int64
	cutoff := encodeTimestamp(before.Add(1)) // authorized_until <= before

	err := d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketSessionsByExpiry).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if bytes.Compare(k[:8], cutoff) >= 0 {
				break
			}
			if limit > 0 && len(users) >= limit {
				break
			}
			users = append(users, decodeInt64(v))
		}
		return nil
	})
	return users, err
}
