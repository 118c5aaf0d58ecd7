package botdb

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"filegate"

	"go.etcd.io/bbolt"
)

// PutToken stores an access token and updates the user and expiry indexes.
// A user holds at most one token at a time; storing a token for a user
// replaces any previous one.
func (d *DB) PutToken(_ context.Context, token *filegate.AccessToken) error {
	data, err := d.encode(token)
	if err != nil {
		return err
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		tokens := tx.Bucket(bucketTokens)
		byUser := tx.Bucket(bucketTokensByUser)
		byExpiry := tx.Bucket(bucketTokensByExpiry)
		expiryByID := tx.Bucket(bucketTokenExpiryByID)

		userKey := encodeInt64(token.UserID)

		// Replace any previous token held by this user.
		if oldID := byUser.Get(userKey); oldID != nil && !bytes.Equal(oldID, []byte(token.TokenID)) {
			if err := d.deleteTokenInTx(tx, string(oldID)); err != nil {
				return fmt.Errorf("replacing previous token: %w", err)
			}
		}

		if err := tokens.Put([]byte(token.TokenID), data); err != nil {
			return fmt.Errorf("putting token: %w", err)
		}
		if err := byUser.Put(userKey, []byte(token.TokenID)); err != nil {
			return fmt.Errorf("putting user index: %w", err)
		}

		// Update forward+reverse expiry indexes, dropping any stale entry.
		if tsBytes := expiryByID.Get([]byte(token.TokenID)); tsBytes != nil {
			oldKey := makeTokenExpiryKey(decodeTimestamp(tsBytes), token.TokenID)
			if err := byExpiry.Delete(oldKey); err != nil {
				return fmt.Errorf("deleting old expiry index: %w", err)
			}
		}
		if err := byExpiry.Put(makeTokenExpiryKey(token.Expiry, token.TokenID), []byte(token.TokenID)); err != nil {
			return fmt.Errorf("putting expiry index: %w", err)
		}
		if err := expiryByID.Put([]byte(token.TokenID), encodeTimestamp(token.Expiry)); err != nil {
			return fmt.Errorf("putting expiry reverse index: %w", err)
		}
		return nil
	})
}

// GetToken retrieves an access token by id.
func (d *DB) GetToken(_ context.Context, tokenID string) (*filegate.AccessToken, error) {
	var token filegate.AccessToken
	err := d.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketTokens).Get([]byte(tokenID))
		if val == nil {
			return ErrNotFound
		}
		return d.decode(val, &token)
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// FindUserToken returns the user's token if one exists and is unexpired at
// the given instant. Expired tokens are reported as ErrNotFound; the reaper
// removes them later.
func (d *DB) FindUserToken(_ context.Context, userID int64, now time.Time) (*filegate.AccessToken, error) {
	var token filegate.AccessToken
	err := d.db.View(func(tx *bbolt.Tx) error {
		tokenID := tx.Bucket(bucketTokensByUser).Get(encodeInt64(userID))
		if tokenID == nil {
			return ErrNotFound
		}
		val := tx.Bucket(bucketTokens).Get(tokenID)
		if val == nil {
			return ErrNotFound
		}
		return d.decode(val, &token)
	})
	if err != nil {
		return nil, err
	}
	if token.Expired(now) {
		return nil, ErrNotFound
	}
	return &token, nil
}

// DeleteToken removes a token and its index entries.
func (d *DB) DeleteToken(_ context.Context, tokenID string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return d.deleteTokenInTx(tx, tokenID)
	})
}

func (d *DB) deleteTokenInTx(tx *bbolt.Tx, tokenID string) error {
	tokens := tx.Bucket(bucketTokens)
	byUser := tx.Bucket(bucketTokensByUser)
	byExpiry := tx.Bucket(bucketTokensByExpiry)
	expiryByID := tx.Bucket(bucketTokenExpiryByID)

	val := tokens.Get([]byte(tokenID))
	if val == nil {
		return nil
	}

	var token filegate.AccessToken
	if err := d.decode(val, &token); err != nil {
		return fmt.Errorf("decoding token %s: %w", tokenID, err)
	}

	// Drop the user index only if it still points at this token.
	userKey := encodeInt64(token.UserID)
	if cur := byUser.Get(userKey); bytes.Equal(cur, []byte(tokenID)) {
		if err := byUser.Delete(userKey); err != nil {
			return fmt.Errorf("deleting user index: %w", err)
		}
	}

	if tsBytes := expiryByID.Get([]byte(tokenID)); tsBytes != nil {
		if err := byExpiry.Delete(makeTokenExpiryKey(decodeTimestamp(tsBytes), tokenID)); err != nil {
			return fmt.Errorf("deleting expiry index: %w", err)
		}
		if err := expiryByID.Delete([]byte(tokenID)); err != nil {
			return fmt.Errorf("deleting expiry reverse index: %w", err)
		}
	}

	return tokens.Delete([]byte(tokenID))
}

// ExpiredTokens returns ids of tokens whose expiry is at or before the given
// time, oldest first, up to limit.
func (d *DB) ExpiredTokens(_ context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	cutoff := encodeTimestamp(before.Add(1)) // expiry <= before, not strictly less

	err := d.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketTokensByExpiry).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			// Keys are sorted by timestamp, so stop once past the cutoff.
			if bytes.Compare(k[:8], cutoff) >= 0 {
				break
			}
			if limit > 0 && len(ids) >= limit {
				break
			}
			ids = append(ids, string(v))
		}
		return nil
	})
	return ids, err
}
