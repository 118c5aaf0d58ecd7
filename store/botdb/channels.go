package botdb

import (
	"context"
	"fmt"

	"filegate"

	"go.etcd.io/bbolt"
)

// PutChannel stores an allowed channel, overwriting any previous entry.
func (d *DB) PutChannel(_ context.Context, ch *filegate.AllowedChannel) error {
	data, err := d.encode(ch)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketChannels).Put(encodeInt64(ch.ChannelID), data); err != nil {
			return fmt.Errorf("putting channel: %w", err)
		}
		return nil
	})
}

// DeleteChannel removes a channel from the allowed set.
// Deleting a missing channel is a no-op.
func (d *DB) DeleteChannel(_ context.Context, channelID int64) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).Delete(encodeInt64(channelID))
	})
}

// ListChannels returns every allowed channel in id order.
func (d *DB) ListChannels(_ context.Context) ([]filegate.AllowedChannel, error) {
	var channels []filegate.AllowedChannel
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).ForEach(func(_, v []byte) error {
			var ch filegate.AllowedChannel
			if err := d.decode(v, &ch); err != nil {
				return fmt.Errorf("decoding channel: %w", err)
			}
			channels = append(channels, ch)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return channels, nil
}
