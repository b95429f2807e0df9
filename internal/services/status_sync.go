package services

import (
	"context"
	"log"
)

// SyncStatus reconciles persisted sessions with the process state on
// startup: sessions the store still shows as recording belong to an earlier
// process and can no longer receive events.
func SyncStatus(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	n, err := store.AbandonUnfinished(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Marked %d unfinished recording sessions as abandoned", n)
	}
	return nil
}
