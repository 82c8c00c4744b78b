package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"options-harvester/internal/storage"
)

// Purge deletes option observations older than the configured cutoff.
func (a *App) Purge(ctx context.Context, opts PurgeOptions) error {
	if opts.OlderThanDays <= 0 {
		return errors.New("--older-than-days must be greater than zero")
	}

	var families []storage.Family
	if opts.Family == "all" {
		families = []storage.Family{storage.FamilyIndex, storage.FamilyConstituent}
	} else {
		family, err := resolveFamily(opts.Family)
		if err != nil {
			return err
		}
		families = []storage.Family{family}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot purge")
	}
	defer closeStore()

	cutoff := time.Now().UTC().AddDate(0, 0, -opts.OlderThanDays)

	for _, family := range families {
		deleted, err := store.PurgeOlderThan(ctx, family, cutoff)
		if err != nil {
			return err
		}
		a.Logger.Info().Str("family", string(family)).Int64("deleted", deleted).Time("cutoff", cutoff).Msg("purged aged rows")
		fmt.Fprintf(os.Stdout, "%s: deleted %d rows older than %s\n", family, deleted, cutoff.Format("2006-01-02"))
	}
	return nil
}
