package app

import (
	"context"
	"fmt"
)

// Migrate applies the SQL files under database.migrations_path in name order.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx, "migrate")
	if err != nil {
		return err
	}
	defer closeStore()

	applied, err := store.Migrate(ctx, a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	for _, name := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", name)
	}
	a.Logger.Info().Int("files", len(applied)).Msg("migrations applied")
	return nil
}
