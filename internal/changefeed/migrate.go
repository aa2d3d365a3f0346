package changefeed

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/telhawk-systems/telhawk-devicebridge/migrations"
)

// MigrationResult reports the schema version after a migration run.
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies (up) or reverts (down) every embedded migration against dsn.
func Migrate(dsn string, up bool) (MigrationResult, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed, err = false, nil
	}
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{Changed: changed}, nil
	}
	if err != nil {
		return MigrationResult{}, fmt.Errorf("could not get migration version: %w", err)
	}
	return MigrationResult{Version: version, Dirty: dirty, Changed: changed}, nil
}
