// README: Schema migrations runner (file source, applied at startup when enabled).
package infra

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies pending migrations from the migrations/ directory
// next to the working directory. ErrNoChange is not an error.
func RunMigrations(dsn string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	m, err := migrate.New("file://"+filepath.Join(cwd, "migrations"), dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
