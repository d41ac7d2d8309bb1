package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	auditdomain "github.com/smallbiznis/spendledger/internal/audit/domain"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	reconciledomain "github.com/smallbiznis/spendledger/internal/reconcile/domain"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted model, parents before children.
func Models() []any {
	return []any{
		&inventorydomain.Batch{},
		&inventorydomain.Customer{},
		&inventorydomain.InvoiceEntity{},
		&inventorydomain.Account{},
		&spendingdomain.SpendingRecord{},
		&snapshotdomain.SpendingSnapshot{},
		&reconciledomain.ReconcileJob{},
		&auditdomain.AuditLog{},
	}
}

// Apply brings the schema up to date. Postgres runs the embedded SQL
// migrations; other dialects are auto-migrated from the models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
