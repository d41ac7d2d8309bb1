package db

import (
	"database/sql"
	"fmt"

	puresqlite "github.com/glebarez/sqlite"
	"github.com/smallbiznis/spendledger/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBName,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)), nil
	case "sqlite":
		// pure Go driver, no cgo toolchain required
		return puresqlite.Open(cfg.DBName + ".db?_pragma=busy_timeout(5000)"), nil
	case "sqlite3":
		return sqlite.Open(cfg.DBName + ".db"), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is meaningful for the dialect.
func SupportsRowLocks(conn *gorm.DB) bool {
	if conn == nil || conn.Dialector == nil {
		return false
	}
	switch conn.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}

// CounterTx returns the options for transactions that sum ledger rows and
// overwrite cached counters. Every statement in them must see rows committed
// before it started, so InnoDB's repeatable read snapshot is lowered to read
// committed. sqlite serializes writers and takes no options.
func CounterTx(conn *gorm.DB) []*sql.TxOptions {
	if !SupportsRowLocks(conn) {
		return nil
	}
	return []*sql.TxOptions{{Isolation: sql.LevelReadCommitted}}
}
