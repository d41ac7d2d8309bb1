package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationAndTableFromSQL(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{`SELECT * FROM "spending_records" WHERE account_id = $1`, "SELECT", "spending_records"},
		{`INSERT INTO spending_snapshots (id) VALUES (1)`, "INSERT", "spending_snapshots"},
		{`UPDATE accounts SET total_spending = total_spending + ?`, "UPDATE", "accounts"},
		{`WITH t AS (SELECT 1) DELETE FROM audit_logs`, "SELECT", "audit_logs"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.operation, operationFromSQL(tc.sql), tc.sql)
		assert.Equal(t, tc.table, tableFromSQL(tc.sql), tc.sql)
	}
}

func TestGormLoggerReportsSlowQueries(t *testing.T) {
	var tables []string
	l := NewGormLogger(GormLoggerConfig{
		Level:         gormlogger.Silent,
		SlowThreshold: time.Millisecond,
		OnSlowQuery: func(table string, _ time.Duration) {
			tables = append(tables, table)
		},
	})
	sql := func() (string, int64) { return `UPDATE "customers" SET total_spending = ?`, 1 }

	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	l.Trace(context.Background(), time.Now(), sql, nil)

	assert.Equal(t, []string{"customers"}, tables)
}
