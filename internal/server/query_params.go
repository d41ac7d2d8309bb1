package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
)

const dateOnlyLayout = "2006-01-02"

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		return 0, inventorydomain.ErrInvalidID
	}
	return parsed, nil
}

func parseOptionalSnowflakeID(value *string) (*snowflake.ID, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := parseSnowflakeID(*value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseSnowflakeIDs(values []string) ([]snowflake.ID, error) {
	out := make([]snowflake.ID, 0, len(values))
	for _, value := range values {
		id, err := parseSnowflakeID(value)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339 and returns the UTC day.
func parseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, spendingdomain.ErrInvalidDate
}

func parseOptionalDate(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	return parseDate(value)
}

func parseDateRange(from, to string) (spendingdomain.DateRange, error) {
	start, err := parseOptionalDate(from)
	if err != nil {
		return spendingdomain.DateRange{}, spendingdomain.ErrInvalidDateRange
	}
	end, err := parseOptionalDate(to)
	if err != nil {
		return spendingdomain.DateRange{}, spendingdomain.ErrInvalidDateRange
	}
	return spendingdomain.DateRange{From: start, To: end}, nil
}

func parseOptionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}
