package database

import "github.com/dbwhisper/dbwhisper/internal/errs"

// ScanRows drains the result set and returns the column names (in the
// order the database reported them) plus one map per row keyed by column
// name. The row slice is always non-nil (empty slice on zero rows).
//
// ScanRows always closes the Rows; callers do not need to call Close().
func ScanRows(rows Rows) ([]string, []map[string]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	result := make([]map[string]any, 0)

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(dest[i])
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}

	return columns, result, nil
}

// normalizeValue converts driver-specific representations into plain Go
// values. database/sql hands text columns back as []byte; JSON encoding
// would base64 those, so they become strings here.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
