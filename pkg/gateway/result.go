package gateway

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Result is the outcome of one executed statement. RowCount is the number of
// returned rows for row-returning statements and the command tag's affected
// count for plain DML.
type Result struct {
	Rows     []map[string]any
	RowCount int64
}

// collectResult drains rows into a Result and closes them. Statements that
// return no fields (DML without RETURNING) are still iterated, because pgx
// defers execution until the result is consumed.
func collectResult(rows pgx.Rows) (*Result, error) {
	defer rows.Close()

	result := &Result{Rows: make([]map[string]any, 0)}

	fieldDescs := rows.FieldDescriptions()
	if len(fieldDescs) > 0 {
		columns := make([]string, len(fieldDescs))
		for i, fd := range fieldDescs {
			columns[i] = string(fd.Name)
		}

		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, fmt.Errorf("failed to read row values: %w", err)
			}
			rowMap := make(map[string]any, len(columns))
			for i, col := range columns {
				rowMap[col] = values[i]
			}
			result.Rows = append(result.Rows, rowMap)
		}
	} else {
		for rows.Next() {
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if len(fieldDescs) > 0 {
		result.RowCount = int64(len(result.Rows))
	} else {
		result.RowCount = rows.CommandTag().RowsAffected()
	}
	return result, nil
}
