package exports

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// jobColumns is the column list shared by the SQL stores, in scan order
const jobColumns = `id, org_id, kind, status, analytics_key, asset_type, notification_type,
	created_by, created_on, modified_on, started_on, completed_on,
	elapsed_seconds, extension, error, params`

// buildListQuery turns a filter into a SELECT over export_jobs. placeholder
// renders the n'th (1-based) bind parameter for the target dialect.
func buildListQuery(filter JobFilter, placeholder func(n int) string, timeArg func(time.Time) interface{}) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	next := func(v interface{}) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.OrgID != "" {
		where = append(where, "org_id = "+next(filter.OrgID))
	}
	if filter.Kind != "" {
		where = append(where, "kind = "+next(filter.Kind))
	}
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			ph[i] = next(string(s))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_on > "+next(timeArg(filter.CreatedAfter)))
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_on < "+next(timeArg(filter.CreatedBefore)))
	}

	query := "SELECT " + jobColumns + " FROM export_jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	order := "ASC"
	if filter.NewestFirst {
		order = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY created_on %s, id %s", order, order)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return query, args
}

func encodeParams(params map[string]string) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	return string(data), nil
}

func decodeParams(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var params map[string]string
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}
