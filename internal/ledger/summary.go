package ledger

import (
	"fmt"
	"time"

	"github.com/zhaobenny/agenttop/internal/model"
)

// Period selects the time window of a usage summary.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ModelUsage is the per-model roll-up inside a summary.
type ModelUsage struct {
	Model    string           `json:"model"`
	Requests int64            `json:"requests"`
	Usage    model.TokenUsage `json:"usage"`
	CostUSD  float64          `json:"cost_usd"`
}

// ProviderUsage groups the models of one provider plus provider-level sums.
type ProviderUsage struct {
	Provider string           `json:"provider"`
	Requests int64            `json:"requests"`
	Usage    model.TokenUsage `json:"usage"`
	CostUSD  float64          `json:"cost_usd"`
	Models   []ModelUsage     `json:"models"`
}

// Summary is the aggregate answer for one period. TodayCostUSD and
// MonthCostUSD are always present regardless of the requested period; they
// are the headline numbers every surface wants.
type Summary struct {
	Period       Period          `json:"period"`
	Since        time.Time       `json:"since"`
	Providers    []ProviderUsage `json:"providers"`
	TodayCostUSD float64         `json:"today_cost_usd"`
	MonthCostUSD float64         `json:"month_cost_usd"`
}

// windowStart resolves a period to its window-start instant in local time.
func windowStart(p Period, now time.Time) (time.Time, error) {
	switch p {
	case PeriodToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	case PeriodWeek:
		return now.AddDate(0, 0, -7), nil
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("unknown period %q", p)
	}
}

// UsageSummary aggregates stored records for the given period, grouped by
// provider then model.
func (db *DB) UsageSummary(period Period) (*Summary, error) {
	now := time.Now()
	since, err := windowStart(period, now)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Period: period, Since: since}

	rows, err := db.Query(`
		SELECT provider, model, COUNT(*),
		       COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cache_read_tokens), 0), COALESCE(SUM(cache_creation_tokens), 0),
		       COALESCE(SUM(estimated_cost), 0)
		FROM usage_records
		WHERE timestamp_ms >= ?
		GROUP BY provider, model
		ORDER BY provider, SUM(estimated_cost) DESC
	`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var provider string
		var mu ModelUsage
		err := rows.Scan(&provider, &mu.Model, &mu.Requests,
			&mu.Usage.InputTokens, &mu.Usage.OutputTokens,
			&mu.Usage.CacheReadTokens, &mu.Usage.CacheCreationTokens,
			&mu.CostUSD)
		if err != nil {
			return nil, err
		}

		if len(summary.Providers) == 0 || summary.Providers[len(summary.Providers)-1].Provider != provider {
			summary.Providers = append(summary.Providers, ProviderUsage{Provider: provider})
		}
		pu := &summary.Providers[len(summary.Providers)-1]
		pu.Models = append(pu.Models, mu)
		pu.Requests += mu.Requests
		pu.Usage.InputTokens += mu.Usage.InputTokens
		pu.Usage.OutputTokens += mu.Usage.OutputTokens
		pu.Usage.CacheReadTokens += mu.Usage.CacheReadTokens
		pu.Usage.CacheCreationTokens += mu.Usage.CacheCreationTokens
		pu.CostUSD += mu.CostUSD
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Headline totals are computed independently of the grouped query so
	// they stay correct whatever window was requested.
	dayStart, _ := windowStart(PeriodToday, now)
	monthStart, _ := windowStart(PeriodMonth, now)
	if err := db.costSince(dayStart, &summary.TodayCostUSD); err != nil {
		return nil, err
	}
	if err := db.costSince(monthStart, &summary.MonthCostUSD); err != nil {
		return nil, err
	}

	return summary, nil
}

func (db *DB) costSince(since time.Time, out *float64) error {
	return db.QueryRow(
		`SELECT COALESCE(SUM(estimated_cost), 0) FROM usage_records WHERE timestamp_ms >= ?`,
		since.UnixMilli(),
	).Scan(out)
}
