package processor

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"marketpulse/logger"
	"marketpulse/models"
)

// Matcher resolves a free-text market name to an asset code.
type Matcher interface {
	Match(name string) (string, bool)
}

// Normalizer turns raw report rows into per-asset positioning records. It
// holds no state between calls.
type Normalizer struct {
	matcher Matcher
	log     *logger.Log
}

func NewNormalizer(m Matcher) *Normalizer {
	return &Normalizer{matcher: m, log: logger.GetLogger()}
}

type mappedRow struct {
	seq   int
	date  time.Time
	asset string
	long  int64
	short int64
}

// Normalize maps, coerces, collapses and scores raw rows. Snapshot output is
// ordered by long percent ascending; history output by asset then date.
func (n *Normalizer) Normalize(raw []models.RawRecord, mode models.Mode) ([]models.NormalizedRecord, models.NormalizeStats, error) {
	stats := models.NormalizeStats{Input: len(raw)}
	if mode != models.ModeSnapshot && mode != models.ModeHistory {
		return nil, stats, fmt.Errorf("unknown normalize mode %q", mode)
	}

	start := time.Now()
	rows := n.mapRows(raw, &stats)

	var collapsed []mappedRow
	if mode == models.ModeSnapshot {
		collapsed = latestPerAsset(rows)
	} else {
		collapsed = weeklySums(rows)
	}
	stats.Collapsed = len(rows) - len(collapsed)

	out := make([]models.NormalizedRecord, 0, len(collapsed))
	for _, r := range collapsed {
		rec, ok := score(r)
		if !ok {
			stats.ZeroTotal++
			continue
		}
		out = append(out, rec)
	}

	if mode == models.ModeSnapshot {
		sort.SliceStable(out, func(i, j int) bool { return out[i].LongPercent < out[j].LongPercent })
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Asset != out[j].Asset {
				return out[i].Asset < out[j].Asset
			}
			return out[i].Date.Before(out[j].Date)
		})
	}
	stats.Output = len(out)

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"mode": string(mode)})
	logger.LogPerformanceEntry(log, "normalizer", "normalize", time.Since(start), logger.Fields{
		"input":       stats.Input,
		"unmapped":    stats.Unmapped,
		"bad_date":    stats.BadDate,
		"uncoercible": stats.Uncoercible,
		"zero_total":  stats.ZeroTotal,
		"output":      stats.Output,
	})
	logger.RecordRowsDropped(stats.Dropped() + stats.ZeroTotal)

	return out, stats, nil
}

func (n *Normalizer) mapRows(raw []models.RawRecord, stats *models.NormalizeStats) []mappedRow {
	rows := make([]mappedRow, 0, len(raw))
	for i, r := range raw {
		code, ok := n.matcher.Match(r.Market)
		if !ok {
			stats.Unmapped++
			continue
		}
		if r.Date.IsZero() {
			stats.BadDate++
			continue
		}
		long, okL := coerce(r.Long)
		short, okS := coerce(r.Short)
		if !okL || !okS {
			stats.Uncoercible++
			continue
		}
		rows = append(rows, mappedRow{
			seq:   i,
			date:  dateOnly(r.Date),
			asset: code,
			long:  long,
			short: short,
		})
	}
	return rows
}

// coerce accepts a non-negative integer, optionally written with a zero
// fractional part ("1100.0"). Anything else is uncoercible.
func coerce(cell string) (int64, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, false
		}
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// latestPerAsset keeps, for each asset, the first row carrying its most
// recent date. Result order follows each asset's first appearance.
func latestPerAsset(rows []mappedRow) []mappedRow {
	best := map[string]int{}
	var order []string
	for i, r := range rows {
		j, seen := best[r.asset]
		if !seen {
			best[r.asset] = i
			order = append(order, r.asset)
			continue
		}
		if r.date.After(rows[j].date) {
			best[r.asset] = i
		}
	}
	out := make([]mappedRow, 0, len(order))
	for _, a := range order {
		out = append(out, rows[best[a]])
	}
	return out
}

// WeekEnding returns the Sunday that closes the week containing d.
func WeekEnding(d time.Time) time.Time {
	d = dateOnly(d)
	return d.AddDate(0, 0, (7-int(d.Weekday()))%7)
}

type bucketKey struct {
	asset string
	week  time.Time
}

func weeklySums(rows []mappedRow) []mappedRow {
	idx := map[bucketKey]int{}
	var out []mappedRow
	for _, r := range rows {
		k := bucketKey{asset: r.asset, week: WeekEnding(r.date)}
		if i, ok := idx[k]; ok {
			out[i].long += r.long
			out[i].short += r.short
			continue
		}
		idx[k] = len(out)
		out = append(out, mappedRow{seq: r.seq, date: k.week, asset: r.asset, long: r.long, short: r.short})
	}
	return out
}

func score(r mappedRow) (models.NormalizedRecord, bool) {
	total := r.long + r.short
	if total <= 0 {
		return models.NormalizedRecord{}, false
	}
	longPct := 100 * float64(r.long) / float64(total)
	return models.NormalizedRecord{
		Date:         r.date,
		Asset:        r.asset,
		Long:         r.long,
		Short:        r.short,
		LongPercent:  longPct,
		ShortPercent: 100 - longPct,
	}, true
}
