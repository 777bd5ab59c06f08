package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryRange = time.Hour
	defaultHistoryStep  = time.Minute
	maxQueryParamLen    = 100
)

// historyMetrics lists the series the poll coordinator writes, named the
// way VictoriaMetrics exposes them ({measurement}_{field}).
var historyMetrics = map[string]bool{
	"power_production_w":             true,
	"power_consumption_w":            true,
	"power_net_consumption_w":        true,
	"energy_lifetime_production_wh":  true,
	"energy_lifetime_consumption_wh": true,
	"energy_daily_production_wh":     true,
	"inverter_last_report_w":         true,
	"inverter_max_report_w":          true,
}

// handleEntryHistory proxies a PromQL range query for one of an entry's
// recorded series.
//
// Query parameters:
//   - metric: series name (default power_production_w)
//   - serial: microinverter serial, only meaningful for inverter_* metrics
//   - start, end: RFC3339 or Unix timestamps (default: last hour)
//   - step: query resolution (default 1m; supports d/w/y suffixes)
func (s *Server) handleEntryHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entryID := chi.URLParam(r, "id")
	if entryID == "" || len(entryID) > maxQueryParamLen {
		writeBadRequest(w, "invalid entry ID")
		return
	}

	metric := strings.TrimSpace(r.URL.Query().Get("metric"))
	if metric == "" {
		metric = "power_production_w"
	}
	if !historyMetrics[metric] {
		writeBadRequest(w, fmt.Sprintf("unknown metric %q", metric))
		return
	}

	serial := strings.TrimSpace(r.URL.Query().Get("serial"))
	if serial != "" && !strings.HasPrefix(metric, "inverter_") {
		writeBadRequest(w, "serial is only valid for inverter metrics")
		return
	}

	start, end, step, err := parseHistoryRangeParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if _, err := s.entries.Get(ctx, entryID); err != nil {
		writeDomainError(w, err)
		return
	}

	if s.tsdb == nil || !s.tsdb.IsConnected() {
		writeUnavailable(w, "time-series database unavailable")
		return
	}

	query, err := buildHistoryQuery(metric, entryID, serial)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	resp, err := s.tsdb.QueryRange(ctx, query, start, end, step)
	if err != nil {
		s.logger.Error("history query failed", "entry_id", entryID, "metric", metric, "error", err)
		writeUnavailable(w, "time-series database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseHistoryRangeParams parses start, end, and step parameters with defaults.
func parseHistoryRangeParams(r *http.Request) (time.Time, time.Time, time.Duration, error) {
	now := time.Now().UTC()
	start, err := parseTimeParam(r.URL.Query().Get("start"), now.Add(-defaultHistoryRange))
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid start timestamp")
	}

	end, err := parseTimeParam(r.URL.Query().Get("end"), now)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid end timestamp")
	}

	step, err := parseStepParam(r.URL.Query().Get("step"))
	if err != nil || step <= 0 {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid step")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("end must be after start")
	}

	return start, end, step, nil
}

// parseTimeParam parses an ISO8601 or Unix timestamp, with a fallback default.
func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}

	if parsed, err := parseRFC3339(raw); err == nil {
		return parsed, nil
	}

	parsed, err := parseUnixTimestamp(raw)
	if err != nil {
		return time.Time{}, err
	}

	return parsed, nil
}

// parseRFC3339 parses a timestamp in RFC3339 or RFC3339Nano format.
func parseRFC3339(raw string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed.UTC(), nil
	}

	parsed, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.UTC(), nil
}

// parseUnixTimestamp parses a Unix timestamp string into time.Time.
func parseUnixTimestamp(raw string) (time.Time, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}

	seconds, fraction := math.Modf(value)
	return time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC(), nil
}

// parseStepParam parses a Prometheus duration string into time.Duration.
func parseStepParam(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultHistoryStep, nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		return parsed, nil
	}

	return parseExtendedDuration(raw)
}

// parseExtendedDuration handles day/week/year suffixes not supported by time.ParseDuration.
func parseExtendedDuration(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("invalid duration")
	}

	number := raw[:len(raw)-1]
	unit := raw[len(raw)-1]

	multiplier, ok := map[byte]time.Duration{
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
		'y': 365 * 24 * time.Hour,
	}[unit]
	if !ok {
		return 0, fmt.Errorf("invalid duration")
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration")
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid duration")
	}

	return time.Duration(value * float64(multiplier)), nil
}

// buildHistoryQuery builds a PromQL selector for an entry's series.
func buildHistoryQuery(metric, entryID, serial string) (string, error) {
	quotedEntryID, err := quotePromQLLabelValue(entryID)
	if err != nil {
		return "", err
	}

	if serial == "" {
		return fmt.Sprintf("%s{entry_id=%s}", metric, quotedEntryID), nil
	}

	quotedSerial, err := quotePromQLLabelValue(serial)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s{entry_id=%s,serial=%s}", metric, quotedEntryID, quotedSerial), nil
}

// quotePromQLLabelValue safely quotes a label value for PromQL.
func quotePromQLLabelValue(value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("value is required")
	}
	if len(value) > maxQueryParamLen {
		return "", fmt.Errorf("value exceeds maximum length")
	}

	return strconv.Quote(value), nil
}
