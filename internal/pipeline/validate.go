package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/coinflow/internal/models"
)

var symbolPattern = regexp.MustCompile(`^[a-z0-9]+$`)

const (
	maxAbsPctChange = 1000
	// float64 tops out near 1e308; anything past this is not a market value.
	maxExponent = 400
)

// Epoch values above millisThreshold are taken as milliseconds.
var (
	millisThreshold = decimal.New(1, 12)
	maxEpoch        = decimal.New(1, 15)
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

type ValidationResult struct {
	Valid    []models.NormalizedObservation `json:"valid"`
	Rejected []*models.ValidationError      `json:"rejected"`
}

func (r ValidationResult) Total() int { return len(r.Valid) + len(r.Rejected) }

// SuccessRate is the valid share of the batch in percent.
func (r ValidationResult) SuccessRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(len(r.Valid)) / float64(r.Total()) * 100
}

// Normalize validates one raw record. It never substitutes defaults: any
// required field that is missing or malformed rejects the whole record.
func Normalize(raw models.RawObservation) (models.NormalizedObservation, error) {
	return normalize(0, raw)
}

// NormalizeBatch splits a fetch into valid observations and rejections. A
// record repeating an earlier (asset_id, observed_at) is rejected.
func NormalizeBatch(raws []models.RawObservation) ValidationResult {
	res := ValidationResult{
		Valid:    make([]models.NormalizedObservation, 0, len(raws)),
		Rejected: []*models.ValidationError{},
	}
	seen := make(map[string]int, len(raws))

	for i, raw := range raws {
		obs, err := normalize(i, raw)
		if err != nil {
			res.Rejected = append(res.Rejected, err.(*models.ValidationError))
			continue
		}
		key := obs.Key().String()
		if first, dup := seen[key]; dup {
			verr := &models.ValidationError{Index: i, AssetID: obs.AssetID}
			verr.Add("last_updated", fmt.Sprintf("duplicate of record %d", first))
			res.Rejected = append(res.Rejected, verr)
			continue
		}
		seen[key] = i
		res.Valid = append(res.Valid, obs)
	}
	return res
}

func normalize(index int, raw models.RawObservation) (models.NormalizedObservation, error) {
	verr := &models.ValidationError{Index: index}
	var obs models.NormalizedObservation

	if id, reason := parseID(raw.ID); reason != "" {
		verr.Add("id", reason)
	} else {
		obs.AssetID = id
		verr.AssetID = id
	}

	if v, reason := parseAmount(raw.CurrentPrice); reason != "" {
		verr.Add("current_price", reason)
	} else {
		obs.Price = v
	}
	if v, reason := parseAmount(raw.MarketCap); reason != "" {
		verr.Add("market_cap", reason)
	} else {
		obs.MarketCap = v
	}
	if v, reason := parseAmount(raw.TotalVolume); reason != "" {
		verr.Add("total_volume", reason)
	} else {
		obs.Volume24h = v
	}
	if ts, reason := parseTimestamp(raw.LastUpdated); reason != "" {
		verr.Add("last_updated", reason)
	} else {
		obs.ObservedAt = ts
	}

	if !missing(raw.Symbol) {
		sym, err := parseString(raw.Symbol)
		sym = strings.ToLower(strings.TrimSpace(sym))
		switch {
		case err != nil:
			verr.Add("symbol", "not a string")
		case !symbolPattern.MatchString(sym):
			verr.Add("symbol", fmt.Sprintf("%q must match %s", sym, symbolPattern))
		default:
			obs.Symbol = sym
		}
	}
	if !missing(raw.Name) {
		if name, err := parseString(raw.Name); err != nil {
			verr.Add("name", "not a string")
		} else {
			obs.Name = strings.TrimSpace(name)
		}
	}
	for _, opt := range []struct {
		field string
		value json.RawMessage
	}{{"high_24h", raw.High24h}, {"low_24h", raw.Low24h}} {
		if missing(opt.value) {
			continue
		}
		if _, reason := parseAmount(opt.value); reason != "" {
			verr.Add(opt.field, reason)
		}
	}
	if !missing(raw.PriceChangePct24h) {
		d, reason := parseNumber(raw.PriceChangePct24h)
		if reason == "" && d.Abs().GreaterThan(decimal.NewFromInt(maxAbsPctChange)) {
			reason = fmt.Sprintf("magnitude %s exceeds %d", d.String(), maxAbsPctChange)
		}
		if reason != "" {
			verr.Add("price_change_percentage_24h", reason)
		}
	}

	if len(verr.Fields) > 0 {
		return models.NormalizedObservation{}, verr
	}
	return obs, nil
}

func missing(m json.RawMessage) bool {
	t := bytes.TrimSpace(m)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func parseString(m json.RawMessage) (string, error) {
	var s string
	err := json.Unmarshal(m, &s)
	return s, err
}

func parseID(m json.RawMessage) (string, string) {
	if missing(m) {
		return "", "missing"
	}
	s, err := parseString(m)
	if err != nil {
		return "", "not a string"
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", "empty"
	}
	return s, ""
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(m json.RawMessage) (decimal.Decimal, string) {
	if missing(m) {
		return decimal.Zero, "missing"
	}
	text := string(bytes.TrimSpace(m))
	if text[0] == '"' {
		s, err := parseString(m)
		if err != nil {
			return decimal.Zero, "not numeric"
		}
		text = strings.TrimSpace(s)
		if text == "" {
			return decimal.Zero, "empty string"
		}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Sprintf("not numeric: %s", truncate(text, 32))
	}
	if outOfRange(d) {
		return decimal.Zero, "out of range"
	}
	return d, ""
}

// outOfRange bounds the exponent before any decimal arithmetic. Comparisons
// and conversions rescale through big.Int, so 1e200000000 would otherwise
// cost minutes of CPU.
func outOfRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp > maxExponent || exp < -maxExponent
}

// parseAmount is parseNumber restricted to finite values >= 0.
func parseAmount(m json.RawMessage) (float64, string) {
	d, reason := parseNumber(m)
	if reason != "" {
		return 0, reason
	}
	if d.IsNegative() {
		return 0, fmt.Sprintf("negative value %s", d.String())
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, "out of range"
	}
	return f, ""
}

func parseTimestamp(m json.RawMessage) (time.Time, string) {
	if missing(m) {
		return time.Time{}, "missing"
	}

	text := string(bytes.TrimSpace(m))
	if text[0] == '"' {
		s, err := parseString(m)
		if err != nil {
			return time.Time{}, "not a timestamp"
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, "empty string"
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Truncate(time.Microsecond), ""
			}
		}
		text = s
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return time.Time{}, fmt.Sprintf("unrecognised timestamp %s", truncate(text, 40))
	}
	if outOfRange(d) {
		return time.Time{}, "epoch out of range"
	}
	if !d.IsPositive() {
		return time.Time{}, "epoch must be positive"
	}
	if d.GreaterThan(maxEpoch) {
		return time.Time{}, "epoch out of range"
	}
	var micros decimal.Decimal
	if d.GreaterThan(millisThreshold) {
		micros = d.Mul(decimal.NewFromInt(1_000))
	} else {
		micros = d.Mul(decimal.NewFromInt(1_000_000))
	}
	return time.UnixMicro(micros.IntPart()).UTC(), ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
