// Package export renders bucket listings for spreadsheets and scripts.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/wastefleet/core/evaluator"
	"github.com/kilianp07/wastefleet/core/model"
)

var csvHeader = []string{
	"bucket_id", "name", "user_id", "capacity", "fill_percentage", "status",
	"latitude", "longitude", "battery_level", "signal_strength", "is_online",
	"is_assigned", "last_updated",
}

// WriteJSON writes the buckets to w as a JSON array.
func WriteJSON(w io.Writer, buckets []model.Bucket) error {
	if buckets == nil {
		buckets = []model.Bucket{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buckets)
}

// WriteCSV writes one row per bucket. Unlocated buckets leave the
// coordinates empty.
func WriteCSV(w io.Writer, buckets []model.Bucket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range buckets {
		lat, lng := "", ""
		if b.HasLocation() {
			lat = formatFloat(b.Location.Latitude)
			lng = formatFloat(b.Location.Longitude)
		}
		rec := []string{
			b.BucketID,
			b.Name,
			b.UserID,
			formatFloat(b.Capacity),
			formatFloat(b.FillPercentage),
			string(evaluator.ClassifyFillStatus(b.FillPercentage)),
			lat,
			lng,
			formatFloat(b.Health.BatteryLevel),
			strconv.Itoa(b.Health.SignalStrength),
			strconv.FormatBool(b.Health.IsOnline),
			strconv.FormatBool(b.IsAssigned),
			b.LastUpdated.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
