package recordstore

import (
	"sort"
	"time"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

type stationHour struct {
	station string
	hour    int64
}

// Aggregate counts departures per departure station and hour. When topN is
// positive only the topN stations with the most departures are kept.
func Aggregate(trips []models.TripRecord, topN int) ([]models.TripAggregate, error) {
	counts := make(map[stationHour]int)
	totals := make(map[string]int)
	for i, t := range trips {
		if err := validateRecord("trips", i+1, t); err != nil {
			return nil, err
		}
		hour := t.DepartureTime.UTC().Truncate(time.Hour)
		counts[stationHour{station: t.DepartureStationID, hour: hour.Unix()}]++
		totals[t.DepartureStationID]++
	}

	keep := make(map[string]bool, len(totals))
	for _, id := range TopStations(totals, topN) {
		keep[id] = true
	}

	out := make([]models.TripAggregate, 0, len(counts))
	for key, n := range counts {
		if !keep[key.station] {
			continue
		}
		out = append(out, models.TripAggregate{
			StationID:  key.station,
			Hour:       time.Unix(key.hour, 0).UTC(),
			Departures: n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].Hour.Before(out[j].Hour)
	})
	return out, nil
}

// TopStations returns station ids ordered by total departures, busiest first,
// ties broken by id. topN <= 0 returns all stations.
func TopStations(totals map[string]int, topN int) []string {
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if totals[ids[i]] != totals[ids[j]] {
			return totals[ids[i]] > totals[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if topN > 0 && topN < len(ids) {
		ids = ids[:topN]
	}
	return ids
}
