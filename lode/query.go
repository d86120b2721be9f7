package lode

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/justapithecus/lode/lode"
)

// ErrNoSummaryFound is returned when no session summary exists in the dataset.
var ErrNoSummaryFound = errors.New("no session summary found")

// QueryLatestSummary finds and reads the most recent session summary.
// Filters by sessionID if non-empty.
func QueryLatestSummary(ctx context.Context, ds lode.Dataset, sessionID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	// Snapshots are ordered by creation time; walk newest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "event_type", summaryEventType) {
			continue
		}
		if !snapshotMatchesFilter(snap, "session_id", sessionID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%v", ds.ID(), snap.ID))
		}

		// Manifest paths are a coarse pre-filter; record fields decide.
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if !ok || record["record_kind"] != RecordKindSummary {
				continue
			}
			if sessionID != "" && toString(record["session_id"]) != sessionID {
				continue
			}
			return record, nil
		}
	}

	return nil, ErrNoSummaryFound
}

// ReadSessionEvents returns every event record stored for sessionID,
// ordered by sequence number. Records repeated across snapshots are
// returned once.
func ReadSessionEvents(ctx context.Context, ds lode.Dataset, sessionID string) ([]EventRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	seen := make(map[int64]bool)
	var out []EventRecord
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "session_id", sessionID) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%v", ds.ID(), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindEvent {
				continue
			}
			if toString(record["session_id"]) != sessionID {
				continue
			}
			er, err := decodeEventRecord(record)
			if err != nil {
				return nil, err
			}
			if seen[er.Seq] {
				continue
			}
			seen[er.Seq] = true
			out = append(out, er)
		}
	}

	slices.SortFunc(out, func(a, b EventRecord) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

func decodeEventRecord(record map[string]any) (EventRecord, error) {
	var er EventRecord
	raw, err := json.Marshal(record)
	if err != nil {
		return er, fmt.Errorf("failed to re-encode record: %w", err)
	}
	if err := json.Unmarshal(raw, &er); err != nil {
		return er, fmt.Errorf("failed to decode event record: %w", err)
	}
	return er, nil
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
