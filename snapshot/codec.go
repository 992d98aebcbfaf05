// Package snapshot implements the Snapshot Codec (spec §4.10, §6.3): a
// self-describing binary encoding of the Q-table and MetricsRecords, and
// a Redis-backed store for persisting it.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/AlfredDev/aigw/backend"
	"github.com/AlfredDev/aigw/metricsstore"
	"github.com/AlfredDev/aigw/qlearn"
)

// SchemaVersion is the current wire format version. Import rejects any
// other value.
const SchemaVersion uint32 = 1

// Snapshot is the decoded, in-memory form of an exported blob.
type Snapshot struct {
	CreatedAt time.Time
	Metrics   []metricsstore.Record
	QEntries  []qlearn.Entry
}

// Export encodes metrics and qEntries into the binary wire format:
//
//	[4]  schema version (big-endian uint32)
//	[8]  creation timestamp, unix millis (big-endian int64)
//	     length-prefixed list of MetricsRecords (one BackendID-keyed entry each)
//	     length-prefixed list of QEntries
//	[4]  CRC32 (IEEE) of everything after the 12-byte header
func Export(metrics []metricsstore.Record, qEntries []qlearn.Entry, now time.Time) []byte {
	var body bytes.Buffer

	writeUint32(&body, uint32(len(metrics)))
	for _, m := range metrics {
		writeString(&body, m.BackendID)
		writeFloat64(&body, m.AvgResponseTimeMs)
		writeFloat64(&body, m.SuccessRate)
		writeFloat64(&body, m.QualityScore)
		writeInt64(&body, m.CumulativeUnits)
		writeFloat64(&body, m.CumulativeCost)
		writeInt64(&body, m.RequestCount)
		writeInt64(&body, m.SuccessCount)
		writeInt64(&body, m.FailureCount)
		writeInt64(&body, m.LastFailure.UnixMilli())
		writeInt64(&body, m.LastUpdated.UnixMilli())
	}

	writeUint32(&body, uint32(len(qEntries)))
	for _, e := range qEntries {
		writeString(&body, e.BackendID)
		writeString(&body, string(e.Category))
		writeFloat64(&body, e.Q)
	}

	var out bytes.Buffer
	var header [12]byte
	binary.BigEndian.PutUint32(header[0:4], SchemaVersion)
	binary.BigEndian.PutUint64(header[4:12], uint64(now.UnixMilli()))
	out.Write(header[:])
	out.Write(body.Bytes())

	checksum := crc32.ChecksumIEEE(body.Bytes())
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], checksum)
	out.Write(trailer[:])

	return out.Bytes()
}

// ImportResult reports which backend IDs from the blob were merged vs
// skipped (unknown to the caller's registered set).
type ImportResult struct {
	Snapshot Snapshot
	Skipped  []string
}

// Import decodes blob, validating the schema version and CRC32 trailer,
// then reports which decoded MetricsRecords/QEntries reference a
// backendID absent from knownBackends (skipped, not merged).
func Import(blob []byte, knownBackends map[string]struct{}) (ImportResult, error) {
	if len(blob) < 12+4 {
		return ImportResult{}, fmt.Errorf("snapshot: blob too short (%d bytes)", len(blob))
	}

	version := binary.BigEndian.Uint32(blob[0:4])
	if version != SchemaVersion {
		return ImportResult{}, fmt.Errorf("snapshot: unsupported schema version %d", version)
	}
	createdMillis := int64(binary.BigEndian.Uint64(blob[4:12]))

	body := blob[12 : len(blob)-4]
	trailer := blob[len(blob)-4:]
	wantChecksum := binary.BigEndian.Uint32(trailer)
	gotChecksum := crc32.ChecksumIEEE(body)
	if wantChecksum != gotChecksum {
		return ImportResult{}, fmt.Errorf("snapshot: CRC32 mismatch (corrupt blob)")
	}

	r := bytes.NewReader(body)

	metricsCount, err := readUint32(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("snapshot: reading metrics count: %w", err)
	}

	var metrics []metricsstore.Record
	var skipped []string
	for i := uint32(0); i < metricsCount; i++ {
		id, err := readString(r)
		if err != nil {
			return ImportResult{}, fmt.Errorf("snapshot: reading backend id: %w", err)
		}
		avgRT, err1 := readFloat64(r)
		successRate, err2 := readFloat64(r)
		quality, err3 := readFloat64(r)
		units, err4 := readInt64(r)
		cost, err5 := readFloat64(r)
		reqCount, err6 := readInt64(r)
		succCount, err7 := readInt64(r)
		failCount, err8 := readInt64(r)
		lastFailure, err9 := readInt64(r)
		lastUpdated, err10 := readInt64(r)
		if err := firstErr(err1, err2, err3, err4, err5, err6, err7, err8, err9, err10); err != nil {
			return ImportResult{}, fmt.Errorf("snapshot: reading metrics record for %q: %w", id, err)
		}

		rec := metricsstore.Record{
			BackendID:         id,
			AvgResponseTimeMs: avgRT,
			SuccessRate:       successRate,
			QualityScore:      quality,
			CumulativeUnits:   units,
			CumulativeCost:    cost,
			RequestCount:      reqCount,
			SuccessCount:      succCount,
			FailureCount:      failCount,
			LastFailure:       millisToTime(lastFailure),
			LastUpdated:       millisToTime(lastUpdated),
		}

		if _, ok := knownBackends[id]; !ok {
			skipped = append(skipped, id)
			continue
		}
		metrics = append(metrics, rec)
	}

	qCount, err := readUint32(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("snapshot: reading Q-entry count: %w", err)
	}

	var entries []qlearn.Entry
	for i := uint32(0); i < qCount; i++ {
		id, err1 := readString(r)
		category, err2 := readString(r)
		q, err3 := readFloat64(r)
		if err := firstErr(err1, err2, err3); err != nil {
			return ImportResult{}, fmt.Errorf("snapshot: reading Q entry: %w", err)
		}

		if _, ok := knownBackends[id]; !ok {
			skipped = append(skipped, id)
			continue
		}
		entries = append(entries, qlearn.Entry{BackendID: id, Category: backend.TaskCategory(category), Q: q})
	}

	return ImportResult{
		Snapshot: Snapshot{
			CreatedAt: millisToTime(createdMillis),
			Metrics:   metrics,
			QEntries:  entries,
		},
		Skipped: skipped,
	}, nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
