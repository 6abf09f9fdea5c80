// Package coldstore persists archived order-flow ticks to the filesystem
// once they fall behind the hot/cold boundary, one S2-compressed,
// newline-delimited JSON file per (area, date, contract).
package coldstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/shopspring/decimal"

	"github.com/nordflow/ingest/internal/domain"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// Store writes and reads tick files under a root directory laid out as
// root/<area>/<date:2006-01-02>/<contractID>.jsonl.s2. Each file is
// row-oriented (one JSON record per tick) in the S2 stream format; it is
// not a columnar format and not readable by a plain Snappy decoder.
type Store struct {
	root string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// record is the on-disk shape of one tick. Decimal fields serialize as
// strings so round-tripping never loses precision through a float.
type record struct {
	TickID         string `json:"tick_id"`
	ContractID     string `json:"contract_id"`
	DeliveryArea   string `json:"delivery_area"`
	OrderID        string `json:"order_id"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Price          string `json:"price"`
	Volume         string `json:"volume"`
	DeltaVolume    string `json:"delta_volume"`
	Aggressor      string `json:"aggressor"`
	UpdatedTime    string `json:"updated_time"`
	PriorityTime   string `json:"priority_time"`
	IsSnapshot     bool   `json:"is_snapshot"`
	IsDeleted      bool   `json:"is_deleted"`
	RevisionNumber int64  `json:"revision_number"`
	RootUpdatedAt  string `json:"root_updated_at"`
}

const timeLayout = time.RFC3339Nano

func toRecord(t domain.OrderFlowTick) record {
	return record{
		TickID:         t.TickID,
		ContractID:     t.ContractID,
		DeliveryArea:   t.DeliveryArea,
		OrderID:        t.OrderID,
		Side:           string(t.Side),
		Type:           string(t.Type),
		Price:          t.Price.String(),
		Volume:         t.Volume.String(),
		DeltaVolume:    t.DeltaVolume.String(),
		Aggressor:      string(t.Aggressor),
		UpdatedTime:    t.UpdatedTime.UTC().Format(timeLayout),
		PriorityTime:   t.PriorityTime.UTC().Format(timeLayout),
		IsSnapshot:     t.IsSnapshot,
		IsDeleted:      t.IsDeleted,
		RevisionNumber: t.RevisionNumber,
		RootUpdatedAt:  t.RootUpdatedAt.UTC().Format(timeLayout),
	}
}

func fromRecord(r record) (domain.OrderFlowTick, error) {
	price, err := decimalFromString(r.Price)
	if err != nil {
		return domain.OrderFlowTick{}, fmt.Errorf("price: %w", err)
	}
	volume, err := decimalFromString(r.Volume)
	if err != nil {
		return domain.OrderFlowTick{}, fmt.Errorf("volume: %w", err)
	}
	delta, err := decimalFromString(r.DeltaVolume)
	if err != nil {
		return domain.OrderFlowTick{}, fmt.Errorf("delta_volume: %w", err)
	}
	updated, err := time.Parse(timeLayout, r.UpdatedTime)
	if err != nil {
		return domain.OrderFlowTick{}, fmt.Errorf("updated_time: %w", err)
	}
	priority, err := time.Parse(timeLayout, r.PriorityTime)
	if err != nil {
		return domain.OrderFlowTick{}, fmt.Errorf("priority_time: %w", err)
	}
	rootUpdated, err := time.Parse(timeLayout, r.RootUpdatedAt)
	if err != nil {
		return domain.OrderFlowTick{}, fmt.Errorf("root_updated_at: %w", err)
	}
	return domain.OrderFlowTick{
		TickID:         r.TickID,
		ContractID:     r.ContractID,
		DeliveryArea:   r.DeliveryArea,
		OrderID:        r.OrderID,
		Side:           domain.TickSide(r.Side),
		Type:           domain.TickType(r.Type),
		Price:          price,
		Volume:         volume,
		DeltaVolume:    delta,
		Aggressor:      domain.Aggressor(r.Aggressor),
		UpdatedTime:    updated,
		PriorityTime:   priority,
		IsSnapshot:     r.IsSnapshot,
		IsDeleted:      r.IsDeleted,
		RevisionNumber: r.RevisionNumber,
		RootUpdatedAt:  rootUpdated,
	}, nil
}

func (s *Store) path(area string, date time.Time, contractID string) string {
	return filepath.Join(s.root, area, date.UTC().Format("2006-01-02"), contractID+".jsonl.s2")
}

// WriteTickFile writes the full, final tick set for one archived contract.
// Ticks are sorted by (UpdatedTime, RevisionNumber) before writing so a
// later replay doesn't need to re-sort a cold read.
func (s *Store) WriteTickFile(area string, date time.Time, contractID string, ticks []domain.OrderFlowTick) error {
	p := s.path(area, date, contractID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("write tick file: mkdir: %w", err)
	}

	sorted := make([]domain.OrderFlowTick, len(ticks))
	copy(sorted, ticks)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].UpdatedTime.Equal(sorted[j].UpdatedTime) {
			return sorted[i].UpdatedTime.Before(sorted[j].UpdatedTime)
		}
		return sorted[i].RevisionNumber < sorted[j].RevisionNumber
	})

	tmp := p + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write tick file: create: %w", err)
	}

	w := s2.NewWriter(f)
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, t := range sorted {
		if err := enc.Encode(toRecord(t)); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write tick file: encode: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write tick file: flush: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write tick file: s2 close: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write tick file: close: %w", err)
	}
	// Rename only once the full file is durably written, so a crash
	// mid-write never leaves a partial file visible under the real name.
	return os.Rename(tmp, p)
}

// ReadTickFile reads back one archived contract's ticks. It returns
// (nil, false, nil) when no cold file exists yet for that key, letting
// callers fall back to the hot store.
func (s *Store) ReadTickFile(area string, date time.Time, contractID string) ([]domain.OrderFlowTick, bool, error) {
	p := s.path(area, date, contractID)
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read tick file: open: %w", err)
	}
	defer f.Close()

	r := s2.NewReader(f)
	dec := json.NewDecoder(r)

	var out []domain.OrderFlowTick
	for {
		var rec record
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, true, fmt.Errorf("read tick file: decode: %w", err)
		}
		t, err := fromRecord(rec)
		if err != nil {
			return nil, true, fmt.Errorf("read tick file: %w", err)
		}
		out = append(out, t)
	}
	return out, true, nil
}

// Exists reports whether a cold file has already been written for the
// key, used by the archival loop to skip re-writing a contract it already
// finished.
func (s *Store) Exists(area string, date time.Time, contractID string) bool {
	_, err := os.Stat(s.path(area, date, contractID))
	return err == nil
}
