// Package batch groups translation units into service requests that respect
// the service's payload and item-count limits.
//
// Packing is greedy and order preserving: units are appended to the current
// batch until the next one would exceed either limit. A unit is never split,
// since cutting a tagged string could separate a marker from its partner.
package batch

import (
	"errors"
	"fmt"

	"github.com/minios-linux/doctrans/tagcodec"
)

// ErrUnitTooLarge is returned for a unit whose tagged string alone exceeds
// the payload limit.
var ErrUnitTooLarge = errors.New("unit too large")

// UnitTooLargeError identifies the oversized unit.
type UnitTooLargeError struct {
	UnitID   int
	Location string
	Size     int
	Limit    int
}

func (e *UnitTooLargeError) Error() string {
	return fmt.Sprintf("unit %d (%s): %v: %d bytes exceeds limit of %d", e.UnitID, e.Location, ErrUnitTooLarge, e.Size, e.Limit)
}

func (e *UnitTooLargeError) Unwrap() error { return ErrUnitTooLarge }

// Limits are the per-request limits of the translation service.
type Limits struct {
	// MaxBytes is the maximum summed size of the tagged strings in one batch.
	MaxBytes int
	// MaxUnits is the maximum number of strings in one batch.
	MaxUnits int
}

// DefaultLimits matches the DeepL text endpoint: at most 50 texts and a
// request body of 128 KiB, leaving headroom for the form encoding.
var DefaultLimits = Limits{MaxBytes: 100 * 1024, MaxUnits: 50}

// Validate rejects limits that can never admit a unit.
func (l Limits) Validate() error {
	if l.MaxBytes <= 0 {
		return fmt.Errorf("max batch bytes must be > 0, got %d", l.MaxBytes)
	}
	if l.MaxUnits <= 0 {
		return fmt.Errorf("max batch units must be > 0, got %d", l.MaxUnits)
	}
	return nil
}

// Fits reports whether u can be placed in a batch at all.
func (l Limits) Fits(u *tagcodec.Unit) bool {
	return u.Size() <= l.MaxBytes
}

// Check returns a *UnitTooLargeError when u cannot fit in any batch.
func (l Limits) Check(u *tagcodec.Unit) error {
	if l.Fits(u) {
		return nil
	}
	return &UnitTooLargeError{UnitID: u.ID, Location: u.Location, Size: u.Size(), Limit: l.MaxBytes}
}

// Batch is one service request worth of units.
type Batch struct {
	// Seq is the position of the batch in the packing, starting at 0.
	Seq   int
	Units []*tagcodec.Unit
	// Size is the summed payload size in bytes.
	Size int
}

// Texts returns the tagged strings of the batch in order.
func (b *Batch) Texts() []string {
	texts := make([]string, len(b.Units))
	for i, u := range b.Units {
		texts[i] = u.Tagged
	}
	return texts
}

// Pack partitions units into batches. Opaque units are skipped; every other
// unit appears in exactly one batch, in input order. The first unit that
// cannot fit fails the whole packing with a *UnitTooLargeError; callers that
// want per-unit handling screen units with Limits.Check first.
func Pack(units []*tagcodec.Unit, lim Limits) ([]Batch, error) {
	if err := lim.Validate(); err != nil {
		return nil, err
	}

	var batches []Batch
	cur := Batch{}
	for _, u := range units {
		if u.Opaque {
			continue
		}
		if err := lim.Check(u); err != nil {
			return nil, err
		}
		if len(cur.Units) > 0 && (cur.Size+u.Size() > lim.MaxBytes || len(cur.Units)+1 > lim.MaxUnits) {
			batches = append(batches, cur)
			cur = Batch{Seq: len(batches)}
		}
		cur.Units = append(cur.Units, u)
		cur.Size += u.Size()
	}
	if len(cur.Units) > 0 {
		batches = append(batches, cur)
	}
	return batches, nil
}
