package object

import (
	"fmt"
)

// VerifySummary reports the outcome of Verify.
type VerifySummary struct {
	Objects  int
	ByType   map[Type]int
	V1       int // objects still stored in the legacy format
	Problems []VerifyProblem
}

// VerifyProblem names an object that failed to decode or rehash.
type VerifyProblem struct {
	ID  ID
	Err error
}

// Verify decodes every object in s and checks it against its id. Damaged
// objects are collected rather than aborting the walk.
func Verify(s Store) (*VerifySummary, error) {
	report := &VerifySummary{ByType: make(map[Type]int)}
	err := s.Each(func(id ID) error {
		rec, err := s.GetRecord(id)
		if err != nil {
			return fmt.Errorf("verify %s: %w", id, err)
		}
		report.Objects++
		if _, err := VerifyRecord(rec); err != nil {
			report.Problems = append(report.Problems, VerifyProblem{ID: id, Err: err})
			return nil
		}
		report.ByType[rec.Type]++
		if rec.Data[0] == FormatV1 {
			report.V1++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
