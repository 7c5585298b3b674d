package planparse

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ElapsedIsLastActualTime checks that for any plan with at
// least one actual-time marker the end value of the last marker is returned.
func TestProperty_ElapsedIsLastActualTime(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	extractor := NewMySQLExtractor()

	properties.Property("elapsed equals end of last marker", prop.ForAll(
		func(endsMicros []int64) bool {
			if len(endsMicros) == 0 {
				return true
			}

			var b strings.Builder

			ends := make([]string, 0, len(endsMicros))

			for i, us := range endsMicros {
				end := fmt.Sprintf("%d.%03d", us/1000, us%1000)
				ends = append(ends, end)

				fmt.Fprintf(&b, "%s-> Node %d (actual time=0.001..%s rows=%d loops=1)\n",
					strings.Repeat("    ", i), i, end, i+1)
			}

			m := extractor.Extract(b.String())
			if m.ElapsedMS == nil {
				return false
			}

			want, err := strconv.ParseFloat(ends[len(ends)-1], 64)
			if err != nil {
				return false
			}

			return *m.ElapsedMS == want
		},
		gen.SliceOf(gen.Int64Range(0, 10_000_000_000)),
	))

	properties.Property("no marker means absent elapsed", prop.ForAll(
		func(text string) bool {
			return extractor.Extract(text).ElapsedMS == nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestProperty_RowsIsFirstMarker checks that the first rows= value is
// returned for any plan with at least one marker.
func TestProperty_RowsIsFirstMarker(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	extractor := NewMySQLExtractor()

	properties.Property("rows examined equals first marker", prop.ForAll(
		func(rows []int64) bool {
			if len(rows) == 0 {
				return true
			}

			var b strings.Builder
			for i, n := range rows {
				fmt.Fprintf(&b, "-> Scan %d  (cost=1.5 rows=%d)\n", i, n)
			}

			m := extractor.Extract(b.String())

			return m.RowsExamined != nil && *m.RowsExamined == rows[0]
		},
		gen.SliceOf(gen.Int64Range(0, 1<<62)),
	))

	properties.Property("no marker means absent rows", prop.ForAll(
		func(text string) bool {
			return extractor.Extract(text).RowsExamined == nil
		},
		gen.AlphaString(),
	))

	properties.Property("raw text is always preserved", prop.ForAll(
		func(text string) bool {
			return extractor.Extract(text).RawPlan == text
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
