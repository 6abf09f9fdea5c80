package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyContractType(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		end  time.Time
		want ContractType
	}{
		{"exact hour", base.Add(60 * time.Minute), ContractPH},
		{"hour within tolerance", base.Add(59 * time.Minute), ContractPH},
		{"exact quarter hour", base.Add(15 * time.Minute), ContractQH},
		{"quarter hour within tolerance", base.Add(16 * time.Minute), ContractQH},
		{"half hour is other", base.Add(30 * time.Minute), ContractOther},
		{"two minutes is other", base.Add(2 * time.Minute), ContractOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyContractType(base, tc.end))
		})
	}
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "", TruncateError(nil))

	short := errors.New("boom")
	assert.Equal(t, "boom", TruncateError(short))

	long := errors.New(strings.Repeat("x", 600))
	got := TruncateError(long)
	assert.Len(t, got, 500)
}
