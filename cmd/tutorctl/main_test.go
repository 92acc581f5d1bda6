package main

import (
	"testing"

	"github.com/cuongbtq/tutor-be/internal/api/dto"
	"github.com/stretchr/testify/assert"
)

func TestSummaryLine(t *testing.T) {
	tests := []struct {
		name string
		job  dto.JobDTO
		want string
	}{
		{
			name: "all saved",
			job:  dto.JobDTO{TotalItems: 2, ResultIDs: []string{"a", "b"}},
			want: "saved 2 of 2 requested",
		},
		{
			name: "some missing",
			job:  dto.JobDTO{TotalItems: 5, ResultIDs: []string{"a", "b", "c"}},
			want: "saved 3 of 5 requested (some items may be missing)",
		},
		{
			name: "nothing saved",
			job:  dto.JobDTO{TotalItems: 3},
			want: "saved 0 of 3 requested (some items may be missing)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summaryLine(&tt.job))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"Cells", "Genetics"}, splitList(" Cells, ,Genetics "))
	assert.Nil(t, splitList(""))
}
