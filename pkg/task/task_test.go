package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"todo", StatusTodo},
		{"open", StatusTodo},
		{"pending", StatusTodo},
		{"IN-PROGRESS", StatusInProgress},
		{"in_progress", StatusInProgress},
		{"doing", StatusInProgress},
		{"done", StatusDone},
		{"completed", StatusDone},
		{"closed", StatusDone},
		{"invalid", StatusInvalid},
		{"weird", Status("weird")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeStatus(tt.in), tt.in)
	}
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, TypeImplementation, NormalizeType("task"))
	assert.Equal(t, TypeImplementation, NormalizeType("Implementation"))
	assert.Equal(t, TypeTesting, NormalizeType("integration"))
	assert.Equal(t, TypeTesting, NormalizeType("testing"))
	assert.Equal(t, TypeStory, NormalizeType(" Story "))
}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Greater(t, PriorityLow.Rank(), Priority("").Rank())
	assert.Equal(t, 0, Priority("urgent").Rank(), "unknown priorities rank last")
}

func TestRunnable(t *testing.T) {
	dep := &Task{ID: "dep-1", Type: TypeImplementation, Status: StatusDone}
	invalidDep := &Task{ID: "dep-2", Type: TypeImplementation, Status: StatusInvalid}
	openDep := &Task{ID: "dep-3", Type: TypeImplementation, Status: StatusTodo}

	tests := []struct {
		name string
		task *Task
		deps []*Task
		want bool
	}{
		{
			name: "implementation todo without deps",
			task: &Task{ID: "t1", Type: TypeImplementation, Status: StatusTodo},
			want: true,
		},
		{
			name: "task alias counts as implementation",
			task: &Task{ID: "t2", Type: "task", Status: StatusInProgress},
			want: true,
		},
		{
			name: "testing type is not runnable",
			task: &Task{ID: "t3", Type: TypeTesting, Status: StatusTodo},
			want: false,
		},
		{
			name: "done task is not runnable",
			task: &Task{ID: "t4", Type: TypeImplementation, Status: StatusDone},
			want: false,
		},
		{
			name: "done and invalid deps satisfy",
			task: &Task{ID: "t5", Type: TypeImplementation, Status: StatusTodo, Dependencies: []string{"dep-1", "dep-2"}},
			deps: []*Task{dep, invalidDep},
			want: true,
		},
		{
			name: "open dep blocks",
			task: &Task{ID: "t6", Type: TypeImplementation, Status: StatusTodo, Dependencies: []string{"dep-3"}},
			deps: []*Task{openDep},
			want: false,
		},
		{
			name: "unresolved dep blocks",
			task: &Task{ID: "t7", Type: TypeImplementation, Status: StatusTodo, Dependencies: []string{"missing"}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			byID := ByID(append(tt.deps, tt.task))
			assert.Equal(t, tt.want, tt.task.Runnable(byID))
		})
	}
}
