package branch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isomorphiq/orchestrator/pkg/task"
)

func TestNameForTask(t *testing.T) {
	t.Run("strips task prefix and sanitizes", func(t *testing.T) {
		name, err := NameForTask(&task.Task{ID: "task-42", Title: "Add OAuth Login!"})
		require.NoError(t, err)
		assert.Equal(t, "implementation/42-add-oauth-login", name)
	})

	t.Run("collapses runs of punctuation", func(t *testing.T) {
		name, err := NameForTask(&task.Task{ID: "task-7", Title: "Fix   -- weird__ spacing"})
		require.NoError(t, err)
		assert.Equal(t, "implementation/7-fix-weird-spacing", name)
	})

	t.Run("caps length at 120", func(t *testing.T) {
		name, err := NameForTask(&task.Task{ID: "task-9", Title: strings.Repeat("very long title ", 20)})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(name), 120)
		assert.False(t, strings.HasSuffix(name, "-"))
	})

	t.Run("title-less task uses id only", func(t *testing.T) {
		name, err := NameForTask(&task.Task{ID: "task-13", Title: "???"})
		require.NoError(t, err)
		assert.Equal(t, "implementation/13", name)
	})

	t.Run("id without letters or digits rejected", func(t *testing.T) {
		_, err := NameForTask(&task.Task{ID: "task---", Title: "x"})
		assert.Error(t, err)
	})

	t.Run("result matches branch charset", func(t *testing.T) {
		name, err := NameForTask(&task.Task{ID: "task-AB12", Title: "Émigré café tests"})
		require.NoError(t, err)
		assert.Regexp(t, `^[a-z0-9]+(?:[._/-][a-z0-9]+)*$`, name)
	})
}
