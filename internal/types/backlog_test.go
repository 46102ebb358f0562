package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacklogValidate(t *testing.T) {
	t.Run("valid backlog passes", func(t *testing.T) {
		b := &Backlog{
			ProjectName: "proj",
			Features: []*Feature{
				validFeature("f1"),
				validFeature("f2"),
			},
		}
		require.NoError(t, b.Validate())
	})

	t.Run("empty project name rejected", func(t *testing.T) {
		b := &Backlog{Features: []*Feature{validFeature("f1")}}
		assert.Error(t, b.Validate())
	})

	t.Run("duplicate ids rejected", func(t *testing.T) {
		b := &Backlog{ProjectName: "proj", Features: []*Feature{validFeature("f1"), validFeature("f1")}}
		assert.Error(t, b.Validate())
	})

	t.Run("dangling dependency rejected", func(t *testing.T) {
		f1 := validFeature("f1")
		f1.DependsOn = []string{"nonexistent"}
		b := &Backlog{ProjectName: "proj", Features: []*Feature{f1}}
		assert.Error(t, b.Validate())
	})

	t.Run("dependency cycle rejected", func(t *testing.T) {
		f1 := validFeature("f1")
		f1.DependsOn = []string{"f2"}
		f2 := validFeature("f2")
		f2.DependsOn = []string{"f1"}
		b := &Backlog{ProjectName: "proj", Features: []*Feature{f1, f2}}
		assert.Error(t, b.Validate())
	})

	t.Run("diamond dependency accepted", func(t *testing.T) {
		f1 := validFeature("f1")
		f2 := validFeature("f2")
		f2.DependsOn = []string{"f1"}
		f3 := validFeature("f3")
		f3.DependsOn = []string{"f1"}
		f4 := validFeature("f4")
		f4.DependsOn = []string{"f2", "f3"}
		b := &Backlog{ProjectName: "proj", Features: []*Feature{f1, f2, f3, f4}}
		require.NoError(t, b.Validate())
	})
}

func TestBacklogFindFeature(t *testing.T) {
	b := &Backlog{Features: []*Feature{validFeature("f1")}}
	assert.NotNil(t, b.FindFeature("f1"))
	assert.Nil(t, b.FindFeature("missing"))
}

func TestBacklogIsComplete(t *testing.T) {
	f1 := validFeature("f1")
	f2 := validFeature("f2")
	b := &Backlog{Features: []*Feature{f1, f2}}
	assert.False(t, b.IsComplete())

	f1.Status = StatusCompleted
	f2.Status = StatusCompleted
	assert.True(t, b.IsComplete())

	assert.True(t, (&Backlog{}).IsComplete())
}
