package atmosphere

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockResource1 struct {
	name string
}
type MockResource2 struct {
	name string
}

func NewMockResource1(name string) *MockResource1 {
	return &MockResource1{name: name}
}
func NewMockResource2(name string) *MockResource2 {
	return &MockResource2{name: name}
}

func TestApp_addResources(t *testing.T) {
	app := &App{
		resources: make(map[reflect.Type]any),
	}

	resource1 := NewMockResource1("Resource1")
	app.addResources(resource1)
	assert.Contains(t, app.resources, reflect.TypeOf(resource1).Elem(), "Resource1 should be in resources map.")

	// Expect panic when trying to add the same type of resource again
	require.PanicsWithValue(t, fmt.Sprintf("%s is already in resources", reflect.TypeOf(resource1)), func() {
		app.addResources(resource1)
	})

	resource2 := NewMockResource2("Resource2")
	app.addResources(resource2)
	assert.Contains(t, app.resources, reflect.TypeOf(resource2).Elem(), "Resource2 should be in resources map.")

	assert.Panics(t, func() { app.addResources(MockResource2{}) }, "non-pointer resources are rejected")
}

func TestApp_Resource(t *testing.T) {
	app := NewAppBuilder().Build()
	_, ok := Resource[MockResource1](app)
	assert.False(t, ok)

	r := NewMockResource1("one")
	app.addResources(r)
	got, ok := Resource[MockResource1](app)
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestApp_callSystemResolvesArguments(t *testing.T) {
	app := NewAppBuilder().Build()
	r1 := NewMockResource1("one")
	app.addResources(r1)

	var gotRes *MockResource1
	var gotCmd *Commands
	app.callSystem(func(cmd *Commands, res *MockResource1) {
		gotCmd = cmd
		gotRes = res
	})
	assert.Same(t, r1, gotRes)
	require.NotNil(t, gotCmd)
	assert.Same(t, app, gotCmd.app)
}

func TestApp_callSystemPanicsOnMissingDependency(t *testing.T) {
	app := NewAppBuilder().Build()
	assert.Panics(t, func() {
		app.callSystem(func(res *MockResource2) {})
	})
	assert.Panics(t, func() {
		app.callSystem(func(res MockResource2) {})
	})
}

func TestApp_stagesRunInOrder(t *testing.T) {
	app := NewAppBuilder().Build()
	var calls []string
	record := func(name string) func() {
		return func() { calls = append(calls, name) }
	}

	// registered out of order on purpose
	app.UseSystem(System(record("cleanup")).InStage(Cleanup))
	app.UseSystem(System(record("render")).InStage(Render))
	app.UseSystem(System(record("extract")).InStage(Extract))
	app.UseSystem(System(record("prepare")).InStage(Prepare))
	app.UseSystem(System(record("update")))

	app.Update()
	assert.Equal(t, []string{"update", "extract", "prepare", "render", "cleanup"}, calls)
}

func TestApp_UseStage(t *testing.T) {
	app := NewAppBuilder().Build()
	queue := Stage{Name: "Queue"}
	app.UseStage(queue, AfterStage(Prepare))
	assert.Equal(t, []string{"Update", "Extract", "Prepare", "Queue", "Render", "Cleanup"}, app.Stages())

	first := Stage{Name: "First"}
	app.UseStage(first, BeforeStage(Update))
	assert.Equal(t, "First", app.Stages()[0])

	assert.PanicsWithValue(t, "Stage Missing not found", func() {
		app.UseStage(Stage{Name: "Other"}, AfterStage(Stage{Name: "Missing"}))
	})
	assert.Panics(t, func() { app.UseStage(queue, AfterStage(Render)) })
	assert.PanicsWithValue(t, "Stage Nowhere doesn't exist", func() {
		app.UseSystem(System(func() {}).InStage(Stage{Name: "Nowhere"}))
	})
}

func TestApp_RunFramesAndExit(t *testing.T) {
	app := NewAppBuilder().Build()
	n := 0
	app.UseSystem(System(func(cmd *Commands) {
		n++
		if n == 3 {
			cmd.Exit()
		}
	}))

	app.RunFrames(10)
	assert.Equal(t, 3, n)

	require.NoError(t, app.Run(context.Background()))
	assert.Equal(t, 3, n, "an exited app does not update again")
}

func TestApp_RunStopsOnContext(t *testing.T) {
	app := NewAppBuilder().Build()
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	app.UseSystem(System(func() {
		n++
		if n == 2 {
			cancel()
		}
	}))
	assert.ErrorIs(t, app.Run(ctx), context.Canceled)
	assert.Equal(t, 2, n)
}
