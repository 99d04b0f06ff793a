package atmosphere

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type MockModule struct {
	installed bool
}

func (m *MockModule) Install(app *App, commands *Commands) {
	m.installed = true
}

type orderModule struct {
	name  string
	order *[]string
}

func (m orderModule) Install(app *App, commands *Commands) {
	*m.order = append(*m.order, m.name)
}

func TestAppBuilder_DefaultStages(t *testing.T) {
	app := NewAppBuilder().Build()
	assert.Equal(t, []string{"Update", "Extract", "Prepare", "Render", "Cleanup"}, app.Stages())
}

func TestAppBuilder_UseModule(t *testing.T) {
	builder := NewAppBuilder()
	mockModule := &MockModule{}
	builder.UseModule(mockModule)

	assert.Len(t, builder.modules, 1)
	assert.False(t, mockModule.installed, "modules install on Build")
}

func TestAppBuilder_Build_WithMultipleModules(t *testing.T) {
	module1 := &MockModule{}
	module2 := &MockModule{}

	builder := NewAppBuilder()
	builder.UseModule(module1)
	builder.UseModule(module2)

	app := builder.Build()

	assert.Len(t, app.modules, 2)
	assert.True(t, module1.installed)
	assert.True(t, module2.installed)
}

func TestAppBuilder_InstallOrder(t *testing.T) {
	var order []string
	NewAppBuilder().
		UseModule(orderModule{"a", &order}, orderModule{"b", &order}).
		UseModule(orderModule{"c", &order}).
		Build()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
