package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestToolRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := NewToolRegistry()
	r.Register("WeatherTool", func(_ context.Context, _ string) (interface{}, error) {
		return "sunny", nil
	})

	for _, name := range []string{"weathertool", "WEATHERTOOL", "WeatherTool"} {
		result, ok := r.Dispatch(context.Background(), name, "{}", zap.NewNop())
		assert.True(t, ok, name)
		assert.JSONEq(t, `{"result":"sunny"}`, result)
	}
}

func TestToolRegistryDateTool(t *testing.T) {
	r := NewToolRegistry()
	result, ok := r.Dispatch(context.Background(), "getDateTool", "{}", zap.NewNop())
	require.True(t, ok)

	var envelope map[string]string
	require.NoError(t, json.Unmarshal([]byte(result), &envelope))
	assert.Regexp(t, regexp.MustCompile(`^[A-Z][a-z]+, \d{4}-\d{2}-\d{2} \d{2}-\d{2}-\d{2}$`), envelope["result"])
}

func TestToolRegistryUnknownTool(t *testing.T) {
	r := NewToolRegistry()
	result, ok := r.Dispatch(context.Background(), "noSuchTool", "{}", zap.NewNop())
	assert.False(t, ok)
	assert.JSONEq(t, `{"result":"no result found"}`, result)
}

func TestToolRegistryHandlerError(t *testing.T) {
	r := NewToolRegistry()
	r.Register("brokenTool", func(_ context.Context, _ string) (interface{}, error) {
		return nil, errors.New("backend unavailable")
	})

	result, ok := r.Dispatch(context.Background(), "brokenTool", "{}", zap.NewNop())
	assert.False(t, ok)
	assert.JSONEq(t, `{"result":"An error occurred while attempting to retrieve information related to the toolUse event."}`, result)
}

func TestToolRegistryNilResultBecomesNoResult(t *testing.T) {
	r := NewToolRegistry()
	r.Register("quietTool", func(_ context.Context, _ string) (interface{}, error) {
		return nil, nil
	})

	result, ok := r.Dispatch(context.Background(), "quietTool", "{}", zap.NewNop())
	assert.True(t, ok)
	assert.JSONEq(t, `{"result":"no result found"}`, result)
}
