package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeconnect/pkg/model"
)

func score(v int) *int { return &v }

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		safe, mal int
		wantErr   bool
	}{
		{"ok", 20, 50, false},
		{"edges", 0, 100, false},
		{"adjacent", 49, 50, false},
		{"negative safe", -1, 50, true},
		{"malicious over 100", 20, 101, true},
		{"equal", 50, 50, true},
		{"inverted", 60, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.safe, tt.mal)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassify_Boundaries(t *testing.T) {
	c, err := New(20, 50)
	require.NoError(t, err)

	assert.Equal(t, model.RiskUnknown, c.Classify(nil))
	assert.Equal(t, model.RiskSafe, c.Classify(score(0)))
	assert.Equal(t, model.RiskSafe, c.Classify(score(20)))
	assert.Equal(t, model.RiskSuspicious, c.Classify(score(21)))
	assert.Equal(t, model.RiskSuspicious, c.Classify(score(49)))
	assert.Equal(t, model.RiskMalicious, c.Classify(score(50)))
	assert.Equal(t, model.RiskMalicious, c.Classify(score(100)))
}

func TestClassify_Total(t *testing.T) {
	c, err := New(10, 90)
	require.NoError(t, err)

	for s := -5; s <= 105; s++ {
		got := c.Classify(score(s))
		assert.True(t, got.Valid(), "score=%d", s)
		assert.NotEqual(t, model.RiskUnknown, got, "score=%d", s)
	}
}
