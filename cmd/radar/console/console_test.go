package console

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoose(t *testing.T) {
	yesNo := []string{No, Yes}
	tests := []struct {
		response string
		want     string
	}{
		{"", No},
		{"y", Yes},
		{" Y ", Yes},
		{"n", No},
		{"maybe", No},
	}
	for _, tt := range tests {
		t.Run(tt.response, func(t *testing.T) {
			assert.Equal(t, tt.want, choose(tt.response, yesNo))
		})
	}
	assert.Equal(t, "free text", choose("free text", nil))
}

func TestPromptLine(t *testing.T) {
	assert.Equal(t, "apply? [N/y]: ", promptLine("apply?", []string{No, Yes}))
	assert.Equal(t, "name: ", promptLine("name: ", nil))
}

func TestYAML(t *testing.T) {
	var out, errOut bytes.Buffer
	w, errw := writer, errWriter
	SetOutput(&out, &errOut)
	t.Cleanup(func() { SetOutput(w, errw) })

	require.NoError(t, YAML(struct {
		Total int `yaml:"total"`
	}{Total: 42}))
	assert.Equal(t, "total: 42\n", out.String())

	Warnf("heap at %d%%", 90)
	assert.Contains(t, errOut.String(), "heap at 90%")
}

func TestVerbose(t *testing.T) {
	assert.False(t, IsVerbose(context.Background()))
	assert.True(t, IsVerbose(SetVerbose(context.Background(), true)))
}
