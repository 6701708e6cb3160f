package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSolvePuzzle(t *testing.T) {
	tests := []struct {
		text    string
		want    int
		wantErr bool
	}{
		{text: "3 + 4", want: 7},
		{text: "3 - 14", want: -11},
		{text: "6 * 7", want: 42},
		{text: "6 / 3", wantErr: true},
		{text: "six + 1", wantErr: true},
		{text: "1 +", wantErr: true},
		{text: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := solvePuzzle(tt.text)
		if tt.wantErr {
			assert.Error(t, err, tt.text)
			continue
		}
		assert.NoError(t, err, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestOnLoginFlow(t *testing.T) {
	assert.True(t, onLoginFlow("http://localhost:8080/login"))
	assert.True(t, onLoginFlow("http://localhost:8080/2fa?error=true"))
	assert.False(t, onLoginFlow("http://localhost:8080/"))
}

func TestNewTrimsAppURL(t *testing.T) {
	m := New(nil, "http://localhost:8080/")
	assert.Equal(t, "http://localhost:8080", m.AppURL)
}
