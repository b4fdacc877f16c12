package gitrepo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckGitVersion(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{name: "modern git", output: "git version 2.39.5\n", wantErr: false},
		{name: "minimum supported", output: "git version 2.20.0\n", wantErr: false},
		{name: "apple suffix", output: "git version 2.39.5 (Apple Git-154)\n", wantErr: false},
		{name: "too old", output: "git version 2.19.2\n", wantErr: true},
		{name: "ancient", output: "git version 1.8.3.1\n", wantErr: true},
		{name: "unparseable", output: "not a git version string\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkGitVersion(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
