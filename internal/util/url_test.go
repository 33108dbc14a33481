package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormaliseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already canonical", in: "https://qavanin.ir/Law/TreeText/1", want: "https://qavanin.ir/Law/TreeText/1"},
		{name: "whitespace", in: "  https://eadl.ir/  ", want: "https://eadl.ir/"},
		{name: "missing scheme", in: "rc.majlis.ir/fa/law/show/1", want: "https://rc.majlis.ir/fa/law/show/1"},
		{name: "http kept", in: "http://dotic.ir/portal", want: "http://dotic.ir/portal"},
		{name: "upper case host", in: "https://RC.Majlis.IR/fa", want: "https://rc.majlis.ir/fa"},
		{name: "path case kept", in: "https://qavanin.ir/Law", want: "https://qavanin.ir/Law"},
		{name: "default https port", in: "https://qavanin.ir:443/a", want: "https://qavanin.ir/a"},
		{name: "default http port", in: "http://qavanin.ir:80/a", want: "http://qavanin.ir/a"},
		{name: "other port kept", in: "https://qavanin.ir:8443/a", want: "https://qavanin.ir:8443/a"},
		{name: "fragment dropped", in: "https://qavanin.ir/a?id=5#section-2", want: "https://qavanin.ir/a?id=5"},
		{name: "empty", in: "", want: ""},
		{name: "ftp", in: "ftp://files.ir/a", want: ""},
		{name: "space in host", in: "not a url", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormaliseURL(tt.in))
		})
	}
}

func TestNormaliseHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"qavanin.ir", "qavanin.ir"},
		{"WWW.Qavanin.ir", "qavanin.ir"},
		{"www.qavanin.ir:443", "qavanin.ir"},
		{" rc.majlis.ir ", "rc.majlis.ir"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormaliseHost(tt.in), tt.in)
	}
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "divan-edalat.ir", Hostname("https://divan-edalat.ir:8080/x"))
	assert.Equal(t, "", Hostname("::bad"))
	assert.Equal(t, "", Hostname("relative/path"))
}
