package security

import "testing"

func TestSecretsEqual(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{name: "equal", a: "s3cret", b: "s3cret", want: true},
		{name: "different", a: "s3cret", b: "other", want: false},
		{name: "prefix", a: "s3cret", b: "s3cret-longer", want: false},
		{name: "both empty", a: "", b: "", want: true},
		{name: "one empty", a: "s3cret", b: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SecretsEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("SecretsEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
