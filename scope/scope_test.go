package scope

import (
	"encoding/json"
	"testing"
)

func TestParseSet(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Set
		wantErr bool
	}{
		{
			name:  "basic and email",
			input: "basic email",
			want:  NewSet(Basic, Email),
		},
		{
			name:  "extra whitespace",
			input: "  basic\temail  ",
			want:  NewSet(Basic, Email),
		},
		{
			name:  "single",
			input: "dev",
			want:  NewSet(Dev),
		},
		{
			name:  "empty",
			input: "",
			want:  NewSet(),
		},
		{
			name:  "duplicate tokens collapse",
			input: "basic basic",
			want:  NewSet(Basic),
		},
		{
			name:    "unknown token fails whole parse",
			input:   "basic admin",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSet(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSet(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSet(%q) unexpected error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseSet(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetRoundTrip(t *testing.T) {
	// Output order is map iteration order, so the round trip must compare
	// as sets, never as strings.
	original := NewSet(Basic, Email)

	parsed, err := ParseSet(original.String())
	if err != nil {
		t.Fatalf("ParseSet(String()) error: %v", err)
	}
	if !parsed.Equal(original) {
		t.Errorf("round trip mismatch: got %v, want %v", parsed, original)
	}
}

func TestSetContains(t *testing.T) {
	set := NewSet(Basic, Email)

	if !set.Contains(Basic) {
		t.Error("expected set to contain basic")
	}
	if !set.Contains(Email) {
		t.Error("expected set to contain email")
	}
	if set.Contains(Dev) {
		t.Error("did not expect set to contain dev")
	}
}

func TestSetRemove(t *testing.T) {
	set := NewSet(Basic, Email)
	set.Remove(Email)

	if set.Contains(Email) {
		t.Error("email still present after Remove")
	}
	if !set.Contains(Basic) {
		t.Error("basic removed unexpectedly")
	}
}

func TestSetCloneIsIndependent(t *testing.T) {
	set := NewSet(Basic)
	clone := set.Clone()
	clone.Add(Email)

	if set.Contains(Email) {
		t.Error("mutating the clone leaked into the original")
	}
}

func TestSetJSON(t *testing.T) {
	type payload struct {
		Scopes Set `json:"scopes"`
	}

	out, err := json.Marshal(payload{Scopes: NewSet(Basic, Email)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var in payload
	if err := json.Unmarshal(out, &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !in.Scopes.Equal(NewSet(Basic, Email)) {
		t.Errorf("JSON round trip = %v, want {basic email}", in.Scopes)
	}

	var bad payload
	if err := json.Unmarshal([]byte(`{"scopes":"basic nope"}`), &bad); err == nil {
		t.Error("expected unmarshal of unknown scope to fail")
	}
}
