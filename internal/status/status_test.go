package status

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"pending", Pending},
		{"in_progress", InProgress},
		{"resolved", Resolved},
		{"pendente", Pending},
		{"em_andamento", InProgress},
		{"resolvido", Resolved},
		{"Resolvido", Resolved},
		{"RESOLVIDO", Resolved},
		{"Concluído", Resolved},
		{"concluido", Resolved},
		{"Em Andamento", InProgress},
		{"em-andamento", InProgress},
		{"Pendência", Pending},
		{"aberto", Pending},
		{"closed", Resolved},
		{"done", Resolved},
		{"In-Progress", InProgress},
		{"", Pending},
		{"   ", Pending},
		{"garbage value", Pending},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Normalization must be idempotent: feeding a canonical value back in
// returns the same value.
func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"Resolvido", "resolved", "em andamento", "", "junk", "PENDENTE"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestTranslateForQuery(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"resolved", []string{"resolved", "resolvido"}},
		{"Resolvido", []string{"resolved", "resolvido"}},
		{"pending", []string{"pending", "pendente"}},
		{"em andamento", []string{"in_progress", "em_andamento"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, TranslateForQuery(tt.in)); diff != "" {
			t.Errorf("TranslateForQuery(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestNormalizeExpr(t *testing.T) {
	got := NormalizeExpr("m.status")
	want := "CASE m.status" +
		" WHEN 'pendente' THEN 'pending'" +
		" WHEN 'em_andamento' THEN 'in_progress'" +
		" WHEN 'resolvido' THEN 'resolved'" +
		" ELSE m.status END"
	if got != want {
		t.Errorf("NormalizeExpr = %q, want %q", got, want)
	}
}

func TestLegacyLabel(t *testing.T) {
	if got := LegacyLabel("resolved"); got != "resolvido" {
		t.Errorf("LegacyLabel(resolved) = %q", got)
	}
	if got := LegacyLabel("unknown"); got != "pendente" {
		t.Errorf("LegacyLabel(unknown) = %q, want pendente fallback", got)
	}
}
