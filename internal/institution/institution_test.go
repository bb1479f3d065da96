package institution

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinConfigsAreValid(t *testing.T) {
	configs := Builtin()
	if len(configs) < 5 {
		t.Fatalf("expected at least four institutions plus generic, got %d", len(configs))
	}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			t.Errorf("builtin %q invalid: %v", c.Name, err)
		}
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := Default()

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"Chase", "Chase", true},
		{"chase", "Chase", true},
		{"AMEX", "American Express", true},
		{"bank_of_america", "Bank of America", true},
		{"Wells-Fargo", "Wells Fargo", true},
		{"generic", GenericName, true},
		{"Monzo", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := r.Lookup(tt.name)
			if ok != tt.ok {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			}
			if ok && c.Name != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.name, c.Name, tt.want)
			}
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := Default()

	tests := []struct {
		name        string
		institution string
		filename    string
		want        string
		wantErr     bool
	}{
		{"explicit wins", "Chase", "amex_2024.csv", "Chase", false},
		{"from filename", "", "exports/amex_2024_01.csv", "American Express", false},
		{"multi word filename", "", "gs://bucket/wells_fargo_jan.csv", "Wells Fargo", false},
		{"fallback", "", "statement.csv", GenericName, false},
		{"unknown explicit", "Monzo", "x.csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.Resolve(tt.institution, tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c.Name != tt.want {
				t.Errorf("Resolve() = %q, want %q", c.Name, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	c := Config{
		Name: "Partial",
		Fields: map[string][]string{
			FieldPostedAt: {"Date"},
			FieldAmount:   {"Amount"},
		},
	}
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing merchant/description mappings")
	}

	c.Fields["bogus"] = []string{"X"}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "unknown canonical field") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	doc := `
institutions:
  - name: Capital One
    aliases: [capone]
    positive_is_debit: true
    fields:
      posted_at: ["Transaction Date"]
      amount: ["Debit"]
      merchant_raw: ["Description"]
      description: ["Description"]
      category_raw: ["Category"]
`
	configs, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 config, got %d", len(configs))
	}
	c := configs[0]
	if c.Name != "Capital One" || !c.PositiveIsDebit {
		t.Errorf("unexpected config: %+v", c)
	}
	if got := c.Columns(FieldAmount); len(got) != 1 || got[0] != "Debit" {
		t.Errorf("amount columns = %v", got)
	}
}

func TestDecode_RejectsUnknownKeys(t *testing.T) {
	doc := "institutions:\n  - name: X\n    colour: red\n"
	if _, err := Decode(strings.NewReader(doc)); err == nil {
		t.Error("expected error for unknown yaml key")
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "institutions.yaml")
	doc := `
institutions:
  - name: Credit Union
    aliases: [cu]
    fields:
      posted_at: ["Date"]
      amount: ["Amount"]
      merchant_raw: ["Payee"]
      description: ["Memo"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if _, ok := r.Lookup("credit union"); !ok {
		t.Error("expected custom institution to be registered")
	}
	if _, ok := r.Lookup("Chase"); !ok {
		t.Error("expected builtins to remain registered")
	}
}
