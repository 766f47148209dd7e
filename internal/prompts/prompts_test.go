package prompts

import (
	"math/rand"
	"strings"
	"testing"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("failed to load default catalog: %v", err)
	}
	if c.Suffix == "" {
		t.Fatal("expected a safety suffix")
	}
}

func TestParseRejectsEmptyFamily(t *testing.T) {
	_, err := Parse([]byte("families:\n  interior:\n    - key: a\n      text: b\n"))
	if err == nil {
		t.Fatal("expected missing exterior families to fail")
	}
}

func TestFamilyFor(t *testing.T) {
	cases := []struct {
		category, perspective, want string
	}{
		{"kitchen", "", FamilyInterior},
		{"bedroom-2", "", FamilyInterior},
		{"exterior_front", "", FamilyExteriorGround},
		{"exterior_front", PerspectiveAerial, FamilyExteriorAerial},
		{"exterior_aerial", "", FamilyExteriorAerial},
		{"backyard", PerspectiveGround, FamilyExteriorGround},
	}
	for _, tc := range cases {
		if got := FamilyFor(tc.category, tc.perspective); got != tc.want {
			t.Errorf("FamilyFor(%q, %q) = %q, want %q", tc.category, tc.perspective, got, tc.want)
		}
	}
}

func TestBaseCategory(t *testing.T) {
	cases := map[string]string{
		"bedroom-2":       "bedroom",
		"Bedroom-12":      "bedroom",
		"primary_bedroom": "primary_bedroom",
		"half-bath":       "half-bath",
	}
	for in, want := range cases {
		if got := BaseCategory(in); got != want {
			t.Errorf("BaseCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOverridesTakePriority(t *testing.T) {
	c := MustDefault()
	for i := 0; i < 20; i++ {
		sel := c.Select("kitchen", "", "", rand.New(rand.NewSource(int64(i))))
		if !strings.HasPrefix(sel.Key, "kitchen-") {
			t.Fatalf("expected kitchen override, got %s", sel.Key)
		}
	}
}

func TestSelectNeverRepeatsPreviousKey(t *testing.T) {
	c := MustDefault()
	rng := rand.New(rand.NewSource(42))

	for _, category := range []string{"living_room", "kitchen", "exterior_front", "pool", "bedroom-3"} {
		prev := ""
		for i := 0; i < 50; i++ {
			sel := c.Select(category, "", prev, rng)
			if prev != "" && sel.Key == prev {
				t.Fatalf("%s: repeated key %s on iteration %d", category, sel.Key, i)
			}
			prev = sel.Key
		}
	}
}

func TestSelectFallsBackToFullPool(t *testing.T) {
	c := &Catalog{
		Suffix: "Keep it real.",
		Families: map[string][]Template{
			FamilyInterior:       {{Key: "only", Text: "Push in."}},
			FamilyExteriorAerial: {{Key: "a", Text: "Rise."}},
			FamilyExteriorGround: {{Key: "g", Text: "Slide."}},
		},
	}
	sel := c.Select("den", "", "only", rand.New(rand.NewSource(1)))
	if sel.Key != "only" {
		t.Fatalf("expected the single template, got %s", sel.Key)
	}
	if sel.Prompt != "Push in. Keep it real." {
		t.Errorf("unexpected prompt %q", sel.Prompt)
	}
}

func TestSuffixAppendedToEveryPrompt(t *testing.T) {
	c := MustDefault()
	sel := c.Select("exterior_aerial", PerspectiveAerial, "", rand.New(rand.NewSource(7)))
	if !strings.HasSuffix(sel.Prompt, strings.TrimSpace(c.Suffix)) {
		t.Errorf("prompt missing safety suffix: %q", sel.Prompt)
	}
	if !strings.Contains(sel.Prompt, "No people") {
		t.Errorf("suffix should forbid people: %q", sel.Prompt)
	}
}
