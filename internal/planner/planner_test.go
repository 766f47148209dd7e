package planner

import (
	"math/rand"
	"testing"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
)

func newTestPlanner(minScore float64) *Planner {
	return New(Options{
		MinSecondaryScore: minScore,
		Rand:              rand.New(rand.NewSource(1)),
	})
}

func TestPlanKitchenAndBathroom(t *testing.T) {
	p := newTestPlanner(0.5)
	specs, err := p.Plan(Input{
		PrimaryImageURL: "https://cdn.example.com/front.jpg",
		Orientation:     models.OrientationPortrait,
		Images: []models.ListingImage{
			{URL: "https://cdn.example.com/bath.jpg", Category: "bathroom", SelectionScore: 0.7},
			{URL: "https://cdn.example.com/kitchen-1.jpg", Category: "kitchen", IsPrimary: true, SelectionScore: 0.95},
			{URL: "https://cdn.example.com/kitchen-2.jpg", Category: "kitchen", SelectionScore: 0.8},
		},
		EnablePrioritySecondary: true,
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(specs))
	}

	want := []struct {
		category  string
		clipIndex int
		image     string
	}{
		{"kitchen", 0, "https://cdn.example.com/kitchen-1.jpg"},
		{"kitchen", 1, "https://cdn.example.com/kitchen-2.jpg"},
		{"bathroom", 0, "https://cdn.example.com/front.jpg"},
	}
	for i, w := range want {
		s := specs[i].Settings
		if s.RoomCategory != w.category || s.ClipIndex != w.clipIndex || s.SortOrder != i {
			t.Errorf("job %d: got %s/%d/%d, want %s/%d/%d", i, s.RoomCategory, s.ClipIndex, s.SortOrder, w.category, w.clipIndex, i)
		}
		if s.ImageURLs[0] != w.image {
			t.Errorf("job %d: source image %s, want %s", i, s.ImageURLs[0], w.image)
		}
		if s.AspectRatio != "9:16" {
			t.Errorf("job %d: aspect %s", i, s.AspectRatio)
		}
		if err := s.Check(); err != nil {
			t.Errorf("job %d: settings invalid: %v", i, err)
		}
	}
	if specs[0].Settings.PromptKey == specs[1].Settings.PromptKey {
		t.Error("consecutive kitchen clips share a prompt key")
	}
}

func TestPlanSecondaryRequiresFlagAndScore(t *testing.T) {
	images := []models.ListingImage{
		{URL: "https://cdn.example.com/k1.jpg", Category: "kitchen", IsPrimary: true, SelectionScore: 0.9},
		{URL: "https://cdn.example.com/k2.jpg", Category: "kitchen", SelectionScore: 0.3},
	}

	specs, err := newTestPlanner(0.5).Plan(Input{Images: images, PrimaryImageURL: "https://cdn.example.com/k1.jpg", EnablePrioritySecondary: true})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(specs) != 1 {
		t.Errorf("low-score secondary should be skipped, got %d jobs", len(specs))
	}

	images[1].SelectionScore = 0.9
	specs, err = newTestPlanner(0.5).Plan(Input{Images: images, PrimaryImageURL: "https://cdn.example.com/k1.jpg"})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(specs) != 1 {
		t.Errorf("secondary clip emitted with the flag off, got %d jobs", len(specs))
	}
}

func TestPlanSortOrderIsGapless(t *testing.T) {
	images := []models.ListingImage{
		{URL: "https://cdn.example.com/1.jpg", Category: "wine_cellar"},
		{URL: "https://cdn.example.com/2.jpg", Category: "bedroom-2"},
		{URL: "https://cdn.example.com/3.jpg", Category: "bedroom"},
		{URL: "https://cdn.example.com/4.jpg", Category: "kitchen", IsPrimary: true, SelectionScore: 1},
		{URL: "https://cdn.example.com/5.jpg", Category: "kitchen", SelectionScore: 0.9},
		{URL: "https://cdn.example.com/6.jpg", Category: "exterior_front"},
		{URL: "https://cdn.example.com/7.jpg", Category: "bedroom-10"},
		{URL: "https://cdn.example.com/8.jpg", Category: "atrium"},
		{URL: "https://cdn.example.com/9.jpg", Category: "primary_bedroom", IsPrimary: true, SelectionScore: 0.8},
		{URL: "https://cdn.example.com/10.jpg", Category: "primary_bedroom", SelectionScore: 0.75},
	}
	specs, err := newTestPlanner(0.5).Plan(Input{Images: images, PrimaryImageURL: "https://cdn.example.com/6.jpg", EnablePrioritySecondary: true})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	wantOrder := []string{
		"exterior_front", "kitchen", "kitchen", "primary_bedroom", "primary_bedroom",
		"bedroom", "bedroom-2", "bedroom-10", "atrium", "wine_cellar",
	}
	if len(specs) != len(wantOrder) {
		t.Fatalf("expected %d jobs, got %d", len(wantOrder), len(specs))
	}
	for i, s := range specs {
		if s.Settings.SortOrder != i {
			t.Errorf("job %d has sortOrder %d", i, s.Settings.SortOrder)
		}
		if s.Settings.RoomCategory != wantOrder[i] {
			t.Errorf("job %d is %s, want %s", i, s.Settings.RoomCategory, wantOrder[i])
		}
		if i > 0 && s.Settings.PromptKey == specs[i-1].Settings.PromptKey {
			t.Errorf("jobs %d and %d share prompt key %s", i-1, i, s.Settings.PromptKey)
		}
	}
	if specs[6].Settings.RoomName != "Bedroom 2" || specs[6].Settings.RoomNumber != 2 {
		t.Errorf("unexpected room naming: %q #%d", specs[6].Settings.RoomName, specs[6].Settings.RoomNumber)
	}
}

func TestPlanValidationErrors(t *testing.T) {
	p := newTestPlanner(0.5)

	_, err := p.Plan(Input{PrimaryImageURL: "https://cdn.example.com/a.jpg"})
	if !apperr.IsKind(err, apperr.KindValidation) || apperr.CodeOf(err) != CodeNoRooms {
		t.Errorf("expected no_rooms validation error, got %v", err)
	}

	_, err = p.Plan(Input{Images: []models.ListingImage{{URL: "https://cdn.example.com/a.jpg", Category: "kitchen"}}})
	if !apperr.IsKind(err, apperr.KindValidation) || apperr.CodeOf(err) != CodeNoPrimaryImage {
		t.Errorf("expected no_primary_image validation error, got %v", err)
	}
}

func TestPlanOrientationDefaults(t *testing.T) {
	specs, err := newTestPlanner(0.5).Plan(Input{
		Images:          []models.ListingImage{{URL: "https://cdn.example.com/a.jpg", Category: "living_room", IsPrimary: true}},
		PrimaryImageURL: "https://cdn.example.com/a.jpg",
		Orientation:     models.OrientationLandscape,
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if specs[0].Settings.AspectRatio != "16:9" {
		t.Errorf("expected 16:9, got %s", specs[0].Settings.AspectRatio)
	}
}
