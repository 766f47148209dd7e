package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func validSettings() GenerationSettings {
	return GenerationSettings{
		SchemaVersion:   SettingsSchemaV1,
		Provider:        ProviderQueue,
		Model:           ModelKlingImageToVideo,
		Orientation:     OrientationPortrait,
		AspectRatio:     "9:16",
		ImageURLs:       []string{"https://cdn.example.com/kitchen.jpg"},
		Prompt:          "slow push in",
		PromptKey:       "interior-push-in",
		RoomCategory:    "kitchen",
		RoomName:        "Kitchen",
		RoomNumber:      1,
		SortOrder:       0,
		ClipIndex:       0,
		DurationSeconds: 5,
	}
}

func TestGenerationSettingsCheck(t *testing.T) {
	s := validSettings()
	if err := s.Check(); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}

	s.Model = ModelVeo
	if err := s.Check(); err == nil {
		t.Error("expected provider/model mismatch to fail")
	}

	s = validSettings()
	s.ImageURLs = nil
	if err := s.Check(); err == nil {
		t.Error("expected missing image urls to fail")
	}
}

func TestGenerationSettingsRejectsUnknownSchema(t *testing.T) {
	raw := `{"schemaVersion":2,"provider":"queue","model":"x"}`
	var s GenerationSettings
	err := json.Unmarshal([]byte(raw), &s)
	if err == nil || !strings.Contains(err.Error(), "schema version") {
		t.Fatalf("expected schema version error, got %v", err)
	}

	raw = `{"schemaVersion":1,"provider":"sora","model":"x"}`
	if err := s.Scan([]byte(raw)); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestGenerationSettingsRoundTrip(t *testing.T) {
	in := validSettings()
	v, err := in.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	var out GenerationSettings
	if err := out.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if out.RoomCategory != "kitchen" || out.ImageURLs[0] != in.ImageURLs[0] {
		t.Errorf("unexpected decoded settings: %+v", out)
	}
}

func TestJobStatusPredicates(t *testing.T) {
	if !JobStatusCompleted.IsSettled() || !JobStatusCanceled.IsSettled() {
		t.Error("completed and canceled must be settled")
	}
	if JobStatusFailed.IsSettled() {
		t.Error("failed must not be settled")
	}
	if !JobStatusFailed.IsDone() || JobStatusProcessing.IsDone() {
		t.Error("unexpected IsDone result")
	}
}

func TestCompositionSettingsValidation(t *testing.T) {
	c := CompositionSettings{
		Transitions: true,
		Logo:        &LogoSettings{URL: "https://cdn.example.com/logo.png", Position: "middle"},
	}
	if err := Validate(c); err == nil {
		t.Error("expected invalid logo position to fail")
	}

	c.Logo.Position = LogoBottomRight
	c.Subtitles = &SubtitleSettings{Enabled: true}
	if err := Validate(c); err == nil {
		t.Error("expected enabled subtitles without text to fail")
	}

	c.Subtitles.Text = "Welcome home"
	if err := Validate(c); err != nil {
		t.Errorf("expected valid composition settings, got %v", err)
	}
	if !c.SubtitlesEnabled() {
		t.Error("expected subtitles enabled")
	}
}

func TestOrientationAspectRatio(t *testing.T) {
	cases := map[Orientation]string{
		OrientationPortrait:  "9:16",
		OrientationLandscape: "16:9",
		OrientationSquare:    "1:1",
		"":                   "9:16",
	}
	for o, want := range cases {
		if got := o.AspectRatio(); got != want {
			t.Errorf("%q: expected %s, got %s", o, want, got)
		}
	}
}
