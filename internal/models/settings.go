package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// SettingsSchemaV1 is the only generation-settings layout currently written.
const SettingsSchemaV1 = 1

// Provider identifies which generation backend a job was dispatched to.
type Provider string

const (
	ProviderQueue Provider = "queue"
	ProviderVeo   Provider = "veo"
)

// Known generation models, one per provider variant.
const (
	ModelKlingImageToVideo = "fal-ai/kling-video/v2.1/standard/image-to-video"
	ModelVeo               = "veo-3.1-generate-preview"
)

var validate = validator.New()

// Validate runs struct-tag validation on any model DTO.
func Validate(v interface{}) error {
	return validate.Struct(v)
}

// GenerationSettings is the versioned settings record stored on each job.
// Decoding rejects unknown schema versions and models so downstream code
// only ever sees the variants listed here.
type GenerationSettings struct {
	SchemaVersion   int         `json:"schemaVersion" validate:"eq=1"`
	Provider        Provider    `json:"provider" validate:"oneof=queue veo"`
	Model           string      `json:"model" validate:"required"`
	Orientation     Orientation `json:"orientation" validate:"oneof=portrait landscape square"`
	AspectRatio     string      `json:"aspectRatio" validate:"oneof=9:16 16:9 1:1"`
	ImageURLs       []string    `json:"imageUrls" validate:"min=1,dive,url"`
	Prompt          string      `json:"prompt" validate:"required"`
	PromptKey       string      `json:"promptKey"`
	RoomCategory    string      `json:"roomCategory" validate:"required"`
	RoomName        string      `json:"roomName"`
	RoomNumber      int         `json:"roomNumber" validate:"gte=1"`
	SortOrder       int         `json:"sortOrder" validate:"gte=0"`
	ClipIndex       int         `json:"clipIndex" validate:"oneof=0 1"`
	DurationSeconds int         `json:"durationSeconds" validate:"gte=1,lte=15"`
}

// modelsByProvider lists the models each provider variant accepts.
var modelsByProvider = map[Provider][]string{
	ProviderQueue: {ModelKlingImageToVideo},
	ProviderVeo:   {ModelVeo},
}

// Check validates tags and the provider/model pairing.
func (s GenerationSettings) Check() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid generation settings: %w", err)
	}
	for _, m := range modelsByProvider[s.Provider] {
		if m == s.Model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not served by provider %q", s.Model, s.Provider)
}

func (s GenerationSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *GenerationSettings) Scan(value interface{}) error {
	if err := scanJSON(value, s); err != nil {
		return err
	}
	return s.checkSchema()
}

// UnmarshalJSON decodes through an alias and then checks the discriminator.
func (s *GenerationSettings) UnmarshalJSON(data []byte) error {
	type alias GenerationSettings
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = GenerationSettings(a)
	return s.checkSchema()
}

func (s GenerationSettings) checkSchema() error {
	if s.SchemaVersion != SettingsSchemaV1 {
		return fmt.Errorf("unsupported generation settings schema version %d", s.SchemaVersion)
	}
	if _, ok := modelsByProvider[s.Provider]; !ok {
		return fmt.Errorf("unknown generation provider %q", s.Provider)
	}
	return nil
}

// LogoPosition is the corner a logo is pinned to.
type LogoPosition string

const (
	LogoTopLeft     LogoPosition = "top-left"
	LogoTopRight    LogoPosition = "top-right"
	LogoBottomLeft  LogoPosition = "bottom-left"
	LogoBottomRight LogoPosition = "bottom-right"
)

type LogoSettings struct {
	URL      string       `json:"url" validate:"required,url"`
	Position LogoPosition `json:"position" validate:"oneof=top-left top-right bottom-left bottom-right"`
}

type SubtitleSettings struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text" validate:"required_if=Enabled true"`
	Font    string `json:"font,omitempty"`
}

// CompositionSettings controls how finished clips are stitched together.
type CompositionSettings struct {
	Transitions bool              `json:"transitions"`
	Logo        *LogoSettings     `json:"logo,omitempty" validate:"omitempty"`
	Subtitles   *SubtitleSettings `json:"subtitles,omitempty" validate:"omitempty"`
}

func (c CompositionSettings) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *CompositionSettings) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// SubtitlesEnabled reports whether captions should be burned in.
func (c CompositionSettings) SubtitlesEnabled() bool {
	return c.Subtitles != nil && c.Subtitles.Enabled && c.Subtitles.Text != ""
}
