// Package planner fans a listing's categorized photos out into ordered
// generation job specs.
package planner

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/prompts"
)

// Validation codes returned by Plan.
const (
	CodeNoRooms        = "no_rooms"
	CodeNoPrimaryImage = "no_primary_image"
)

// categoryOrder is the walk-through order rooms appear in the final video.
var categoryOrder = []string{
	"exterior_aerial",
	"exterior_front",
	"entry",
	"foyer",
	"living_room",
	"family_room",
	"dining_room",
	"kitchen",
	"pantry",
	"primary_bedroom",
	"primary_bathroom",
	"bedroom",
	"bathroom",
	"half_bath",
	"office",
	"media_room",
	"gym",
	"laundry",
	"basement",
	"garage",
	"backyard",
	"patio",
	"deck",
	"pool",
	"exterior_back",
	"view",
}

var categoryRank = func() map[string]int {
	m := make(map[string]int, len(categoryOrder))
	for i, c := range categoryOrder {
		m[c] = i
	}
	return m
}()

// DefaultPriorityCategories get a second clip when a good secondary image exists.
var DefaultPriorityCategories = []string{"kitchen", "primary_bedroom"}

// Options configures a Planner. Zero values fall back to sensible defaults.
type Options struct {
	Provider           models.Provider
	Model              string
	DurationSeconds    int
	PriorityCategories []string
	MinSecondaryScore  float64
	Catalog            *prompts.Catalog
	// Rand drives prompt selection. Nil uses the global source.
	Rand *rand.Rand
}

// Input is one listing to plan.
type Input struct {
	Images                  []models.ListingImage
	PrimaryImageURL         string
	Orientation             models.Orientation
	EnablePrioritySecondary bool
}

type Planner struct {
	opts     Options
	priority map[string]bool
}

func New(opts Options) *Planner {
	if opts.Provider == "" {
		opts.Provider = models.ProviderQueue
	}
	if opts.Model == "" {
		opts.Model = models.ModelKlingImageToVideo
	}
	if opts.DurationSeconds == 0 {
		opts.DurationSeconds = 5
	}
	if opts.PriorityCategories == nil {
		opts.PriorityCategories = DefaultPriorityCategories
	}
	if opts.Catalog == nil {
		opts.Catalog = prompts.MustDefault()
	}
	priority := make(map[string]bool, len(opts.PriorityCategories))
	for _, c := range opts.PriorityCategories {
		priority[normalizeCategory(c)] = true
	}
	return &Planner{opts: opts, priority: priority}
}

// Plan returns one job per room, plus a secondary clip for priority rooms
// when enabled. SortOrder is gapless from 0 and the prompt key is threaded
// across the whole listing so consecutive clips never share a motion.
func (p *Planner) Plan(in Input) ([]models.JobSpec, error) {
	rooms := GroupRooms(in.Images)
	if len(rooms) == 0 {
		return nil, apperr.Validation(CodeNoRooms, "listing has no categorized images")
	}
	if strings.TrimSpace(in.PrimaryImageURL) == "" {
		return nil, apperr.Validation(CodeNoPrimaryImage, "listing has no primary image")
	}

	orientation := in.Orientation
	if orientation == "" {
		orientation = models.OrientationPortrait
	}

	var (
		specs   []models.JobSpec
		prevKey string
	)
	for _, room := range rooms {
		source := roomPrimary(room, in.PrimaryImageURL)
		specs, prevKey = p.appendJob(specs, room, source, 0, orientation, prevKey)

		if !in.EnablePrioritySecondary || !p.priority[prompts.BaseCategory(room.Category)] {
			continue
		}
		if secondary, ok := p.secondaryImage(room, source.URL); ok {
			specs, prevKey = p.appendJob(specs, room, secondary, 1, orientation, prevKey)
		}
	}
	return specs, nil
}

func (p *Planner) appendJob(specs []models.JobSpec, room models.RoomPlan, image models.ListingImage, clipIndex int, orientation models.Orientation, prevKey string) ([]models.JobSpec, string) {
	sel := p.opts.Catalog.Select(room.Category, image.Perspective, prevKey, p.opts.Rand)
	specs = append(specs, models.JobSpec{
		Settings: models.GenerationSettings{
			SchemaVersion:   models.SettingsSchemaV1,
			Provider:        p.opts.Provider,
			Model:           p.opts.Model,
			Orientation:     orientation,
			AspectRatio:     orientation.AspectRatio(),
			ImageURLs:       []string{image.URL},
			Prompt:          sel.Prompt,
			PromptKey:       sel.Key,
			RoomCategory:    room.Category,
			RoomName:        room.Name,
			RoomNumber:      room.Number,
			SortOrder:       len(specs),
			ClipIndex:       clipIndex,
			DurationSeconds: p.opts.DurationSeconds,
		},
	})
	return specs, sel.Key
}

// secondaryImage is the best-scoring image in the room other than the primary.
func (p *Planner) secondaryImage(room models.RoomPlan, primaryURL string) (models.ListingImage, bool) {
	var (
		best  models.ListingImage
		found bool
	)
	for _, img := range room.Images {
		if img.URL == primaryURL {
			continue
		}
		if !found || img.SelectionScore > best.SelectionScore {
			best, found = img, true
		}
	}
	if !found || best.SelectionScore < p.opts.MinSecondaryScore {
		return models.ListingImage{}, false
	}
	return best, true
}

// roomPrimary is the room's own flagged primary image, else the listing's.
func roomPrimary(room models.RoomPlan, listingPrimary string) models.ListingImage {
	for _, img := range room.Images {
		if img.IsPrimary {
			return img
		}
	}
	for _, img := range room.Images {
		if img.URL == listingPrimary {
			return img
		}
	}
	return models.ListingImage{URL: listingPrimary, Category: room.Category}
}

// GroupRooms buckets images by category and returns rooms in walk-through order.
func GroupRooms(images []models.ListingImage) []models.RoomPlan {
	byCategory := make(map[string]*models.RoomPlan)
	for _, img := range images {
		category := normalizeCategory(img.Category)
		if category == "" || img.URL == "" {
			continue
		}
		room, ok := byCategory[category]
		if !ok {
			base, number := splitCategory(category)
			room = &models.RoomPlan{
				ID:       category,
				Category: category,
				Name:     roomName(base, number),
				Number:   number,
			}
			byCategory[category] = room
		}
		room.Images = append(room.Images, img)
	}

	rooms := make([]models.RoomPlan, 0, len(byCategory))
	for _, room := range byCategory {
		rooms = append(rooms, *room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return roomLess(rooms[i].Category, rooms[j].Category)
	})
	return rooms
}

func roomLess(a, b string) bool {
	baseA, numA := splitCategory(a)
	baseB, numB := splitCategory(b)
	rankA, knownA := categoryRank[baseA]
	rankB, knownB := categoryRank[baseB]

	switch {
	case knownA && knownB:
		if rankA != rankB {
			return rankA < rankB
		}
		return numA < numB
	case knownA:
		return true
	case knownB:
		return false
	}
	if baseA != baseB {
		return baseA < baseB
	}
	return numA < numB
}

// splitCategory splits "bedroom-2" into ("bedroom", 2). Unsuffixed
// categories are room 1.
func splitCategory(category string) (string, int) {
	base := prompts.BaseCategory(category)
	if base == category {
		return category, 1
	}
	n, err := strconv.Atoi(category[len(base)+1:])
	if err != nil || n < 1 {
		return category, 1
	}
	return base, n
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	return strings.ReplaceAll(c, " ", "_")
}

func roomName(base string, number int) string {
	words := strings.Split(base, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	name := strings.Join(words, " ")
	if number > 1 {
		name = fmt.Sprintf("%s %d", name, number)
	}
	return name
}
