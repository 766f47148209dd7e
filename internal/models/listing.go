package models

// ListingImage is one categorized photo of a listing.
type ListingImage struct {
	URL            string  `json:"url" validate:"required,url"`
	Category       string  `json:"category" validate:"required"`
	IsPrimary      bool    `json:"isPrimary"`
	SelectionScore float64 `json:"selectionScore"`
	// Perspective is "aerial" or "ground" for exterior shots; empty for interiors.
	Perspective string `json:"perspective,omitempty" validate:"omitempty,oneof=aerial ground"`
}

// RoomPlan groups the images of one room during fan-out.
type RoomPlan struct {
	ID       string
	Category string
	Name     string
	Number   int
	Images   []ListingImage
}

// JobSpec is one planned generation job before it is persisted.
type JobSpec struct {
	Settings GenerationSettings
}

// CreateBatchRequest starts video generation for a listing.
type CreateBatchRequest struct {
	ListingID               string              `json:"listingId" validate:"required"`
	OwnerID                 string              `json:"ownerId" validate:"required"`
	DisplayName             *string             `json:"displayName,omitempty"`
	PrimaryImageURL         string              `json:"primaryImageUrl"`
	Orientation             Orientation         `json:"orientation" validate:"omitempty,oneof=portrait landscape square"`
	Images                  []ListingImage      `json:"images" validate:"dive"`
	EnablePrioritySecondary *bool               `json:"enablePrioritySecondary,omitempty"`
	Composition             CompositionSettings `json:"composition"`
}

type CreateBatchResponse struct {
	BatchID  string      `json:"batchId"`
	Status   BatchStatus `json:"status"`
	JobCount int         `json:"jobCount"`
	TaskID   string      `json:"taskId"`
}

// BatchResponse is the polling view of a batch.
type BatchResponse struct {
	VideoBatch
	Jobs []GenerationJob `json:"jobs,omitempty"`
}
