package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/storage"
)

const (
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 10 * time.Minute
	veoStagingPrefix   = "staging/veo"
)

// CallbackSink accepts provider callbacks for asynchronous processing.
type CallbackSink interface {
	EnqueueCallback(ctx context.Context, cb models.ProviderCallback) (string, error)
}

// VeoProvider generates clips with Google Veo. Veo has no webhooks, so each
// submission is polled in the background and its outcome is fed into the same
// callback path the queue provider's webhooks use.
type VeoProvider struct {
	client   *genai.Client
	model    string
	storage  storage.Backend
	sink     CallbackSink
	dlClient *http.Client
	log      zerolog.Logger

	pollInterval time.Duration
	baseCtx      context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewVeoProvider(ctx context.Context, apiKey, model string, stor storage.Backend, sink CallbackSink, logger zerolog.Logger) (*VeoProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = models.ModelVeo
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &VeoProvider{
		client:       client,
		model:        model,
		storage:      stor,
		sink:         sink,
		dlClient:     &http.Client{Timeout: ClipDownloadTimeout},
		log:          logger.With().Str("component", "provider").Str("provider", "veo").Logger(),
		pollInterval: veoPollInterval,
		baseCtx:      baseCtx,
		cancel:       cancel,
	}, nil
}

// Close stops background polling and waits for in-flight pollers.
func (p *VeoProvider) Close() {
	p.cancel()
	p.wg.Wait()
}

// Submit starts a Veo operation from the first image and returns the
// operation name as the request id.
func (p *VeoProvider) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if len(req.ImageURLs) != 1 {
		return "", apperr.Upstream(CodeTooManyImages, false, fmt.Errorf("veo takes exactly one first frame, got %d images", len(req.ImageURLs)))
	}

	imageData, err := fetchURL(ctx, p.dlClient, req.ImageURLs[0])
	if err != nil {
		return "", apperr.Upstream(CodeProviderRejected, false, fmt.Errorf("failed to fetch source image: %w", err))
	}

	duration := int32(req.DurationSeconds)
	config := &genai.GenerateVideosConfig{
		AspectRatio:     req.AspectRatio,
		NumberOfVideos:  1,
		DurationSeconds: &duration,
	}
	firstFrame := &genai.Image{
		ImageBytes: imageData,
		MIMEType:   http.DetectContentType(imageData),
	}

	operation, err := p.client.Models.GenerateVideos(ctx, p.model, req.Prompt, firstFrame, config)
	if err != nil {
		return "", apperr.Upstream(CodeProviderUnavailable, true, fmt.Errorf("failed to start video generation: %w", err))
	}

	jobID := jobIDFromWebhook(req.WebhookURL)
	p.log.Info().Str("request_id", operation.Name).Str("job_id", jobID).Msg("operation started")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.await(operation, jobID)
	}()

	return operation.Name, nil
}

// Download fetches a clip, through storage when the URL is one of ours.
func (p *VeoProvider) Download(ctx context.Context, clipURL string) ([]byte, error) {
	if _, ok := p.storage.KeyFromURL(clipURL); ok {
		data, err := storage.Fetch(ctx, p.storage, clipURL)
		if err != nil {
			return nil, apperr.Download("storage download failed", err)
		}
		return data, nil
	}
	return fetchURL(ctx, p.dlClient, clipURL)
}

// await polls the operation to completion and reports the outcome as a callback.
func (p *VeoProvider) await(operation *genai.GenerateVideosOperation, jobID string) {
	ctx, cancel := context.WithTimeout(p.baseCtx, veoMaxPollDuration)
	defer cancel()

	cb := models.ProviderCallback{RequestID: operation.Name, JobID: jobID}
	clipURL, err := p.poll(ctx, operation)
	if err != nil {
		p.log.Warn().Err(err).Str("request_id", operation.Name).Msg("generation failed")
		cb.Status = models.CallbackStatusError
		cb.Error = err.Error()
	} else {
		cb.Status = models.CallbackStatusOK
		cb.Payload = &models.CallbackPayload{Video: &models.CallbackVideo{URL: clipURL, ContentType: "video/mp4"}}
	}

	// The sink must still see the outcome if polling ran out of time.
	sendCtx, sendCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer sendCancel()
	if taskID, err := p.sink.EnqueueCallback(sendCtx, cb); err != nil {
		p.log.Error().Err(err).Str("request_id", operation.Name).Msg("failed to hand off callback")
	} else {
		p.log.Info().Str("request_id", operation.Name).Str("task_id", taskID).Str("status", cb.Status).Msg("callback handed off")
	}
}

func (p *VeoProvider) poll(ctx context.Context, operation *genai.GenerateVideosOperation) (string, error) {
	var err error
	pollCount := 0
	for !operation.Done {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("video generation abandoned after %d polls: %w", pollCount, ctx.Err())
		case <-time.After(p.pollInterval):
		}

		pollCount++
		operation, err = p.client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return "", fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}
	}

	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return "", fmt.Errorf("video generation operation failed: %s", string(errJSON))
	}
	if operation.Response == nil {
		return "", fmt.Errorf("no response in completed operation %s", operation.Name)
	}
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return "", fmt.Errorf("video blocked by safety filters: %s", reasons)
	}
	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return "", fmt.Errorf("no videos in response")
	}

	video := operation.Response.GeneratedVideos[0]
	data, err := p.client.Files.Download(ctx, genai.NewDownloadURIFromVideo(video.Video), nil)
	if err != nil {
		return "", fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("downloaded video is empty")
	}

	key := fmt.Sprintf("%s/%s.mp4", veoStagingPrefix, uuid.NewString())
	clipURL, err := p.storage.Upload(ctx, key, data, "video/mp4", map[string]string{"request-id": operation.Name})
	if err != nil {
		return "", fmt.Errorf("failed to stage clip: %w", err)
	}
	return clipURL, nil
}

func jobIDFromWebhook(webhookURL string) string {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("job_id")
}
