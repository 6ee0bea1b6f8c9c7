package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/email"
	"github.com/rahu7v3rma/soreal-sub001/internal/events"
	"github.com/rahu7v3rma/soreal-sub001/internal/inference"
	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
	"github.com/rahu7v3rma/soreal-sub001/internal/storage"
	"github.com/rahu7v3rma/soreal-sub001/internal/utils"
)

// maxFailReasonBytes bounds the error text stored on a failed generation.
const maxFailReasonBytes = 500

// Inference is the subset of the gateway client used for image jobs.
type Inference interface {
	Generate(ctx context.Context, opts inference.GenerateOptions) (*inference.Result, error)
	Upscale(ctx context.Context, imageURL string, scale int) (*inference.Result, error)
	RemoveBackground(ctx context.Context, imageURL string) (*inference.Result, error)
	Download(ctx context.Context, imageURL string) ([]byte, string, error)
}

// ObjectStore re-hosts finished images.
type ObjectStore interface {
	Upload(ctx context.Context, userID string, data []byte, contentType string) (*storage.Object, error)
}

var (
	aspectRatios  = map[string]bool{"1:1": true, "16:9": true, "9:16": true, "4:3": true, "3:4": true, "3:2": true, "2:3": true, "21:9": true}
	outputFormats = map[string]bool{"png": true, "jpeg": true, "jpg": true, "webp": true}
)

// Caller identifies who asked for a job.
type Caller struct {
	UserID         string
	Email          string
	IdempotencyKey string
}

// GenerateInput is a text-to-image request.
type GenerateInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	OutputFormat   string `json:"output_format,omitempty"`
}

// UpscaleInput enlarges an existing image.
type UpscaleInput struct {
	ImageURL string `json:"image_url"`
	Scale    int    `json:"scale,omitempty"`
}

// RemoveBackgroundInput cuts out the subject of an existing image.
type RemoveBackgroundInput struct {
	ImageURL string `json:"image_url"`
}

// GenerationService runs image jobs against the inference gateway.
//
// A job reserves its credits and writes a pending generation in one
// transaction before the gateway is called. If the gateway, the download or
// the upload fails, the generation is marked failed and the credits come back
// as a refund ledger entry keyed by the generation id.
type GenerationService struct {
	DB        *gorm.DB
	Users     *UserService
	Inference Inference
	// Store may be nil, in which case the gateway URL is kept as is.
	Store  ObjectStore
	Mailer email.Sender
	Events events.Publisher

	Costs          map[string]int
	MaxPromptRunes int
	IdempotencyTTL time.Duration
}

// Generate runs a text-to-image job. replayed is true when an earlier job
// with the same idempotency key is returned instead.
func (s *GenerationService) Generate(ctx context.Context, c Caller, in GenerateInput) (g *domain.Generation, replayed bool, err error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.NegativePrompt = strings.TrimSpace(in.NegativePrompt)
	in.AspectRatio = strings.TrimSpace(in.AspectRatio)
	in.OutputFormat = strings.ToLower(strings.TrimSpace(in.OutputFormat))

	if err := s.checkPrompt(in.Prompt); err != nil {
		return nil, false, err
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(in.NegativePrompt) > s.MaxPromptRunes {
		return nil, false, ErrPromptTooLong
	}
	if in.AspectRatio != "" && !aspectRatios[in.AspectRatio] {
		return nil, false, fmt.Errorf("%w: unsupported aspect_ratio %q", ErrInvalidParams, in.AspectRatio)
	}
	if in.OutputFormat != "" && !outputFormats[in.OutputFormat] {
		return nil, false, fmt.Errorf("%w: unsupported output_format %q", ErrInvalidParams, in.OutputFormat)
	}
	return s.run(ctx, c, domain.KindGenerate, in.Prompt, in, func(ctx context.Context) (*inference.Result, error) {
		return s.Inference.Generate(ctx, inference.GenerateOptions{
			Prompt:         in.Prompt,
			NegativePrompt: in.NegativePrompt,
			AspectRatio:    in.AspectRatio,
			OutputFormat:   in.OutputFormat,
		})
	})
}

// Upscale runs an upscale job. Scale defaults to 2; only 2 and 4 are valid.
func (s *GenerationService) Upscale(ctx context.Context, c Caller, in UpscaleInput) (*domain.Generation, bool, error) {
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if !isHTTPURL(in.ImageURL) {
		return nil, false, ErrInvalidImageURL
	}
	switch in.Scale {
	case 0:
		in.Scale = 2
	case 2, 4:
	default:
		return nil, false, fmt.Errorf("%w: scale must be 2 or 4", ErrInvalidParams)
	}
	return s.run(ctx, c, domain.KindUpscale, "", in, func(ctx context.Context) (*inference.Result, error) {
		return s.Inference.Upscale(ctx, in.ImageURL, in.Scale)
	})
}

// RemoveBackground runs a background-removal job.
func (s *GenerationService) RemoveBackground(ctx context.Context, c Caller, in RemoveBackgroundInput) (*domain.Generation, bool, error) {
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if !isHTTPURL(in.ImageURL) {
		return nil, false, ErrInvalidImageURL
	}
	return s.run(ctx, c, domain.KindRemoveBackground, "", in, func(ctx context.Context) (*inference.Result, error) {
		return s.Inference.RemoveBackground(ctx, in.ImageURL)
	})
}

// Get returns one of the caller's generations.
func (s *GenerationService) Get(ctx context.Context, userID, id string) (*domain.Generation, error) {
	g, err := repo.GetGeneration(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrGenerationNotFound
	}
	return g, err
}

func (s *GenerationService) checkPrompt(p string) error {
	if p == "" {
		return ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(p) > s.MaxPromptRunes {
		return ErrPromptTooLong
	}
	return nil
}

func (s *GenerationService) cost(kind string) int {
	if n := s.Costs[kind]; n > 0 {
		return n
	}
	return 1
}

func idempotencyScope(kind string) string { return "create-image:" + kind }

func (s *GenerationService) run(
	ctx context.Context,
	c Caller,
	kind, prompt string,
	params any,
	call func(context.Context) (*inference.Result, error),
) (*domain.Generation, bool, error) {
	ctx, span := observability.Tracer("services/GenerationService").Start(ctx, "Run",
		trace.WithAttributes(
			attribute.String("user.id", c.UserID),
			attribute.String("generation.kind", kind),
		))
	defer span.End()

	scope := idempotencyScope(kind)
	if c.IdempotencyKey != "" {
		if g, ok, err := s.replay(ctx, c.UserID, scope, c.IdempotencyKey); err != nil || ok {
			if ok {
				observability.Generations.WithLabelValues(kind, "replayed").Inc()
			}
			return g, ok, err
		}
	}

	if s.Users != nil {
		if _, err := s.Users.Ensure(ctx, c.UserID, c.Email); err != nil {
			return nil, false, err
		}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, false, err
	}
	cost := s.cost(kind)
	g := &domain.Generation{
		ID:             uuid.NewString(),
		UserID:         c.UserID,
		Kind:           kind,
		Prompt:         prompt,
		Params:         datatypes.JSON(raw),
		Status:         domain.GenerationPending,
		CreditsCharged: cost,
	}
	span.SetAttributes(attribute.String("generation.id", g.ID))

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.DebitCredits(ctx, tx, c.UserID, cost, domain.ReasonGeneration, g.ID); err != nil {
			if errors.Is(err, repo.ErrInsufficientCredits) {
				return ErrInsufficientCredits
			}
			return err
		}
		if err := repo.CreateGeneration(ctx, tx, g); err != nil {
			return err
		}
		if c.IdempotencyKey == "" {
			return nil
		}
		_, err := repo.CreateIdempotency(ctx, tx, c.UserID, scope, c.IdempotencyKey, g.ID, 201, s.idempotencyTTL())
		if errors.Is(err, repo.ErrDuplicate) {
			return ErrRequestInFlight
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			observability.Generations.WithLabelValues(kind, "insufficient_credits").Inc()
		}
		return nil, false, err
	}
	observability.CreditsSpent.Add(float64(cost))

	start := time.Now()
	url, key, runErr := s.produce(ctx, c.UserID, call)
	observability.GenerationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "generation failed")
		s.fail(ctx, g, runErr)
		return nil, false, fmt.Errorf("%w: %v", ErrUpstream, runErr)
	}

	if err := repo.CompleteGeneration(ctx, s.DB, g.ID, url, key); err != nil {
		s.fail(ctx, g, err)
		return nil, false, err
	}
	g.Status, g.ImageURL, g.StorageKey = domain.GenerationSucceeded, url, key
	observability.Generations.WithLabelValues(kind, "succeeded").Inc()

	s.notify(ctx, c, g)
	return g, false, nil
}

// produce calls the gateway and copies the result into the bucket.
func (s *GenerationService) produce(ctx context.Context, userID string, call func(context.Context) (*inference.Result, error)) (url, key string, err error) {
	res, err := call(ctx)
	if err != nil {
		return "", "", err
	}
	if s.Store == nil {
		return res.URL, "", nil
	}
	data, ct, err := s.Inference.Download(ctx, res.URL)
	if err != nil {
		return "", "", err
	}
	obj, err := s.Store.Upload(ctx, userID, data, ct)
	if err != nil {
		return "", "", err
	}
	return obj.URL, obj.Key, nil
}

// replay returns the generation recorded for an idempotency key, if any.
func (s *GenerationService) replay(ctx context.Context, userID, scope, key string) (*domain.Generation, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	g, err := repo.GetGeneration(ctx, s.DB, rec.ResourceID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if g.Status == domain.GenerationPending {
		return nil, false, ErrRequestInFlight
	}
	return g, true, nil
}

// fail marks g failed and refunds its credits. It runs on a context detached
// from the request so a client disconnect can't skip the refund.
func (s *GenerationService) fail(ctx context.Context, g *domain.Generation, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger := log.Ctx(ctx).With().Str("generation_id", g.ID).Str("user_id", g.UserID).Logger()

	reason := utils.TruncateUTF8(cause.Error(), maxFailReasonBytes)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.FailGeneration(ctx, tx, g.ID, reason); err != nil {
			return err
		}
		_, err := repo.GrantCredits(ctx, tx, g.UserID, g.CreditsCharged, domain.ReasonRefund, g.ID)
		if errors.Is(err, repo.ErrDuplicate) {
			return nil
		}
		return err
	})
	if err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("refund after failed generation")
	} else {
		logger.Warn().Err(cause).Int("refunded", g.CreditsCharged).Msg("generation failed; credits refunded")
		observability.CreditsGranted.WithLabelValues(domain.ReasonRefund).Add(float64(g.CreditsCharged))
	}
	g.Status, g.Error, g.CreditsCharged = domain.GenerationFailed, reason, 0
	observability.Generations.WithLabelValues(g.Kind, "failed").Inc()
	s.publish(ctx, events.TypeGenerationFailed, g)
}

// notify sends the email and the event. Failures are logged only.
func (s *GenerationService) notify(ctx context.Context, c Caller, g *domain.Generation) {
	if s.Mailer != nil && c.Email != "" {
		err := s.Mailer.SendGenerationReady(ctx, email.GenerationReady{
			ToEmail:  c.Email,
			Kind:     g.Kind,
			ImageURL: g.ImageURL,
		})
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("generation_id", g.ID).Msg("generation email not sent")
		}
	}
	s.publish(ctx, events.TypeGenerationSucceeded, g)
}

func (s *GenerationService) publish(ctx context.Context, typ string, g *domain.Generation) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, events.Event{
		Type:       typ,
		UserID:     g.UserID,
		ResourceID: g.ID,
		Data:       map[string]any{"kind": g.Kind, "image_url": g.ImageURL, "error": g.Error},
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("generation_id", g.ID).Msg("publish generation event")
	}
}

func (s *GenerationService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}
