package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/flex-statement/internal/dto"
	"github.com/noah-isme/flex-statement/internal/models"
	appErrors "github.com/noah-isme/flex-statement/pkg/errors"
)

type statementClient interface {
	Submit(ctx context.Context, dateRange models.DateRange) (models.ReferenceToken, error)
	AwaitReady(ctx context.Context, wait time.Duration) error
	Fetch(ctx context.Context, ref models.ReferenceToken) ([]byte, error)
}

type statementStore interface {
	Save(filename string, data []byte) (string, error)
}

// StageError wraps a pipeline failure with the last completed stage and, once
// submitted, the reference code the service issued.
type StageError struct {
	Stage         models.Stage
	ReferenceCode models.ReferenceToken
	Err           error
}

func (e *StageError) Error() string {
	if e.ReferenceCode != "" {
		return fmt.Sprintf("%v (reference code %s)", e.Err, e.ReferenceCode)
	}
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StatementServiceConfig holds pipeline defaults.
type StatementServiceConfig struct {
	DefaultOutputPath string
	Wait              time.Duration
}

// StatementService runs one submit, wait, fetch, persist sequence per call.
type StatementService struct {
	client    statementClient
	store     statementStore
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       StatementServiceConfig
	now       func() time.Time
	newRunID  func() string
}

// NewStatementService constructs the service.
func NewStatementService(client statementClient, store statementStore, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg StatementServiceConfig) *StatementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultOutputPath == "" {
		cfg.DefaultOutputPath = "data/processed/flex_statement.csv"
	}
	if cfg.Wait < 0 {
		cfg.Wait = 0
	}
	svc := &StatementService{
		client:    client,
		store:     store,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	svc.validator.RegisterValidation("flexdate", func(fl validator.FieldLevel) bool {
		_, err := models.NormalizeDate(fl.Field().String())
		return err == nil
	})
	return svc
}

// Retrieve downloads one statement and writes it to the requested path.
func (s *StatementService) Retrieve(ctx context.Context, req dto.StatementRequest) (*models.StatementResult, error) {
	runID := s.newRunID()
	log := s.logger.With(zap.String("run_id", runID))

	result, err := s.retrieve(ctx, log, runID, req)
	if err != nil {
		code := appErrors.FromError(err).Code
		lastStage := models.StageIdle
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			lastStage = stageErr.Stage
		}
		s.metrics.RecordRun(code)
		log.Sugar().Errorw("statement retrieval failed", "stage", models.StageFailed, "last_stage", lastStage, "code", code, "error", err)
		return nil, err
	}
	s.metrics.RecordRun("ok")
	s.metrics.RecordPayload(result.Bytes, result.FinishedAt)
	return result, nil
}

func (s *StatementService) retrieve(ctx context.Context, log *zap.Logger, runID string, req dto.StatementRequest) (*models.StatementResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrValidation, err, "invalid statement request")
	}
	dateRange, err := models.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrValidation, err, "invalid date range")
	}
	output := req.OutputPath
	if output == "" {
		output = s.cfg.DefaultOutputPath
	}
	wait := s.cfg.Wait
	if req.Wait != nil {
		wait = *req.Wait
	}

	result := &models.StatementResult{RunID: runID, Range: dateRange, StartedAt: s.now().UTC()}
	log.Sugar().Infow("starting flex statement download", "range", dateRange.String(), "output", output)

	ref, err := s.client.Submit(ctx, dateRange)
	if err != nil {
		return nil, &StageError{Stage: models.StageIdle, Err: err}
	}
	result.ReferenceCode = ref
	log.Sugar().Infow("request sent", "stage", models.StageSubmitted, "reference_code", ref)

	if err := s.client.AwaitReady(ctx, wait); err != nil {
		return nil, &StageError{Stage: models.StageSubmitted, ReferenceCode: ref, Err: err}
	}

	payload, err := s.client.Fetch(ctx, ref)
	if err != nil {
		return nil, &StageError{Stage: models.StageWaited, ReferenceCode: ref, Err: err}
	}
	result.Bytes = len(payload)
	log.Sugar().Infow("statement downloaded", "stage", models.StageFetched, "bytes", len(payload))

	path, err := s.store.Save(output, payload)
	if err != nil {
		return nil, &StageError{
			Stage:         models.StageFetched,
			ReferenceCode: ref,
			Err:           appErrors.WrapAs(appErrors.ErrPersistence, err, ""),
		}
	}
	result.Path = path
	result.FinishedAt = s.now().UTC()
	log.Sugar().Infow("statement saved", "stage", models.StagePersisted, "path", path)
	return result, nil
}
