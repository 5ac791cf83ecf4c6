package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/pkg/config"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
	"github.com/k12share/paperclip-api/pkg/jobs"
)

const smsResendInterval = time.Minute

type smsDispatcher interface {
	Enqueue(job jobs.Job) error
}

// SMSService issues and verifies short-lived verification codes. Codes live
// in Redis under a per-purpose key and are consumed on successful verify.
// Actual delivery goes through the background queue; the handler currently
// logs the message because no carrier gateway is wired in this deployment.
type SMSService struct {
	redis     *redis.Client
	queue     smsDispatcher
	cfg       config.SMSConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSMSService constructs SMSService.
func NewSMSService(client *redis.Client, queue smsDispatcher, cfg config.SMSConfig, validate *validator.Validate, logger *zap.Logger) *SMSService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMSService{redis: client, queue: queue, cfg: cfg, validator: validate, logger: logger}
}

// SetDispatcher wires the delivery queue after construction. The queue's
// handler comes from this service, so the two cannot be built in one step.
func (s *SMSService) SetDispatcher(queue smsDispatcher) {
	s.queue = queue
}

// SMSPayload is the job payload handed to the delivery queue.
type SMSPayload struct {
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

// Send generates a code for the phone and purpose, stores it with the
// configured TTL, and dispatches delivery. Repeated requests inside the
// resend window are rejected.
func (s *SMSService) Send(ctx context.Context, req models.SendSMSCodeRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sms request")
	}

	sentKey := smsSentKey(req.Phone)
	set, err := s.redis.SetNX(ctx, sentKey, "1", smsResendInterval).Result()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rate limit sms")
	}
	if !set {
		return appErrors.Clone(appErrors.ErrConflict, "verification code already sent, try again later")
	}

	code, err := generateSMSCode()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}

	ttl := s.cfg.CodeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := s.redis.Set(ctx, smsCodeKey(req.Phone, req.Purpose), code, ttl).Err(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store code")
	}

	payload := SMSPayload{Phone: req.Phone, Code: code, Purpose: req.Purpose}
	if s.cfg.DispatchQueued && s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "sms_delivery", Payload: payload}); err != nil {
			s.logger.Warn("failed to enqueue sms delivery, sending inline", zap.Error(err))
			s.deliver(payload)
		}
		return nil
	}
	s.deliver(payload)
	return nil
}

// Verify checks the code for the phone and purpose and consumes it.
func (s *SMSService) Verify(ctx context.Context, phone, purpose, code string) error {
	key := smsCodeKey(phone, purpose)
	stored, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.Clone(appErrors.ErrValidation, "verification code expired or not requested")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load code")
	}
	if stored != code {
		return appErrors.Clone(appErrors.ErrValidation, "incorrect verification code")
	}
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("failed to consume verification code", zap.String("phone", phone), zap.Error(err))
	}
	return nil
}

// DeliveryHandler returns the queue handler that performs the send.
func (s *SMSService) DeliveryHandler() jobs.Handler {
	return func(_ context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(SMSPayload)
		if !ok {
			return fmt.Errorf("unexpected sms payload type %T", job.Payload)
		}
		s.deliver(payload)
		return nil
	}
}

func (s *SMSService) deliver(payload SMSPayload) {
	// Gateway integration pending; log-only delivery keeps the flow testable.
	s.logger.Info("sms delivery",
		zap.String("phone", maskPhone(payload.Phone)),
		zap.String("purpose", payload.Purpose),
	)
}

func generateSMSCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func smsCodeKey(phone, purpose string) string {
	return "sms:code:" + purpose + ":" + phone
}

func smsSentKey(phone string) string {
	return "sms:sent:" + phone
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:3] + "****" + phone[len(phone)-4:]
}
