package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/provider"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
)

// memAttemptRepo applies the same conditional transitions as the SQL repository.
type memAttemptRepo struct {
	mu           sync.Mutex
	rows         map[string]*domain.NotificationAttempt
	createFn     func(ctx context.Context, a *domain.NotificationAttempt) error
	getFn        func(ctx context.Context, id string) (*domain.NotificationAttempt, error)
	getByIDsErr  error
	markRetryErr error
}

var _ repository.AttemptRepository = (*memAttemptRepo)(nil)

func newMemAttemptRepo() *memAttemptRepo {
	return &memAttemptRepo{rows: make(map[string]*domain.NotificationAttempt)}
}

func (r *memAttemptRepo) put(a domain.NotificationAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[a.ID] = &a
}

func (r *memAttemptRepo) get(id string) domain.NotificationAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[id]; ok {
		return *a
	}
	return domain.NotificationAttempt{}
}

func (r *memAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	if r.createFn != nil {
		if err := r.createFn(ctx, a); err != nil {
			return err
		}
	}
	r.put(*a)
	return nil
}

func (r *memAttemptRepo) GetByID(ctx context.Context, id string) (*domain.NotificationAttempt, error) {
	if r.getFn != nil {
		return r.getFn(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (r *memAttemptRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.NotificationAttempt, error) {
	if r.getByIDsErr != nil {
		return nil, r.getByIDsErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NotificationAttempt, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.rows[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memAttemptRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Status.IsTerminal() {
		return false, nil
	}
	a.Status = domain.AttemptStatusSent
	a.SentAt = &sentAt
	a.Error = nil
	a.NextRetryAt = nil
	return true, nil
}

func (r *memAttemptRepo) MarkRetry(ctx context.Context, id string, currentRetryCount int, nextRetryAt time.Time, errMsg string) (bool, error) {
	if r.markRetryErr != nil {
		return false, r.markRetryErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Status != domain.AttemptStatusPending || a.RetryCount != currentRetryCount {
		return false, nil
	}
	a.Status = domain.AttemptStatusRetry
	a.RetryCount = currentRetryCount + 1
	a.NextRetryAt = &nextRetryAt
	a.Error = &errMsg
	return true, nil
}

func (r *memAttemptRepo) ClaimForResend(ctx context.Context, id string, retryCount int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Status != domain.AttemptStatusRetry || a.RetryCount != retryCount {
		return false, nil
	}
	a.Status = domain.AttemptStatusPending
	return true, nil
}

func (r *memAttemptRepo) MarkFailed(ctx context.Context, id string, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Status.IsTerminal() {
		return false, nil
	}
	a.Status = domain.AttemptStatusFailed
	a.Error = &errMsg
	a.NextRetryAt = nil
	return true, nil
}

func (r *memAttemptRepo) DeferRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Status != domain.AttemptStatusRetry || a.RetryCount != retryCount {
		return false, nil
	}
	a.NextRetryAt = &nextRetryAt
	return true, nil
}

func (r *memAttemptRepo) GetStaleRetries(ctx context.Context, dueBefore time.Time, limit int) ([]domain.NotificationAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.NotificationAttempt
	for _, a := range r.rows {
		if a.Status == domain.AttemptStatusRetry && a.NextRetryAt != nil && !a.NextRetryAt.After(dueBefore) {
			out = append(out, *a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type publishedRetry struct {
	msg   queue.RetryMessage
	delay time.Duration
}

type fakePublisher struct {
	mu                  sync.Mutex
	retries             []publishedRetry
	deadLetters         []queue.DeadLetterMessage
	publishRetryFn      func(ctx context.Context, msg queue.RetryMessage, delay time.Duration) error
	publishDeadLetterFn func(ctx context.Context, msg queue.DeadLetterMessage) error
}

var _ queue.Publisher = (*fakePublisher)(nil)

func (f *fakePublisher) PublishRetry(ctx context.Context, msg queue.RetryMessage, delay time.Duration) error {
	if f.publishRetryFn != nil {
		if err := f.publishRetryFn(ctx, msg, delay); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, publishedRetry{msg: msg, delay: delay})
	return nil
}

func (f *fakePublisher) PublishDeadLetter(ctx context.Context, msg queue.DeadLetterMessage) error {
	if f.publishDeadLetterFn != nil {
		if err := f.publishDeadLetterFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) lastRetry() (publishedRetry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.retries) == 0 {
		return publishedRetry{}, false
	}
	return f.retries[len(f.retries)-1], true
}

func (f *fakePublisher) deadLetterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deadLetters)
}

type fakeAdapter struct {
	mu     sync.Mutex
	calls  int
	sendFn func(ctx context.Context, cfg domain.ChannelConfig, content string, subject *string) (*provider.AdapterResult, error)
}

func (f *fakeAdapter) Send(ctx context.Context, cfg domain.ChannelConfig, content string, subject *string) (*provider.AdapterResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, cfg, content, subject)
	}
	return &provider.AdapterResult{StatusCode: 200}, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// sequenceAdapter returns errs in order, then succeeds.
func sequenceAdapter(errs ...error) *fakeAdapter {
	var mu sync.Mutex
	i := 0
	return &fakeAdapter{
		sendFn: func(ctx context.Context, cfg domain.ChannelConfig, content string, subject *string) (*provider.AdapterResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if i < len(errs) {
				err := errs[i]
				i++
				return nil, err
			}
			return &provider.AdapterResult{StatusCode: 200}, nil
		},
	}
}

type fakeConfigProvider struct {
	configs map[domain.Channel]*domain.ChannelConfig
	err     error
}

func (f *fakeConfigProvider) GetChannelConfig(ctx context.Context, userID string, channel domain.Channel) (*domain.ChannelConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.configs[channel], nil
}

func (f *fakeConfigProvider) GetActiveChannelConfigs(ctx context.Context, userID string, channels []domain.Channel) (map[domain.Channel]*domain.ChannelConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[domain.Channel]*domain.ChannelConfig)
	for _, channel := range channels {
		if cfg, ok := f.configs[channel]; ok {
			out[channel] = cfg
		}
	}
	return out, nil
}

type fakeRenderer struct {
	renderFn func(ctx context.Context, key string, channels []domain.Channel, vars map[string]string) (map[domain.Channel]domain.RenderedContent, error)
}

func (f *fakeRenderer) RenderForChannels(ctx context.Context, key string, channels []domain.Channel, vars map[string]string) (map[domain.Channel]domain.RenderedContent, error) {
	if f.renderFn != nil {
		return f.renderFn(ctx, key, channels, vars)
	}
	return map[domain.Channel]domain.RenderedContent{}, nil
}

// memIdempotencyRepo is a single-process stand-in for the reservation table.
type memIdempotencyRepo struct {
	mu            sync.Mutex
	records       map[string]*domain.IdempotencyRecord
	completeErrs  []error
	completeCalls int
}

var _ repository.IdempotencyRepository = (*memIdempotencyRepo)(nil)

func newMemIdempotencyRepo() *memIdempotencyRepo {
	return &memIdempotencyRepo{records: make(map[string]*domain.IdempotencyRecord)}
}

func idempotencyKey(key, userID string) string { return userID + "/" + key }

func (r *memIdempotencyRepo) GetActive(ctx context.Context, key, userID string, now time.Time) (*domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[idempotencyKey(key, userID)]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, domain.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (r *memIdempotencyRepo) Reserve(ctx context.Context, key, userID string, now, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := idempotencyKey(key, userID)
	if rec, ok := r.records[k]; ok && rec.ExpiresAt.After(now) {
		return false, nil
	}
	r.records[k] = &domain.IdempotencyRecord{Key: key, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now}
	return true, nil
}

func (r *memIdempotencyRepo) Complete(ctx context.Context, key, userID string, messageIDs []string, completedAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeCalls++
	if len(r.completeErrs) > 0 {
		err := r.completeErrs[0]
		r.completeErrs = r.completeErrs[1:]
		if err != nil {
			return err
		}
	}
	rec, ok := r.records[idempotencyKey(key, userID)]
	if !ok || rec.CompletedAt != nil {
		return domain.ErrNotFound
	}
	rec.MessageIDs = append([]string(nil), messageIDs...)
	rec.CompletedAt = &completedAt
	rec.ExpiresAt = expiresAt
	return nil
}

func (r *memIdempotencyRepo) completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completeCalls
}

func (r *memIdempotencyRepo) record(key, userID string) (domain.IdempotencyRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[idempotencyKey(key, userID)]
	if !ok {
		return domain.IdempotencyRecord{}, false
	}
	return *rec, true
}

func (r *memIdempotencyRepo) Release(ctx context.Context, key, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := idempotencyKey(key, userID)
	if rec, ok := r.records[k]; ok && rec.CompletedAt == nil {
		delete(r.records, k)
	}
	return nil
}

func (r *memIdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, rec := range r.records {
		if !rec.ExpiresAt.After(now) {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

type fakeSettingProvider struct {
	values map[string]string
	err    error
}

func (f *fakeSettingProvider) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.values[key]
	return v, ok, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

type fakeConsumer struct {
	consumeRetriesFn     func(ctx context.Context, handler queue.RetryHandler) error
	consumeDeadLettersFn func(ctx context.Context, handler queue.DeadLetterHandler) error
}

func (f *fakeConsumer) ConsumeRetries(ctx context.Context, handler queue.RetryHandler) error {
	if f.consumeRetriesFn != nil {
		return f.consumeRetriesFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) ConsumeDeadLetters(ctx context.Context, handler queue.DeadLetterHandler) error {
	if f.consumeDeadLettersFn != nil {
		return f.consumeDeadLettersFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeSink struct {
	mu        sync.Mutex
	published []queue.DeadLetterMessage
	err       error
}

func (f *fakeSink) Publish(ctx context.Context, msg queue.DeadLetterMessage) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeSink) Close() error { return nil }

type fakeChannelConfigRepo struct {
	getActiveFn func(ctx context.Context, userID string, channel domain.Channel) (*domain.ChannelConfig, error)
	upsertFn    func(ctx context.Context, cfg *domain.ChannelConfig) error
}

func (f *fakeChannelConfigRepo) GetActive(ctx context.Context, userID string, channel domain.Channel) (*domain.ChannelConfig, error) {
	if f.getActiveFn != nil {
		return f.getActiveFn(ctx, userID, channel)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeChannelConfigRepo) Upsert(ctx context.Context, cfg *domain.ChannelConfig) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, cfg)
	}
	return nil
}

type fakeSettingRepo struct {
	upsertFn func(ctx context.Context, key, value string) error
}

func (f *fakeSettingRepo) Get(ctx context.Context, key string) (*domain.SystemSetting, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeSettingRepo) Upsert(ctx context.Context, key, value string) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, key, value)
	}
	return nil
}

type fakeCacheWriter struct {
	setConfigs  []*domain.ChannelConfig
	invalidated []string
	settings    map[string]string
}

func (f *fakeCacheWriter) SetChannelConfig(ctx context.Context, cfg *domain.ChannelConfig) {
	f.setConfigs = append(f.setConfigs, cfg)
}

func (f *fakeCacheWriter) InvalidateChannelConfig(ctx context.Context, userID string, channel domain.Channel) error {
	f.invalidated = append(f.invalidated, userID+"/"+channel.String())
	return nil
}

func (f *fakeCacheWriter) SetSetting(ctx context.Context, key, value string) {
	if f.settings == nil {
		f.settings = make(map[string]string)
	}
	f.settings[key] = value
}

func (f *fakeCacheWriter) InvalidateSetting(ctx context.Context, key string) error {
	delete(f.settings, key)
	return nil
}
