package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/cache"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"go.uber.org/zap"
)

const DefaultCacheTTL = 5 * time.Minute

type TemplateReader interface {
	GetActiveByKey(ctx context.Context, key string) (*domain.Template, error)
}

// Engine renders per-channel content from stored templates, reading
// templates through a shared cache.
type Engine struct {
	store     cache.Store
	templates TemplateReader
	ttl       time.Duration
	logger    *zap.Logger
}

func NewEngine(store cache.Store, templates TemplateReader, ttl time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Engine{
		store:     store,
		templates: templates,
		ttl:       ttl,
		logger:    logger,
	}
}

// RenderTemplate renders key for one channel. It returns nil, nil when the
// template is missing, inactive or has no content for channel.
func (e *Engine) RenderTemplate(ctx context.Context, key string, channel domain.Channel, vars map[string]string) (*domain.RenderedContent, error) {
	rendered, err := e.RenderForChannels(ctx, key, []domain.Channel{channel}, vars)
	if err != nil {
		return nil, err
	}
	out, ok := rendered[channel]
	if !ok {
		return nil, nil
	}
	return &out, nil
}

// RenderForChannels resolves the template once and renders every channel that
// has content. Channels without content are absent from the result.
func (e *Engine) RenderForChannels(ctx context.Context, key string, channels []domain.Channel, vars map[string]string) (map[domain.Channel]domain.RenderedContent, error) {
	tpl, err := e.loadTemplate(ctx, key)
	if err != nil {
		return nil, err
	}

	out := make(map[domain.Channel]domain.RenderedContent, len(channels))
	if tpl == nil {
		return out, nil
	}

	for _, channel := range channels {
		content, ok := tpl.ContentFor(channel)
		if !ok {
			continue
		}
		out[channel] = renderContent(content, vars)
	}
	return out, nil
}

func renderContent(content domain.TemplateContent, vars map[string]string) domain.RenderedContent {
	contentType := content.ContentType
	if contentType == "" {
		contentType = domain.ContentTypeText
	}

	rendered := domain.RenderedContent{
		Content:     Render(content.ContentPattern, vars, contentType),
		ContentType: contentType,
	}
	if content.SubjectPattern != nil {
		subject := Render(*content.SubjectPattern, vars, domain.ContentTypeText)
		rendered.Subject = &subject
	}
	return rendered
}

func templateCacheKey(key string) string {
	return "tmpl:" + key
}

func (e *Engine) loadTemplate(ctx context.Context, key string) (*domain.Template, error) {
	cacheKey := templateCacheKey(key)

	raw, err := e.store.Get(ctx, cacheKey)
	switch {
	case err == nil:
		var tpl domain.Template
		if decodeErr := json.Unmarshal(raw, &tpl); decodeErr == nil {
			return &tpl, nil
		}
		e.logger.Warn("discarding undecodable cached template", zap.String("templateKey", key))
	case !errors.Is(err, cache.ErrCacheMiss):
		e.logger.Warn("template cache read failed, falling back to store",
			zap.String("templateKey", key),
			zap.Error(err),
		)
	}

	tpl, err := e.templates.GetActiveByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", key, err)
	}
	if tpl == nil || !tpl.Active {
		return nil, nil
	}

	encoded, err := json.Marshal(tpl)
	if err == nil {
		err = e.store.Set(ctx, cacheKey, encoded, e.ttl)
	}
	if err != nil {
		e.logger.Warn("template cache write failed", zap.String("templateKey", key), zap.Error(err))
	}

	return tpl, nil
}

// Invalidate evicts a cached template so the next render reloads it.
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	return e.store.Delete(ctx, templateCacheKey(key))
}
