package template

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kursadbilgin/notification-dispatch/internal/cache"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type fakeTemplateReader struct {
	mu    sync.Mutex
	calls int
	getFn func(ctx context.Context, key string) (*domain.Template, error)
}

func (f *fakeTemplateReader) GetActiveByKey(ctx context.Context, key string) (*domain.Template, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.getFn(ctx, key)
}

func strPtr(s string) *string { return &s }

func orderConfirmation() *domain.Template {
	return &domain.Template{
		ID:     "tpl-1",
		Key:    "order-confirmation",
		Active: true,
		Contents: []domain.TemplateContent{
			{
				Channel:        domain.ChannelLark,
				SubjectPattern: strPtr("Order {{orderId}}"),
				ContentPattern: "Hi {{ name }}, order {{orderId}} ships {{eta}}.",
				ContentType:    domain.ContentTypeText,
			},
			{
				Channel:        domain.ChannelWebhook,
				ContentPattern: `{"name":"{{name}}"}`,
				ContentType:    domain.ContentTypeStructured,
			},
		},
	}
}

func TestRenderEscapesPerContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		pattern     string
		vars        map[string]string
		contentType domain.ContentType
		want        string
	}{
		{
			name:        "text strips control characters",
			pattern:     "Hello {{name}}",
			vars:        map[string]string{"name": "Ada\x00\x07 L\tx\n"},
			contentType: domain.ContentTypeText,
			want:        "Hello Ada L\tx\n",
		},
		{
			name:        "html escapes markup",
			pattern:     "<p>{{name}}</p>",
			vars:        map[string]string{"name": `<script>alert("x")</script>`},
			contentType: domain.ContentTypeHTML,
			want:        "<p>&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;</p>",
		},
		{
			name:        "markdown escapes formatting",
			pattern:     "*{{name}}*",
			vars:        map[string]string{"name": "_bold_ [link](x)"},
			contentType: domain.ContentTypeMarkdown,
			want:        `*\_bold\_ \[link\]\(x\)*`,
		},
		{
			name:        "structured escapes json strings",
			pattern:     `{"msg":"{{msg}}"}`,
			vars:        map[string]string{"msg": "say \"hi\"\n"},
			contentType: domain.ContentTypeStructured,
			want:        `{"msg":"say \"hi\"\n"}`,
		},
		{
			name:        "missing variable is kept verbatim",
			pattern:     "Hi {{name}}, code {{ code }}",
			vars:        map[string]string{"name": "Ada"},
			contentType: domain.ContentTypeText,
			want:        "Hi Ada, code {{ code }}",
		},
		{
			name:        "values are not re-expanded",
			pattern:     "{{a}}",
			vars:        map[string]string{"a": "{{b}}", "b": "nope"},
			contentType: domain.ContentTypeText,
			want:        "{{b}}",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Render(tt.pattern, tt.vars, tt.contentType)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Render() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenderCapsValueLength(t *testing.T) {
	t.Parallel()

	got := Render("{{v}}", map[string]string{"v": strings.Repeat("é", MaxValueLength+50)}, domain.ContentTypeText)
	if n := len([]rune(got)); n != MaxValueLength {
		t.Fatalf("rendered rune length = %d, want %d", n, MaxValueLength)
	}
}

func TestEngineRenderForChannelsOnlyChannelsWithContent(t *testing.T) {
	t.Parallel()

	reader := &fakeTemplateReader{
		getFn: func(context.Context, string) (*domain.Template, error) { return orderConfirmation(), nil },
	}
	engine := NewEngine(newMemStore(), reader, time.Minute, nil)

	got, err := engine.RenderForChannels(context.Background(), "order-confirmation",
		[]domain.Channel{domain.ChannelLark, domain.ChannelSlack},
		map[string]string{"name": "Ada", "orderId": "42"})
	if err != nil {
		t.Fatalf("RenderForChannels() error = %v", err)
	}

	want := map[domain.Channel]domain.RenderedContent{
		domain.ChannelLark: {
			Subject:     strPtr("Order 42"),
			Content:     "Hi Ada, order 42 ships {{eta}}.",
			ContentType: domain.ContentTypeText,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("RenderForChannels() mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineRenderIsDeterministicAndCached(t *testing.T) {
	t.Parallel()

	reader := &fakeTemplateReader{
		getFn: func(context.Context, string) (*domain.Template, error) { return orderConfirmation(), nil },
	}
	engine := NewEngine(newMemStore(), reader, time.Minute, nil)
	vars := map[string]string{"name": "Ada", "orderId": "42", "eta": "today"}

	first, err := engine.RenderTemplate(context.Background(), "order-confirmation", domain.ChannelWebhook, vars)
	if err != nil {
		t.Fatalf("RenderTemplate() error = %v", err)
	}
	second, err := engine.RenderTemplate(context.Background(), "order-confirmation", domain.ChannelWebhook, vars)
	if err != nil {
		t.Fatalf("RenderTemplate() error = %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("renders differ (-first +second):\n%s", diff)
	}
	if first.Content != `{"name":"Ada"}` {
		t.Fatalf("Content = %q", first.Content)
	}
	if reader.calls != 1 {
		t.Fatalf("template store reads = %d, want 1", reader.calls)
	}
}

func TestEngineMissingTemplateYieldsNoContent(t *testing.T) {
	t.Parallel()

	reader := &fakeTemplateReader{
		getFn: func(context.Context, string) (*domain.Template, error) { return nil, domain.ErrNotFound },
	}
	engine := NewEngine(newMemStore(), reader, time.Minute, nil)

	got, err := engine.RenderTemplate(context.Background(), "nope", domain.ChannelSlack, nil)
	if err != nil {
		t.Fatalf("RenderTemplate() error = %v", err)
	}
	if got != nil {
		t.Fatalf("RenderTemplate() = %+v, want nil", got)
	}
}

func TestEngineStoreErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	reader := &fakeTemplateReader{
		getFn: func(context.Context, string) (*domain.Template, error) { return nil, boom },
	}
	engine := NewEngine(newMemStore(), reader, time.Minute, nil)

	_, err := engine.RenderForChannels(context.Background(), "k", []domain.Channel{domain.ChannelLark}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("RenderForChannels() error = %v, want %v", err, boom)
	}
}
