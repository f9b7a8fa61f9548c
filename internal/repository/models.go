package repository

import (
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// NotificationAttemptModel is the persistence model for notification_attempts.
// The primary key is the message id handed back to callers.
type NotificationAttemptModel struct {
	ID          string               `gorm:"type:varchar(40);primaryKey"`
	UserID      string               `gorm:"type:varchar(255);not null;index:idx_attempts_user_created,priority:1"`
	Channel     domain.Channel       `gorm:"type:varchar(20);not null"`
	TemplateKey *string              `gorm:"type:varchar(255)"`
	Subject     *string              `gorm:"type:text"`
	Content     string               `gorm:"type:text;not null"`
	Status      domain.AttemptStatus `gorm:"type:varchar(20);not null"`
	RetryCount  int                  `gorm:"not null;default:0"`
	Error       *string              `gorm:"type:text"`
	NextRetryAt *time.Time           `gorm:"type:timestamptz"`
	SentAt      *time.Time           `gorm:"type:timestamptz"`
	CreatedAt   time.Time            `gorm:"index:idx_attempts_user_created,priority:2"`
	UpdatedAt   time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

// ChannelConfigModel is the persistence model for channel_configs.
type ChannelConfigModel struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	UserID      string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_channel_configs_user_channel,priority:1"`
	ChannelType domain.Channel `gorm:"type:varchar(20);not null;uniqueIndex:idx_channel_configs_user_channel,priority:2"`
	Config      datatypes.JSON `gorm:"type:jsonb;not null"`
	IsActive    bool           `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ChannelConfigModel) TableName() string {
	return "channel_configs"
}

// TemplateModel is the persistence model for templates.
type TemplateModel struct {
	ID        string                 `gorm:"type:uuid;primaryKey"`
	Key       string                 `gorm:"type:varchar(255);not null;uniqueIndex"`
	Name      string                 `gorm:"type:varchar(255);not null"`
	IsActive  bool                   `gorm:"not null;default:true"`
	Contents  []TemplateContentModel `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

// TemplateContentModel is the persistence model for template_contents.
type TemplateContentModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	TemplateID     string             `gorm:"type:uuid;not null;uniqueIndex:idx_template_contents_template_channel,priority:1"`
	ChannelType    domain.Channel     `gorm:"type:varchar(20);not null;uniqueIndex:idx_template_contents_template_channel,priority:2"`
	SubjectPattern *string            `gorm:"type:text"`
	ContentPattern string             `gorm:"type:text;not null"`
	ContentType    domain.ContentType `gorm:"type:varchar(20);not null;default:'text'"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (TemplateContentModel) TableName() string {
	return "template_contents"
}

// IdempotencyRecordModel is the persistence model for idempotency_records.
type IdempotencyRecordModel struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	IdempotencyKey string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_idempotency_key_user,priority:1"`
	UserID         string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_idempotency_key_user,priority:2"`
	MessageIDs     pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	CompletedAt    *time.Time     `gorm:"type:timestamptz"`
	ExpiresAt      time.Time      `gorm:"type:timestamptz;not null;index"`
	CreatedAt      time.Time
}

func (IdempotencyRecordModel) TableName() string {
	return "idempotency_records"
}

// SystemSettingModel is the persistence model for system_settings.
type SystemSettingModel struct {
	Key       string `gorm:"type:varchar(255);primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (SystemSettingModel) TableName() string {
	return "system_settings"
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:          a.ID,
		UserID:      a.UserID,
		Channel:     a.Channel,
		TemplateKey: a.TemplateKey,
		Subject:     a.Subject,
		Content:     a.Content,
		Status:      a.Status,
		RetryCount:  a.RetryCount,
		Error:       a.Error,
		NextRetryAt: a.NextRetryAt,
		SentAt:      a.SentAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:          m.ID,
		UserID:      m.UserID,
		Channel:     m.Channel,
		TemplateKey: m.TemplateKey,
		Subject:     m.Subject,
		Content:     m.Content,
		Status:      m.Status,
		RetryCount:  m.RetryCount,
		Error:       m.Error,
		NextRetryAt: m.NextRetryAt,
		SentAt:      m.SentAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func channelConfigModelFromDomain(c *domain.ChannelConfig) (*ChannelConfigModel, error) {
	if c == nil {
		return nil, nil
	}

	raw, err := domain.EncodeChannelSettings(c.Channel, c.Settings)
	if err != nil {
		return nil, err
	}

	return &ChannelConfigModel{
		ID:          c.ID,
		UserID:      c.UserID,
		ChannelType: c.Channel,
		Config:      datatypes.JSON(raw),
		IsActive:    c.Active,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}, nil
}

func channelConfigModelToDomain(m *ChannelConfigModel) (*domain.ChannelConfig, error) {
	if m == nil {
		return nil, nil
	}

	settings, err := domain.DecodeChannelSettings(m.ChannelType, m.Config)
	if err != nil {
		return nil, err
	}

	return &domain.ChannelConfig{
		ID:        m.ID,
		UserID:    m.UserID,
		Channel:   m.ChannelType,
		Settings:  settings,
		Active:    m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	contents := make([]domain.TemplateContent, 0, len(m.Contents))
	for i := range m.Contents {
		c := m.Contents[i]
		contentType := c.ContentType
		if contentType == "" {
			contentType = domain.ContentTypeText
		}
		contents = append(contents, domain.TemplateContent{
			ID:             c.ID,
			TemplateID:     c.TemplateID,
			Channel:        c.ChannelType,
			SubjectPattern: c.SubjectPattern,
			ContentPattern: c.ContentPattern,
			ContentType:    contentType,
		})
	}

	return &domain.Template{
		ID:        m.ID,
		Key:       m.Key,
		Name:      m.Name,
		Active:    m.IsActive,
		Contents:  contents,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func templateModelFromDomain(t *domain.Template) *TemplateModel {
	if t == nil {
		return nil
	}

	contents := make([]TemplateContentModel, 0, len(t.Contents))
	for _, c := range t.Contents {
		contents = append(contents, TemplateContentModel{
			ID:             c.ID,
			TemplateID:     t.ID,
			ChannelType:    c.Channel,
			SubjectPattern: c.SubjectPattern,
			ContentPattern: c.ContentPattern,
			ContentType:    c.ContentType,
		})
	}

	return &TemplateModel{
		ID:        t.ID,
		Key:       t.Key,
		Name:      t.Name,
		IsActive:  t.Active,
		Contents:  contents,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func idempotencyModelToDomain(m *IdempotencyRecordModel) *domain.IdempotencyRecord {
	if m == nil {
		return nil
	}

	ids := make([]string, len(m.MessageIDs))
	copy(ids, m.MessageIDs)

	return &domain.IdempotencyRecord{
		ID:          m.ID,
		Key:         m.IdempotencyKey,
		UserID:      m.UserID,
		MessageIDs:  ids,
		CompletedAt: m.CompletedAt,
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   m.CreatedAt,
	}
}
