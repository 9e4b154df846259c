package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/models"
)

// NotificationRepository handles persistence for notification records.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByRecipient(ctx context.Context, recipientEmail string, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id uint, recipientEmail string) (models.Notification, error)
	CountUnread(ctx context.Context, recipientEmail string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientEmail string, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var notifications []models.Notification
	if err := r.db.WithContext(ctx).
		Where("recipient_email = ?", recipientEmail).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

// MarkRead flips the read flag. Marking an already-read record is a no-op
// success, not an error.
func (r *notificationRepository) MarkRead(ctx context.Context, id uint, recipientEmail string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).
		Where("id = ? AND recipient_email = ?", id, recipientEmail).
		First(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	if notification.Read {
		return notification, nil
	}

	notification.Read = true
	if err := r.db.WithContext(ctx).Save(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	return notification, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientEmail string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_email = ? AND read = ?", recipientEmail, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
