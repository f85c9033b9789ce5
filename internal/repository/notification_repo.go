package repository

import (
	"context"

	"github.com/timmy/cattube/internal/domain"
	"gorm.io/gorm"
)

// NotificationRepository stores audit copies of transcoder webhooks.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// ListByAssemblyID returns notifications for an assembly, oldest first.
func (r *NotificationRepository) ListByAssemblyID(ctx context.Context, assemblyID string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := r.db.WithContext(ctx).Where("assembly_id = ?", assemblyID).Order("id ASC").Find(&out).Error
	return out, err
}
