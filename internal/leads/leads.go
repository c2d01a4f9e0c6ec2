package leads

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trades-finder/internal/observability"
)

type Lead struct {
	ID         string    `json:"id" db:"id"`
	ProviderID string    `json:"provider_id" db:"provider_id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	Phone      *string   `json:"phone,omitempty" db:"phone"`
	Message    *string   `json:"message,omitempty" db:"message"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, lead Lead) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO leads (id, provider_id, name, email, phone, message, created_at)
		VALUES (:id, :provider_id, :name, :email, :phone, :message, :created_at)
	`, lead)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}

	return nil
}

type store interface {
	Create(ctx context.Context, lead Lead) error
}

// Service records quote requests and forwards them to the admin inbox.
type Service struct {
	repo       store
	mailer     Mailer
	adminEmail string
	logger     *observability.Logger
}

func NewService(repo *Repository, mailer Mailer, adminEmail string, logger *observability.Logger) *Service {
	return &Service{repo: repo, mailer: mailer, adminEmail: strings.TrimSpace(adminEmail), logger: logger}
}

// Submit stores the lead. The admin notification is best effort: a mail
// failure is logged and the lead is still accepted.
func (s *Service) Submit(ctx context.Context, lead Lead) (Lead, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Lead{}, fmt.Errorf("generate lead id: %w", err)
	}
	lead.ID = id.String()
	lead.CreatedAt = time.Now().UTC()

	if err := s.repo.Create(ctx, lead); err != nil {
		return Lead{}, err
	}

	if s.adminEmail != "" && s.mailer != nil {
		if err := s.mailer.Send(ctx, s.adminEmail, "New lead (Trades Finder)", leadBody(lead)); err != nil {
			s.logger.Error("lead_mail_failed", map[string]any{"lead_id": lead.ID, "error": err.Error()})
			observability.CaptureError(err, map[string]string{"flow": "lead"})
		}
	}

	return lead, nil
}

func leadBody(lead Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provider ID: %s\n", lead.ProviderID)
	fmt.Fprintf(&b, "Name: %s\n", lead.Name)
	fmt.Fprintf(&b, "Email: %s\n", lead.Email)
	fmt.Fprintf(&b, "Phone: %s\n", deref(lead.Phone))
	fmt.Fprintf(&b, "Message: %s\n", deref(lead.Message))
	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
