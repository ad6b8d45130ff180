package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/planforge/planforge-api/internal/domain/credit"
)

// Service generates plans, charging the user's credit balance per plan.
type Service struct {
	repo       Repository
	creditSvc  credit.Service
	creditCost int
}

// NewService creates a plan service with the configured per-plan cost
func NewService(repo Repository, creditSvc credit.Service, creditCost int) *Service {
	if creditCost <= 0 {
		creditCost = 1
	}
	return &Service{repo: repo, creditSvc: creditSvc, creditCost: creditCost}
}

// CreditCost returns the price of one generation
func (s *Service) CreditCost() int {
	return s.creditCost
}

// Generate debits the user and produces a plan. The debit happens first;
// credit.ErrInsufficientBalance passes through untouched so the handler can
// answer 402.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, title string, parameters json.RawMessage) (*GeneratedPlan, error) {
	planID := uuid.New()

	if _, err := s.creditSvc.Spend(ctx, userID, s.creditCost, "plan_generation:"+planID.String()); err != nil {
		return nil, err
	}

	content, err := buildContent(title, parameters)
	if err != nil {
		// Credits are spent; the adjustment path exists for making the user
		// whole if this ever fires in practice.
		log.Error().Err(err).Str("user_id", userID.String()).Msg("plan content generation failed after spend")
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	p := &GeneratedPlan{
		ID:          planID,
		UserID:      userID,
		Title:       title,
		Parameters:  parameters,
		Content:     content,
		CreditsCost: s.creditCost,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		log.Error().Err(err).Str("plan_id", planID.String()).Msg("plan persistence failed after spend")
		return nil, err
	}

	log.Info().
		Str("plan_id", planID.String()).
		Str("user_id", userID.String()).
		Int("credits_cost", s.creditCost).
		Msg("plan generated")
	return p, nil
}

// GetPlan returns one plan, scoped to its owner
func (s *Service) GetPlan(ctx context.Context, userID, planID uuid.UUID) (*GeneratedPlan, error) {
	p, err := s.repo.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

// ListPlans returns the user's plans, newest first
func (s *Service) ListPlans(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*GeneratedPlan, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

type planSection struct {
	Week  int    `json:"week"`
	Focus string `json:"focus"`
}

type planContent struct {
	Title       string        `json:"title"`
	GeneratedAt time.Time     `json:"generated_at"`
	Sections    []planSection `json:"sections"`
}

// buildContent produces the plan body. The structure is a weekly outline
// seeded from the request parameters; richer generation plugs in here.
func buildContent(title string, parameters json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Weeks int    `json:"weeks"`
		Goal  string `json:"goal"`
	}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &params); err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}
	}
	if params.Weeks <= 0 || params.Weeks > 52 {
		params.Weeks = 4
	}
	if params.Goal == "" {
		params.Goal = title
	}

	content := planContent{
		Title:       title,
		GeneratedAt: time.Now().UTC(),
		Sections:    make([]planSection, 0, params.Weeks),
	}
	for week := 1; week <= params.Weeks; week++ {
		content.Sections = append(content.Sections, planSection{
			Week:  week,
			Focus: fmt.Sprintf("%s: stage %d of %d", params.Goal, week, params.Weeks),
		})
	}

	return json.Marshal(content)
}
