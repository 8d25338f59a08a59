// Package dashboard is the calling layer between the HTTP API and the cached
// query executor: it renders panel queries, post-processes their results and
// turns failures into placeholder panels.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eutopia/collabdash/internal/logging"
	"github.com/eutopia/collabdash/internal/table"
)

// noveltyQuantile is the cutoff above which novelty index outliers are trimmed.
const noveltyQuantile = 0.95

// Querier runs query text, typically through the cached executor.
type Querier interface {
	Query(ctx context.Context, query string) (*table.Table, error)
}

// Recommender returns recommended collaborator IDs for an author.
type Recommender interface {
	Recommend(ctx context.Context, authorID string) ([]string, error)
}

// Service loads dashboard data.
type Service struct {
	q    Querier
	reco Recommender
	now  func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRecommender sets the recommendation backend. Without one the
// recommendations panel is always unavailable.
func WithRecommender(r Recommender) ServiceOption {
	return func(s *Service) {
		s.reco = r
	}
}

// WithNow overrides the clock used for the default publication range.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService returns a Service running queries through q.
func NewService(q Querier, opts ...ServiceOption) *Service {
	s := &Service{q: q, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// ResearchAreas lists research areas.
func (s *Service) ResearchAreas(ctx context.Context) (*table.Table, error) {
	return s.titled(ctx, ResearchAreasQuery())
}

// Institutions lists institutions.
func (s *Service) Institutions(ctx context.Context) (*table.Table, error) {
	return s.titled(ctx, InstitutionsQuery())
}

// Authors lists authors selectable in the author filter.
func (s *Service) Authors(ctx context.Context) (*table.Table, error) {
	return s.titled(ctx, AuthorsQuery())
}

// AuthorCards returns the headline counts for authorID.
func (s *Service) AuthorCards(ctx context.Context, authorID string) (*table.Table, error) {
	return s.titled(ctx, AuthorCardsQuery(authorID))
}

// AuthorArticles returns authorID's articles with the title rendered as a
// DOI markdown link, the novelty index rounded to 2 places and normalized
// citations to 5.
func (s *Service) AuthorArticles(ctx context.Context, authorID string) (*table.Table, error) {
	t, err := s.q.Query(ctx, AuthorArticlesQuery(authorID))
	if err != nil {
		return nil, err
	}
	t, err = formatArticles(t)
	if err != nil {
		return nil, err
	}
	return table.TitleColumns(t), nil
}

// AuthorRecommendations asks the recommendation service about authorID.
func (s *Service) AuthorRecommendations(ctx context.Context, authorID string) (*table.Table, error) {
	if s.reco == nil {
		return nil, fmt.Errorf("%w: no client configured", ErrServiceUnavailable)
	}
	ids, err := s.reco.Recommend(ctx, authorID)
	if err != nil {
		return nil, err
	}
	return table.TitleColumns(recommendationsTable(ids)), nil
}

// OverviewCards returns the headline counts for scope.
func (s *Service) OverviewCards(ctx context.Context, scope Scope) (*table.Table, error) {
	return s.titled(ctx, OverviewCardsQuery(scope))
}

// EutopiaTrend returns EUTOPIA collaborations per year.
func (s *Service) EutopiaTrend(ctx context.Context, scope Scope) (*table.Table, error) {
	return s.titled(ctx, EutopiaTrendQuery(scope))
}

// PublicationsByInstitution returns article counts per institution.
func (s *Service) PublicationsByInstitution(ctx context.Context, scope Scope) (*table.Table, error) {
	return s.titled(ctx, PublicationsByInstitutionQuery(scope))
}

// ArticlesByCollaborationType returns per-year counts by collaboration type.
func (s *Service) ArticlesByCollaborationType(ctx context.Context, scope Scope) (*table.Table, error) {
	return s.titled(ctx, ArticlesByCollaborationTypeQuery(scope))
}

// CollaborationFunnel returns the funnel stages ordered by stage index.
func (s *Service) CollaborationFunnel(ctx context.Context, scope Scope) (*table.Table, error) {
	t, err := s.q.Query(ctx, CollaborationFunnelQuery(scope))
	if err != nil {
		return nil, err
	}
	return table.TitleColumns(sortByNumber(t, "stage_index")), nil
}

// NewCollaborationTrend returns new vs existing collaborations per year.
func (s *Service) NewCollaborationTrend(ctx context.Context, scope Scope) (*table.Table, error) {
	return s.titled(ctx, NewCollaborationTrendQuery(scope))
}

// NoveltyDistribution returns article novelty indexes below the 95th percentile.
func (s *Service) NoveltyDistribution(ctx context.Context, scope Scope) (*table.Table, error) {
	t, err := s.q.Query(ctx, NoveltyDistributionQuery(scope))
	if err != nil {
		return nil, err
	}
	return table.TitleColumns(belowQuantile(t, "collaboration_novelty_index", noveltyQuantile)), nil
}

// Load returns the named panel. It fails only for an unknown panel or an
// author panel without an author; data failures come back as an unavailable
// panel.
func (s *Service) Load(ctx context.Context, id PanelID, p Params) (Panel, error) {
	def, ok := panelDefs[id]
	if !ok {
		return Panel{}, fmt.Errorf("%w: %q", ErrUnknownPanel, id)
	}
	if def.kind == kindAuthor && p.AuthorID == "" {
		return Panel{ID: id, Title: def.title, Unavailable: true, Message: NoAuthorMessage}, ErrNoAuthor
	}
	if def.kind == kindOverview && p.Scope.FromYear == 0 && p.Scope.ToYear == 0 {
		p.Scope = DefaultScope(s.now())
	}

	start := time.Now()
	t, err := s.load(ctx, id, p)
	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Warn().
			Str("component", "dashboard").
			Str("operation", "load_panel").
			Str("panel", string(id)).
			Err(err).
			Msg("panel unavailable")
		return unavailablePanel(id, def), nil
	}

	logger.Debug().
		Str("component", "dashboard").
		Str("operation", "load_panel").
		Str("panel", string(id)).
		Int("rows", t.Len()).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("panel loaded")
	return Panel{ID: id, Title: def.title, Table: t}, nil
}

func (s *Service) load(ctx context.Context, id PanelID, p Params) (*table.Table, error) {
	switch id {
	case PanelResearchAreas:
		return s.ResearchAreas(ctx)
	case PanelInstitutions:
		return s.Institutions(ctx)
	case PanelAuthors:
		return s.Authors(ctx)
	case PanelAuthorCards:
		return s.AuthorCards(ctx, p.AuthorID)
	case PanelAuthorArticles:
		return s.AuthorArticles(ctx, p.AuthorID)
	case PanelAuthorRecommendations:
		return s.AuthorRecommendations(ctx, p.AuthorID)
	case PanelOverviewCards:
		return s.OverviewCards(ctx, p.Scope)
	case PanelEutopiaTrend:
		return s.EutopiaTrend(ctx, p.Scope)
	case PanelPublicationsByInstitution:
		return s.PublicationsByInstitution(ctx, p.Scope)
	case PanelArticlesByCollaborationType:
		return s.ArticlesByCollaborationType(ctx, p.Scope)
	case PanelCollaborationFunnel:
		return s.CollaborationFunnel(ctx, p.Scope)
	case PanelNewCollaborationTrend:
		return s.NewCollaborationTrend(ctx, p.Scope)
	case PanelNoveltyDistribution:
		return s.NoveltyDistribution(ctx, p.Scope)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPanel, id)
	}
}

func (s *Service) titled(ctx context.Context, query string) (*table.Table, error) {
	t, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return table.TitleColumns(t), nil
}

// formatArticles rewrites the article title as [title](https://doi.org/doi),
// rounds the numeric columns and drops article_doi.
func formatArticles(t *table.Table) (*table.Table, error) {
	doi, title := t.Column("article_doi"), t.Column("article_title")
	novelty, citations := t.Column("collaboration_novelty_index"), t.Column("normalized_citations")

	out := t.Clone()
	for _, row := range out.Rows {
		if doi >= 0 && title >= 0 {
			row[title] = fmt.Sprintf("[%s](https://doi.org/%s)", cellText(row[title]), cellText(row[doi]))
		}
		for _, c := range []struct{ idx, places int }{{novelty, 2}, {citations, 5}} {
			if c.idx < 0 {
				continue
			}
			rounded, err := roundCell(row[c.idx], int32(c.places))
			if err != nil {
				return nil, fmt.Errorf("rounding %s: %w", t.Columns[c.idx], err)
			}
			row[c.idx] = rounded
		}
	}
	return out.Drop("article_doi"), nil
}

// roundCell rounds a numeric cell half-to-even. Nulls and non-numeric cells
// pass through.
func roundCell(v any, places int32) (any, error) {
	n, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return nil, err
	}
	return json.Number(d.RoundBank(places).String()), nil
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// sortByNumber orders rows by a numeric column, ascending, stable. Rows
// whose value is not numeric sort last.
func sortByNumber(t *table.Table, column string) *table.Table {
	out := t.Clone()
	idx := out.Column(column)
	if idx < 0 {
		return out
	}
	key := func(row []any) float64 {
		if f, ok := table.Float(row[idx]); ok {
			return f
		}
		return math.Inf(1)
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return key(out.Rows[i]) < key(out.Rows[j])
	})
	return out
}

// belowQuantile keeps rows whose column value is strictly below the q-th
// quantile of that column, computed with linear interpolation over the
// non-null values. Null values never pass.
func belowQuantile(t *table.Table, column string, q float64) *table.Table {
	idx := t.Column(column)
	if idx < 0 {
		return t.Clone()
	}

	var values []float64
	for _, row := range t.Rows {
		if f, ok := table.Float(row[idx]); ok {
			values = append(values, f)
		}
	}
	cut, ok := quantile(values, q)
	if !ok {
		return t.Filter(func([]any) bool { return false })
	}
	return t.Filter(func(row []any) bool {
		f, ok := table.Float(row[idx])
		return ok && f < cut
	})
}

func quantile(values []float64, q float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo]), true
}
