package dashboard

import (
	"errors"
	"slices"

	"github.com/eutopia/collabdash/internal/table"
)

// UnavailableMessage replaces a panel whose data could not be loaded.
const UnavailableMessage = "This panel is currently unavailable."

// NoAuthorMessage is returned for author panels requested without an author.
const NoAuthorMessage = "No author is currently selected. Select an author."

var (
	// ErrUnknownPanel is returned for a panel ID the dashboard does not serve.
	ErrUnknownPanel = errors.New("unknown panel")

	// ErrNoAuthor is returned when an author panel is requested without an author ID.
	ErrNoAuthor = errors.New("no author selected")
)

// PanelID names a dashboard panel.
type PanelID string

// Filter panels.
const (
	PanelResearchAreas PanelID = "research-areas"
	PanelInstitutions  PanelID = "institutions"
	PanelAuthors       PanelID = "authors"
)

// Author page panels.
const (
	PanelAuthorCards           PanelID = "author-cards"
	PanelAuthorArticles        PanelID = "author-articles"
	PanelAuthorRecommendations PanelID = "author-recommendations"
)

// Overview page panels.
const (
	PanelOverviewCards               PanelID = "overview-cards"
	PanelEutopiaTrend                PanelID = "eutopia-trend"
	PanelPublicationsByInstitution   PanelID = "publications-by-institution"
	PanelArticlesByCollaborationType PanelID = "articles-by-collaboration-type"
	PanelCollaborationFunnel         PanelID = "collaboration-funnel"
	PanelNewCollaborationTrend       PanelID = "new-collaboration-trend"
	PanelNoveltyDistribution         PanelID = "novelty-distribution"
)

// Panel is one rendered dashboard block. When Unavailable is set, Table is
// nil and Message explains why.
type Panel struct {
	ID          PanelID      `json:"id"`
	Title       string       `json:"title"`
	Table       *table.Table `json:"table,omitempty"`
	Unavailable bool         `json:"unavailable"`
	Message     string       `json:"message,omitempty"`
}

// Params carries the inputs panels are built from.
type Params struct {
	AuthorID string
	Scope    Scope
}

type panelKind int

const (
	kindFilter panelKind = iota
	kindAuthor
	kindOverview
)

type panelDef struct {
	title string
	kind  panelKind
	// unavailable overrides UnavailableMessage.
	unavailable string
}

//nolint:gochecknoglobals // Compile-time constant lookup table.
var panelDefs = map[PanelID]panelDef{
	PanelResearchAreas: {title: "Research Area", kind: kindFilter},
	PanelInstitutions:  {title: "Institution", kind: kindFilter},
	PanelAuthors:       {title: "Author", kind: kindFilter},

	PanelAuthorCards:    {title: "Author Collaboration", kind: kindAuthor},
	PanelAuthorArticles: {title: "Published Articles", kind: kindAuthor},
	PanelAuthorRecommendations: {
		title:       "Recommended New Collaborations",
		kind:        kindAuthor,
		unavailable: RecommendationUnavailableMessage,
	},

	PanelOverviewCards:               {title: "Collaboration Overview", kind: kindOverview},
	PanelEutopiaTrend:                {title: "EUTOPIA Collaborations per Year", kind: kindOverview},
	PanelPublicationsByInstitution:   {title: "Publications by Institution", kind: kindOverview},
	PanelArticlesByCollaborationType: {title: "Articles by Collaboration Type", kind: kindOverview},
	PanelCollaborationFunnel:         {title: "Collaboration Funnel", kind: kindOverview},
	PanelNewCollaborationTrend:       {title: "New Collaborations per Year", kind: kindOverview},
	PanelNoveltyDistribution:         {title: "Collaboration Novelty Index Distribution", kind: kindOverview},
}

// FilterPanels, AuthorPanels and OverviewPanels list each page's panels in
// display order.
func FilterPanels() []PanelID {
	return []PanelID{PanelResearchAreas, PanelInstitutions, PanelAuthors}
}

func AuthorPanels() []PanelID {
	return []PanelID{PanelAuthorCards, PanelAuthorArticles, PanelAuthorRecommendations}
}

func OverviewPanels() []PanelID {
	return []PanelID{
		PanelOverviewCards,
		PanelEutopiaTrend,
		PanelPublicationsByInstitution,
		PanelArticlesByCollaborationType,
		PanelCollaborationFunnel,
		PanelNewCollaborationTrend,
		PanelNoveltyDistribution,
	}
}

// KnownPanel reports whether id names a served panel.
func KnownPanel(id PanelID) bool {
	_, ok := panelDefs[id]
	return ok
}

// PanelIDs returns every served panel ID, sorted.
func PanelIDs() []PanelID {
	ids := make([]PanelID, 0, len(panelDefs))
	for id := range panelDefs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func unavailablePanel(id PanelID, def panelDef) Panel {
	msg := def.unavailable
	if msg == "" {
		msg = UnavailableMessage
	}
	return Panel{ID: id, Title: def.title, Unavailable: true, Message: msg}
}
