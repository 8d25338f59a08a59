package dashboard

import "fmt"

// The builders below return literal query text. The text doubles as the
// cache key, so a builder must render identical text for identical inputs.

// ResearchAreasQuery lists research areas for the filter dropdown.
func ResearchAreasQuery() string {
	return `
SELECT research_area_name AS research_area,
       research_area_code AS research_area_code
FROM dim_research_area`
}

// InstitutionsQuery lists the EUTOPIA institutions.
func InstitutionsQuery() string {
	return `
SELECT institution_id
FROM dim_eutopia_institution`
}

// AuthorsQuery lists authors with more than ten articles, most prolific first.
func AuthorsQuery() string {
	return `
SELECT CONCAT(a.author_name, ' (', a.author_id, ')') AS author,
       COUNT(DISTINCT article_id)                    AS article_count,
       a.author_id
FROM fct_collaboration c
         INNER JOIN dim_author a
                    ON c.author_id = a.author_id
GROUP BY author, a.author_id
HAVING COUNT(DISTINCT article_id) > 10
ORDER BY article_count DESC`
}

// AuthorCardsQuery returns the single-row headline counts for one author.
func AuthorCardsQuery(authorID string) string {
	id := Quote(authorID)
	return fmt.Sprintf(`
WITH df_publications AS (SELECT COUNT(DISTINCT article_id)                                                   AS articles,
                                COUNT(DISTINCT CASE
                                                   WHEN is_single_author_collaboration
                                                       THEN article_id END)                                  AS single_author_publications,
                                COUNT(DISTINCT CASE WHEN is_internal_collaboration THEN article_id END)      AS internal_collaborations,
                                COUNT(DISTINCT CASE WHEN is_external_collaboration THEN article_id END)      AS external_collaborations,
                                COUNT(DISTINCT CASE WHEN is_eutopia_collaboration THEN article_id END)       AS eutopian_collaborations
                         FROM fct_collaboration
                         WHERE author_id = %[1]s),
     df_collaborators AS (SELECT COUNT(DISTINCT c2.author_id) AS collaborators
                          FROM fct_collaboration c1
                                   INNER JOIN fct_collaboration c2
                                              ON c1.article_id = c2.article_id
                          WHERE c1.author_id = %[1]s
                            AND c1.author_id <> c2.author_id)
SELECT collaborators,
       articles,
       single_author_publications,
       internal_collaborations,
       external_collaborations,
       eutopian_collaborations
FROM df_publications
         CROSS JOIN df_collaborators`, id)
}

// AuthorArticlesQuery lists one author's articles, newest first.
func AuthorArticlesQuery(authorID string) string {
	return fmt.Sprintf(`
SELECT a.article_doi,
       a.article_title,
       f.article_citation_normalized_count         AS normalized_citations,
       f.collaboration_novelty_index,
       DATE_PART('year', a.article_publication_dt) AS publication_year
FROM fct_collaboration c
         INNER JOIN dim_article a
                    ON c.article_id = a.article_id
         INNER JOIN fct_article f
                    ON c.article_id = f.article_id
WHERE author_id = %s
ORDER BY a.article_publication_dt DESC`, Quote(authorID))
}

// OverviewCardsQuery returns the single-row headline counts for the scope.
func OverviewCardsQuery(s Scope) string {
	return fmt.Sprintf(`
SELECT COUNT(DISTINCT article_id)                                                   AS articles,
       COUNT(DISTINCT author_id)                                                    AS authors,
       COUNT(DISTINCT CASE WHEN is_single_author_collaboration THEN article_id END) AS single_author_publications,
       COUNT(DISTINCT CASE WHEN is_internal_collaboration THEN article_id END)      AS internal_collaborations,
       COUNT(DISTINCT CASE WHEN is_external_collaboration THEN article_id END)      AS external_collaborations,
       COUNT(DISTINCT CASE WHEN is_eutopia_collaboration THEN article_id END)       AS eutopian_collaborations
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %s
  AND %s`, s.YearRange(), s.InstitutionFilter())
}

// EutopiaTrendQuery counts EUTOPIA collaborations per year.
func EutopiaTrendQuery(s Scope) string {
	return fmt.Sprintf(`
SELECT DATE_PART('year', article_publication_dt)                              AS year,
       COUNT(DISTINCT CASE WHEN is_eutopia_collaboration THEN article_id END) AS eutopian_collaborations
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %s
GROUP BY 1
ORDER BY 1 ASC`, s.YearRange())
}

// PublicationsByInstitutionQuery counts articles per institution, ascending.
func PublicationsByInstitutionQuery(s Scope) string {
	return fmt.Sprintf(`
SELECT institution_id             AS institution,
       COUNT(DISTINCT article_id) AS articles
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %s
GROUP BY 1
ORDER BY 2 ASC`, s.YearRange())
}

// ArticlesByCollaborationTypeQuery counts articles per year and collaboration type.
func ArticlesByCollaborationTypeQuery(s Scope) string {
	return fmt.Sprintf(`
SELECT DATE_PART('year', article_publication_dt)                                    AS year,
       COUNT(DISTINCT CASE WHEN is_internal_collaboration THEN article_id END)      AS internal_collaborations,
       COUNT(DISTINCT CASE WHEN is_external_collaboration THEN article_id END)      AS external_collaborations,
       COUNT(DISTINCT CASE WHEN is_single_author_collaboration THEN article_id END) AS single_author_publications
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %s
GROUP BY 1
ORDER BY 1 ASC`, s.YearRange())
}

// CollaborationFunnelQuery returns one row per funnel stage. Row order is
// not guaranteed; callers sort by stage_index.
func CollaborationFunnelQuery(s Scope) string {
	years := s.YearRange()
	return fmt.Sprintf(`
SELECT 'Total Articles'           AS stage
     , 1                          AS stage_index
     , COUNT(DISTINCT article_id) AS count
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %[1]s
GROUP BY 1, 2
UNION ALL
SELECT 'Collaborations'                                                                                     AS stage
     , 2                                                                                                    AS stage_index
     , COUNT(DISTINCT CASE WHEN is_external_collaboration OR is_internal_collaboration THEN article_id END) AS count
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %[1]s
GROUP BY 1, 2
UNION ALL
SELECT 'External Collaborations'                                               AS stage
     , 3                                                                       AS stage_index
     , COUNT(DISTINCT CASE WHEN is_external_collaboration THEN article_id END) AS count
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %[1]s
GROUP BY 1, 2
UNION ALL
SELECT 'Eutopia Collaborations'                                               AS stage
     , 4                                                                      AS stage_index
     , COUNT(DISTINCT CASE WHEN is_eutopia_collaboration THEN article_id END) AS count
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %[1]s
GROUP BY 1, 2`, years)
}

// NewCollaborationTrendQuery splits multi-author articles per year into new
// author, new institution and existing collaborations.
func NewCollaborationTrendQuery(s Scope) string {
	return fmt.Sprintf(`
SELECT DATE_PART('year', article_publication_dt)                                            AS year,
       COUNT(DISTINCT CASE
                          WHEN has_new_author_collaboration
                              THEN article_id END)                                          AS new_author_collaborations,
       COUNT(DISTINCT CASE
                          WHEN has_new_institution_collaboration
                              THEN article_id END)                                          AS new_institution_collaborations,
       COUNT(DISTINCT CASE
                          WHEN NOT has_new_author_collaboration
                              AND NOT has_new_institution_collaboration THEN article_id END) AS existing_collaborations
FROM fct_collaboration
WHERE EXTRACT(YEAR FROM article_publication_dt) %s
  AND NOT is_single_author_collaboration
GROUP BY 1
ORDER BY 1 ASC`, s.YearRange())
}

// NoveltyDistributionQuery returns the novelty index of every collaborated article.
func NoveltyDistributionQuery(s Scope) string {
	return fmt.Sprintf(`
WITH articles AS (SELECT DISTINCT article_id
                  FROM fct_collaboration)
SELECT cn.article_id,
       cn.collaboration_novelty_index
FROM fct_article cn
         INNER JOIN articles USING (article_id)
WHERE EXTRACT(YEAR FROM article_publication_dt) %s`, s.YearRange())
}
