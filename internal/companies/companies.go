// Package companies is the searchable symbol directory.
package companies

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketracker-api/internal/types"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/ksred/marketracker-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SearchLimit is the maximum number of search results
const SearchLimit = 10

// Ranks: symbol prefix, name prefix, symbol substring, name substring; ties by name
const searchSQL = `
SELECT symbol, name FROM companies
WHERE LOWER(symbol) LIKE ? ESCAPE '\' OR LOWER(name) LIKE ? ESCAPE '\'
ORDER BY
	CASE
		WHEN LOWER(symbol) LIKE ? ESCAPE '\' THEN 1
		WHEN LOWER(name) LIKE ? ESCAPE '\' THEN 2
		WHEN LOWER(symbol) LIKE ? ESCAPE '\' THEN 3
		ELSE 4
	END,
	name
LIMIT ?`

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Search returns up to SearchLimit companies matching q, case-insensitively.
// An empty query matches nothing; % and _ match themselves.
func (s *Service) Search(ctx context.Context, q string) ([]types.Company, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []types.Company{}, nil
	}

	esc := escapeLike(q)
	prefix := esc + "%"
	contains := "%" + esc + "%"

	results := make([]types.Company, 0, SearchLimit)
	err := s.db.WithContext(ctx).
		Raw(searchSQL, contains, contains, prefix, prefix, contains, SearchLimit).
		Scan(&results).Error
	if err != nil {
		return nil, apperror.ErrStorage.WithMessage("Search failed").Wrap(err)
	}
	return results, nil
}

// Import upserts companies by symbol and returns how many were written
func (s *Service) Import(ctx context.Context, companies []types.Company) (int, error) {
	seen := make(map[string]int, len(companies))
	clean := make([]types.Company, 0, len(companies))
	for _, c := range companies {
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		c.Name = strings.TrimSpace(c.Name)
		if c.Symbol == "" || c.Name == "" {
			continue
		}
		// last entry for a symbol wins
		if i, ok := seen[c.Symbol]; ok {
			clean[i] = c
			continue
		}
		seen[c.Symbol] = len(clean)
		clean = append(clean, c)
	}
	if len(clean) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		CreateInBatches(clean, 500).Error
	if err != nil {
		return 0, fmt.Errorf("import companies: %w", err)
	}

	log.Info().Str("component", "companies").Int("count", len(clean)).Msg("companies imported")
	return len(clean), nil
}

// Count returns the directory size
func (s *Service) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&types.Company{}).Count(&n).Error
	return n, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// GinHandlers contains HTTP handlers for the company directory
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SearchHandler handles GET /search?q=
func (h *GinHandlers) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := h.service.Search(c.Request.Context(), c.Query("q"))
		response.Handle(c, results, err)
	}
}
