package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/repository"
)

const categoryTreeCacheKey = "categories:tree:v1"

// CategoryService exposes the curriculum tree.
type CategoryService interface {
	Tree(ctx context.Context) ([]dto.CategoryNode, error)
	Ancestors(ctx context.Context, id uint) (dto.CategoryHierarchy, error)
	InvalidateTree(ctx context.Context)
}

type categoryService struct {
	repo   repository.CategoryRepository
	cache  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCategoryService constructs the category service. A nil cache disables tree caching.
func NewCategoryService(repo repository.CategoryRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) CategoryService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &categoryService{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "category_service").Logger(),
	}
}

func (s *categoryService) Tree(ctx context.Context) ([]dto.CategoryNode, error) {
	if cached, ok := s.fetchCache(ctx); ok {
		return cached, nil
	}

	categories, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}

	tree := buildCategoryTree(categories)
	s.writeCache(ctx, tree)
	return tree, nil
}

// Ancestors returns the category nested inside its parents, nearest parent first.
func (s *categoryService) Ancestors(ctx context.Context, id uint) (dto.CategoryHierarchy, error) {
	chain, err := s.repo.Ancestors(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CategoryHierarchy{}, ErrCategoryNotFound
		}
		return dto.CategoryHierarchy{}, err
	}
	if len(chain) == 0 {
		return dto.CategoryHierarchy{}, ErrCategoryNotFound
	}

	return *nestHierarchy(chain), nil
}

func (s *categoryService) InvalidateTree(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, categoryTreeCacheKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate category tree cache")
	}
}

func (s *categoryService) fetchCache(ctx context.Context) ([]dto.CategoryNode, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, err := s.cache.Get(ctx, categoryTreeCacheKey).Bytes()
	if err != nil {
		return nil, false
	}

	var tree []dto.CategoryNode
	if err := json.Unmarshal(payload, &tree); err != nil {
		s.logger.Warn().Err(err).Msg("failed to decode category tree cache")
		return nil, false
	}
	return tree, true
}

func (s *categoryService) writeCache(ctx context.Context, tree []dto.CategoryNode) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(tree)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode category tree cache")
		return
	}
	if err := s.cache.Set(ctx, categoryTreeCacheKey, payload, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store category tree cache")
	}
}

func buildCategoryTree(categories []models.Category) []dto.CategoryNode {
	children := make(map[uint][]models.Category)
	roots := make([]models.Category, 0)
	for _, category := range categories {
		if category.ParentID == nil {
			roots = append(roots, category)
			continue
		}
		children[*category.ParentID] = append(children[*category.ParentID], category)
	}

	var build func(models.Category, int) dto.CategoryNode
	build = func(category models.Category, depth int) dto.CategoryNode {
		node := dto.CategoryNode{
			ID:       category.ID,
			Name:     category.Name,
			Type:     category.Type,
			Children: make([]dto.CategoryNode, 0, len(children[category.ID])),
		}
		if depth >= repository.MaxCategoryDepth {
			return node
		}
		for _, child := range children[category.ID] {
			node.Children = append(node.Children, build(child, depth+1))
		}
		return node
	}

	tree := make([]dto.CategoryNode, 0, len(roots))
	for _, root := range roots {
		tree = append(tree, build(root, 0))
	}
	return tree
}

// nestHierarchy turns [self, parent, grandparent...] into a nested document.
func nestHierarchy(chain []models.Category) *dto.CategoryHierarchy {
	var parent *dto.CategoryHierarchy
	for i := len(chain) - 1; i >= 0; i-- {
		parent = &dto.CategoryHierarchy{
			ID:     chain[i].ID,
			Name:   chain[i].Name,
			Type:   chain[i].Type,
			Parent: parent,
		}
	}
	return parent
}
