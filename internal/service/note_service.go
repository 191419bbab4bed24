package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/repository"
)

// Folders with these ids are system roots that cannot hold problems directly.
const maxSystemFolderID = 3

// DefaultFavoriteFolderName names the favourites root created for every new user.
const DefaultFavoriteFolderName = "즐겨찾기"

// NoteService manages note folders, the problems filed in them and handwritten notes.
type NoteService interface {
	FolderTree(ctx context.Context, userID uint, folderType *int) ([]*dto.FolderNode, error)
	CreateFolder(ctx context.Context, userID uint, payload dto.FolderCreateRequest) (dto.FolderCreateResponse, error)
	RenameFolder(ctx context.Context, userID, folderID uint, payload dto.FolderRenameRequest) error
	ReorderFolder(ctx context.Context, userID, folderID uint, payload dto.FolderReorderRequest) error
	DeleteFolder(ctx context.Context, userID, folderID uint) error
	FolderProblems(ctx context.Context, userID, folderID uint, folderType int) ([]dto.FolderProblemResponse, error)
	AddProblem(ctx context.Context, userID uint, payload dto.FolderProblemRequest) (dto.UserProblemResponse, error)
	MoveProblem(ctx context.Context, userID uint, payload dto.FolderProblemRequest) (dto.UserProblemResponse, error)
	RemoveProblem(ctx context.Context, userID uint, payload dto.FolderProblemRemoveRequest) (dto.UserProblemResponse, error)
	ProblemDetail(ctx context.Context, userID, userProblemID uint) (dto.NoteProblemDetail, error)
	Strokes(ctx context.Context, userID, userProblemID uint) (dto.NoteStrokes, error)
	UpdateStrokes(ctx context.Context, userID, userProblemID uint, payload dto.NoteStrokes) error
}

// NoteDeps groups the repositories used by the note service.
type NoteDeps struct {
	Folders      repository.NoteFolderRepository
	Contents     repository.NoteContentRepository
	UserProblems repository.UserProblemRepository
	Submissions  repository.SubmissionRepository
	Categories   repository.CategoryRepository
}

type noteService struct {
	folders      repository.NoteFolderRepository
	contents     repository.NoteContentRepository
	userProblems repository.UserProblemRepository
	submissions  repository.SubmissionRepository
	categories   repository.CategoryRepository
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
}

// NewNoteService constructs the note service.
func NewNoteService(deps NoteDeps, validate *validator.Validate, logger zerolog.Logger) NoteService {
	return &noteService{
		folders:      deps.Folders,
		contents:     deps.Contents,
		userProblems: deps.UserProblems,
		submissions:  deps.Submissions,
		categories:   deps.Categories,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "note_service").Logger(),
	}
}

// DefaultFolders returns the folders every new user starts with.
func DefaultFolders() []models.NoteFolder {
	return []models.NoteFolder{{
		Type:      models.FolderTypeFavorite,
		Name:      DefaultFavoriteFolderName,
		SortOrder: 0,
	}}
}

// FolderTree returns the visible folders as a forest. Problem counts use the
// wrong-note placement unless favourites are requested, and include every descendant.
func (s *noteService) FolderTree(ctx context.Context, userID uint, folderType *int) ([]*dto.FolderNode, error) {
	folders, err := s.folders.VisibleTo(ctx, userID, folderType)
	if err != nil {
		return nil, err
	}

	countType := models.FolderTypeWrongNote
	if folderType != nil && *folderType == models.FolderTypeFavorite {
		countType = models.FolderTypeFavorite
	}
	column, err := repository.FolderColumn(countType)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(folders))
	for _, folder := range folders {
		ids = append(ids, folder.ID)
	}
	counts, err := s.userProblems.CountByFolders(ctx, userID, column, ids)
	if err != nil {
		return nil, err
	}

	nodes := make(map[uint]*dto.FolderNode, len(folders))
	for _, folder := range folders {
		nodes[folder.ID] = &dto.FolderNode{
			ID:           folder.ID,
			Name:         folder.Name,
			Type:         folder.Type,
			ProblemCount: counts[folder.ID],
			Children:     []*dto.FolderNode{},
			ParentID:     folder.ParentID,
		}
	}

	roots := make([]*dto.FolderNode, 0)
	for _, folder := range folders {
		node := nodes[folder.ID]
		if folder.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		if parent, ok := nodes[*folder.ParentID]; ok && parent != node {
			parent.Children = append(parent.Children, node)
		}
	}

	for _, root := range roots {
		accumulateCounts(root, 0)
	}
	return roots, nil
}

func accumulateCounts(node *dto.FolderNode, depth int) int {
	if depth > repository.MaxCategoryDepth {
		return node.ProblemCount
	}
	total := node.ProblemCount
	for _, child := range node.Children {
		total += accumulateCounts(child, depth+1)
	}
	node.ProblemCount = total
	return total
}

func (s *noteService) CreateFolder(ctx context.Context, userID uint, payload dto.FolderCreateRequest) (dto.FolderCreateResponse, error) {
	payload.Name = s.cleanName(payload.Name)
	if err := s.validator.Struct(payload); err != nil {
		return dto.FolderCreateResponse{}, err
	}

	if payload.ParentID != nil {
		parent, err := s.folders.GetByID(ctx, *payload.ParentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dto.FolderCreateResponse{}, ErrFolderNotFound
			}
			return dto.FolderCreateResponse{}, err
		}
		if !parent.IsCommon() && *parent.UserID != userID {
			return dto.FolderCreateResponse{}, ErrFolderForbidden
		}
	}

	owner := userID
	folder := models.NoteFolder{
		UserID:   &owner,
		Type:     payload.Type,
		Name:     payload.Name,
		ParentID: payload.ParentID,
	}
	if err := s.folders.Create(ctx, &folder); err != nil {
		return dto.FolderCreateResponse{}, err
	}

	s.logger.Info().Uint("folder_id", folder.ID).Uint("user_id", userID).Msg("note folder created")
	return dto.FolderCreateResponse{FolderID: folder.ID}, nil
}

func (s *noteService) RenameFolder(ctx context.Context, userID, folderID uint, payload dto.FolderRenameRequest) error {
	payload.Name = s.cleanName(payload.Name)
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	if _, err := s.editableFolder(ctx, userID, folderID); err != nil {
		return err
	}
	return s.folders.Rename(ctx, folderID, payload.Name)
}

func (s *noteService) ReorderFolder(ctx context.Context, userID, folderID uint, payload dto.FolderReorderRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	folder, err := s.editableFolder(ctx, userID, folderID)
	if err != nil {
		return err
	}
	return s.folders.Reorder(ctx, folder, *payload.SortOrder)
}

func (s *noteService) DeleteFolder(ctx context.Context, userID, folderID uint) error {
	if _, err := s.editableFolder(ctx, userID, folderID); err != nil {
		return err
	}
	if err := s.folders.Delete(ctx, folderID); err != nil {
		return err
	}
	s.logger.Info().Uint("folder_id", folderID).Uint("user_id", userID).Msg("note folder deleted")
	return nil
}

// editableFolder loads a folder the user may rename, reorder or delete.
func (s *noteService) editableFolder(ctx context.Context, userID, folderID uint) (models.NoteFolder, error) {
	folder, err := s.folders.GetByID(ctx, folderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NoteFolder{}, ErrFolderNotFound
		}
		return models.NoteFolder{}, err
	}
	if folder.IsFavoriteRoot() || folder.IsCommon() {
		return models.NoteFolder{}, ErrFolderProtected
	}
	if *folder.UserID != userID {
		return models.NoteFolder{}, ErrFolderForbidden
	}
	return folder, nil
}

func (s *noteService) FolderProblems(ctx context.Context, userID, folderID uint, folderType int) ([]dto.FolderProblemResponse, error) {
	column, err := repository.FolderColumn(folderType)
	if err != nil {
		return nil, ErrInvalidFolderType
	}
	if _, err := s.visibleFolder(ctx, userID, folderID); err != nil {
		return nil, err
	}

	records, err := s.userProblems.ListByFolder(ctx, userID, column, folderID)
	if err != nil {
		return nil, err
	}

	response := make([]dto.FolderProblemResponse, 0, len(records))
	for _, record := range records {
		response = append(response, dto.FolderProblemResponse{
			ProblemID:     record.ProblemID,
			UserProblemID: record.ID,
			CategoryName:  record.Problem.Category.Name,
			InnerNo:       record.Problem.InnerNo,
			ProblemType:   record.Problem.Type,
			Content:       record.Problem.Content,
			Choice:        record.Problem.Choice,
			User: dto.FolderProblemUser{
				TryCount:         record.TryCount,
				CorrectCount:     record.CorrectCount,
				LastSubmissionID: record.LastSubmissionID,
			},
		})
	}
	return response, nil
}

func (s *noteService) AddProblem(ctx context.Context, userID uint, payload dto.FolderProblemRequest) (dto.UserProblemResponse, error) {
	return s.fileProblem(ctx, userID, payload)
}

func (s *noteService) MoveProblem(ctx context.Context, userID uint, payload dto.FolderProblemRequest) (dto.UserProblemResponse, error) {
	return s.fileProblem(ctx, userID, payload)
}

// fileProblem places an attempted problem into a folder of the given type.
func (s *noteService) fileProblem(ctx context.Context, userID uint, payload dto.FolderProblemRequest) (dto.UserProblemResponse, error) {
	if payload.FolderID != 0 && payload.FolderID <= maxSystemFolderID {
		return dto.UserProblemResponse{}, ErrSystemFolder
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.UserProblemResponse{}, err
	}
	column, err := repository.FolderColumn(payload.Type)
	if err != nil {
		return dto.UserProblemResponse{}, ErrInvalidFolderType
	}
	if _, err := s.visibleFolder(ctx, userID, payload.FolderID); err != nil {
		return dto.UserProblemResponse{}, err
	}

	record, err := s.userProblem(ctx, userID, payload.ProblemID)
	if err != nil {
		return dto.UserProblemResponse{}, err
	}

	folderID := payload.FolderID
	if err := s.userProblems.SetFolder(ctx, record.ID, column, &folderID); err != nil {
		return dto.UserProblemResponse{}, err
	}
	setFolderField(&record, payload.Type, &folderID)
	return newUserProblemResponse(record), nil
}

func (s *noteService) RemoveProblem(ctx context.Context, userID uint, payload dto.FolderProblemRemoveRequest) (dto.UserProblemResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.UserProblemResponse{}, err
	}
	column, err := repository.FolderColumn(payload.Type)
	if err != nil {
		return dto.UserProblemResponse{}, ErrInvalidFolderType
	}

	record, err := s.userProblem(ctx, userID, payload.ProblemID)
	if err != nil {
		return dto.UserProblemResponse{}, err
	}

	if err := s.userProblems.SetFolder(ctx, record.ID, column, nil); err != nil {
		return dto.UserProblemResponse{}, err
	}
	setFolderField(&record, payload.Type, nil)
	return newUserProblemResponse(record), nil
}

func (s *noteService) ProblemDetail(ctx context.Context, userID, userProblemID uint) (dto.NoteProblemDetail, error) {
	record, err := s.ownedUserProblem(ctx, userID, userProblemID)
	if err != nil {
		return dto.NoteProblemDetail{}, err
	}
	problem := record.Problem

	detail := dto.NoteProblemDetail{
		ProblemID:           problem.ID,
		Content:             problem.Content,
		Choice:              problem.Choice,
		ProblemImageURL:     problem.ProblemImageURL,
		Answer:              problem.Answer,
		Explanation:         problem.Explanation,
		ExplanationImageURL: problem.ExplanationImageURL,
		InnerNo:             problem.InnerNo,
		SolutionStrokes:     json.RawMessage("[]"),
		ConceptStrokes:      json.RawMessage("[]"),
		BookName:            problem.Book.Name,
		Publisher:           problem.Book.Publisher,
		Year:                problem.Book.Year,
		SubmissionSteps:     []dto.SubmissionStepResponse{},
	}

	content, err := s.contents.GetByUserProblem(ctx, record.ID)
	switch {
	case err == nil:
		if len(content.SolutionStrokes) > 0 {
			detail.SolutionStrokes = json.RawMessage(content.SolutionStrokes)
		}
		if len(content.ConceptStrokes) > 0 {
			detail.ConceptStrokes = json.RawMessage(content.ConceptStrokes)
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return dto.NoteProblemDetail{}, err
	}

	chain, err := s.categories.Ancestors(ctx, problem.CategoryID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.NoteProblemDetail{}, err
	}
	if len(chain) > 0 {
		detail.Category = nestHierarchy(chain)
	}

	if record.LastSubmissionID != nil {
		submission, err := s.submissions.GetByID(ctx, *record.LastSubmissionID)
		switch {
		case err == nil:
			fullStep := submission.FullStepImageURL
			submittedAt := submission.CreatedAt
			detail.TotalSolveTime = submission.TotalSolveTime
			detail.UnderstandTime = submission.UnderstandTime
			detail.SolveTime = submission.SolveTime
			detail.ReviewTime = submission.ReviewTime
			detail.AnswerConvert = submission.AnswerConvert
			detail.FullStepImageURL = &fullStep
			detail.IsCorrect = submission.IsCorrect
			detail.AIAnalysis = submission.AIAnalysis
			detail.Weakness = submission.Weakness
			detail.SubmittedAt = &submittedAt
			detail.SubmissionSteps = dto.NewSubmissionStepResponses(submission.Steps)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return dto.NoteProblemDetail{}, err
		}
	}

	return detail, nil
}

func (s *noteService) Strokes(ctx context.Context, userID, userProblemID uint) (dto.NoteStrokes, error) {
	if _, err := s.ownedUserProblem(ctx, userID, userProblemID); err != nil {
		return dto.NoteStrokes{}, err
	}

	content, err := s.contents.GetByUserProblem(ctx, userProblemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NoteStrokes{}, ErrNoteNotFound
		}
		return dto.NoteStrokes{}, err
	}

	strokes := dto.NoteStrokes{
		SolutionStrokes: [][]dto.StrokePoint{},
		ConceptStrokes:  [][]dto.StrokePoint{},
	}
	if err := decodeStrokes(content.SolutionStrokes, &strokes.SolutionStrokes); err != nil {
		return dto.NoteStrokes{}, err
	}
	if err := decodeStrokes(content.ConceptStrokes, &strokes.ConceptStrokes); err != nil {
		return dto.NoteStrokes{}, err
	}
	return strokes, nil
}

// UpdateStrokes replaces both stroke layers, creating the note on first save.
func (s *noteService) UpdateStrokes(ctx context.Context, userID, userProblemID uint, payload dto.NoteStrokes) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	if _, err := s.ownedUserProblem(ctx, userID, userProblemID); err != nil {
		return err
	}

	solution, err := json.Marshal(payload.SolutionStrokes)
	if err != nil {
		return err
	}
	concept, err := json.Marshal(payload.ConceptStrokes)
	if err != nil {
		return err
	}

	return s.contents.Upsert(ctx, &models.NoteContent{
		UserProblemID:   userProblemID,
		SolutionStrokes: datatypes.JSON(solution),
		ConceptStrokes:  datatypes.JSON(concept),
	})
}

func (s *noteService) visibleFolder(ctx context.Context, userID, folderID uint) (models.NoteFolder, error) {
	folder, err := s.folders.GetByID(ctx, folderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NoteFolder{}, ErrFolderNotFound
		}
		return models.NoteFolder{}, err
	}
	if !folder.IsCommon() && *folder.UserID != userID {
		return models.NoteFolder{}, ErrFolderForbidden
	}
	return folder, nil
}

func (s *noteService) userProblem(ctx context.Context, userID, problemID uint) (models.UserProblem, error) {
	record, err := s.userProblems.Get(ctx, userID, problemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UserProblem{}, ErrUserProblemNotFound
		}
		return models.UserProblem{}, err
	}
	return record, nil
}

// ownedUserProblem hides records of other users behind ErrUserProblemNotFound.
func (s *noteService) ownedUserProblem(ctx context.Context, userID, userProblemID uint) (models.UserProblem, error) {
	record, err := s.userProblems.GetByID(ctx, userProblemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UserProblem{}, ErrUserProblemNotFound
		}
		return models.UserProblem{}, err
	}
	if record.UserID != userID {
		return models.UserProblem{}, ErrUserProblemNotFound
	}
	return record, nil
}

func (s *noteService) cleanName(name string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(name))
}

func setFolderField(record *models.UserProblem, folderType int, folderID *uint) {
	if folderType == models.FolderTypeFavorite {
		record.FavoriteFolderID = folderID
		return
	}
	record.WrongNoteFolderID = folderID
}

func newUserProblemResponse(record models.UserProblem) dto.UserProblemResponse {
	return dto.UserProblemResponse{
		ID:                record.ID,
		ProblemID:         record.ProblemID,
		FavoriteFolderID:  record.FavoriteFolderID,
		WrongNoteFolderID: record.WrongNoteFolderID,
		TryCount:          record.TryCount,
		CorrectCount:      record.CorrectCount,
		LastSubmissionID:  record.LastSubmissionID,
	}
}

func decodeStrokes(raw datatypes.JSON, target *[][]dto.StrokePoint) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, target)
}
