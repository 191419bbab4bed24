package handler_test

import (
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
)

func TestNoteFolderLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, fiber.MethodPost, "/api/v1/notes/folder", fiber.Map{"name": "Tricky ones", "type": models.FolderTypeFavorite}, &env.student)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created dto.FolderCreateResponse
	decodeData(t, resp, &created)
	require.NotZero(t, created.FolderID)

	folderPath := fmt.Sprintf("/api/v1/notes/folder/%d", created.FolderID)
	resp = env.do(t, fiber.MethodPatch, folderPath, fiber.Map{"name": "Review later"}, &env.student)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, fiber.MethodPatch, folderPath, fiber.Map{"name": "Mine now"}, &env.other)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = env.do(t, fiber.MethodGet, "/api/v1/notes/folder?type=1", nil, &env.student)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var tree []dto.FolderNode
	decodeData(t, resp, &tree)
	names := make([]string, 0, len(tree))
	for _, node := range tree {
		names = append(names, node.Name)
	}
	assert.Contains(t, names, "Review later")

	resp = env.do(t, fiber.MethodDelete, folderPath, nil, &env.student)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, fiber.MethodDelete, folderPath, nil, &env.student)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestNoteFolderGuards(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, fiber.MethodDelete, "/api/v1/notes/folder/1", nil, &env.student)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = env.do(t, fiber.MethodPost, "/api/v1/notes/folder", fiber.Map{"name": "", "type": 7}, &env.student)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, fiber.MethodGet, "/api/v1/notes/folder", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestNoteProblemFiling(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, env.student)

	resp := env.do(t, fiber.MethodPost, "/api/v1/notes/folder", fiber.Map{"name": "Stars", "type": models.FolderTypeFavorite}, &env.student)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var folder dto.FolderCreateResponse
	decodeData(t, resp, &folder)

	resp = env.do(t, fiber.MethodPost, "/api/v1/notes/problems", fiber.Map{
		"problemId": env.problem.ID,
		"folderId":  folder.FolderID,
		"type":      models.FolderTypeFavorite,
	}, &env.student)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var filed dto.UserProblemResponse
	decodeData(t, resp, &filed)
	require.NotNil(t, filed.FavoriteFolderID)
	assert.Equal(t, folder.FolderID, *filed.FavoriteFolderID)
	assert.Equal(t, 1, filed.TryCount)

	resp = env.do(t, fiber.MethodGet, fmt.Sprintf("/api/v1/notes/folder/%d/problems?type=1", folder.FolderID), nil, &env.student)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var listed []dto.FolderProblemResponse
	decodeData(t, resp, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, env.problem.ID, listed[0].ProblemID)

	strokesPath := fmt.Sprintf("/api/v1/notes/user-problems/%d/strokes", filed.ID)
	resp = env.do(t, fiber.MethodPut, strokesPath, fiber.Map{
		"solution_strokes": [][]dto.StrokePoint{{{X: 1, Y: 2}, {X: 3, Y: 4}}},
		"concept_strokes":  [][]dto.StrokePoint{},
	}, &env.student)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, fiber.MethodGet, strokesPath, nil, &env.student)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var strokes dto.NoteStrokes
	decodeData(t, resp, &strokes)
	require.Len(t, strokes.SolutionStrokes, 1)
	assert.Len(t, strokes.SolutionStrokes[0], 2)

	resp = env.do(t, fiber.MethodGet, strokesPath, nil, &env.other)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.do(t, fiber.MethodPost, "/api/v1/notes/problems", fiber.Map{
		"problemId": env.problem.ID,
		"folderId":  2,
		"type":      models.FolderTypeWrongNote,
	}, &env.student)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
