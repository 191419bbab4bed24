package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/config"
	"github.com/souffle-edu/souffle-api/internal/handler"
	"github.com/souffle-edu/souffle-api/internal/middleware"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/queue"
	"github.com/souffle-edu/souffle-api/internal/repository"
	"github.com/souffle-edu/souffle-api/internal/router"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/pkg/dataservice"
	"github.com/souffle-edu/souffle-api/pkg/storage"
)

const testSecret = "handler-secret"

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	app     *fiber.App
	db      *gorm.DB
	mr      *miniredis.Miniredis
	queue   *queue.Queue
	worker  *queue.Worker
	student models.User
	other   models.User
	admin   models.User
	section models.Category
	problem models.Problem
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	data := newDataServiceStub(t)
	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())

	env := &testEnv{db: db, mr: mr}
	env.seed(t)

	users := repository.NewUserRepository(db)
	categories := repository.NewCategoryRepository(db)
	problems := repository.NewProblemRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	userProblems := repository.NewUserProblemRepository(db)
	folders := repository.NewNoteFolderRepository(db)
	progress := repository.NewProgressRepository(db)

	env.queue = queue.New(redisClient, "handler-test", queue.Options{Attempts: 3, Backoff: time.Millisecond, Timeout: 5 * time.Second})
	env.worker = queue.NewWorker(env.queue, queue.WorkerConfig{}, logger)

	events := service.NewEventService(nil, nil, "", logger)
	stats := service.NewStatsService(submissions, problems, categories, progress, logger)
	analysis := service.NewAnalysisService(env.queue, data, submissions, problems, events, validate, logger)
	analysis.Register(env.worker)
	reports := service.NewReportService(repository.NewReportRepository(db), submissions, users, data, env.queue, validate, logger)
	reports.Register(env.worker)
	store := storage.NewMemory("https://cdn.example.com")

	submissionService := service.NewSubmissionService(service.SubmissionDeps{
		Submissions:  submissions,
		Problems:     problems,
		UserProblems: userProblems,
		Folders:      folders,
		Storage:      store,
		Converter:    data,
		Analysis:     analysis,
		Stats:        stats,
		Events:       events,
		Validator:    validate,
		MaxFileMB:    1,
	}, logger)

	notes := service.NewNoteService(service.NoteDeps{
		Folders:      folders,
		Contents:     repository.NewNoteContentRepository(db),
		UserProblems: userProblems,
		Submissions:  submissions,
		Categories:   categories,
	}, validate, logger)
	auth := service.NewAuthService(users, service.AuthConfig{JWTSecret: testSecret}, logger)
	uploads := service.NewUploadService(store, repository.NewUploadRepository(db), 1, logger)

	env.app = fiber.New()
	middleware.Register(env.app, middleware.Config{})
	router.Register(env.app, config.Config{AppName: "Souffle Test", AppEnv: "test", JWTSecret: testSecret}, router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(auth, logger),
		UserHandler:       handler.NewUserHandler(service.NewUserService(users, progress, logger), logger),
		CategoryHandler:   handler.NewCategoryHandler(service.NewCategoryService(categories, redisClient, time.Minute, logger), logger),
		ProblemHandler:    handler.NewProblemHandler(service.NewProblemService(problems, categories, submissions, logger), logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, events, logger),
		ConceptHandler:    handler.NewConceptHandler(service.NewConceptService(repository.NewConceptRepository(db), validate, logger), logger),
		NoteHandler:       handler.NewNoteHandler(notes, logger),
		ReportHandler:     handler.NewReportHandler(reports, logger),
		DataHandler:       handler.NewDataHandler(data, analysis, validate, logger),
		UploadHandler:     handler.NewUploadHandler(uploads, logger),
		AdminQueueHandler: handler.NewAdminQueueHandler(env.queue, logger),
		JWTMiddleware:     middleware.JWTProtected(testSecret),
		DB:                db,
		Redis:             redisClient,
	})

	return env
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	for i := 1; i <= 3; i++ {
		require.NoError(t, e.db.Create(&models.NoteFolder{Type: models.FolderTypeWrongNote, Name: fmt.Sprintf("system-%d", i)}).Error)
	}

	e.student = models.User{Nickname: "minji", Role: models.UserRoleStudent}
	require.NoError(t, e.db.Create(&e.student).Error)
	e.other = models.User{Nickname: "haerin", Role: models.UserRoleStudent}
	require.NoError(t, e.db.Create(&e.other).Error)
	e.admin = models.User{Nickname: "yujin", Role: models.UserRoleAdmin}
	require.NoError(t, e.db.Create(&e.admin).Error)

	book := models.Book{Name: "Ssen Math", Publisher: "Jihak"}
	require.NoError(t, e.db.Create(&book).Error)

	subject := models.Category{Type: 1, Name: "Math I"}
	require.NoError(t, e.db.Create(&subject).Error)
	unit := models.Category{Type: 2, Name: "Exponents", ParentID: &subject.ID}
	require.NoError(t, e.db.Create(&unit).Error)
	e.section = models.Category{Type: 3, Name: "Power rules", ParentID: &unit.ID}
	require.NoError(t, e.db.Create(&e.section).Error)

	e.problem = models.Problem{CategoryID: e.section.ID, BookID: book.ID, InnerNo: 1, Type: 1, Content: "2^3 = ?", Answer: "8"}
	require.NoError(t, e.db.Create(&e.problem).Error)
}

func (e *testEnv) token(t *testing.T, user models.User) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      strconv.FormatUint(uint64(user.ID), 10),
		"nickname": user.Nickname,
		"role":     user.Role,
		"typ":      "access",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// drain runs queued jobs until the queue is empty.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		processed, err := e.worker.ProcessNext(t.Context())
		require.NoError(t, err)
		if processed {
			continue
		}
		stats, err := e.queue.Stats(t.Context())
		require.NoError(t, err)
		if stats.Waiting == 0 && stats.Delayed == 0 && stats.Active == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queue did not drain")
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, user *models.User) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if user != nil {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+e.token(t, *user))
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func decodeData(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	var envelope apiEnvelope
	decodeResponse(t, resp, &envelope)
	require.True(t, envelope.Success, envelope.Message)
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

// newDataServiceStub answers OCR with "8", analysis with a full result and reports
// with a fixed diagnosis.
func newDataServiceStub(t *testing.T) *dataservice.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case dataservice.AnswerPath:
			_, _ = w.Write([]byte(`{"answer_convert":"8"}`))
		case dataservice.AnalysisPath:
			_, _ = w.Write([]byte(`{"steps":[{"step_number":1,"step_valid":true,"step_feedback":"fine","latex":"2^3","current_latex":"8"}],"ai_analysis":"Solid grasp of powers","weakness":"none observed"}`))
		case dataservice.ReportPath:
			_, _ = w.Write([]byte(`{"ai_diagnosis":"steady progress","study_plan":[{"day":1,"task":"review exponents"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	client, err := dataservice.New(dataservice.Config{BaseURL: server.URL, OCRTimeout: time.Second, AnalysisTimeout: time.Second}, zerolog.New(io.Discard))
	require.NoError(t, err)
	return client
}
