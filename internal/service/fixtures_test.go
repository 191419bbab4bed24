package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/pkg/dataservice"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

type catalog struct {
	student  models.User
	other    models.User
	subject  models.Category
	unit     models.Category
	section  models.Category
	problem  models.Problem
	problem2 models.Problem
	wrong    models.NoteFolder
}

// seedCatalog creates the three reserved common folders first so fixture folders never
// collide with them.
func seedCatalog(t *testing.T, db *gorm.DB) catalog {
	t.Helper()

	var c catalog
	for i := 1; i <= 3; i++ {
		system := models.NoteFolder{Type: models.FolderTypeWrongNote, Name: fmt.Sprintf("system-%d", i)}
		require.NoError(t, db.Create(&system).Error)
	}

	c.student = models.User{Nickname: "minji", Role: models.UserRoleStudent}
	require.NoError(t, db.Create(&c.student).Error)
	c.other = models.User{Nickname: "haerin", Role: models.UserRoleStudent}
	require.NoError(t, db.Create(&c.other).Error)

	book := models.Book{Name: "Ssen Math", Publisher: "Jihak"}
	require.NoError(t, db.Create(&book).Error)

	c.subject = models.Category{Type: 1, Name: "Math I"}
	require.NoError(t, db.Create(&c.subject).Error)
	c.unit = models.Category{Type: 2, Name: "Exponents", ParentID: &c.subject.ID}
	require.NoError(t, db.Create(&c.unit).Error)
	c.section = models.Category{Type: 3, Name: "Power rules", ParentID: &c.unit.ID}
	require.NoError(t, db.Create(&c.section).Error)

	c.problem = models.Problem{CategoryID: c.section.ID, BookID: book.ID, InnerNo: 1, Type: 1, Content: "2^3 = ?", Answer: "8", Choice: datatypes.JSON(`["6","8"]`)}
	require.NoError(t, db.Create(&c.problem).Error)
	c.problem2 = models.Problem{CategoryID: c.section.ID, BookID: book.ID, InnerNo: 2, Type: 2, Content: "3^2 = ?", Answer: "9"}
	require.NoError(t, db.Create(&c.problem2).Error)

	c.wrong = models.NoteFolder{CategoryID: &c.section.ID, Type: models.FolderTypeWrongNote, Name: "Power rules"}
	require.NoError(t, db.Create(&c.wrong).Error)

	return c
}

// fakeDataService stands in for the OCR and analysis backend.
type fakeDataService struct {
	mu            sync.Mutex
	answer        string
	answerStatus  int
	analysisFails atomic.Int32
	analysisCalls atomic.Int32
	idempotency   []string
	report        string
}

func newFakeDataService(t *testing.T, answer string) (*fakeDataService, *dataservice.Client) {
	t.Helper()
	fake := &fakeDataService{
		answer:       answer,
		answerStatus: http.StatusOK,
		report:       `{"ai_diagnosis":"steady progress","study_plan":[{"day":1,"task":"review exponents"}]}`,
	}

	server := httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(server.Close)

	client, err := dataservice.New(dataservice.Config{
		BaseURL:         server.URL,
		OCRTimeout:      time.Second,
		AnalysisTimeout: time.Second,
	}, testLogger())
	require.NoError(t, err)
	return fake, client
}

func (f *fakeDataService) setAnswerStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerStatus = status
}

func (f *fakeDataService) idempotencyKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.idempotency...)
}

func (f *fakeDataService) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case dataservice.AnswerPath:
		f.mu.Lock()
		status, answer := f.answerStatus, f.answer
		f.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"answer_convert": answer})
	case dataservice.AnalysisPath:
		f.analysisCalls.Add(1)
		f.mu.Lock()
		f.idempotency = append(f.idempotency, r.Header.Get(dataservice.IdempotencyHeader))
		f.mu.Unlock()
		if f.analysisFails.Load() > 0 {
			f.analysisFails.Add(-1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{
			"steps": [
				{"step_number": 1, "step_valid": true, "step_feedback": "<b>good</b> start", "latex": "2^3", "current_latex": "2 \\cdot 2 \\cdot 2"},
				{"step_number": 2, "step_valid": false, "step_feedback": "sign slip", "latex": null, "current_latex": null}
			],
			"ai_analysis": "<script>alert(1)</script>Solid grasp of powers",
			"weakness": "careless arithmetic"
		}`))
	case dataservice.ReportPath:
		f.mu.Lock()
		report := f.report
		f.mu.Unlock()
		_, _ = w.Write([]byte(report))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newValidator() *validator.Validate {
	return validator.New()
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	files := buildFileHeaders(t, map[string][]byte{filename: content})
	return files[0]
}

func buildFileHeaders(t *testing.T, contents map[string][]byte) []*multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	size := 0
	for filename, content := range contents {
		part, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Disposition": {"form-data; name=\"files\"; filename=\"" + filename + "\""},
			"Content-Type":        {"application/octet-stream"},
		})
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		size += len(content)
	}
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(size + 4096))
	require.NoError(t, err)
	files := form.File["files"]
	require.Len(t, files, len(contents))
	return files
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }
