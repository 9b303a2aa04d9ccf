package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/coverletter-api/internal/config"
	"github.com/noah-isme/coverletter-api/internal/handler"
	"github.com/noah-isme/coverletter-api/internal/middleware"
	"github.com/noah-isme/coverletter-api/internal/models"
	"github.com/noah-isme/coverletter-api/internal/repository"
	"github.com/noah-isme/coverletter-api/internal/router"
	"github.com/noah-isme/coverletter-api/internal/service"
	"github.com/noah-isme/coverletter-api/internal/workflow"
)

const chairBase = "/api/v2/department-chair/cover-letters"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
	Meta    json.RawMessage `json:"meta"`
}

type letterPayload struct {
	EntryID               string         `json:"entry_id"`
	Department            string         `json:"department"`
	Stage                 workflow.Stage `json:"stage"`
	StageLabel            string         `json:"stage_label"`
	DepartmentChairSigned bool           `json:"department_chair_signed"`
	SignedBy              *string        `json:"department_chair_signed_by"`
}

type coverLetterApp struct {
	app *fiber.App
	db  *gorm.DB
}

func openHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:handler_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.CoverLetter{}, &models.ActivityLog{}))
	return db
}

// headerIdentity stands in for JWT parsing so tests can pick the caller per request.
func headerIdentity(c *fiber.Ctx) error {
	if id := c.Get("X-Test-User"); id != "" {
		c.Locals("user_id", id)
	}
	if role := c.Get("X-Test-Role"); role != "" {
		c.Locals("user_role", role)
	}
	if dept := c.Get("X-Test-Department"); dept != "" {
		c.Locals("user_department", dept)
	}
	return c.Next()
}

func setupCoverLetterApp(t *testing.T, cfg config.Config, identity fiber.Handler) coverLetterApp {
	t.Helper()

	db := openHandlerDB(t)
	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())

	activity := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	letters := service.NewCoverLetterService(
		repository.NewCoverLetterRepository(db),
		nil,
		activity,
		nil,
		validate,
		service.CoverLetterServiceOptions{OperationTimeout: 5 * time.Second},
		logger,
	)

	if cfg.AppName == "" {
		cfg.AppName = "Test"
	}
	if cfg.SignRateLimit == 0 {
		cfg.SignRateLimit = 100
	}

	app := fiber.New()
	router.Register(app, cfg, router.Dependencies{
		CoverLetterHandler:   handler.NewCoverLetterHandler(letters, logger),
		AdminActivityHandler: handler.NewAdminActivityHandler(activity, logger),
		JWTMiddleware:        identity,
	})

	return coverLetterApp{app: app, db: db}
}

func seedHandlerLetter(t *testing.T, db *gorm.DB, entryID, department string, stage workflow.Stage) {
	t.Helper()
	letter := models.CoverLetter{
		EntryID:               entryID,
		StudentID:             "S-" + entryID,
		StudentName:           "Ada",
		StudentLastName:       "Lovelace",
		Department:            department,
		GPA:                   3.8,
		CreditsEarned:         120,
		GraduationDate:        time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		Stage:                 stage,
		DepartmentChairSigned: stage.AtOrPast(workflow.StagePendingFacultySecretary),
	}
	require.NoError(t, db.Create(&letter).Error)
}

type caller struct {
	id, role, department string
}

var (
	csChair     = caller{id: "chair-1", role: "department_chair", department: "Computer Science"}
	csSecretary = caller{id: "sec-1", role: "department_secretary", department: "Computer Science"}
	facultySec  = caller{id: "fs-1", role: "faculty_secretary"}
	affairs     = caller{id: "sa-1", role: "student_affairs"}
	admin       = caller{id: "admin-1", role: "admin"}
)

func do(t *testing.T, app *fiber.App, method, path string, who *caller, body interface{}) (*http.Response, apiEnvelope) {
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
	if who != nil {
		req.Header.Set("X-Test-User", who.id)
		req.Header.Set("X-Test-Role", who.role)
		if who.department != "" {
			req.Header.Set("X-Test-Department", who.department)
		}
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func TestChairQueueListsDepartmentPendingLetters(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)
	seedHandlerLetter(t, env.db, "CL-2", "Computer Science", workflow.StagePendingFacultySecretary)
	seedHandlerLetter(t, env.db, "CL-3", "Mathematics", workflow.StagePendingDepartmentChair)

	resp, envelope := do(t, env.app, http.MethodGet, chairBase, &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &items))
	require.Len(t, items, 1)
	require.Equal(t, "CL-1", items[0].EntryID)
	require.Equal(t, "Pending Your Signature", items[0].StageLabel)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(envelope.Meta, &meta))
	require.EqualValues(t, 1, meta["count"])
	require.Equal(t, string(workflow.StagePendingDepartmentChair), meta["stage"])
}

func TestChairSignForwardsToFacultySecretary(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)

	resp, envelope := do(t, env.app, http.MethodPost, chairBase+"/CL-1/sign", &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, envelope.Success)
	require.Equal(t, "Cover letter signed successfully and forwarded to Faculty Secretary!", envelope.Message)

	var signed letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &signed))
	require.Equal(t, workflow.StagePendingFacultySecretary, signed.Stage)
	require.True(t, signed.DepartmentChairSigned)
	require.NotNil(t, signed.SignedBy)
	require.Equal(t, "chair-1", *signed.SignedBy)

	resp, envelope = do(t, env.app, http.MethodGet, chairBase+"/CL-1", &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &fetched))
	require.Equal(t, workflow.StagePendingFacultySecretary, fetched.Stage)

	resp, envelope = do(t, env.app, http.MethodGet, chairBase, &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &items))
	require.Empty(t, items)
}

func TestChairSignRejectsRepeatAndLaterStages(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)
	seedHandlerLetter(t, env.db, "CL-9", "Computer Science", workflow.StageCompleted)

	resp, _ := do(t, env.app, http.MethodPost, chairBase+"/CL-1/sign", &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := do(t, env.app, http.MethodPost, chairBase+"/CL-1/sign", &csChair, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.False(t, envelope.Success)

	resp, _ = do(t, env.app, http.MethodPost, chairBase+"/CL-9/sign", &csChair, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var letter models.CoverLetter
	require.NoError(t, env.db.Where("entry_id = ?", "CL-9").First(&letter).Error)
	require.Equal(t, workflow.StageCompleted, letter.Stage)
}

func TestChairSignUnknownEntry(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)

	resp, envelope := do(t, env.app, http.MethodPost, chairBase+"/CL-404/sign", &csChair, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "cover letter not found", envelope.Message)
}

func TestChairRoutesRejectOtherRoles(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)

	for _, who := range []caller{csSecretary, facultySec, affairs, admin} {
		who := who
		resp, _ := do(t, env.app, http.MethodPost, chairBase+"/CL-1/sign", &who, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode, who.role)
	}

	resp, _ := do(t, env.app, http.MethodPost, chairBase+"/CL-1/sign", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var letter models.CoverLetter
	require.NoError(t, env.db.Where("entry_id = ?", "CL-1").First(&letter).Error)
	require.Equal(t, workflow.StagePendingDepartmentChair, letter.Stage)
	require.False(t, letter.DepartmentChairSigned)
}

func TestChairSignOtherDepartmentForbidden(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-7", "Mathematics", workflow.StagePendingDepartmentChair)

	resp, _ := do(t, env.app, http.MethodPost, chairBase+"/CL-7/sign", &csChair, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChairDetailsOtherDepartmentForbidden(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-7", "Mathematics", workflow.StagePendingDepartmentChair)

	resp, envelope := do(t, env.app, http.MethodGet, chairBase+"/CL-7", &csChair, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.False(t, envelope.Success)
	require.NotContains(t, string(envelope.Data), "CL-7")

	resp, envelope = do(t, env.app, http.MethodGet, "/api/v2/workflow/cover-letters/CL-7", &facultySec, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &fetched))
	require.Equal(t, "CL-7", fetched.EntryID)
}

func TestChairQueueIgnoresDepartmentCase(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)

	lowerChair := caller{id: "chair-2", role: "department_chair", department: "computer science"}
	resp, envelope := do(t, env.app, http.MethodGet, chairBase, &lowerChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &items))
	require.Len(t, items, 1)
	require.Equal(t, "CL-1", items[0].EntryID)

	resp, _ = do(t, env.app, http.MethodGet, chairBase+"/CL-1", &lowerChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChairSignIsRateLimited(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{SignRateLimit: 1, SignRateWindow: time.Minute}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)
	seedHandlerLetter(t, env.db, "CL-2", "Computer Science", workflow.StagePendingDepartmentChair)

	resp, _ := do(t, env.app, http.MethodPost, chairBase+"/CL-1/sign", &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, chairBase+"/CL-2/sign", nil)
	req.Header.Set("X-Test-User", csChair.id)
	req.Header.Set("X-Test-Role", csChair.role)
	req.Header.Set("X-Test-Department", csChair.department)
	limited, err := env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
}

func TestSecretaryCreatesCoverLetter(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)

	payload := map[string]interface{}{
		"entry_id":          "CL-100",
		"student_id":        "S-100",
		"student_name":      "Alan",
		"student_last_name": "Turing",
		"department":        "Computer Science",
		"gpa":               3.9,
		"credits_earned":    132,
		"graduation_date":   "2026-06-30",
		"notes":             "<b>Outstanding</b> student",
	}

	resp, envelope := do(t, env.app, http.MethodPost, "/api/v2/department-secretary/cover-letters", &csSecretary, payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &created))
	require.Equal(t, "CL-100", created.EntryID)
	require.Equal(t, workflow.StagePendingDepartmentChair, created.Stage)
	require.False(t, created.DepartmentChairSigned)

	resp, _ = do(t, env.app, http.MethodPost, "/api/v2/department-secretary/cover-letters", &csSecretary, payload)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, envelope = do(t, env.app, http.MethodGet, chairBase, &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &items))
	require.Len(t, items, 1)
}

func TestSecretaryCreateValidation(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)

	resp, envelope := do(t, env.app, http.MethodPost, "/api/v2/department-secretary/cover-letters", &csSecretary, map[string]interface{}{
		"student_id":      "S-1",
		"department":      "Computer Science",
		"gpa":             5.2,
		"graduation_date": "30/06/2026",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var details []string
	require.NoError(t, json.Unmarshal(envelope.Details, &details))
	require.NotEmpty(t, details)
}

func TestWorkflowAdvanceThroughCompletion(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)

	resp, _ := do(t, env.app, http.MethodPost, "/api/v2/workflow/cover-letters/CL-1/advance", &facultySec, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, env.app, http.MethodPost, chairBase+"/CL-1/sign", &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := do(t, env.app, http.MethodGet, "/api/v2/workflow/cover-letters", &facultySec, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var queue []letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &queue))
	require.Len(t, queue, 1)

	resp, envelope = do(t, env.app, http.MethodPost, "/api/v2/workflow/cover-letters/CL-1/advance", &facultySec, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Cover letter forwarded to Student Affairs", envelope.Message)

	resp, envelope = do(t, env.app, http.MethodPost, "/api/v2/workflow/cover-letters/CL-1/advance", &affairs, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var done letterPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &done))
	require.Equal(t, workflow.StageCompleted, done.Stage)
	require.True(t, done.DepartmentChairSigned)
}

func TestAdminActivitiesRecordSignature(t *testing.T) {
	env := setupCoverLetterApp(t, config.Config{}, headerIdentity)
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)

	resp, _ := do(t, env.app, http.MethodPost, chairBase+"/CL-1/sign", &csChair, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, env.app, http.MethodGet, "/api/admin/activities", &csChair, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, envelope := do(t, env.app, http.MethodGet, "/api/admin/activities?entity_ref=CL-1&action=cover_letter.signed", &admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []struct {
		ActorID   string `json:"actor_id"`
		Action    string `json:"action"`
		EntityRef string `json:"entity_ref"`
	}
	require.NoError(t, json.Unmarshal(envelope.Data, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "chair-1", entries[0].ActorID)
	require.Equal(t, "CL-1", entries[0].EntityRef)

	resp, _ = do(t, env.app, http.MethodGet, "/api/admin/activities?page=abc", &admin, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChairSignWithBearerToken(t *testing.T) {
	const secret = "handler-secret"
	env := setupCoverLetterApp(t, config.Config{JWTSecret: secret}, middleware.JWTProtected(secret))
	seedHandlerLetter(t, env.db, "CL-1", "Computer Science", workflow.StagePendingDepartmentChair)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        "chair-1",
		"role":       "DEPARTMENT_CHAIR",
		"department": "Computer Science",
		"exp":        time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, chairBase+"/CL-1/sign", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, chairBase+"/CL-1/sign", nil)
	resp, err = env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
