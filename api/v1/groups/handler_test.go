package groups

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"patchwatch/internal/httpx"
	"patchwatch/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&model.HostGroup{}, &model.Host{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	h := NewHandler(db)
	r := gin.New()
	r.POST("/host-groups", h.Create)
	r.DELETE("/host-groups/:id", h.Delete)
	return r, db
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreate(t *testing.T) {
	r, db := newTestRouter(t)

	w := postJSON(r, "/host-groups", `{"name":"web","description":"web tier","color":"#00ff00"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	db.Model(&model.HostGroup{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 group, got %d", count)
	}
}

func TestCreate_DuplicateNameConflict(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(r, "/host-groups", `{"name":"web"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on first create, got %d", w.Code)
	}

	w = postJSON(r, "/host-groups", `{"name":"web"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 on duplicate name, got %d: %s", w.Code, w.Body.String())
	}

	var resp httpx.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Code != httpx.CodeAlreadyExists {
		t.Errorf("Expected code %d, got %d", httpx.CodeAlreadyExists, resp.Code)
	}
}

func TestDelete_DetachesHosts(t *testing.T) {
	r, db := newTestRouter(t)

	group := model.HostGroup{Name: "db"}
	db.Create(&group)
	host := model.Host{
		MachineID:    "m-1",
		FriendlyName: "db-01",
		APIID:        "pw_api_1",
		APIKey:       "k",
		Status:       model.HostStatusActive,
		HostGroupID:  &group.ID,
	}
	db.Create(&host)

	req := httptest.NewRequest("DELETE", "/host-groups/1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var reloaded model.Host
	db.First(&reloaded, host.ID)
	if reloaded.HostGroupID != nil {
		t.Error("Expected host to be detached from deleted group")
	}

	var count int64
	db.Model(&model.HostGroup{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected 0 groups, got %d", count)
	}
}
