package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"club-ladder/config"
	"club-ladder/middleware"
	"club-ladder/models"
	"club-ladder/services"
	"club-ladder/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

type testServer struct {
	app *fiber.App
	db  *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := utils.OpenDatabase("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatal(err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	for _, p := range []string{"alice", "bob"} {
		db.Create(&models.ClubMember{ID: uuid.NewString(), ClubID: "club-1", PlayerID: p, DisplayName: p, Role: models.ClubRoleMember, IsActive: true})
	}

	cfg := config.Defaults()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	notifier := services.LogNotifier{}
	directory := services.NewClubDirectory(db, []string{"root"})
	store := services.NewRatingStore(db, clock, cfg.Rating)
	engine := services.NewRatingEngine(cfg.Rating)
	validation := services.NewValidationService(db, clock, store, engine, directory, directory, notifier, cfg.Validation)
	decay := services.NewDecayProcessor(db, clock, store, notifier, cfg.Decay, 100)
	sweeps := services.NewSweepService(db, clock, validation, decay, notifier, cfg.Validation, 100)

	app := fiber.New()
	SetupRoutes(app, middleware.UserContextMiddleware(), Services{
		Validation: validation,
		Store:      store,
		Sweeps:     sweeps,
		Admins:     directory,
	})
	return &testServer{app: app, db: db}
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	return s.doAs(t, method, path, user, "", body)
}

// doAs sends the request with the X-User-Roles header the gateway would set.
func (s *testServer) doAs(t *testing.T, method, path, user, roles string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: invalid JSON %q", method, path, raw)
		}
	}
	return resp.StatusCode, out
}

func (s *testServer) reportMatch(t *testing.T) string {
	t.Helper()
	status, body := s.do(t, "POST", "/matches", "alice", fiber.Map{
		"opponent_id": "bob",
		"score":       "6-4 6-4",
		"format":      "three_sets",
		"played_at":   "2025-03-02",
	})
	if status != 201 {
		t.Fatalf("report: %d %v", status, body)
	}
	id, _ := body["id"].(string)
	return id
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	if status, body := s.do(t, "GET", "/health", "", nil); status != 200 || body["status"] != "ok" {
		t.Errorf("health: %d %v", status, body)
	}
	if status, _ := s.do(t, "GET", "/players/alice/rating", "", nil); status != 401 {
		t.Errorf("anonymous request: %d, want 401", status)
	}
}

func TestReportMatchErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   fiber.Map
		status int
		code   string
	}{
		{"invalid score", fiber.Map{"opponent_id": "bob", "score": "6-4 6-5", "format": "three_sets"}, 400, "invalid_score"},
		{"self report", fiber.Map{"opponent_id": "alice", "score": "6-4 6-4", "format": "three_sets"}, 400, "self_report"},
		{"bad date", fiber.Map{"opponent_id": "bob", "score": "6-4 6-4", "format": "three_sets", "played_at": "yesterday"}, 400, "bad_request"},
		{"future", fiber.Map{"opponent_id": "bob", "score": "6-4 6-4", "format": "three_sets", "played_at": "2025-03-04T10:00:00Z"}, 400, "future_match"},
		{"stranger", fiber.Map{"opponent_id": "mallory", "score": "6-4 6-4", "format": "three_sets"}, 400, "not_club_mates"},
		{"foreign club", fiber.Map{"opponent_id": "bob", "club_id": "club-9", "score": "6-4 6-4", "format": "three_sets"}, 403, "not_club_member"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, "POST", "/matches", "alice", tt.body)
			if status != tt.status || body["code"] != tt.code {
				t.Errorf("got %d %v, want %d %s", status, body, tt.status, tt.code)
			}
		})
	}
}

func TestMatchWorkflow(t *testing.T) {
	s := newTestServer(t)
	id := s.reportMatch(t)

	status, body := s.do(t, "GET", "/matches/"+id+"/validation", "bob", nil)
	if status != 200 || body["awaiting_player_id"] != "bob" || body["hours_remaining"] != float64(24) {
		t.Errorf("validation view: %d %v", status, body)
	}

	status, body = s.do(t, "POST", "/matches/"+id+"/confirm", "alice", nil)
	if status != 403 || body["code"] != "reporter_cannot_confirm" {
		t.Errorf("reporter confirm: %d %v", status, body)
	}

	status, body = s.do(t, "POST", "/matches/"+id+"/confirm", "bob", nil)
	if status != 200 || body["outcome"] != "applied" {
		t.Fatalf("confirm: %d %v", status, body)
	}

	status, body = s.do(t, "POST", "/matches/"+id+"/confirm", "bob", nil)
	if status != 200 || body["outcome"] != "already_finalized" || body["message"] == nil {
		t.Errorf("second confirm: %d %v", status, body)
	}

	status, body = s.do(t, "GET", "/players/alice/rating", "bob", nil)
	if status != 200 || body["current_rating"] != float64(1218) {
		t.Errorf("rating: %d %v", status, body)
	}

	status, body = s.do(t, "GET", "/players/bob/rating/history?page=1&size=10", "bob", nil)
	if status != 200 || body["total"] != float64(1) {
		t.Errorf("history: %d %v", status, body)
	}

	status, body = s.do(t, "GET", "/clubs/club-1/ladder", "bob", nil)
	ladder, _ := body["ladder"].([]interface{})
	if status != 200 || len(ladder) != 2 {
		t.Fatalf("ladder: %d %v", status, body)
	}
	if first, _ := ladder[0].(map[string]interface{}); first["player_id"] != "alice" || first["position"] != float64(1) {
		t.Errorf("ladder leader: %v", first)
	}

	if status, body := s.do(t, "GET", "/matches/"+uuid.NewString(), "bob", nil); status != 404 || body["code"] != "match_not_found" {
		t.Errorf("unknown match: %d %v", status, body)
	}
	if status, _ := s.do(t, "GET", "/players/nobody/rating", "bob", nil); status != 404 {
		t.Errorf("unknown player: %d", status)
	}
}

func TestContestAndResolve(t *testing.T) {
	s := newTestServer(t)
	id := s.reportMatch(t)

	status, body := s.do(t, "POST", "/matches/"+id+"/contest", "alice", fiber.Map{"reason": "oops"})
	if status != 403 || body["code"] != "reporter_cannot_contest" {
		t.Errorf("reporter contest: %d %v", status, body)
	}

	status, body = s.do(t, "POST", "/matches/"+id+"/contest", "bob", nil)
	if status != 200 || body["outcome"] != "applied" {
		t.Fatalf("contest: %d %v", status, body)
	}

	status, body = s.do(t, "POST", "/admin/matches/"+id+"/resolve", "bob", fiber.Map{"decision": "reinstate"})
	if status != 403 || body["code"] != "not_admin" {
		t.Errorf("non-admin resolve: %d %v", status, body)
	}

	status, body = s.do(t, "GET", "/admin/matches/contested?club_id=club-1", "root", nil)
	if matches, _ := body["matches"].([]interface{}); status != 200 || len(matches) != 1 {
		t.Errorf("contested list: %d %v", status, body)
	}

	status, body = s.do(t, "POST", "/admin/matches/"+id+"/resolve", "root", fiber.Map{"decision": "maybe"})
	if status != 400 || body["code"] != "invalid_decision" {
		t.Errorf("bad decision: %d %v", status, body)
	}

	status, body = s.do(t, "POST", "/admin/matches/"+id+"/resolve", "root", fiber.Map{"decision": "reinstate"})
	if status != 200 || body["outcome"] != "applied" {
		t.Fatalf("resolve: %d %v", status, body)
	}
	match, _ := body["match"].(map[string]interface{})
	if match["status"] != "resolved" || match["resolution"] != "reinstated" {
		t.Errorf("resolved match: %v", match)
	}

	status, body = s.do(t, "POST", "/admin/matches/"+id+"/resolve", "root", fiber.Map{"decision": "keep_reverted"})
	if status != 200 || body["outcome"] != "already_resolved" {
		t.Errorf("second resolve: %d %v", status, body)
	}
}

func TestAdminAdjustAndSweeps(t *testing.T) {
	s := newTestServer(t)
	s.reportMatch(t)

	status, body := s.do(t, "POST", "/admin/ratings/bob/adjust", "root", fiber.Map{"delta": 0})
	if status != 400 || body["code"] != "invalid_adjustment" {
		t.Errorf("zero adjust: %d %v", status, body)
	}
	status, body = s.do(t, "POST", "/admin/ratings/bob/adjust", "root", fiber.Map{"delta": 25, "note": "league bonus"})
	if status != 200 || body["rating_after"] != float64(1225) || body["reason"] != "admin_adjustment" {
		t.Errorf("adjust: %d %v", status, body)
	}
	if status, _ := s.do(t, "POST", "/admin/ratings/bob/adjust", "alice", fiber.Map{"delta": 25}); status != 403 {
		t.Errorf("non-admin adjust: %d", status)
	}

	status, body = s.do(t, "POST", "/admin/sweeps/reminders", "root", nil)
	if status != 200 || body["kind"] != "reminders" || body["processed"] != float64(0) {
		t.Errorf("reminder sweep: %d %v", status, body)
	}
	status, body = s.do(t, "POST", "/admin/sweeps/compaction", "root", nil)
	if status != 400 || body["code"] != "unknown_sweep" {
		t.Errorf("unknown sweep: %d %v", status, body)
	}
}

func TestGatewayAdminRole(t *testing.T) {
	s := newTestServer(t)
	id := s.reportMatch(t)
	if status, body := s.do(t, "POST", "/matches/"+id+"/contest", "bob", nil); status != 200 {
		t.Fatalf("contest: %d %v", status, body)
	}

	status, body := s.doAs(t, "GET", "/admin/matches/contested", "ops", "member", nil)
	if status != 403 || body["code"] != "not_admin" {
		t.Errorf("member role: %d %v", status, body)
	}

	status, body = s.doAs(t, "POST", "/admin/matches/"+id+"/resolve", "ops", "member, Admin", fiber.Map{"decision": "keep_reverted"})
	if status != 200 || body["outcome"] != "applied" {
		t.Fatalf("asserted admin resolve: %d %v", status, body)
	}
	match, _ := body["match"].(map[string]interface{})
	if match["resolved_by"] != "ops" || match["resolution"] != "kept_reverted" {
		t.Errorf("resolved match: %v", match)
	}
}
