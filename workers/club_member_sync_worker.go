// workers/club_member_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"club-ladder/models"
	"club-ladder/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteMembership matches one entry of the membership service response.
type RemoteMembership struct {
	ClubID      string    `json:"club_id"`
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Status      string    `json:"status"` // active | suspended | left
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetMembershipChangesResponse is the top-level structure of the membership service response.
type GetMembershipChangesResponse struct {
	Memberships []RemoteMembership `json:"memberships"`
}

// ClubMemberSyncWorker mirrors club memberships into club_members and keeps
// player_ratings.is_active in step, so decay only touches current members.
type ClubMemberSyncWorker struct {
	db           *gorm.DB
	clock        clockwork.Clock
	interval     time.Duration
	baseURL      string // e.g. "http://membership:8500"
	endpointPath string // e.g. "/api/v1/public/memberships"
	serviceToken string
	httpClient   *http.Client
}

func NewClubMemberSyncWorker(db *gorm.DB, clock clockwork.Clock, baseURL, serviceToken string) *ClubMemberSyncWorker {
	return &ClubMemberSyncWorker{
		db:           db,
		clock:        clock,
		interval:     1 * time.Minute,
		baseURL:      baseURL,
		endpointPath: "/api/v1/public/memberships",
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *ClubMemberSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Club Member Sync Worker (membership-service → club_members)…")
	go w.run(ctx)
}

func (w *ClubMemberSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		log.Printf("[SYNC] ⚠️ Initial membership sync failed: %v", err)
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, err := w.SyncOnce(ctx); err != nil {
				log.Printf("[SYNC] ❌ Membership sync failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Club Member Sync Worker stopped")
			return
		}
	}
}

// lastSyncTime is the newest updated_at already mirrored, or the zero time.
func (w *ClubMemberSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var latest models.ClubMember
	err := w.db.WithContext(ctx).Order("updated_at DESC").Limit(1).Find(&latest).Error
	if err != nil || latest.ID == "" {
		return time.Unix(0, 0).UTC()
	}
	return latest.UpdatedAt
}

// SyncOnce pulls the changes since the last mirrored update and returns how
// many memberships were upserted.
func (w *ClubMemberSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since := w.lastSyncTime(ctx).UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid membership service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request to membership service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("[SYNC] ❌ Membership service returned %d for %s: %s", resp.StatusCode, finalURL, string(body))
		return 0, fmt.Errorf("membership service non-200 response: %d", resp.StatusCode)
	}

	var response GetMembershipChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode membership service response: %w", err)
	}
	if len(response.Memberships) == 0 {
		return 0, nil
	}

	touched := map[string]bool{}
	var upserted, failed int
	for _, rm := range response.Memberships {
		if rm.ClubID == "" || rm.PlayerID == "" {
			failed++
			continue
		}
		role := rm.Role
		if role != models.ClubRoleAdmin {
			role = models.ClubRoleMember
		}
		updatedAt := rm.UpdatedAt.UTC()
		if updatedAt.IsZero() {
			updatedAt = w.clock.Now().UTC()
		}
		member := models.ClubMember{
			ID:          uuid.NewString(),
			ClubID:      rm.ClubID,
			PlayerID:    rm.PlayerID,
			DisplayName: rm.DisplayName,
			Role:        role,
			IsActive:    rm.Status == "" || rm.Status == "active",
			UpdatedAt:   updatedAt,
		}

		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "club_id"}, {Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "role", "is_active", "updated_at"}),
		}).Create(&member).Error
		if err != nil {
			failed++
			log.Printf("[SYNC] ⚠️ Failed to upsert club_member (club=%s, player=%s): %v", rm.ClubID, rm.PlayerID, err)
			continue
		}
		upserted++
		touched[rm.PlayerID] = true
	}

	for playerID := range touched {
		if err := w.refreshActivity(ctx, playerID); err != nil {
			log.Printf("[SYNC] ⚠️ Failed to refresh activity of %s: %v", playerID, err)
		}
	}

	log.Printf("[SYNC] ✅ Synced %d membership(s) (%d upserted, %d errors)", len(response.Memberships), upserted, failed)
	return upserted, nil
}

// refreshActivity sets is_active when the player belongs to at least one club.
func (w *ClubMemberSyncWorker) refreshActivity(ctx context.Context, playerID string) error {
	var active int64
	err := w.db.WithContext(ctx).Model(&models.ClubMember{}).
		Where("player_id = ? AND is_active = ?", playerID, true).
		Count(&active).Error
	if err != nil {
		return err
	}
	return w.db.WithContext(ctx).Model(&models.PlayerRating{}).
		Where("player_id = ?", playerID).
		Update("is_active", active > 0).Error
}
