package services

import (
	"context"

	"club-ladder/models"

	"gorm.io/gorm"
)

// MembershipDirectory scopes who may be reported as an opponent.
type MembershipDirectory interface {
	// SharedClub returns a club where both players are active members, or ""
	// when there is none. preferred wins when both belong to it.
	SharedClub(ctx context.Context, playerA, playerB, preferred string) (string, error)
	IsMember(ctx context.Context, clubID, playerID string) (bool, error)
}

// AdminAuthorizer gates the admin surface and the contested -> resolved
// transition. An empty clubID asks whether the player administers any club.
type AdminAuthorizer interface {
	IsAdmin(ctx context.Context, playerID, clubID string) (bool, error)
}

type assertedAdminKey struct{}

// WithAssertedAdmin marks ctx as coming from a caller whose admin role was
// asserted by the identity layer (gateway header or signed token). Such a
// caller counts like an ADMIN_PLAYER_IDS entry.
func WithAssertedAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, assertedAdminKey{}, true)
}

func isAssertedAdmin(ctx context.Context) bool {
	ok, _ := ctx.Value(assertedAdminKey{}).(bool)
	return ok
}

// ClubDirectory answers membership and admin questions from the mirrored
// club_members table kept fresh by the membership sync worker.
type ClubDirectory struct {
	DB           *gorm.DB
	staticAdmins map[string]bool
}

func NewClubDirectory(db *gorm.DB, adminIDs []string) *ClubDirectory {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &ClubDirectory{DB: db, staticAdmins: admins}
}

func (d *ClubDirectory) SharedClub(ctx context.Context, playerA, playerB, preferred string) (string, error) {
	var clubs []string
	err := d.DB.WithContext(ctx).
		Model(&models.ClubMember{}).
		Where("player_id IN ? AND is_active = ?", []string{playerA, playerB}, true).
		Group("club_id").
		Having("COUNT(DISTINCT player_id) = 2").
		Order("club_id").
		Pluck("club_id", &clubs).Error
	if err != nil {
		return "", err
	}
	if len(clubs) == 0 {
		return "", nil
	}
	for _, c := range clubs {
		if c == preferred {
			return c, nil
		}
	}
	return clubs[0], nil
}

// IsAdmin accepts the configured ADMIN_PLAYER_IDS and asserted admins
// everywhere. Club admins only count for their own club.
func (d *ClubDirectory) IsAdmin(ctx context.Context, playerID, clubID string) (bool, error) {
	if playerID == "" {
		return false, nil
	}
	if d.staticAdmins[playerID] || isAssertedAdmin(ctx) {
		return true, nil
	}
	q := d.DB.WithContext(ctx).
		Model(&models.ClubMember{}).
		Where("player_id = ? AND role = ? AND is_active = ?", playerID, models.ClubRoleAdmin, true)
	if clubID != "" {
		q = q.Where("club_id = ?", clubID)
	}
	var count int64
	err := q.Count(&count).Error
	return count > 0, err
}

// IsMember reports whether the player is an active member of the club.
func (d *ClubDirectory) IsMember(ctx context.Context, clubID, playerID string) (bool, error) {
	var count int64
	err := d.DB.WithContext(ctx).
		Model(&models.ClubMember{}).
		Where("club_id = ? AND player_id = ? AND is_active = ?", clubID, playerID, true).
		Count(&count).Error
	return count > 0, err
}
