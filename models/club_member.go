package models

import "time"

const (
	ClubRoleMember = "member"
	ClubRoleAdmin  = "admin"
)

// ClubMember is a local snapshot of a club membership.
// Owned by the membership service, mirrored here by the sync worker.
type ClubMember struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ClubID      string    `gorm:"uniqueIndex:idx_club_member,priority:1;not null" json:"club_id"`
	PlayerID    string    `gorm:"uniqueIndex:idx_club_member,priority:2;index;not null" json:"player_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `gorm:"type:varchar(16);not null;default:'member'" json:"role"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at"`
}
