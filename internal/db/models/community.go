package models

import (
	"time"

	"github.com/google/uuid"
)

// Community is a game or ecosystem that packages are listed under.
type Community struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Identifier string    `db:"identifier" json:"identifier"`
	Name       string    `db:"name" json:"name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// CommunitySite maps a public domain to a community.
type CommunitySite struct {
	ID          uuid.UUID `db:"id" json:"id"`
	CommunityID uuid.UUID `db:"community_id" json:"community_id"`
	Domain      string    `db:"domain" json:"domain"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PackageCategory is a community-scoped tag.
type PackageCategory struct {
	ID          uuid.UUID `db:"id" json:"id"`
	CommunityID uuid.UUID `db:"community_id" json:"community_id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
}
