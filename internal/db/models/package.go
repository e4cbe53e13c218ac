package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Package is a named, owned series of versions.
type Package struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	OwnerID      uuid.UUID  `db:"owner_id" json:"owner_id"`
	OwnerName    string     `db:"owner_name" json:"owner"`
	Name         string     `db:"name" json:"name"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	RatingScore  int        `db:"rating_score" json:"rating_score"`
	IsPinned     bool       `db:"is_pinned" json:"is_pinned"`
	IsDeprecated bool       `db:"is_deprecated" json:"is_deprecated"`
	LatestID     *uuid.UUID `db:"latest_id" json:"latest_id"`
	DateCreated  time.Time  `db:"date_created" json:"date_created"`
	DateUpdated  time.Time  `db:"date_updated" json:"date_updated"`
}

// FullName returns "Owner-name".
func (p *Package) FullName() string {
	return FullPackageName(p.OwnerName, p.Name)
}

// PackageVersion is one immutable release of a package.
type PackageVersion struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PackageID     uuid.UUID `db:"package_id" json:"package_id"`
	Name          string    `db:"name" json:"name"`
	VersionNumber string    `db:"version_number" json:"version_number"`
	Description   string    `db:"description" json:"description"`
	Icon          string    `db:"icon" json:"icon"`
	WebsiteURL    string    `db:"website_url" json:"website_url"`
	Readme        string    `db:"readme" json:"-"`
	FileKey       string    `db:"file_key" json:"-"`
	FileSize      int64     `db:"file_size" json:"file_size"`
	Downloads     int64     `db:"downloads" json:"downloads"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	DateCreated   time.Time `db:"date_created" json:"date_created"`

	// Dependencies holds dependency full version names in declaration order.
	// Populated by reads that join package_version_dependencies.
	Dependencies []string `db:"-" json:"dependencies"`
}

// PackageListing ties a package to a community.
type PackageListing struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PackageID      uuid.UUID `db:"package_id" json:"package_id"`
	CommunityID    uuid.UUID `db:"community_id" json:"community_id"`
	HasNSFWContent bool      `db:"has_nsfw_content" json:"has_nsfw_content"`
	DateCreated    time.Time `db:"date_created" json:"date_created"`
	DateUpdated    time.Time `db:"date_updated" json:"date_updated"`
}

// FullPackageName joins an owner and a package name: "Owner-name".
func FullPackageName(owner, name string) string {
	return owner + "-" + name
}

// FullVersionName joins owner, name and version: "Owner-name-1.0.0".
func FullVersionName(owner, name, version string) string {
	return owner + "-" + name + "-" + version
}

// VersionRef identifies a package version by its full name parts.
type VersionRef struct {
	Owner   string
	Name    string
	Version string
}

func (r VersionRef) String() string {
	return FullVersionName(r.Owner, r.Name, r.Version)
}

// ParseVersionRef splits "Owner-name-1.0.0". Package names never contain a
// dash, so the last two dashes delimit name and version; the owner may
// contain dashes.
func ParseVersionRef(s string) (VersionRef, error) {
	last := strings.LastIndex(s, "-")
	if last <= 0 || last == len(s)-1 {
		return VersionRef{}, fmt.Errorf("invalid dependency string %q", s)
	}
	rest, version := s[:last], s[last+1:]
	mid := strings.LastIndex(rest, "-")
	if mid <= 0 || mid == len(rest)-1 {
		return VersionRef{}, fmt.Errorf("invalid dependency string %q", s)
	}
	return VersionRef{Owner: rest[:mid], Name: rest[mid+1:], Version: version}, nil
}
