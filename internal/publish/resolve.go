package publish

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
)

const (
	MsgFieldRequired = "This field is required."
	MsgNotNull       = "This field may not be null."
	MsgNotAList      = "Not a list"
	MsgInvalidJSON   = "Invalid JSON"
)

var (
	errFieldRequired = errors.New(MsgFieldRequired)
	errNotNull       = errors.New(MsgNotNull)
	errNotAList      = errors.New(MsgNotAList)
)

// Metadata is the JSON document sent alongside the package file.
type Metadata struct {
	AuthorName string `json:"author_name"`
	// Categories is kept raw so a non-list value can be reported as such
	// instead of failing the whole document.
	Categories     json.RawMessage `json:"categories"`
	HasNSFWContent *bool           `json:"has_nsfw_content"`
}

// ParseMetadata decodes the upload's metadata part.
func ParseMetadata(raw []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &apperrors.ValidationError{Field: "metadata", Message: MsgInvalidJSON}
	}
	return &m, nil
}

// CategorySlugs returns the requested category slugs. The field is
// required; an empty list means no categories.
func (m *Metadata) CategorySlugs() ([]string, error) {
	raw := bytes.TrimSpace(m.Categories)
	if len(raw) == 0 {
		return nil, errFieldRequired
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, errNotNull
	}
	if raw[0] != '[' {
		return nil, errNotAList
	}
	var slugs []string
	if err := json.Unmarshal(raw, &slugs); err != nil {
		return nil, errNotAList
	}
	return slugs, nil
}

// NSFW returns the required has_nsfw_content flag. null counts as absent.
func (m *Metadata) NSFW() (bool, error) {
	if m.HasNSFWContent == nil {
		return false, errFieldRequired
	}
	return *m.HasNSFWContent, nil
}

// ResolveAuthor picks the identity named name out of candidates, the
// identities the uploader is a member of. Identities the uploader does not
// belong to are indistinguishable from ones that do not exist.
func ResolveAuthor(candidates []models.UploaderIdentity, name string) (*models.UploaderIdentity, error) {
	if name == "" {
		return nil, &apperrors.ValidationError{Field: "author_name", Message: MsgFieldRequired}
	}
	for i := range candidates {
		if candidates[i].Name == name {
			return &candidates[i], nil
		}
	}
	return nil, &apperrors.ValidationError{
		Field:   "author_name",
		Message: fmt.Sprintf("Object with name=%s does not exist.", name),
	}
}

// ResolveCategories matches every slug against the community's categories.
// It returns the matches in request order, without duplicates, and a
// slug -> message map for every miss.
func ResolveCategories(candidates []models.PackageCategory, slugs []string) ([]models.PackageCategory, map[string]string) {
	bySlug := make(map[string]models.PackageCategory, len(candidates))
	for _, c := range candidates {
		bySlug[c.Slug] = c
	}

	var (
		found  []models.PackageCategory
		misses map[string]string
		seen   = make(map[string]bool, len(slugs))
	)
	for _, slug := range slugs {
		if seen[slug] {
			continue
		}
		seen[slug] = true

		c, ok := bySlug[slug]
		if !ok {
			if misses == nil {
				misses = make(map[string]string)
			}
			misses[slug] = apperrors.MsgCategoryNotFound
			continue
		}
		found = append(found, c)
	}
	return found, misses
}
