// Package cloud is the shared document store that devices sync through.
//
// Documents live at slash separated paths such as "users/{uid}/recipes/{id}".
// The parent of a document path is its collection. Writes can merge into an
// existing document field by field, so concurrent writers to different fields
// both survive and writers to the same field resolve last-write-wins.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrConflict      = errors.New("document changed concurrently")
)

// Fields holds the JSON encoded top-level fields of a document.
type Fields map[string]json.RawMessage

// Encode converts a JSON-serializable struct into document fields.
func Encode(v any) (Fields, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return f, nil
}

// Decode fills v from the document fields.
func (f Fields) Decode(v any) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

// IsNull reports whether a field is missing or JSON null.
func (f Fields) IsNull(name string) bool {
	raw, ok := f[name]
	return !ok || string(raw) == "null"
}

// Document is a stored document and its id within its collection.
type Document struct {
	ID     string
	Fields Fields
}

type setOptions struct {
	merge bool
}

type SetOption func(*setOptions)

// Merge writes only the given fields and keeps the others.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// UpdateFunc receives the current fields of a document and returns the
// fields to merge into it. Returning an error aborts the update.
type UpdateFunc func(current Fields) (Fields, error)

// Store is a document store with collection listing and conditional updates.
type Store interface {
	Get(ctx context.Context, path string) (Fields, error)
	Set(ctx context.Context, path string, fields Fields, opts ...SetOption) error
	// Create writes a new document and fails with ErrAlreadyExists if one
	// is already stored at path.
	Create(ctx context.Context, path string, fields Fields) error
	// Update applies fn atomically. It fails with ErrNotFound for a missing
	// document and ErrConflict when concurrent writers keep winning.
	Update(ctx context.Context, path string, fn UpdateFunc) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, collection string) ([]Document, error)
	Ping(ctx context.Context) error
}

// Doc joins a collection path and a document id.
func Doc(collection, id string) string {
	return collection + "/" + id
}

// Split returns the collection and id of a document path.
func Split(path string) (collection, id string, err error) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	return path[:i], path[i+1:], nil
}

const (
	Families      = "families"
	FamilyInvites = "familyInvites"
)

func UserRecipes(uid string) string     { return "users/" + uid + "/recipes" }
func UserWeeklyPlans(uid string) string { return "users/" + uid + "/weeklyPlans" }
func UserFamilies(uid string) string    { return "users/" + uid + "/families" }

func FamilyDoc(familyID int64) string {
	return Doc(Families, strconv.FormatInt(familyID, 10))
}

func FamilyMembers(familyID int64) string     { return FamilyDoc(familyID) + "/members" }
func FamilyWeeklyPlans(familyID int64) string { return FamilyDoc(familyID) + "/weeklyPlans" }
