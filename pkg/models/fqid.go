package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openslides/vmrepo/pkg/constants"
)

// KeySeparator separates collection, id and field in fqids and fqfields.
const KeySeparator = "/"

// ID identifies a record within its collection.
type ID int

// FQID is a fully qualified record identifier, a pair of collection name and id.
type FQID struct {
	Collection string
	ID         ID
}

func NewFQID(collection string, id ID) FQID {
	return FQID{Collection: collection, ID: id}
}

// ParseFQID parses the "collection/id" form.
func ParseFQID(s string) (FQID, error) {
	collection, idStr, ok := strings.Cut(s, KeySeparator)
	if !ok || collection == "" || strings.Contains(idStr, KeySeparator) {
		return FQID{}, fmt.Errorf("%w: %q, expected format is 'collection/id'", constants.ErrInvalidFQID, s)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		return FQID{}, fmt.Errorf("%w: %q, id must be a positive integer", constants.ErrInvalidFQID, s)
	}
	return FQID{Collection: collection, ID: ID(id)}, nil
}

func (f FQID) String() string {
	return f.Collection + KeySeparator + strconv.Itoa(int(f.ID))
}

// FQField addresses a single field of a record, "collection/id/field".
type FQField struct {
	FQID
	Field string
}

// ParseFQField parses the "collection/id/field" form used by autoupdate patches.
func ParseFQField(s string) (FQField, error) {
	idx := strings.LastIndex(s, KeySeparator)
	if idx <= 0 || idx == len(s)-1 {
		return FQField{}, fmt.Errorf("%w: %q, expected format is 'collection/id/field'", constants.ErrInvalidFQField, s)
	}
	fqid, err := ParseFQID(s[:idx])
	if err != nil {
		return FQField{}, fmt.Errorf("%w: %q: %v", constants.ErrInvalidFQField, s, err)
	}
	return FQField{FQID: fqid, Field: s[idx+1:]}, nil
}

func (f FQField) String() string {
	return f.FQID.String() + KeySeparator + f.Field
}
