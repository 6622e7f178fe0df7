package activity

import "fmt"

// Category names the kind of operation a registry tracks.
type Category string

const (
	CategoryDownload Category = "download"
	CategorySign     Category = "sign"
	CategoryModify   Category = "modify"
	CategoryInstall  Category = "install"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryDownload, CategorySign, CategoryModify, CategoryInstall}

// ParseCategory maps a name to a Category.
func ParseCategory(name string) (Category, error) {
	for _, c := range Categories {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// ActiveStatus is the in-progress status an operation of this category moves
// to once it has actually started.
func (c Category) ActiveStatus() Status {
	switch c {
	case CategorySign:
		return Signing
	case CategoryModify:
		return Modifying
	case CategoryInstall:
		return Installing
	default:
		return Downloading
	}
}

// Record is one tracked in-flight operation. Values handed out by a Registry
// are copies; changing them has no effect on the registry.
type Record struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	SecondaryID string  `json:"secondary_id"`
	IconRef     string  `json:"icon_ref,omitempty"`
	Progress    float64 `json:"progress"`
	Status      Status  `json:"status"`
}
