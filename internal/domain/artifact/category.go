package artifact

// Category is the fixed set of upload kinds. It decides the storage namespace,
// the validation policy and whether variants are derived.
type Category string

const (
	CategoryProfilePhoto  Category = "profile-photo"
	CategoryProgressPhoto Category = "progress-photo"
	CategoryMealPhoto     Category = "meal-photo"
	CategoryDocument      Category = "document"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryProfilePhoto,
	CategoryProgressPhoto,
	CategoryMealPhoto,
	CategoryDocument,
}

// ParseCategory returns the Category for s, or ErrUnknownCategory.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", ErrUnknownCategory
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsImage reports whether uploads in c are raster images that get variants.
func (c Category) IsImage() bool {
	return c == CategoryProfilePhoto || c == CategoryProgressPhoto || c == CategoryMealPhoto
}

func (c Category) String() string { return string(c) }
