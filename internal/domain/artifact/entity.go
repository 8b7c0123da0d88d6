package artifact

import "time"

// StoredArtifact is one accepted upload. Its blobs live under
// <category>/<id>/ and nothing in the path comes from user input.
type StoredArtifact struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	Category     Category  `gorm:"column:category;index" json:"category"`
	OwnerID      int64     `gorm:"column:owner_id;index" json:"owner_id"`
	OriginalName string    `gorm:"column:original_name" json:"original_name"`
	ContentType  string    `gorm:"column:content_type" json:"content_type"`
	Size         int64     `gorm:"column:size" json:"size"`
	Checksum     string    `gorm:"column:checksum" json:"checksum"`
	Width        int       `gorm:"column:width" json:"width,omitempty"`
	Height       int       `gorm:"column:height" json:"height,omitempty"`
	StoragePath  string    `gorm:"column:storage_path" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;index" json:"created_at"`
	Variants     []Variant `gorm:"foreignKey:ArtifactID;constraint:OnDelete:CASCADE" json:"variants,omitempty"`
}

func (StoredArtifact) TableName() string { return "artifacts" }

// VariantIDs returns the identifiers of the derived variants.
func (a *StoredArtifact) VariantIDs() []string {
	ids := make([]string, 0, len(a.Variants))
	for _, v := range a.Variants {
		ids = append(ids, v.ID)
	}
	return ids
}

// Variant returns the named variant.
func (a *StoredArtifact) Variant(name string) (*Variant, bool) {
	for i := range a.Variants {
		if a.Variants[i].Name == name {
			return &a.Variants[i], true
		}
	}
	return nil, false
}

// Paths returns every blob key owned by the artifact, variants first.
func (a *StoredArtifact) Paths() []string {
	paths := make([]string, 0, len(a.Variants)+1)
	for _, v := range a.Variants {
		paths = append(paths, v.StoragePath)
	}
	return append(paths, a.StoragePath)
}

// Variant is a derived rendition of an image artifact. It never exists without its parent.
type Variant struct {
	ID          string `gorm:"column:id;primaryKey" json:"id"`
	ArtifactID  string `gorm:"column:artifact_id;index" json:"artifact_id"`
	Name        string `gorm:"column:name" json:"name"`
	Width       int    `gorm:"column:width" json:"width"`
	Height      int    `gorm:"column:height" json:"height"`
	MaxWidth    int    `gorm:"column:max_width" json:"max_width"`
	MaxHeight   int    `gorm:"column:max_height" json:"max_height"`
	Size        int64  `gorm:"column:size" json:"size"`
	StoragePath string `gorm:"column:storage_path" json:"-"`
}

func (Variant) TableName() string { return "artifact_variants" }

// Reference records that a domain record (a meal, a progress entry, a profile)
// points at an artifact. Artifacts with no references are swept after the retention window.
type Reference struct {
	ArtifactID string    `gorm:"column:artifact_id;primaryKey" json:"artifact_id"`
	RefType    string    `gorm:"column:ref_type;primaryKey" json:"ref_type"`
	RefID      string    `gorm:"column:ref_id;primaryKey" json:"ref_id"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`

	Artifact *StoredArtifact `gorm:"foreignKey:ArtifactID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Reference) TableName() string { return "artifact_references" }
