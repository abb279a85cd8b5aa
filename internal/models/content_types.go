package models

// Content is a row of 'contenidos' joined with its faculty and topic names.
type Content struct {
	ID               string   `json:"id_contenido" db:"id_contenido"`
	TopicID          string   `json:"id_tema" db:"id_tema"`
	FacultyID        string   `json:"id_facultad" db:"id_facultad"`
	Type             string   `json:"tipo" db:"tipo"`
	Title            string   `json:"titulo" db:"titulo"`
	Summary          string   `json:"resumen" db:"resumen"`
	DominantEmotion  *string  `json:"emocion_dominante" db:"emocion_dominante"`
	EmotionIntensity *float64 `json:"emocion_intensidad" db:"emocion_intensidad"`
	SourceType       *string  `json:"tipo_fuente" db:"tipo_fuente"`
	SourceOrigin     *string  `json:"origen_fuente" db:"origen_fuente"`
	ViewURL          *string  `json:"url_ver" db:"url_ver"`
	DownloadURL      *string  `json:"url_descargar" db:"url_descargar"`
	FacultyName      string   `json:"facultad_nombre" db:"facultad_nombre"`
	FacultyColorHex  *string  `json:"color_hex" db:"color_hex"`
	TopicName        string   `json:"tema_nombre" db:"tema_nombre"`
}

// ContentSummary is the reduced row returned by the search endpoint.
type ContentSummary struct {
	ID              string  `json:"id_contenido" db:"id_contenido"`
	TopicID         string  `json:"id_tema" db:"id_tema"`
	FacultyID       string  `json:"id_facultad" db:"id_facultad"`
	Type            string  `json:"tipo" db:"tipo"`
	Title           string  `json:"titulo" db:"titulo"`
	Summary         string  `json:"resumen" db:"resumen"`
	FacultyName     string  `json:"facultad_nombre" db:"facultad_nombre"`
	FacultyColorHex *string `json:"color_hex" db:"color_hex"`
	TopicName       string  `json:"tema_nombre" db:"tema_nombre"`
}

// ContentDetail is a content with its topic description and related lists.
type ContentDetail struct {
	Content
	TopicDescription *string `json:"tema_descripcion" db:"tema_descripcion"`

	// Filled from the child tables, not from the main row
	Tags         []string `json:"tags" db:"-"`
	KeyConcepts  []string `json:"key_concepts" db:"-"`
	MainActors   []string `json:"main_actors" db:"-"`
	CaseStudies  []string `json:"case_studies" db:"-"`
	FutureTrends []string `json:"future_trends" db:"-"`
}

// --- API Input Structs ---

type CreateContentInput struct {
	TopicID          string   `json:"id_tema" binding:"required"`
	FacultyID        string   `json:"id_facultad" binding:"required"`
	Type             string   `json:"tipo" binding:"required"`
	Title            string   `json:"titulo" binding:"required"`
	Summary          string   `json:"resumen" binding:"required"`
	DominantEmotion  *string  `json:"emocion_dominante"`
	EmotionIntensity *float64 `json:"emocion_intensidad"`
	SourceType       *string  `json:"tipo_fuente"`
	SourceOrigin     *string  `json:"origen_fuente"`
	ViewURL          *string  `json:"url_ver"`
	DownloadURL      *string  `json:"url_descargar"`
	Tags             []string `json:"tags"`
}
