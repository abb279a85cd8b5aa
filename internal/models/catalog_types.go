package models

// Faculty is the model for the 'facultades' table.
type Faculty struct {
	ID       string  `json:"id_facultad" db:"id_facultad"`
	Name     string  `json:"nombre" db:"nombre"`
	ColorHex *string `json:"color_hex" db:"color_hex"` // Pointer for NULL
}

// Topic is the model for the 'temas' table.
type Topic struct {
	ID          string  `json:"id_tema" db:"id_tema"`
	Name        string  `json:"nombre" db:"nombre"`
	Description *string `json:"descripcion" db:"descripcion"`
}
