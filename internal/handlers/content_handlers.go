package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/01moynul/edu-content-api/internal/models"
	"github.com/01moynul/edu-content-api/internal/router"
)

const contentColumns = `
	c.id_contenido, c.id_tema, c.id_facultad, c.tipo, c.titulo, c.resumen,
	c.emocion_dominante, c.emocion_intensidad, c.tipo_fuente, c.origen_fuente,
	c.url_ver, c.url_descargar,
	f.nombre AS facultad_nombre, f.color_hex,
	t.nombre AS tema_nombre`

const contentJoins = `
	FROM contenidos c
	JOIN facultades f ON c.id_facultad = f.id_facultad
	JOIN temas t ON c.id_tema = t.id_tema`

const (
	contentDetailQuery = `SELECT` + contentColumns + `, t.descripcion AS tema_descripcion` + contentJoins + `
	WHERE c.id_contenido = $1`

	searchContentsQuery = `
	SELECT
		c.id_contenido, c.id_tema, c.id_facultad, c.tipo, c.titulo, c.resumen,
		f.nombre AS facultad_nombre, f.color_hex,
		t.nombre AS tema_nombre` + contentJoins + `
	WHERE c.titulo ILIKE $1 OR c.resumen ILIKE $1 OR t.nombre ILIKE $1
	ORDER BY c.created_at DESC
	LIMIT 20`

	contentTagsQuery   = `SELECT tag FROM contenido_tags WHERE id_contenido = $1`
	keyConceptsQuery   = `SELECT concepto FROM tema_key_concepts WHERE id_tema = $1`
	mainActorsQuery    = `SELECT actor FROM tema_main_actors WHERE id_tema = $1`
	caseStudiesQuery   = `SELECT caso_estudio FROM tema_case_studies WHERE id_tema = $1`
	futureTrendsQuery  = `SELECT tendencia_futura FROM tema_future_trends WHERE id_tema = $1`
	contentExistsQuery = `SELECT 1 FROM contenidos WHERE id_contenido = $1`
	deleteContentQuery = `DELETE FROM contenidos WHERE id_contenido = $1`

	insertContentQuery = `
	INSERT INTO contenidos (
		id_contenido, id_tema, id_facultad, tipo, titulo, resumen,
		emocion_dominante, emocion_intensidad, tipo_fuente, origen_fuente,
		url_ver, url_descargar
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id_contenido`

	insertTagQuery = `INSERT INTO contenido_tags (id_contenido, tag) VALUES ($1, $2)`
)

// allFaculties is the filter value the frontend sends for "no filter".
const allFaculties = "Todos"

// buildListContentsQuery returns the listing query and its arguments.
func buildListContentsQuery(faculty, search string) (string, []any) {
	var b strings.Builder
	var args []any

	b.WriteString(`SELECT` + contentColumns + contentJoins + `
	WHERE 1=1`)

	if faculty != "" && faculty != allFaculties {
		args = append(args, faculty)
		fmt.Fprintf(&b, " AND c.id_facultad = $%d", len(args))
	}

	if search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		fmt.Fprintf(&b, " AND (c.titulo ILIKE $%d OR c.resumen ILIKE $%d OR t.nombre ILIKE $%d)", n, n, n)
	}

	b.WriteString(" ORDER BY c.created_at DESC")
	return b.String(), args
}

// GetContents handles GET /api/contenidos?facultad=&search= (replica).
func (h *Handlers) GetContents(c *gin.Context) {
	// 1. --- Build the filtered query ---
	// Both filters are optional; "Todos" means every faculty
	query, args := buildListContentsQuery(c.Query("facultad"), c.Query("search"))

	// 2. --- Run it on the replica ---
	contents := []models.Content{}
	err := h.Router.Do(c.Request.Context(), query, func(ctx context.Context, conn router.Conn) error {
		contents = contents[:0]
		return conn.SelectContext(ctx, &contents, query, args...)
	})
	if err != nil {
		h.respondDBError(c, "Failed to list contents", err)
		return
	}

	respondData(c, contents)
}

// GetContentDetail handles GET /api/contenidos/:id (replica).
// The content and its related lists are read in one scope, so a replica
// failure replays all of them on the primary.
func (h *Handlers) GetContentDetail(c *gin.Context) {
	id := c.Param("id")

	var detail models.ContentDetail
	found := false
	err := h.Router.Do(c.Request.Context(), contentDetailQuery, func(ctx context.Context, conn router.Conn) error {
		// 1. Main row
		detail = models.ContentDetail{}
		if err := conn.GetContext(ctx, &detail, contentDetailQuery, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				found = false
				return nil
			}
			return err
		}
		found = true

		// 2. Related lists
		lists := []struct {
			dest  *[]string
			query string
			arg   string
		}{
			{&detail.Tags, contentTagsQuery, id},
			{&detail.KeyConcepts, keyConceptsQuery, detail.TopicID},
			{&detail.MainActors, mainActorsQuery, detail.TopicID},
			{&detail.CaseStudies, caseStudiesQuery, detail.TopicID},
			{&detail.FutureTrends, futureTrendsQuery, detail.TopicID},
		}
		for _, l := range lists {
			*l.dest = []string{}
			if err := conn.SelectContext(ctx, l.dest, l.query, l.arg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.respondDBError(c, "Failed to load content", err)
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "Contenido no encontrado")
		return
	}

	respondData(c, detail)
}

// SearchContents handles GET /api/search?q= (replica).
func (h *Handlers) SearchContents(c *gin.Context) {
	// 1. --- Validate the search term ---
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		respondError(c, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	// 2. --- Search titles, summaries and topic names (max 20) ---
	results := []models.ContentSummary{}
	err := h.Router.Do(c.Request.Context(), searchContentsQuery, func(ctx context.Context, conn router.Conn) error {
		results = results[:0]
		return conn.SelectContext(ctx, &results, searchContentsQuery, "%"+q+"%")
	})
	if err != nil {
		h.respondDBError(c, "Failed to search contents", err)
		return
	}

	respondData(c, results)
}

// CreateContent handles POST /api/contenidos (primary).
func (h *Handlers) CreateContent(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input models.CreateContentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	log := h.Logger.WithValues("facultad", input.FacultyID, "tema", input.TopicID, "tipo", input.Type)
	log.Info("creating content", "titulo", input.Title, "tags", len(input.Tags))

	// 2. --- Generate a unique ID ---
	id := h.uniqueContentID(ctx, input.FacultyID, input.Type, input.Title)

	// 3. --- Insert content and tags in one transaction ---
	// The INSERT classifies as a write, so this scope always runs on the
	// primary and holds its connection until Commit or Rollback.
	tagsInserted := 0
	err := h.Router.Do(ctx, insertContentQuery, func(ctx context.Context, conn router.Conn) error {
		tx, err := conn.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() // Safety net

		var returned string
		err = tx.GetContext(ctx, &returned, insertContentQuery,
			id, input.TopicID, input.FacultyID, input.Type, input.Title, input.Summary,
			input.DominantEmotion, input.EmotionIntensity, input.SourceType, input.SourceOrigin,
			input.ViewURL, input.DownloadURL,
		)
		if err != nil {
			return err
		}

		for _, tag := range input.Tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, insertTagQuery, id, tag); err != nil {
				return err
			}
			tagsInserted++
		}

		return tx.Commit()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			log.Info("content rejected by foreign key", "constraint", pgErr.ConstraintName)
			respondError(c, http.StatusBadRequest,
				"Error de integridad: Hay un problema con las claves foráneas (facultad o tema no existe)")
			return
		}
		h.respondDBError(c, "Failed to create content", err)
		return
	}

	log.Info("content created", "id_contenido", id, "tags_inserted", tagsInserted)

	// 4. --- Send Success Response ---
	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"message":      "Contenido creado exitosamente",
		"id_contenido": id,
	})
}

// DeleteContent handles DELETE /api/contenidos/:id (primary).
// Tags go with it through ON DELETE CASCADE.
func (h *Handlers) DeleteContent(c *gin.Context) {
	id := c.Param("id")

	found := false
	err := h.Router.DoPrimary(c.Request.Context(), func(ctx context.Context, conn router.Conn) error {
		// 1. Check existence
		var one int
		if err := conn.GetContext(ctx, &one, contentExistsQuery, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		found = true

		// 2. Delete
		_, err := conn.ExecContext(ctx, deleteContentQuery, id)
		return err
	})
	if err != nil {
		h.respondDBError(c, "Failed to delete content", err)
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "No se encontró el contenido con ID: "+id)
		return
	}

	h.Logger.Info("content deleted", "id_contenido", id)
	c.Status(http.StatusNoContent)
}

const foreignKeyViolation = "23503"
