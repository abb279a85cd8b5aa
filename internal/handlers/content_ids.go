package handlers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/01moynul/edu-content-api/internal/router"
)

const (
	maxIDAttempts       = 10
	contentIDCountQuery = `SELECT COUNT(*) FROM contenidos WHERE id_contenido = $1`
)

var typeAbbreviations = map[string]string{
	"Debate":   "deb",
	"Analisis": "ana",
	"Análisis": "ana",
	"Estudio":  "est",
}

// contentIDBase builds "{faculty}_{type}_{titlehash}_{timestamp}".
// Example: "fcom_deb_1a2b3c4d_512345"
func contentIDBase(facultyID, contentType, title string, unixSeconds int64) string {
	abbr, ok := typeAbbreviations[contentType]
	if !ok {
		abbr = "con"
	}

	sum := md5.Sum([]byte(title))
	titleHash := hex.EncodeToString(sum[:])[:8]

	return strings.Join([]string{
		strings.ToLower(facultyID),
		abbr,
		titleHash,
		lastDigits(unixSeconds, 6),
	}, "_")
}

// fallbackContentID is used once every timestamped candidate has collided.
func fallbackContentID(facultyID, contentType string) string {
	prefix := []rune(strings.ToLower(contentType))
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return strings.ToLower(facultyID) + "_" + string(prefix) + "_" + random
}

func lastDigits(n int64, count int) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= count {
		return s
	}
	return s[len(s)-count:]
}

// uniqueContentID returns an ID not yet present in 'contenidos'.
func (h *Handlers) uniqueContentID(ctx context.Context, facultyID, contentType, title string) string {
	base := contentIDBase(facultyID, contentType, title, h.Now().Unix())

	id := base
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if h.isUniqueContentID(ctx, id) {
			return id
		}
		id = base + "_" + lastDigits(h.Now().Unix(), 4)
	}

	id = fallbackContentID(facultyID, contentType)
	h.Logger.Info("generated fallback content ID", "id_contenido", id, "base", base)
	return id
}

// isUniqueContentID checks the primary, since a lagging replica could miss
// a row that was just written. Lookup failures count as unique and the
// insert itself will reject a real duplicate.
func (h *Handlers) isUniqueContentID(ctx context.Context, id string) bool {
	var count int
	err := h.Router.DoPrimary(ctx, func(ctx context.Context, conn router.Conn) error {
		return conn.GetContext(ctx, &count, contentIDCountQuery, id)
	})
	if err != nil {
		h.Logger.Error(err, "checking content ID uniqueness", "id_contenido", id)
		return true
	}
	return count == 0
}
