package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/01moynul/storefront-ledger/internal/apperr"
)

const maxProofBytes = 5 << 20

var proofExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".pdf": true}

// UploadProof handles POST /v1/uploads/proof. It stores a payment
// screenshot and returns the URL to send as screenshot_url.
func (h *Handlers) UploadProof(c *gin.Context) {
	// 1. Get the file from the request
	file, err := c.FormFile("file")
	if err != nil {
		h.respondError(c, apperr.Validation("No file uploaded"))
		return
	}
	if file.Size > maxProofBytes {
		h.respondError(c, apperr.Validation("File is larger than 5 MB"))
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !proofExtensions[ext] {
		h.respondError(c, apperr.Validation("Only png, jpg, webp or pdf files are accepted"))
		return
	}

	// 2. Create the upload directory if it doesn't exist
	if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
		h.respondError(c, err)
		return
	}

	// 3. Save under a random name so uploads never collide or overwrite
	name := uuid.NewString() + ext
	if err := c.SaveUploadedFile(file, filepath.Join(h.UploadDir, name)); err != nil {
		h.respondError(c, err)
		return
	}

	// 4. Return the public URL
	c.JSON(http.StatusCreated, gin.H{"url": strings.TrimRight(h.PublicBaseURL, "/") + "/uploads/" + name})
}
