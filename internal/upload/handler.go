package upload

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/mediavault/service/internal/response"
	"github.com/mediavault/service/internal/storage"
)

// Handler holds HTTP handlers for the upload endpoint.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new upload Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Upload godoc
//
//	@Summary		Upload a file
//	@Description	Streams a multipart file to disk under a unique name. When compression_level is given for an image (.jpg, .jpeg, .png) or video (.mp4, .avi, .mkv), a compressed copy is produced in the background.
//	@Tags			uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			key					query		string	true	"Shared API key"
//	@Param			compression_level	query		int		false	"Compression level (1-100)"
//	@Param			path				query		string	false	"Subdirectory under the upload root"
//	@Param			file				formData	file	true	"File to upload"
//	@Success		200					{object}	Result
//	@Failure		400					{object}	response.Envelope
//	@Failure		403					{string}	string	"Invalid API Key!"
//	@Failure		500					{object}	response.Envelope
//	@Router			/upload/ [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	level, err := parseLevel(r.URL.Query().Get("compression_level"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		response.BadRequest(w, "expected multipart/form-data body")
		return
	}
	part, err := nextFilePart(reader)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	defer part.Close()

	res, err := h.svc.Upload(r.Context(), Input{
		FileName:         part.FileName(),
		Body:             part,
		SubPath:          r.URL.Query().Get("path"),
		CompressionLevel: level,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidPath), errors.Is(err, storage.ErrInvalidName):
			response.BadRequest(w, err.Error())
		case errors.Is(err, storage.ErrIncompleteUpload):
			response.BadRequest(w, "upload interrupted")
		default:
			h.logger.Error("upload failed", "filename", part.FileName(), "error", err)
			response.InternalError(w)
		}
		return
	}

	response.JSON(w, http.StatusOK, res)
}

var errMissingFile = errors.New("no file part in request")

// nextFilePart returns the first part that carries a file name, skipping
// plain form fields.
func nextFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errMissingFile
		}
		if err != nil {
			return nil, errors.New("malformed multipart body")
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func parseLevel(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.New("compression_level must be an integer")
	}
	if n < 1 || n > 100 {
		return nil, errors.New("compression_level must be between 1 and 100")
	}
	return &n, nil
}
